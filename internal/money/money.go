// Package money computes the buyer discount and seller bonus applied to a deal price.
package money

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrInvalidPrice is returned by ParsePrice for input that is not a positive
// decimal below MaxPrice.
var ErrInvalidPrice = errors.New("money: invalid price")

var (
	buyerRate  = decimal.RequireFromString("0.90")
	sellerRate = decimal.RequireFromString("1.10")

	// MaxPrice is the exclusive upper bound of a deal price; the price column
	// holds twelve integer digits.
	MaxPrice = decimal.New(1, 12)
)

// Places is the number of fractional digits every amount is rounded to.
const Places = 2

// BuyerAmount is the discounted amount the buyer pays.
func BuyerAmount(price decimal.Decimal) decimal.Decimal {
	return round(price.Mul(buyerRate))
}

// SellerPayout is the bonus-inflated amount paid out to the seller.
func SellerPayout(price decimal.Decimal) decimal.Decimal {
	return round(price.Mul(sellerRate))
}

// ParsePrice reads a positive decimal price typed by a user and rounds it to cents.
func ParsePrice(text string) (decimal.Decimal, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return decimal.Decimal{}, ErrInvalidPrice
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, ErrInvalidPrice
	}
	d = round(d)
	if !d.IsPositive() || d.GreaterThanOrEqual(MaxPrice) {
		return decimal.Decimal{}, ErrInvalidPrice
	}
	return d, nil
}

// Format renders an amount with exactly two fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Places)
}

// round is half-up for the non-negative amounts handled here.
func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}
