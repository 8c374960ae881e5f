// Package deal owns the escrow deal lifecycle: creation, join, the information
// exchange between seller and buyer, payment, delivery and confirmation.
//
// Every transition runs under a per-deal lock and a single atomic store update,
// re-checking the caller's role and the stored status before anything is written.
package deal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fihsr/giftescrow/core/logger"
	"github.com/fihsr/giftescrow/internal/keylock"
	"github.com/fihsr/giftescrow/internal/ledger"
	"github.com/fihsr/giftescrow/internal/metrics"
	"github.com/fihsr/giftescrow/internal/money"
)

// Operation names used in logs, metrics and published events.
const (
	OpCreate           = "create"
	OpJoin             = "join"
	OpSubmitGiftInfo   = "submit_gift_info"
	OpSubmitPrice      = "submit_price"
	OpConfirmPayment   = "confirm_payment"
	OpConfirmDelivery  = "confirm_delivery"
	OpConfirmReceipt   = "confirm_receipt"
	OpReportNonReceipt = "report_non_receipt"
)

// DefaultMaxIDAttempts bounds id regeneration on collision.
const DefaultMaxIDAttempts = 5

// Party identifies a user acting on a deal.
type Party struct {
	ID   int64
	Name string
}

// Quote is the result of an accepted price.
type Quote struct {
	Deal        ledger.Deal
	BuyerAmount decimal.Decimal
}

// Payout is the result of a confirmed receipt.
type Payout struct {
	Deal   ledger.Deal
	Amount decimal.Decimal
}

// Options configures a Service.
type Options struct {
	Store         ledger.Store
	NewID         func() string
	MaxIDAttempts int
	Metrics       *metrics.Collector
	Now           func() time.Time
}

// Service is the only writer of deal status.
type Service struct {
	store         ledger.Store
	newID         func() string
	maxIDAttempts int
	metrics       *metrics.Collector
	now           func() time.Time
	locks         *keylock.Map[string]
}

// NewService validates opts and fills defaults.
func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("deal: nil store")
	}
	if opts.NewID == nil {
		gen, err := NewIDGenerator(DefaultIDLength)
		if err != nil {
			return nil, fmt.Errorf("deal: id generator: %w", err)
		}
		opts.NewID = gen
	}
	if opts.MaxIDAttempts <= 0 {
		opts.MaxIDAttempts = DefaultMaxIDAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		store:         opts.Store,
		newID:         opts.NewID,
		maxIDAttempts: opts.MaxIDAttempts,
		metrics:       opts.Metrics,
		now:           opts.Now,
		locks:         keylock.New[string](),
	}, nil
}

// Create allocates a fresh id and stores a deal in status created.
func (s *Service) Create(ctx context.Context, seller Party) (ledger.Deal, error) {
	for attempt := 1; attempt <= s.maxIDAttempts; attempt++ {
		d := ledger.Deal{
			ID:         s.newID(),
			SellerID:   seller.ID,
			SellerName: seller.Name,
			Status:     ledger.StatusCreated,
			CreatedAt:  s.now(),
		}
		err := s.store.InsertDeal(ctx, d)
		if err == nil {
			s.metrics.DealCreated()
			s.observe(ctx, OpCreate, "", d, nil)
			return d, nil
		}
		if !errors.Is(err, ledger.ErrConflict) {
			err = NewError(OpCreate, ErrUnavailable, err)
			s.observe(ctx, OpCreate, "", ledger.Deal{SellerID: seller.ID}, err)
			return ledger.Deal{}, err
		}
		logger.Debug(ctx, logger.ComponentDeals, "deal.id.collision",
			slog.String("deal_id", d.ID),
			slog.Int("attempts", attempt),
		)
	}
	err := NewError(OpCreate, ErrUnavailable, ErrIDCollision)
	s.observe(ctx, OpCreate, "", ledger.Deal{SellerID: seller.ID}, err)
	return ledger.Deal{}, err
}

// Join attaches buyer to a deal that is still in status created.
func (s *Service) Join(ctx context.Context, dealID string, buyer Party) (ledger.Deal, error) {
	return s.advance(ctx, dealID, transition{
		op:   OpJoin,
		from: ledger.StatusCreated,
		to:   ledger.StatusWaitingGiftInfo,
		check: func(d *ledger.Deal) error {
			if d.Status != ledger.StatusCreated || d.HasBuyer() {
				return ErrAlreadyActive
			}
			if d.SellerID == buyer.ID {
				return ErrInvalidTransition
			}
			return nil
		},
		apply: func(d *ledger.Deal) error {
			d.BuyerID = buyer.ID
			d.BuyerName = buyer.Name
			return nil
		},
	})
}

// SubmitGiftInfo records the item reference typed by the seller.
func (s *Service) SubmitGiftInfo(ctx context.Context, sellerID int64, dealID, text string) (ledger.Deal, error) {
	link := strings.TrimSpace(text)
	return s.advance(ctx, dealID, transition{
		op:    OpSubmitGiftInfo,
		from:  ledger.StatusWaitingGiftInfo,
		to:    ledger.StatusWaitingPrice,
		check: sellerOnly(sellerID),
		apply: func(d *ledger.Deal) error {
			if link == "" {
				return ErrInvalidTransition
			}
			d.GiftLink = link
			return nil
		},
	})
}

// SubmitPrice parses and stores the price typed by the seller. The transition is
// committed even when the returned error is ErrBuyerMissing; the quote is valid then.
func (s *Service) SubmitPrice(ctx context.Context, sellerID int64, dealID, text string) (Quote, error) {
	price, perr := money.ParsePrice(text)
	d, err := s.advance(ctx, dealID, transition{
		op:    OpSubmitPrice,
		from:  ledger.StatusWaitingPrice,
		to:    ledger.StatusWaitingPayment,
		check: sellerOnly(sellerID),
		apply: func(d *ledger.Deal) error {
			if perr != nil {
				return ErrInvalidPrice
			}
			if d.Price.Valid {
				return ErrInvalidTransition
			}
			d.Price = decimal.NullDecimal{Decimal: price, Valid: true}
			return nil
		},
	})
	if err != nil {
		return Quote{Deal: d}, err
	}
	q := Quote{Deal: d, BuyerAmount: money.BuyerAmount(price)}
	if !d.HasBuyer() {
		return q, NewError(OpSubmitPrice, ErrBuyerMissing, nil)
	}
	return q, nil
}

// ConfirmPayment records the buyer's payment.
func (s *Service) ConfirmPayment(ctx context.Context, buyerID int64, dealID string) (ledger.Deal, error) {
	return s.advance(ctx, dealID, transition{
		op:    OpConfirmPayment,
		from:  ledger.StatusWaitingPayment,
		to:    ledger.StatusPaid,
		check: buyerOnly(buyerID),
	})
}

// ConfirmDelivery records that the seller handed the item over.
func (s *Service) ConfirmDelivery(ctx context.Context, sellerID int64, dealID string) (ledger.Deal, error) {
	return s.advance(ctx, dealID, transition{
		op:    OpConfirmDelivery,
		from:  ledger.StatusPaid,
		to:    ledger.StatusDelivered,
		check: sellerOnly(sellerID),
		apply: func(d *ledger.Deal) error {
			d.DeliveryCount++
			return nil
		},
	})
}

// ConfirmReceipt completes the deal and returns the seller payout.
func (s *Service) ConfirmReceipt(ctx context.Context, buyerID int64, dealID string) (Payout, error) {
	d, err := s.advance(ctx, dealID, transition{
		op:    OpConfirmReceipt,
		from:  ledger.StatusDelivered,
		to:    ledger.StatusCompleted,
		check: buyerOnly(buyerID),
		apply: func(d *ledger.Deal) error {
			if !d.Price.Valid {
				return ErrInvalidTransition
			}
			return nil
		},
	})
	if err != nil {
		return Payout{Deal: d}, err
	}
	return Payout{Deal: d, Amount: money.SellerPayout(d.Price.Decimal)}, nil
}

// ReportNonReceipt moves a delivered deal to the terminal disputed status.
func (s *Service) ReportNonReceipt(ctx context.Context, buyerID int64, dealID string) (ledger.Deal, error) {
	return s.advance(ctx, dealID, transition{
		op:    OpReportNonReceipt,
		from:  ledger.StatusDelivered,
		to:    ledger.StatusDisputed,
		check: buyerOnly(buyerID),
	})
}

// Get loads a deal by id.
func (s *Service) Get(ctx context.Context, dealID string) (ledger.Deal, error) {
	d, err := s.store.GetDeal(ctx, dealID)
	if err != nil {
		return ledger.Deal{}, s.storeErr("get", err)
	}
	return d, nil
}

// ResolveSellerDeal finds the seller's deal in status. When several match the
// newest one is returned and the ambiguity is logged and counted.
func (s *Service) ResolveSellerDeal(ctx context.Context, sellerID int64, status ledger.Status) (ledger.Deal, error) {
	found, err := s.store.FindDeals(ctx, ledger.DealFilter{SellerID: sellerID, Status: status})
	if err != nil {
		return ledger.Deal{}, NewError("resolve", ErrUnavailable, err)
	}
	if len(found) == 0 {
		return ledger.Deal{}, NewError("resolve", ErrDealNotFound, nil)
	}
	if len(found) > 1 {
		s.metrics.LookupAmbiguous(string(status))
		logger.Warn(ctx, logger.ComponentDeals, "deal.lookup.ambiguous",
			slog.Int64("seller_id", sellerID),
			slog.String("deal_status", string(status)),
			slog.String("deal_id", found[0].ID),
			slog.Int("candidates", len(found)),
		)
	}
	return found[0], nil
}

// Listing returns up to limit deals newest first (all when limit <= 0) together
// with counters that cover every deal.
func (s *Service) Listing(ctx context.Context, limit int) ([]ledger.Deal, ledger.Stats, error) {
	deals, err := s.store.FindDeals(ctx, ledger.DealFilter{Limit: limit})
	if err != nil {
		return nil, ledger.Stats{}, NewError("listing", ErrUnavailable, err)
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, ledger.Stats{}, NewError("listing", ErrUnavailable, err)
	}
	return deals, stats, nil
}

type transition struct {
	op    string
	from  ledger.Status
	to    ledger.Status
	check func(*ledger.Deal) error
	apply func(*ledger.Deal) error
}

func sellerOnly(id int64) func(*ledger.Deal) error {
	return func(d *ledger.Deal) error {
		if d.SellerID != id {
			return ErrInvalidTransition
		}
		return nil
	}
}

func buyerOnly(id int64) func(*ledger.Deal) error {
	return func(d *ledger.Deal) error {
		if !d.HasBuyer() || d.BuyerID != id {
			return ErrInvalidTransition
		}
		return nil
	}
}

func (s *Service) advance(ctx context.Context, dealID string, t transition) (ledger.Deal, error) {
	unlock := s.locks.Lock(dealID)
	defer unlock()

	var from ledger.Status
	d, err := s.store.UpdateDeal(ctx, dealID, func(d *ledger.Deal) error {
		from = d.Status
		if t.check != nil {
			if err := t.check(d); err != nil {
				return err
			}
		}
		if d.Status != t.from || !d.Status.CanAdvanceTo(t.to) {
			return ErrInvalidTransition
		}
		if t.apply != nil {
			if err := t.apply(d); err != nil {
				return err
			}
		}
		d.Status = t.to
		return nil
	})
	if err != nil {
		err = s.storeErr(t.op, err)
		if d.ID == "" {
			d.ID = dealID
		}
	}
	s.observe(ctx, t.op, from, d, err)
	return d, err
}

func (s *Service) storeErr(op string, err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return NewError(op, ErrDealNotFound, nil)
	}
	for sentinel := range sentinelKinds {
		if errors.Is(err, sentinel) {
			return NewError(op, sentinel, nil)
		}
	}
	return NewError(op, ErrUnavailable, err)
}

func (s *Service) observe(ctx context.Context, op string, from ledger.Status, d ledger.Deal, err error) {
	s.metrics.Transition(op, Outcome(err))

	attrs := []slog.Attr{
		slog.String("op", op),
		slog.String("deal_id", d.ID),
		slog.String("deal_status", string(d.Status)),
	}
	if from != "" && from != d.Status {
		attrs = append(attrs, slog.String("from_status", string(from)))
	}
	if d.SellerID != 0 {
		attrs = append(attrs, slog.Int64("seller_id", d.SellerID))
	}
	if d.BuyerID != 0 {
		attrs = append(attrs, slog.Int64("buyer_id", d.BuyerID))
	}
	if err == nil {
		attrs = append(attrs, slog.String("status", "ok"), slog.String("outcome", "ok"))
		logger.Info(ctx, logger.ComponentDeals, "deal.transition", attrs...)
		return
	}
	attrs = append(attrs,
		slog.String("status", "fail"),
		slog.String("outcome", "fail"),
		slog.String("err", err.Error()),
		slog.String("err_code", Outcome(err)),
	)
	if KindOf(err) == KindUnavailable {
		logger.Error(ctx, logger.ComponentDeals, "deal.transition", attrs...)
		return
	}
	logger.Info(ctx, logger.ComponentDeals, "deal.transition", attrs...)
}
