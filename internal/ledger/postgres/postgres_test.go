package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/fihsr/giftescrow/core/logger"
	"github.com/fihsr/giftescrow/internal/ledger"
)

func TestFromDealNullsUnsetColumns(t *testing.T) {
	row := fromDeal(ledger.Deal{ID: "x1", SellerID: 1, SellerName: "@s", Status: ledger.StatusCreated})
	if row.BuyerID.Valid || row.BuyerName.Valid || row.GiftLink.Valid || row.Price.Valid {
		t.Fatalf("unset columns must be NULL: %+v", row)
	}

	row = fromDeal(ledger.Deal{
		ID:       "x1",
		SellerID: 1,
		BuyerID:  2,
		GiftLink: "https://t.me/nft/gift-1",
		Price:    decimal.NewNullDecimal(decimal.RequireFromString("12.50")),
		Status:   ledger.StatusWaitingPayment,
	})
	if !row.BuyerID.Valid || !row.BuyerName.Valid || !row.GiftLink.Valid || !row.Price.Valid {
		t.Fatalf("set columns must not be NULL: %+v", row)
	}
	if got := row.toDomain(); got.BuyerID != 2 || got.Status != ledger.StatusWaitingPayment || !got.Price.Decimal.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("round trip = %+v", got)
	}
}

func TestPendingRowPayout(t *testing.T) {
	p := pendingRow{UserID: 1, AwaitingCard: true}.toDomain()
	if p.Payout != nil {
		t.Fatal("binding row must not carry a payout")
	}
	p = pendingRow{
		UserID:       1,
		AwaitingCard: true,
		PayoutDealID: sql.NullString{String: "x1", Valid: true},
		PayoutAmount: decimal.NewNullDecimal(decimal.RequireFromString("1100")),
		FocusDealID:  sql.NullString{String: "x2", Valid: true},
	}.toDomain()
	if p.Payout == nil || p.Payout.DealID != "x1" || p.FocusDealID != "x2" {
		t.Fatalf("pending = %+v", p)
	}
}

func TestFailLogsUnderDBComponent(t *testing.T) {
	var buf bytes.Buffer
	ctx := logger.WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
	cause := errors.New("numeric field overflow")

	err := (&Store{}).fail(ctx, "deal.update", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapped cause", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line %q: %v", buf.String(), err)
	}
	if line["component"] != logger.ComponentDB || line["op"] != "deal.update" || line["status"] != "fail" {
		t.Fatalf("log line = %v", line)
	}
}
