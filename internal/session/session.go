// Package session tracks what free text each user owes the bot next: a payout
// card, and the deal a seller's next gift link or price belongs to.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fihsr/giftescrow/core/logger"
	"github.com/fihsr/giftescrow/internal/deal"
	"github.com/fihsr/giftescrow/internal/keylock"
	"github.com/fihsr/giftescrow/internal/ledger"
	"github.com/fihsr/giftescrow/internal/metrics"
)

// CardDigits is the length of an accepted card number.
const CardDigits = 16

// Mode is the tagged state of a user's session.
type Mode int

const (
	ModeIdle Mode = iota
	ModeAwaitingCard
)

func (m Mode) String() string {
	if m == ModeAwaitingCard {
		return "awaiting_card"
	}
	return "idle"
}

// Capture modes reported to metrics.
const (
	CaptureModePayout  = "payout"
	CaptureModeBinding = "binding"
)

// Session is the decoded view of a pending action.
type Session struct {
	UserID int64
	Mode   Mode
	// Payout is set only in ModeAwaitingCard when the capture pays out a deal.
	Payout      *ledger.PayoutContext
	FocusDealID string
}

// Capture is the result of an accepted card.
type Capture struct {
	Digits string
	Masked string
	Payout *ledger.PayoutContext
}

// Mode names the capture mode for logs and metrics.
func (c Capture) Mode() string {
	if c.Payout != nil {
		return CaptureModePayout
	}
	return CaptureModeBinding
}

// Tracker is the only writer of pending actions.
type Tracker struct {
	store   ledger.Store
	metrics *metrics.Collector
	locks   *keylock.Map[int64]
}

// New returns a Tracker backed by store; m may be nil.
func New(store ledger.Store, m *metrics.Collector) *Tracker {
	return &Tracker{store: store, metrics: m, locks: keylock.New[int64]()}
}

// Get returns the user's session, idle when nothing is pending.
func (t *Tracker) Get(ctx context.Context, userID int64) (Session, error) {
	p, err := t.load(ctx, "get", userID)
	if err != nil {
		return Session{}, err
	}
	return decode(p), nil
}

// BeginPayout makes the user's next text a payout card for dealID. It replaces
// any earlier awaited capture and keeps the focus pointer.
func (t *Tracker) BeginPayout(ctx context.Context, userID int64, dealID string, amount decimal.Decimal) error {
	return t.update(ctx, "begin_payout", userID, func(p *ledger.PendingAction) {
		p.AwaitingCard = true
		p.Payout = &ledger.PayoutContext{DealID: dealID, Amount: amount}
	})
}

// BeginBinding makes the user's next text a card to bind outside any deal.
func (t *Tracker) BeginBinding(ctx context.Context, userID int64) error {
	return t.update(ctx, "begin_binding", userID, func(p *ledger.PendingAction) {
		p.AwaitingCard = true
		p.Payout = nil
	})
}

// Cancel drops an awaited card capture and reports whether one was pending.
func (t *Tracker) Cancel(ctx context.Context, userID int64) (bool, error) {
	var had bool
	err := t.update(ctx, "cancel", userID, func(p *ledger.PendingAction) {
		had = p.AwaitingCard
		p.AwaitingCard = false
		p.Payout = nil
	})
	return had, err
}

// Focus points the user's next deal-flow text at dealID.
func (t *Tracker) Focus(ctx context.Context, userID int64, dealID string) error {
	return t.update(ctx, "focus", userID, func(p *ledger.PendingAction) {
		p.FocusDealID = dealID
	})
}

// ClearFocus removes the focus pointer if it still names dealID.
func (t *Tracker) ClearFocus(ctx context.Context, userID int64, dealID string) error {
	return t.update(ctx, "clear_focus", userID, func(p *ledger.PendingAction) {
		if p.FocusDealID == dealID {
			p.FocusDealID = ""
		}
	})
}

// CaptureCard validates text as a card number and, on success, stores the digits
// on the user and clears the awaited capture in one store call. A malformed card
// leaves the session untouched.
func (t *Tracker) CaptureCard(ctx context.Context, userID int64, text string) (Capture, error) {
	const op = "capture_card"
	unlock := t.locks.Lock(userID)
	defer unlock()

	p, err := t.load(ctx, op, userID)
	if err != nil {
		return Capture{}, err
	}
	if !p.AwaitingCard {
		return Capture{}, deal.NewError(op, deal.ErrNoPendingAction, nil)
	}
	digits, ok := NormalizeCard(text)
	if !ok {
		logger.Info(ctx, logger.ComponentSessions, "session.capture",
			slog.String("status", "retry"),
			slog.String("err_code", string(deal.KindValidation)),
		)
		return Capture{}, deal.NewError(op, deal.ErrInvalidCardFormat, nil)
	}
	if err := t.store.SaveCard(ctx, userID, digits); err != nil {
		return Capture{}, t.fail(ctx, op, userID, err)
	}

	c := Capture{Digits: digits, Masked: MaskCard(digits), Payout: p.Payout}
	t.metrics.CardCaptured(c.Mode())
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.String("mode", c.Mode()),
		slog.String("card_last4", digits[CardDigits-4:]),
	}
	if c.Payout != nil {
		attrs = append(attrs,
			slog.String("deal_id", c.Payout.DealID),
			slog.String("amount", c.Payout.Amount.StringFixed(2)),
		)
	}
	logger.Info(ctx, logger.ComponentSessions, "session.capture", attrs...)
	return c, nil
}

// NormalizeCard strips everything but ASCII digits and accepts exactly 16 of them.
func NormalizeCard(text string) (string, bool) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, text)
	if len(digits) != CardDigits {
		return "", false
	}
	return digits, true
}

// MaskCard groups digits in fours separated by single spaces.
func MaskCard(digits string) string {
	var b strings.Builder
	for i := 0; i < len(digits); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := min(i+4, len(digits))
		b.WriteString(digits[i:end])
	}
	return b.String()
}

func decode(p ledger.PendingAction) Session {
	s := Session{UserID: p.UserID, FocusDealID: p.FocusDealID}
	if p.AwaitingCard {
		s.Mode = ModeAwaitingCard
		s.Payout = p.Payout
	}
	return s
}

func (t *Tracker) load(ctx context.Context, op string, userID int64) (ledger.PendingAction, error) {
	p, err := t.store.GetPendingAction(ctx, userID)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.PendingAction{UserID: userID}, nil
	}
	if err != nil {
		return ledger.PendingAction{}, t.fail(ctx, op, userID, err)
	}
	return p, nil
}

func (t *Tracker) update(ctx context.Context, op string, userID int64, fn func(*ledger.PendingAction)) error {
	unlock := t.locks.Lock(userID)
	defer unlock()

	p, err := t.load(ctx, op, userID)
	if err != nil {
		return err
	}
	fn(&p)
	p.UserID = userID
	if err := t.store.PutPendingAction(ctx, p); err != nil {
		return t.fail(ctx, op, userID, err)
	}
	logger.Debug(ctx, logger.ComponentSessions, "session."+op,
		slog.String("status", "ok"),
		slog.Int64("user_id", userID),
		slog.String("mode", decode(p).Mode.String()),
		slog.String("deal_id", p.FocusDealID),
	)
	return nil
}

func (t *Tracker) fail(ctx context.Context, op string, userID int64, err error) error {
	logger.Error(ctx, logger.ComponentSessions, "session."+op,
		slog.String("status", "fail"),
		slog.Int64("user_id", userID),
		slog.String("err", err.Error()),
	)
	return deal.NewError(op, deal.ErrUnavailable, err)
}
