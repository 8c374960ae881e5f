// Package flow routes inbound bot events onto the deal state machine and the
// session tracker, and turns their results into notices for both parties.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fihsr/giftescrow/core/logger"
	"github.com/fihsr/giftescrow/internal/deal"
	"github.com/fihsr/giftescrow/internal/events"
	"github.com/fihsr/giftescrow/internal/keylock"
	"github.com/fihsr/giftescrow/internal/ledger"
	"github.com/fihsr/giftescrow/internal/metrics"
	"github.com/fihsr/giftescrow/internal/session"
)

// OpPayoutRequested is published when a seller hands in the card for a payout.
const OpPayoutRequested = "payout_requested"

// Options wires a Router.
type Options struct {
	Store     ledger.Store
	Deals     *deal.Service
	Sessions  *session.Tracker
	Notifier  Notifier
	Publisher events.Publisher
	Metrics   *metrics.Collector
	AdminID   int64
	Now       func() time.Time
}

// Router handles one user's events one at a time; the transport must hand them
// over in arrival order (the Telegram runtime queues updates per sender).
// Deal transitions are serialized inside the deal service.
type Router struct {
	store     ledger.Store
	deals     *deal.Service
	sessions  *session.Tracker
	notifier  Notifier
	publisher events.Publisher
	metrics   *metrics.Collector
	adminID   int64
	now       func() time.Time
	users     *keylock.Map[int64]
}

// NewRouter validates opts.
func NewRouter(opts Options) (*Router, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("flow: nil store")
	case opts.Deals == nil:
		return nil, errors.New("flow: nil deal service")
	case opts.Sessions == nil:
		return nil, errors.New("flow: nil session tracker")
	case opts.Notifier == nil:
		return nil, errors.New("flow: nil notifier")
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Router{
		store:     opts.Store,
		deals:     opts.Deals,
		sessions:  opts.Sessions,
		notifier:  opts.Notifier,
		publisher: opts.Publisher,
		metrics:   opts.Metrics,
		adminID:   opts.AdminID,
		now:       opts.Now,
		users:     keylock.New[int64](),
	}, nil
}

// Handle processes one event. Rejections the user can act on (bad input, wrong
// status, unknown deal) are answered with a notice and return nil; only storage
// failures are returned, after the user was told the service is unavailable.
func (r *Router) Handle(ctx context.Context, ev Event) error {
	if ev.User.ID == 0 {
		return errors.New("flow: event without user")
	}
	unlock := r.users.Lock(ev.User.ID)
	defer unlock()

	if _, err := r.store.UpsertUser(ctx, ev.User.ID, ev.User.Name); err != nil {
		return r.fail(ctx, ev.User.ID, deal.NewError("upsert_user", deal.ErrUnavailable, err))
	}

	var err error
	switch ev.Kind {
	case KindCommand:
		err = r.command(ctx, ev)
	case KindButton:
		err = r.button(ctx, ev)
	case KindText:
		err = r.text(ctx, ev)
	default:
		err = fmt.Errorf("flow: unknown event kind %d", ev.Kind)
	}
	logger.Debug(ctx, logger.ComponentRouter, "router.dispatch",
		slog.String("status", logger.Status(err)),
		slog.Int64("user_id", ev.User.ID),
		slog.String("mode", ev.Kind.String()),
		slog.String("action", actionLabel(ev)),
	)
	return err
}

func (r *Router) command(ctx context.Context, ev Event) error {
	uid := ev.User.ID
	switch ev.Command {
	case CmdStart:
		if id, ok := deal.ParseJoinRef(ev.Arg); ok {
			return r.join(ctx, ev.User, id)
		}
		r.notify(ctx, uid, Notice{Kind: NoticeWelcome})
	case CmdMenu:
		r.notify(ctx, uid, Notice{Kind: NoticeMenu})
	case CmdSupport:
		r.notify(ctx, uid, Notice{Kind: NoticeSupport})
	case CmdHowItWorks:
		r.notify(ctx, uid, Notice{Kind: NoticeHowItWorks})
	case CmdReviews:
		r.notify(ctx, uid, Notice{Kind: NoticeReviews})
	case CmdBonuses:
		r.notify(ctx, uid, Notice{Kind: NoticeBonuses})
	case CmdCancel:
		had, err := r.sessions.Cancel(ctx, uid)
		if err != nil {
			return r.fail(ctx, uid, err)
		}
		if had {
			r.notify(ctx, uid, Notice{Kind: NoticeCancelled})
		} else {
			r.notify(ctx, uid, Notice{Kind: NoticeNothingToDrop})
		}
	case CmdBindCard:
		if err := r.sessions.BeginBinding(ctx, uid); err != nil {
			return r.fail(ctx, uid, err)
		}
		r.notify(ctx, uid, Notice{Kind: NoticeAskCard})
	case CmdCreateDeal:
		d, err := r.deals.Create(ctx, deal.Party{ID: uid, Name: ev.User.Name})
		if err != nil {
			return r.reject(ctx, uid, err)
		}
		r.publish(ctx, deal.OpCreate, d, decimal.Decimal{})
		r.notify(ctx, uid, Notice{Kind: NoticeDealCreated, Deal: d})
	case CmdAdmin:
		if r.adminID == 0 || uid != r.adminID {
			r.notify(ctx, uid, Notice{Kind: NoticeAdminDenied})
			return nil
		}
		deals, stats, err := r.deals.Listing(ctx, AdminListLimit)
		if err != nil {
			return r.reject(ctx, uid, err)
		}
		r.notify(ctx, uid, Notice{Kind: NoticeAdminListing, Deals: deals, Stats: stats})
	default:
		r.notify(ctx, uid, Notice{Kind: NoticeMenu})
	}
	return nil
}

func (r *Router) join(ctx context.Context, buyer User, dealID string) error {
	d, err := r.deals.Join(ctx, dealID, deal.Party{ID: buyer.ID, Name: buyer.Name})
	if err != nil {
		return r.reject(ctx, buyer.ID, err)
	}
	// The seller owes the gift link for this deal next.
	if err := r.sessions.Focus(ctx, d.SellerID, d.ID); err != nil {
		logger.Warn(ctx, logger.ComponentRouter, "router.focus",
			slog.String("status", "fail"),
			slog.String("deal_id", d.ID),
			slog.Int64("seller_id", d.SellerID),
			slog.String("err", err.Error()),
		)
	}
	r.publish(ctx, deal.OpJoin, d, decimal.Decimal{})
	r.notify(ctx, buyer.ID, Notice{Kind: NoticeJoinedDeal, Deal: d})
	r.notify(ctx, d.SellerID, Notice{Kind: NoticeBuyerJoined, Deal: d})
	return nil
}

func (r *Router) button(ctx context.Context, ev Event) error {
	uid := ev.User.ID
	switch ev.Action {
	case ActionPay:
		d, err := r.deals.ConfirmPayment(ctx, uid, ev.DealID)
		if err != nil {
			return r.reject(ctx, uid, err)
		}
		r.publish(ctx, deal.OpConfirmPayment, d, decimal.Decimal{})
		r.notify(ctx, uid, Notice{Kind: NoticePaymentRecorded, Deal: d})
		r.notify(ctx, d.SellerID, Notice{Kind: NoticePaid, Deal: d})
	case ActionSent:
		d, err := r.deals.ConfirmDelivery(ctx, uid, ev.DealID)
		if err != nil {
			return r.reject(ctx, uid, err)
		}
		r.publish(ctx, deal.OpConfirmDelivery, d, decimal.Decimal{})
		r.notify(ctx, uid, Notice{Kind: NoticeDeliveryRecorded, Deal: d})
		r.notify(ctx, d.BuyerID, Notice{Kind: NoticeDelivered, Deal: d})
	case ActionReceived:
		p, err := r.deals.ConfirmReceipt(ctx, uid, ev.DealID)
		if err != nil {
			return r.reject(ctx, uid, err)
		}
		d := p.Deal
		r.publish(ctx, deal.OpConfirmReceipt, d, p.Amount)
		r.notify(ctx, uid, Notice{Kind: NoticeDealCompleted, Deal: d})
		if err := r.sessions.BeginPayout(ctx, d.SellerID, d.ID, p.Amount); err != nil {
			// The deal is completed either way; the seller can still bind a card
			// from the menu.
			logger.Error(ctx, logger.ComponentRouter, "router.payout",
				slog.String("status", "fail"),
				slog.String("deal_id", d.ID),
				slog.Int64("seller_id", d.SellerID),
				slog.String("err", err.Error()),
			)
			r.notify(ctx, d.SellerID, Notice{Kind: NoticeUnavailable})
			return err
		}
		r.notify(ctx, d.SellerID, Notice{Kind: NoticePayoutPrompt, Deal: d, Amount: p.Amount})
	case ActionNotReceived:
		d, err := r.deals.ReportNonReceipt(ctx, uid, ev.DealID)
		if err != nil {
			return r.reject(ctx, uid, err)
		}
		r.publish(ctx, deal.OpReportNonReceipt, d, decimal.Decimal{})
		r.notify(ctx, uid, Notice{Kind: NoticeDisputeRecorded, Deal: d})
		r.notify(ctx, d.SellerID, Notice{Kind: NoticeDispute, Deal: d})
	default:
		r.notify(ctx, uid, Notice{Kind: NoticeInvalidAction})
	}
	return nil
}

func (r *Router) text(ctx context.Context, ev Event) error {
	uid := ev.User.ID
	s, err := r.sessions.Get(ctx, uid)
	if err != nil {
		return r.fail(ctx, uid, err)
	}
	if s.Mode == session.ModeAwaitingCard {
		return r.captureCard(ctx, uid, ev.Text)
	}

	d, ok, err := r.sellerTarget(ctx, uid, s.FocusDealID)
	if err != nil {
		return r.fail(ctx, uid, err)
	}
	if !ok {
		r.notify(ctx, uid, Notice{Kind: NoticeMenu})
		return nil
	}
	switch d.Status {
	case ledger.StatusWaitingGiftInfo:
		return r.submitGiftInfo(ctx, uid, d.ID, ev.Text)
	default:
		return r.submitPrice(ctx, uid, d.ID, ev.Text)
	}
}

func (r *Router) captureCard(ctx context.Context, uid int64, text string) error {
	c, err := r.sessions.CaptureCard(ctx, uid, text)
	switch {
	case errors.Is(err, deal.ErrInvalidCardFormat):
		r.notify(ctx, uid, Notice{Kind: NoticeInvalidCard})
		return nil
	case err != nil:
		return r.reject(ctx, uid, err)
	}
	if c.Payout == nil {
		r.notify(ctx, uid, Notice{Kind: NoticeCardBound, Card: c.Masked})
		return nil
	}
	d := ledger.Deal{ID: c.Payout.DealID, SellerID: uid}
	if loaded, err := r.deals.Get(ctx, c.Payout.DealID); err == nil {
		d = loaded
	}
	r.publish(ctx, OpPayoutRequested, d, c.Payout.Amount)
	r.notify(ctx, uid, Notice{Kind: NoticeCardSaved, Deal: d, Amount: c.Payout.Amount, Card: c.Masked})
	return nil
}

func (r *Router) submitGiftInfo(ctx context.Context, uid int64, dealID, text string) error {
	d, err := r.deals.SubmitGiftInfo(ctx, uid, dealID, text)
	if err != nil {
		return r.reject(ctx, uid, err)
	}
	r.publish(ctx, deal.OpSubmitGiftInfo, d, decimal.Decimal{})
	r.notify(ctx, uid, Notice{Kind: NoticeAskPrice, Deal: d})
	return nil
}

func (r *Router) submitPrice(ctx context.Context, uid int64, dealID, text string) error {
	q, err := r.deals.SubmitPrice(ctx, uid, dealID, text)
	switch {
	case errors.Is(err, deal.ErrInvalidPrice):
		r.notify(ctx, uid, Notice{Kind: NoticeInvalidPrice})
		return nil
	case err != nil && !errors.Is(err, deal.ErrBuyerMissing):
		return r.reject(ctx, uid, err)
	}
	if cerr := r.sessions.ClearFocus(ctx, uid, dealID); cerr != nil {
		logger.Warn(ctx, logger.ComponentRouter, "router.focus",
			slog.String("status", "fail"),
			slog.String("deal_id", dealID),
			slog.String("err", cerr.Error()),
		)
	}
	r.publish(ctx, deal.OpSubmitPrice, q.Deal, q.BuyerAmount)
	if err != nil {
		r.notify(ctx, uid, Notice{Kind: NoticeBuyerMissing, Deal: q.Deal})
		return nil
	}
	r.notify(ctx, uid, Notice{Kind: NoticePriceSaved, Deal: q.Deal, Amount: q.BuyerAmount})
	r.notify(ctx, q.Deal.BuyerID, Notice{Kind: NoticePurchaseDetails, Deal: q.Deal, Amount: q.BuyerAmount})
	return nil
}

// sellerTarget picks the deal the seller's free text belongs to: the focus
// pointer when it still names one of their deals awaiting input, else the
// newest deal waiting for a gift link, else the newest deal waiting for a price.
func (r *Router) sellerTarget(ctx context.Context, uid int64, focus string) (ledger.Deal, bool, error) {
	if focus != "" {
		d, err := r.deals.Get(ctx, focus)
		switch {
		case err == nil && d.SellerID == uid && awaitsSellerText(d.Status):
			return d, true, nil
		case err != nil && deal.KindOf(err) == deal.KindUnavailable:
			return ledger.Deal{}, false, err
		}
		if cerr := r.sessions.ClearFocus(ctx, uid, focus); cerr != nil {
			return ledger.Deal{}, false, cerr
		}
		logger.Debug(ctx, logger.ComponentRouter, "router.focus.stale",
			slog.Int64("user_id", uid),
			slog.String("deal_id", focus),
		)
	}
	for _, status := range []ledger.Status{ledger.StatusWaitingGiftInfo, ledger.StatusWaitingPrice} {
		d, err := r.deals.ResolveSellerDeal(ctx, uid, status)
		if err == nil {
			return d, true, nil
		}
		if !errors.Is(err, deal.ErrDealNotFound) {
			return ledger.Deal{}, false, err
		}
	}
	return ledger.Deal{}, false, nil
}

func awaitsSellerText(s ledger.Status) bool {
	return s == ledger.StatusWaitingGiftInfo || s == ledger.StatusWaitingPrice
}

// reject answers a failed operation. Storage failures are returned.
func (r *Router) reject(ctx context.Context, uid int64, err error) error {
	switch {
	case deal.KindOf(err) == deal.KindUnavailable:
		return r.fail(ctx, uid, err)
	case errors.Is(err, deal.ErrDealNotFound):
		r.notify(ctx, uid, Notice{Kind: NoticeDealNotFound})
	case errors.Is(err, deal.ErrAlreadyActive):
		r.notify(ctx, uid, Notice{Kind: NoticeDealAlreadyActive})
	case errors.Is(err, deal.ErrNoPendingAction):
		r.notify(ctx, uid, Notice{Kind: NoticeMenu})
	default:
		r.notify(ctx, uid, Notice{Kind: NoticeInvalidAction})
	}
	return nil
}

func (r *Router) fail(ctx context.Context, uid int64, err error) error {
	r.notify(ctx, uid, Notice{Kind: NoticeUnavailable})
	return err
}

func (r *Router) notify(ctx context.Context, uid int64, n Notice) {
	if uid == 0 {
		return
	}
	if err := r.notifier.Notify(ctx, uid, n); err != nil {
		r.metrics.NotifyFailed(string(n.Kind))
		logger.Error(ctx, logger.ComponentRouter, "router.notify",
			slog.String("status", "fail"),
			slog.Int64("user_id", uid),
			slog.String("action", string(n.Kind)),
			slog.String("deal_id", n.Deal.ID),
			slog.String("err", err.Error()),
		)
	}
}

func (r *Router) publish(ctx context.Context, op string, d ledger.Deal, amount decimal.Decimal) {
	ev := events.DealEvent{
		DealID:        d.ID,
		Op:            op,
		Status:        string(d.Status),
		SellerID:      d.SellerID,
		BuyerID:       d.BuyerID,
		DeliveryCount: d.DeliveryCount,
		At:            r.now().UTC(),
	}
	if d.Price.Valid {
		ev.Price = d.Price.Decimal.StringFixed(2)
	}
	if !amount.IsZero() {
		ev.Amount = amount.StringFixed(2)
	}
	if err := r.publisher.Publish(ctx, ev); err != nil {
		logger.Warn(ctx, logger.ComponentRouter, "router.publish",
			slog.String("status", "fail"),
			slog.String("deal_id", d.ID),
			slog.String("op", op),
			slog.String("err", err.Error()),
		)
	}
}

func actionLabel(ev Event) string {
	switch ev.Kind {
	case KindCommand:
		return string(ev.Command)
	case KindButton:
		return string(ev.Action)
	}
	return "text"
}
