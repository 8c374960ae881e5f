package flow

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/fihsr/giftescrow/internal/ledger"
)

// NoticeKind names an outbound message. Rendering is up to the transport.
type NoticeKind string

// AdminListLimit caps the deals carried by an admin listing; its counters still
// cover every deal.
const AdminListLimit = 25

const (
	NoticeWelcome    NoticeKind = "welcome"
	NoticeMenu       NoticeKind = "menu"
	NoticeSupport    NoticeKind = "support"
	NoticeHowItWorks NoticeKind = "how_it_works"
	NoticeReviews    NoticeKind = "reviews"
	NoticeBonuses    NoticeKind = "bonuses"

	NoticeDealCreated       NoticeKind = "deal_created"
	NoticeJoinedDeal        NoticeKind = "joined_deal"
	NoticeBuyerJoined       NoticeKind = "buyer_joined"
	NoticeDealAlreadyActive NoticeKind = "deal_already_active"
	NoticeDealNotFound      NoticeKind = "deal_not_found"
	NoticeAskPrice          NoticeKind = "ask_price"
	NoticeInvalidPrice      NoticeKind = "invalid_price"
	NoticePriceSaved        NoticeKind = "price_saved"
	NoticeBuyerMissing      NoticeKind = "buyer_missing"
	NoticePurchaseDetails   NoticeKind = "purchase_details"
	NoticePaymentRecorded   NoticeKind = "payment_recorded"
	NoticePaid              NoticeKind = "paid"
	NoticeDeliveryRecorded  NoticeKind = "delivery_recorded"
	NoticeDelivered         NoticeKind = "delivered"
	NoticeDealCompleted     NoticeKind = "deal_completed"
	NoticePayoutPrompt      NoticeKind = "payout_prompt"
	NoticeDispute           NoticeKind = "dispute"
	NoticeDisputeRecorded   NoticeKind = "dispute_recorded"

	NoticeAskCard       NoticeKind = "ask_card"
	NoticeCardSaved     NoticeKind = "card_saved"
	NoticeCardBound     NoticeKind = "card_bound"
	NoticeInvalidCard   NoticeKind = "invalid_card"
	NoticeCancelled     NoticeKind = "cancelled"
	NoticeNothingToDrop NoticeKind = "nothing_to_cancel"

	NoticeInvalidAction NoticeKind = "invalid_action"
	NoticeUnavailable   NoticeKind = "unavailable"
	NoticeAdminDenied   NoticeKind = "admin_denied"
	NoticeAdminListing  NoticeKind = "admin_listing"
)

// Notice is one message to a user together with the data it renders.
type Notice struct {
	Kind NoticeKind
	Deal ledger.Deal
	// Amount is the buyer amount on purchase details and the payout elsewhere.
	Amount decimal.Decimal
	// Card is the masked card number.
	Card  string
	Deals []ledger.Deal
	Stats ledger.Stats
}

// Notifier delivers notices. Delivery is fire-and-forget: a returned error is
// logged and counted, never rolled back into the deal.
type Notifier interface {
	Notify(ctx context.Context, userID int64, n Notice) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, userID int64, n Notice) error

func (f NotifierFunc) Notify(ctx context.Context, userID int64, n Notice) error {
	return f(ctx, userID, n)
}
