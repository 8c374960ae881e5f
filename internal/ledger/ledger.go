// Package ledger holds the persisted records of the escrow bot (users, deals and
// pending actions) and the Store contract implemented by the storage backends.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a keyed record does not exist.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrConflict is returned when inserting a record whose key already exists.
	ErrConflict = errors.New("ledger: record already exists")
)

// Status is the lifecycle position of a deal.
type Status string

const (
	StatusCreated         Status = "created"
	StatusWaitingGiftInfo Status = "waiting_gift_info"
	StatusWaitingPrice    Status = "waiting_price"
	StatusWaitingPayment  Status = "waiting_payment"
	StatusPaid            Status = "paid"
	StatusDelivered       Status = "delivered"
	StatusCompleted       Status = "completed"
	StatusDisputed        Status = "disputed"
)

// transitions lists the only allowed forward edges.
var transitions = map[Status][]Status{
	StatusCreated:         {StatusWaitingGiftInfo},
	StatusWaitingGiftInfo: {StatusWaitingPrice},
	StatusWaitingPrice:    {StatusWaitingPayment},
	StatusWaitingPayment:  {StatusPaid},
	StatusPaid:            {StatusDelivered},
	StatusDelivered:       {StatusCompleted, StatusDisputed},
}

// CanAdvanceTo reports whether next is a direct successor of s.
func (s Status) CanAdvanceTo(next Status) bool {
	for _, candidate := range transitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// User is a messaging-layer identity known to the bot.
type User struct {
	ID          int64
	DisplayName string
	CardNumber  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Deal is one escrow exchange between a seller and a buyer.
type Deal struct {
	ID            string
	SellerID      int64
	SellerName    string
	BuyerID       int64
	BuyerName     string
	GiftLink      string
	Price         decimal.NullDecimal
	Status        Status
	DeliveryCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasBuyer reports whether a buyer joined the deal.
func (d Deal) HasBuyer() bool {
	return d.BuyerID != 0
}

// PayoutContext ties a card capture to the completed deal it pays out.
type PayoutContext struct {
	DealID string
	Amount decimal.Decimal
}

// PendingAction is the persisted per-user session record.
type PendingAction struct {
	UserID       int64
	AwaitingCard bool
	Payout       *PayoutContext
	// FocusDealID names the deal the user's next free-text input targets.
	FocusDealID string
	UpdatedAt   time.Time
}

// Empty reports whether the record carries no state worth persisting.
func (p PendingAction) Empty() bool {
	return !p.AwaitingCard && p.Payout == nil && p.FocusDealID == ""
}

// DealFilter narrows FindDeals. Zero values match everything.
type DealFilter struct {
	SellerID int64
	Status   Status
	Limit    int
}

// Match reports whether d satisfies the filter predicates.
func (f DealFilter) Match(d Deal) bool {
	if f.SellerID != 0 && d.SellerID != f.SellerID {
		return false
	}
	if f.Status != "" && d.Status != f.Status {
		return false
	}
	return true
}

// Stats aggregates the deal table for the admin listing.
type Stats struct {
	TotalDeals      int
	TotalDeliveries int
}

// Store is the durable keyed storage for users, deals and pending actions.
// Every method either fully applies or leaves prior state unchanged.
type Store interface {
	// UpsertUser creates the user or refreshes its display name, keeping the card.
	UpsertUser(ctx context.Context, id int64, displayName string) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)

	InsertDeal(ctx context.Context, d Deal) error
	GetDeal(ctx context.Context, id string) (Deal, error)
	// UpdateDeal loads the deal, applies fn and persists the result atomically.
	// If fn returns an error nothing is written and the error is returned as is.
	UpdateDeal(ctx context.Context, id string, fn func(*Deal) error) (Deal, error)
	// FindDeals returns matching deals, newest first.
	FindDeals(ctx context.Context, filter DealFilter) ([]Deal, error)
	Stats(ctx context.Context) (Stats, error)

	GetPendingAction(ctx context.Context, userID int64) (PendingAction, error)
	PutPendingAction(ctx context.Context, p PendingAction) error
	DeletePendingAction(ctx context.Context, userID int64) error
	// SaveCard stores the card digits on the user and clears the awaiting part of
	// the pending action in one step.
	SaveCard(ctx context.Context, userID int64, digits string) error

	Close() error
}
