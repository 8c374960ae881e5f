package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fihsr/giftescrow/internal/deal"
	"github.com/fihsr/giftescrow/internal/events"
	"github.com/fihsr/giftescrow/internal/ledger"
	"github.com/fihsr/giftescrow/internal/ledger/memory"
	"github.com/fihsr/giftescrow/internal/session"
)

var (
	seller = User{ID: 100, Name: "seller"}
	buyer  = User{ID: 200, Name: "buyer"}
	other  = User{ID: 300, Name: "other"}
	admin  = User{ID: 900, Name: "admin"}
)

type sent struct {
	userID int64
	notice Notice
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
	fail bool
}

func (n *recordingNotifier) Notify(_ context.Context, userID int64, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{userID: userID, notice: notice})
	if n.fail {
		return errors.New("transport down")
	}
	return nil
}

func (n *recordingNotifier) kinds(userID int64) []NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []NoticeKind
	for _, s := range n.sent {
		if s.userID == userID {
			out = append(out, s.notice.Kind)
		}
	}
	return out
}

func (n *recordingNotifier) last(t *testing.T, userID int64) Notice {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].userID == userID {
			return n.sent[i].notice
		}
	}
	t.Fatalf("no notice sent to %d", userID)
	return Notice{}
}

func (n *recordingNotifier) count(userID int64, kind NoticeKind) int {
	c := 0
	for _, k := range n.kinds(userID) {
		if k == kind {
			c++
		}
	}
	return c
}

type recordingPublisher struct {
	mu  sync.Mutex
	ops []string
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.DealEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ops = append(p.ops, ev.Op)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	router    *Router
	store     *memory.Store
	notifier  *recordingNotifier
	publisher *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var (
		seq   atomic.Int64
		clock atomic.Int64
	)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return base.Add(time.Duration(clock.Add(1)) * time.Second) }

	store := memory.New().WithClock(now)
	svc, err := deal.NewService(deal.Options{
		Store: store,
		NewID: func() string { return fmt.Sprintf("deal%08d", seq.Add(1)) },
		Now:   now,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f := &fixture{store: store, notifier: &recordingNotifier{}, publisher: &recordingPublisher{}}
	f.router, err = NewRouter(Options{
		Store:     store,
		Deals:     svc,
		Sessions:  session.New(store, nil),
		Notifier:  f.notifier,
		Publisher: f.publisher,
		AdminID:   admin.ID,
		Now:       now,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return f
}

func (f *fixture) command(t *testing.T, u User, cmd Command, arg string) {
	t.Helper()
	if err := f.router.Handle(context.Background(), Event{Kind: KindCommand, User: u, Command: cmd, Arg: arg}); err != nil {
		t.Fatalf("command %s: %v", cmd, err)
	}
}

func (f *fixture) button(t *testing.T, u User, a Action, dealID string) {
	t.Helper()
	if err := f.router.Handle(context.Background(), Event{Kind: KindButton, User: u, Action: a, DealID: dealID}); err != nil {
		t.Fatalf("button %s: %v", a, err)
	}
}

func (f *fixture) text(t *testing.T, u User, text string) {
	t.Helper()
	if err := f.router.Handle(context.Background(), Event{Kind: KindText, User: u, Text: text}); err != nil {
		t.Fatalf("text %q: %v", text, err)
	}
}

// createAndJoin returns the id of a fresh deal joined by b.
func (f *fixture) createAndJoin(t *testing.T, s, b User) string {
	t.Helper()
	f.command(t, s, CmdCreateDeal, "")
	created := f.notifier.last(t, s.ID)
	if created.Kind != NoticeDealCreated {
		t.Fatalf("expected deal_created, got %s", created.Kind)
	}
	f.command(t, b, CmdStart, deal.JoinToken(created.Deal.ID))
	return created.Deal.ID
}

func (f *fixture) deal(t *testing.T, id string) ledger.Deal {
	t.Helper()
	d, err := f.store.GetDeal(context.Background(), id)
	if err != nil {
		t.Fatalf("get deal %s: %v", id, err)
	}
	return d
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t)
	id := f.createAndJoin(t, seller, buyer)

	if got := f.notifier.last(t, seller.ID).Kind; got != NoticeBuyerJoined {
		t.Fatalf("seller after join got %s", got)
	}
	f.text(t, seller, "link://x")
	f.text(t, seller, "1000")

	details := f.notifier.last(t, buyer.ID)
	if details.Kind != NoticePurchaseDetails || details.Amount.StringFixed(2) != "900.00" {
		t.Fatalf("purchase details = %s %s", details.Kind, details.Amount)
	}
	f.button(t, buyer, ActionPay, id)
	f.button(t, seller, ActionSent, id)
	f.button(t, buyer, ActionReceived, id)

	prompt := f.notifier.last(t, seller.ID)
	if prompt.Kind != NoticePayoutPrompt || prompt.Amount.StringFixed(2) != "1100.00" {
		t.Fatalf("payout prompt = %s %s", prompt.Kind, prompt.Amount)
	}
	f.text(t, seller, "1111222233334444")

	saved := f.notifier.last(t, seller.ID)
	if saved.Kind != NoticeCardSaved || saved.Amount.StringFixed(2) != "1100.00" || saved.Card != "1111 2222 3333 4444" {
		t.Fatalf("card saved = %+v", saved)
	}

	d := f.deal(t, id)
	if d.Status != ledger.StatusCompleted || d.DeliveryCount != 1 || d.GiftLink != "link://x" {
		t.Fatalf("deal = %+v", d)
	}
	u, err := f.store.GetUser(context.Background(), seller.ID)
	if err != nil || u.CardNumber != "1111222233334444" {
		t.Fatalf("seller = %+v, err %v", u, err)
	}

	want := []string{
		deal.OpCreate, deal.OpJoin, deal.OpSubmitGiftInfo, deal.OpSubmitPrice,
		deal.OpConfirmPayment, deal.OpConfirmDelivery, deal.OpConfirmReceipt, OpPayoutRequested,
	}
	if fmt.Sprint(f.publisher.ops) != fmt.Sprint(want) {
		t.Fatalf("published %v, want %v", f.publisher.ops, want)
	}
}

func TestStartWithoutJoinReferenceShowsWelcome(t *testing.T) {
	f := newFixture(t)
	for _, arg := range []string{"", "promo", "deal_", "deal_UPPERCASE1", "deal_../../etc"} {
		f.command(t, other, CmdStart, arg)
		if got := f.notifier.last(t, other.ID).Kind; got != NoticeWelcome {
			t.Fatalf("start %q got %s", arg, got)
		}
	}
	f.command(t, other, CmdStart, deal.JoinToken("deal99999999"))
	if got := f.notifier.last(t, other.ID).Kind; got != NoticeDealNotFound {
		t.Fatalf("unknown deal got %s", got)
	}
}

func TestJoinAlreadyActive(t *testing.T) {
	f := newFixture(t)
	id := f.createAndJoin(t, seller, buyer)
	before := f.deal(t, id)

	f.command(t, other, CmdStart, deal.JoinToken(id))
	if got := f.notifier.last(t, other.ID).Kind; got != NoticeDealAlreadyActive {
		t.Fatalf("second join got %s", got)
	}
	if after := f.deal(t, id); after.BuyerID != before.BuyerID || after.Status != before.Status {
		t.Fatalf("deal changed: %+v", after)
	}
}

func TestSelfJoinRejected(t *testing.T) {
	f := newFixture(t)
	f.command(t, seller, CmdCreateDeal, "")
	id := f.notifier.last(t, seller.ID).Deal.ID
	f.command(t, seller, CmdStart, deal.JoinToken(id))
	if got := f.notifier.last(t, seller.ID).Kind; got != NoticeInvalidAction {
		t.Fatalf("self join got %s", got)
	}
	if d := f.deal(t, id); d.Status != ledger.StatusCreated {
		t.Fatalf("status = %s", d.Status)
	}
}

func TestButtonsRevalidateRoleAndStatus(t *testing.T) {
	f := newFixture(t)
	id := f.createAndJoin(t, seller, buyer)
	f.text(t, seller, "link://x")
	f.text(t, seller, "2500")

	// Seller pressing the buyer's button, a stranger pressing it and an early
	// delivery confirmation are all rejected without touching the deal.
	f.button(t, seller, ActionPay, id)
	f.button(t, other, ActionPay, id)
	f.button(t, seller, ActionSent, id)
	f.button(t, buyer, ActionReceived, id)
	for _, u := range []User{seller, other, buyer} {
		if got := f.notifier.last(t, u.ID).Kind; got != NoticeInvalidAction {
			t.Fatalf("user %d got %s", u.ID, got)
		}
	}
	if d := f.deal(t, id); d.Status != ledger.StatusWaitingPayment {
		t.Fatalf("status = %s", d.Status)
	}

	f.button(t, buyer, Action("refund"), id)
	if got := f.notifier.last(t, buyer.ID).Kind; got != NoticeInvalidAction {
		t.Fatalf("unknown action got %s", got)
	}
}

func TestInvalidPriceReprompts(t *testing.T) {
	f := newFixture(t)
	id := f.createAndJoin(t, seller, buyer)
	f.text(t, seller, "link://x")
	for _, in := range []string{"-5", "0", "abc", "1e20"} {
		f.text(t, seller, in)
		if got := f.notifier.last(t, seller.ID).Kind; got != NoticeInvalidPrice {
			t.Fatalf("price %q got %s", in, got)
		}
	}
	if d := f.deal(t, id); d.Status != ledger.StatusWaitingPrice || d.Price.Valid {
		t.Fatalf("deal = %+v", d)
	}
	f.text(t, seller, "2500.5")
	if got := f.notifier.last(t, seller.ID); got.Kind != NoticePriceSaved || got.Amount.StringFixed(2) != "2250.45" {
		t.Fatalf("price saved = %s %s", got.Kind, got.Amount)
	}
}

func TestFocusPointerTargetsJoinedDeal(t *testing.T) {
	f := newFixture(t)
	second := User{ID: 201, Name: "buyer2"}

	first := f.createAndJoin(t, seller, buyer)
	latest := f.createAndJoin(t, seller, second)

	// Focus follows the latest join, then the older deal is picked up by lookup.
	f.text(t, seller, "link://latest")
	f.text(t, seller, "100")
	f.text(t, seller, "link://first")
	f.text(t, seller, "200")

	a, b := f.deal(t, first), f.deal(t, latest)
	if a.GiftLink != "link://first" || a.Price.Decimal.StringFixed(2) != "200.00" {
		t.Fatalf("first deal = %+v", a)
	}
	if b.GiftLink != "link://latest" || b.Price.Decimal.StringFixed(2) != "100.00" {
		t.Fatalf("latest deal = %+v", b)
	}
	if f.notifier.count(buyer.ID, NoticePurchaseDetails) != 1 || f.notifier.count(second.ID, NoticePurchaseDetails) != 1 {
		t.Fatalf("purchase details: buyer %v, buyer2 %v", f.notifier.kinds(buyer.ID), f.notifier.kinds(second.ID))
	}
}

func TestTextWithoutDealShowsMenu(t *testing.T) {
	f := newFixture(t)
	f.text(t, other, "hello")
	if got := f.notifier.last(t, other.ID).Kind; got != NoticeMenu {
		t.Fatalf("got %s", got)
	}
}

func TestBindCardAndCancel(t *testing.T) {
	f := newFixture(t)

	f.command(t, other, CmdCancel, "")
	if got := f.notifier.last(t, other.ID).Kind; got != NoticeNothingToDrop {
		t.Fatalf("cancel idle got %s", got)
	}

	f.command(t, other, CmdBindCard, "")
	f.text(t, other, "1234-5678-9012-345")
	if got := f.notifier.last(t, other.ID).Kind; got != NoticeInvalidCard {
		t.Fatalf("bad card got %s", got)
	}
	f.text(t, other, "1234 5678 9012 3456")
	bound := f.notifier.last(t, other.ID)
	if bound.Kind != NoticeCardBound || bound.Card != "1234 5678 9012 3456" {
		t.Fatalf("bound = %+v", bound)
	}

	f.command(t, other, CmdBindCard, "")
	f.command(t, other, CmdCancel, "")
	if got := f.notifier.last(t, other.ID).Kind; got != NoticeCancelled {
		t.Fatalf("cancel got %s", got)
	}
	f.text(t, other, "9999888877776666")
	if got := f.notifier.last(t, other.ID).Kind; got != NoticeMenu {
		t.Fatalf("text after cancel got %s", got)
	}
	u, _ := f.store.GetUser(context.Background(), other.ID)
	if u.CardNumber != "1234567890123456" {
		t.Fatalf("card = %q", u.CardNumber)
	}
}

func TestDisputeIsTerminal(t *testing.T) {
	f := newFixture(t)
	id := f.createAndJoin(t, seller, buyer)
	f.text(t, seller, "link://x")
	f.text(t, seller, "10")
	f.button(t, buyer, ActionPay, id)
	f.button(t, seller, ActionSent, id)
	f.button(t, buyer, ActionNotReceived, id)

	if got := f.notifier.last(t, seller.ID).Kind; got != NoticeDispute {
		t.Fatalf("seller got %s", got)
	}
	f.button(t, buyer, ActionReceived, id)
	if got := f.notifier.last(t, buyer.ID).Kind; got != NoticeInvalidAction {
		t.Fatalf("receipt after dispute got %s", got)
	}
	if d := f.deal(t, id); d.Status != ledger.StatusDisputed {
		t.Fatalf("status = %s", d.Status)
	}
}

func TestAdminListingGate(t *testing.T) {
	f := newFixture(t)
	f.createAndJoin(t, seller, buyer)

	f.command(t, seller, CmdAdmin, "")
	if got := f.notifier.last(t, seller.ID).Kind; got != NoticeAdminDenied {
		t.Fatalf("non-admin got %s", got)
	}
	f.command(t, admin, CmdAdmin, "")
	listing := f.notifier.last(t, admin.ID)
	if listing.Kind != NoticeAdminListing || len(listing.Deals) != 1 || listing.Stats.TotalDeals != 1 {
		t.Fatalf("listing = %+v", listing)
	}

	for i := 0; i < AdminListLimit+2; i++ {
		f.command(t, seller, CmdCreateDeal, "")
	}
	f.command(t, admin, CmdAdmin, "")
	listing = f.notifier.last(t, admin.ID)
	if len(listing.Deals) != AdminListLimit || listing.Stats.TotalDeals != AdminListLimit+3 {
		t.Fatalf("listed %d of %d", len(listing.Deals), listing.Stats.TotalDeals)
	}
}

func TestNotifyFailureKeepsTransition(t *testing.T) {
	f := newFixture(t)
	f.notifier.fail = true
	f.command(t, seller, CmdCreateDeal, "")
	deals, err := f.store.FindDeals(context.Background(), ledger.DealFilter{SellerID: seller.ID})
	if err != nil || len(deals) != 1 {
		t.Fatalf("deals = %v, err %v", deals, err)
	}
}

func TestConcurrentDeliveryButtons(t *testing.T) {
	f := newFixture(t)
	id := f.createAndJoin(t, seller, buyer)
	f.text(t, seller, "link://x")
	f.text(t, seller, "10")
	f.button(t, buyer, ActionPay, id)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			return f.router.Handle(context.Background(), Event{Kind: KindButton, User: seller, Action: ActionSent, DealID: id})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if d := f.deal(t, id); d.DeliveryCount != 1 || d.Status != ledger.StatusDelivered {
		t.Fatalf("deal = %+v", d)
	}
	if n := f.notifier.count(buyer.ID, NoticeDelivered); n != 1 {
		t.Fatalf("buyer got %d delivery notices", n)
	}
}

func TestParseAction(t *testing.T) {
	for _, a := range Actions {
		if got, ok := ParseAction(string(a)); !ok || got != a {
			t.Fatalf("ParseAction(%q) = %q, %v", a, got, ok)
		}
	}
	if got, ok := ParseAction(" PAY "); !ok || got != ActionPay {
		t.Fatalf("ParseAction trims and lowercases, got %q %v", got, ok)
	}
	if _, ok := ParseAction("refund"); ok {
		t.Fatal("unknown action accepted")
	}
}
