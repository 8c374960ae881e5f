package bot

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fihsr/giftescrow/internal/flow"
	"github.com/fihsr/giftescrow/internal/ledger"
)

var allKinds = []flow.NoticeKind{
	flow.NoticeWelcome, flow.NoticeMenu, flow.NoticeSupport, flow.NoticeHowItWorks,
	flow.NoticeReviews, flow.NoticeBonuses, flow.NoticeDealCreated, flow.NoticeJoinedDeal,
	flow.NoticeBuyerJoined, flow.NoticeDealAlreadyActive, flow.NoticeDealNotFound,
	flow.NoticeAskPrice, flow.NoticeInvalidPrice, flow.NoticePriceSaved, flow.NoticeBuyerMissing,
	flow.NoticePurchaseDetails, flow.NoticePaymentRecorded, flow.NoticePaid,
	flow.NoticeDeliveryRecorded, flow.NoticeDelivered, flow.NoticeDealCompleted,
	flow.NoticePayoutPrompt, flow.NoticeDispute, flow.NoticeDisputeRecorded, flow.NoticeAskCard,
	flow.NoticeCardSaved, flow.NoticeCardBound, flow.NoticeInvalidCard, flow.NoticeCancelled,
	flow.NoticeNothingToDrop, flow.NoticeInvalidAction, flow.NoticeUnavailable,
	flow.NoticeAdminDenied, flow.NoticeAdminListing,
}

func sampleDeal() ledger.Deal {
	return ledger.Deal{
		ID:         "abc123def456",
		SellerID:   1,
		SellerName: "@sell_er",
		BuyerID:    2,
		BuyerName:  "@buyer",
		GiftLink:   "https://t.me/nft/Gift_1",
		Price:      decimal.NewNullDecimal(decimal.RequireFromString("1000")),
		Status:     ledger.StatusWaitingPayment,
		CreatedAt:  time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC),
	}
}

func TestRenderEveryKind(t *testing.T) {
	texts := Texts{BotUsername: "escrow_bot"}
	for _, kind := range allKinds {
		text, _ := texts.Render(flow.Notice{Kind: kind, Deal: sampleDeal()})
		if strings.TrimSpace(text) == "" {
			t.Fatalf("%s rendered empty text", kind)
		}
	}
}

func TestRenderPurchaseDetails(t *testing.T) {
	n := flow.Notice{
		Kind:   flow.NoticePurchaseDetails,
		Deal:   sampleDeal(),
		Amount: decimal.RequireFromString("900"),
	}
	text, markup := Texts{}.Render(n)
	for _, want := range []string{"1000.00 RUB", "900.00 RUB", `Gift\_1`} {
		if !strings.Contains(text, want) {
			t.Fatalf("text %q missing %q", text, want)
		}
	}
	if markup == nil || len(markup.InlineKeyboard) != 1 || len(markup.InlineKeyboard[0]) != 1 {
		t.Fatalf("expected one pay button, got %+v", markup)
	}
	btn := markup.InlineKeyboard[0][0]
	if btn.Unique != DealCallback || btn.Data != "pay|abc123def456" {
		t.Fatalf("button = %q/%q", btn.Unique, btn.Data)
	}
}

func TestRenderDeliveredButtons(t *testing.T) {
	_, markup := Texts{}.Render(flow.Notice{Kind: flow.NoticeDelivered, Deal: sampleDeal()})
	if markup == nil || len(markup.InlineKeyboard) != 2 {
		t.Fatalf("expected two rows, got %+v", markup)
	}
	if got := markup.InlineKeyboard[0][0].Data; got != "received|abc123def456" {
		t.Fatalf("received data = %q", got)
	}
	if got := markup.InlineKeyboard[1][0].Data; got != "not_received|abc123def456" {
		t.Fatalf("not received data = %q", got)
	}
}

func TestRenderDealCreatedLink(t *testing.T) {
	text, _ := Texts{BotUsername: "@escrow_bot"}.Render(flow.Notice{Kind: flow.NoticeDealCreated, Deal: sampleDeal()})
	if !strings.Contains(text, "(https://t.me/escrow_bot?start=deal_abc123def456)") {
		t.Fatalf("deep link missing: %q", text)
	}
}

func TestRenderEscapesNames(t *testing.T) {
	text, _ := Texts{}.Render(flow.Notice{Kind: flow.NoticeJoinedDeal, Deal: sampleDeal()})
	if !strings.Contains(text, `@sell\_er`) {
		t.Fatalf("seller name not escaped: %q", text)
	}
	d := sampleDeal()
	d.SellerName = ""
	text, _ = Texts{}.Render(flow.Notice{Kind: flow.NoticeJoinedDeal, Deal: d})
	if !strings.Contains(text, "the seller") {
		t.Fatalf("fallback name missing: %q", text)
	}
}

func TestRenderCardNoticesShowMenu(t *testing.T) {
	text, markup := Texts{}.Render(flow.Notice{
		Kind:   flow.NoticeCardSaved,
		Amount: decimal.RequireFromString("1100"),
		Card:   "1234 5678 9012 3456",
	})
	if !strings.Contains(text, "1100.00 RUB") || !strings.Contains(text, "1234 5678 9012 3456") {
		t.Fatalf("card saved text = %q", text)
	}
	if markup == nil || len(markup.ReplyKeyboard) == 0 {
		t.Fatal("card saved should bring back the main menu")
	}
}

func TestRenderSupportFallsBackToBot(t *testing.T) {
	text, _ := Texts{BotUsername: "escrow_bot"}.Render(flow.Notice{Kind: flow.NoticeSupport})
	if !strings.Contains(text, `@escrow\_bot`) {
		t.Fatalf("support text = %q", text)
	}
	text, _ = Texts{BotUsername: "escrow_bot", SupportContact: "@helpdesk"}.Render(flow.Notice{Kind: flow.NoticeSupport})
	if !strings.Contains(text, "@helpdesk") {
		t.Fatalf("support text = %q", text)
	}
}

func TestAdminListing(t *testing.T) {
	text, _ := Texts{}.Render(flow.Notice{Kind: flow.NoticeAdminListing})
	if !strings.Contains(text, "No deals yet") {
		t.Fatalf("empty listing = %q", text)
	}

	deals := []ledger.Deal{sampleDeal(), sampleDeal()}
	text, markup := Texts{}.Render(flow.Notice{
		Kind:  flow.NoticeAdminListing,
		Deals: deals,
		Stats: ledger.Stats{TotalDeals: len(deals) + 3, TotalDeliveries: 4},
	})
	if markup != nil {
		t.Fatal("listing has no markup")
	}
	if !strings.Contains(text, "Deliveries: 4") || !strings.Contains(text, "and 3 more") {
		t.Fatalf("listing = %q", text)
	}
	if !strings.Contains(text, `waiting\_payment`) {
		t.Fatalf("status not escaped: %q", text)
	}
}

func TestMainMenuLabels(t *testing.T) {
	m := MainMenu()
	var labels []string
	for _, row := range m.ReplyKeyboard {
		for _, b := range row {
			labels = append(labels, b.Text)
		}
	}
	want := []string{LabelCreateDeal, LabelSupport, LabelHowItWorks, LabelReviews, LabelBonuses, LabelBindCard}
	if strings.Join(labels, ",") != strings.Join(want, ",") {
		t.Fatalf("labels = %v, want %v", labels, want)
	}
	if !m.ResizeKeyboard {
		t.Fatal("menu should resize")
	}
}
