package bot

import (
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/fihsr/giftescrow/core/telegram/callbacks"
	"github.com/fihsr/giftescrow/core/telegram/format"
	"github.com/fihsr/giftescrow/core/telegram/keyboard"
	"github.com/fihsr/giftescrow/internal/deal"
	"github.com/fihsr/giftescrow/internal/flow"
	"github.com/fihsr/giftescrow/internal/ledger"
	"github.com/fihsr/giftescrow/internal/money"
)

const (
	// DealCallback is the callback unique shared by every deal button.
	DealCallback = "deal"
	// PayloadSep separates the action code from the deal id in button data.
	PayloadSep = "|"

	currency = "RUB"
)

// Main menu labels. Each one is registered as an alias of its command.
const (
	LabelCreateDeal = "🔹 Create deal"
	LabelSupport    = "🔹 Support"
	LabelHowItWorks = "🔹 How it works"
	LabelReviews    = "🔹 Reviews"
	LabelBonuses    = "🔹 Bonuses"
	LabelBindCard   = "🔹 Bind card"
)

// MainMenu is the reply keyboard shown with the welcome and menu notices.
func MainMenu() *tele.ReplyMarkup {
	return keyboard.ReplyButtons(
		[]string{LabelCreateDeal},
		[]string{LabelSupport, LabelHowItWorks},
		[]string{LabelReviews, LabelBonuses},
		[]string{LabelBindCard},
	)
}

// Texts renders notices as legacy Markdown.
type Texts struct {
	// BotUsername builds the join deep link.
	BotUsername string
	// SupportContact is shown on support and dispute notices.
	SupportContact string
	// ReviewsChannel is shown on the reviews notice.
	ReviewsChannel string
}

// Render returns the message text and optional markup for n.
func (t Texts) Render(n flow.Notice) (string, *tele.ReplyMarkup) {
	d := n.Deal
	switch n.Kind {
	case flow.NoticeWelcome:
		return "🤖 *Escrow bot*\n\n" +
			"🔸 *Safe buying and selling of NFT gifts*\n\n" +
			"🔸 *Features:*\n" +
			"• Guaranteed safe deals\n" +
			"• Protection from scammers\n" +
			"• Frequent promotions and bonuses\n" +
			"• Fast payouts\n\n" +
			"🔽 Choose an action:", MainMenu()
	case flow.NoticeMenu:
		return "🔽 Choose an action:", MainMenu()
	case flow.NoticeSupport:
		return "🔸 *Support*\n\nFor any questions contact:\n\n⏺︎ " + format.MD(t.support()), nil
	case flow.NoticeHowItWorks:
		return "🔸 *How it works*\n\n" +
			"⏺︎ *For the seller:*\n" +
			"1. Create a deal\n" +
			"2. Share the link with the buyer\n" +
			"3. Enter the gift link and the price\n" +
			"4. Send the gift\n" +
			"5. Receive the payout\n\n" +
			"⏺︎ *For the buyer:*\n" +
			"1. Open the link to join the deal\n" +
			"2. Wait for the gift details\n" +
			"3. Pay for the gift\n" +
			"4. Receive the gift from the seller", nil
	case flow.NoticeReviews:
		return "🔸 *Reviews*\n\n📊 Read the reviews in " + format.MD(t.reviews()), nil
	case flow.NoticeBonuses:
		return "🔥 *Promotion for new users!*\n\n" +
			"• 🏷️ Payment: 10% discount\n" +
			"• 💸 Payout: 10% bonus\n\n" +
			"Discounts apply automatically. No hidden fees.", nil

	case flow.NoticeDealCreated:
		return fmt.Sprintf("🕸️ *Deal created!*\n\n🔸 Link for the buyer:\n[Tap to join the deal](%s)\n\nSend this link to the buyer.",
			deal.DeepLink(t.BotUsername, d.ID)), nil
	case flow.NoticeJoinedDeal:
		return fmt.Sprintf("🔸 You joined the deal with %s. Wait for the gift details.", name(d.SellerName, "the seller")), nil
	case flow.NoticeBuyerJoined:
		return fmt.Sprintf("👤 *Buyer joined!*\n\n🕷️ %s\n\n⬇️ Send the gift link:", name(d.BuyerName, "buyer")), nil
	case flow.NoticeDealAlreadyActive:
		return "✔️ This deal is already active.", nil
	case flow.NoticeDealNotFound:
		return "❌ Deal not found.", nil
	case flow.NoticeAskPrice:
		return "✅ Link saved!\n\n▶️ Now enter the gift price in " + currency + ":\nExample: 2500", nil
	case flow.NoticeInvalidPrice:
		return "🕸️ Invalid price. Enter a positive number:\nExample: 2500", nil
	case flow.NoticePriceSaved:
		return "🕸️ Price saved! The buyer has been notified.", nil
	case flow.NoticeBuyerMissing:
		return "🕸️ Price saved, but the deal has no buyer to notify.", nil
	case flow.NoticePurchaseDetails:
		return fmt.Sprintf("🔸 *Purchase details*\n\n"+
				"▪️ Gift link: %s\n"+
				"▪️ Original price: %s %s\n"+
				"▪️ Amount to pay: %s %s (10%% discount)\n\n"+
				"▪️ Tap the button to pay:",
				format.MD(d.GiftLink), price(d), currency, money.Format(n.Amount), currency),
			dealButtons(d.ID, button{"✅ Pay", flow.ActionPay})
	case flow.NoticePaymentRecorded:
		return "✅ Paid! Wait for the gift.", nil
	case flow.NoticePaid:
		return fmt.Sprintf("✅ *The gift was paid for!*\n\n"+
				"🪙 Amount: %s %s\n"+
				"▶️ Gift link: %s\n\n"+
				"Send the gift and confirm:",
				price(d), currency, format.MD(d.GiftLink)),
			dealButtons(d.ID, button{"🔰 I sent the gift", flow.ActionSent})
	case flow.NoticeDeliveryRecorded:
		return "✅ Delivery confirmed! Wait for the buyer to confirm receipt.", nil
	case flow.NoticeDelivered:
		return fmt.Sprintf("👤 %s sent the gift\n\n"+
				"▶️ Link: %s\n"+
				"💰 Amount: %s %s\n\n"+
				"Did you receive the gift?",
				name(d.SellerName, "The seller"), format.MD(d.GiftLink), price(d), currency),
			dealButtons(d.ID,
				button{"✔️ Received", flow.ActionReceived},
				button{"✖️ Not received", flow.ActionNotReceived},
			)
	case flow.NoticeDealCompleted:
		return "🌙 Deal completed! Thank you.", nil
	case flow.NoticePayoutPrompt:
		return fmt.Sprintf("✅ *The gift was received!*\n\n"+
			"💵 Payout: %s %s (10%% bonus)\n\n"+
			"💳 Send your card number to receive the funds:",
			money.Format(n.Amount), currency), nil
	case flow.NoticeDispute:
		return "❌ The buyer reports the gift was not received. Contact support: " + format.MD(t.support()), nil
	case flow.NoticeDisputeRecorded:
		return "✔️ The problem has been recorded. Contact support: " + format.MD(t.support()), nil

	case flow.NoticeAskCard:
		return "💳 Send your card number:\nExample: 1234 5678 9012 3456\n\n/cancel to stop.", nil
	case flow.NoticeCardSaved:
		return fmt.Sprintf("✅ *Card saved!*\n\n"+
			"💵 Amount: %s %s (including the 10%% bonus)\n"+
			"💳 Card: %s\n\n"+
			"☑️ The funds arrive within 5 minutes to 1 hour.",
			money.Format(n.Amount), currency, n.Card), MainMenu()
	case flow.NoticeCardBound:
		return "✅ Card bound: " + n.Card, MainMenu()
	case flow.NoticeInvalidCard:
		return "❌ Invalid card number\nExample: 1234 5678 9012 3456", nil
	case flow.NoticeCancelled:
		return "Card entry cancelled.", MainMenu()
	case flow.NoticeNothingToDrop:
		return "Nothing to cancel.", MainMenu()

	case flow.NoticeInvalidAction:
		return "❌ This action is not available for the deal right now.", nil
	case flow.NoticeUnavailable:
		return "⚠️ The service is temporarily unavailable. Try again later.", nil
	case flow.NoticeAdminDenied:
		return "🪬 Access denied.", nil
	case flow.NoticeAdminListing:
		return adminListing(n.Deals, n.Stats), nil
	}
	return "🔽 Choose an action:", MainMenu()
}

func (t Texts) support() string {
	if t.SupportContact != "" {
		return t.SupportContact
	}
	return "@" + strings.TrimPrefix(t.BotUsername, "@")
}

func (t Texts) reviews() string {
	if t.ReviewsChannel != "" {
		return t.ReviewsChannel
	}
	return t.support()
}

type button struct {
	text   string
	action flow.Action
}

func dealButtons(dealID string, buttons ...button) *tele.ReplyMarkup {
	btns := make([]keyboard.InlineBtn, 0, len(buttons))
	for _, b := range buttons {
		btns = append(btns, keyboard.InlineBtn{
			Text:   b.text,
			Unique: DealCallback,
			Data:   callbacks.JoinPayload(PayloadSep, string(b.action), dealID),
		})
	}
	return keyboard.InlineButtons(btns)
}

func adminListing(deals []ledger.Deal, stats ledger.Stats) string {
	var b strings.Builder
	b.WriteString("*Admin panel*\n\n")
	fmt.Fprintf(&b, "Deals: %d\nDeliveries: %d\n", stats.TotalDeals, stats.TotalDeliveries)
	if len(deals) == 0 {
		b.WriteString("\nNo deals yet.")
		return b.String()
	}
	b.WriteString("\n")
	for _, d := range deals {
		fmt.Fprintf(&b, "🕷️ `%s` %s\n", d.ID, format.MD(string(d.Status)))
		fmt.Fprintf(&b, "    seller: %s\n", name(d.SellerName, "n/a"))
		fmt.Fprintf(&b, "    buyer: %s\n", name(d.BuyerName, "n/a"))
		fmt.Fprintf(&b, "    gift: %s\n", orNone(format.MD(d.GiftLink)))
		fmt.Fprintf(&b, "    price: %s\n", orNone(price(d)))
		fmt.Fprintf(&b, "    deliveries: %d\n", d.DeliveryCount)
		fmt.Fprintf(&b, "    created: %s\n\n", d.CreatedAt.UTC().Format("2006-01-02 15:04"))
	}
	if more := stats.TotalDeals - len(deals); more > 0 {
		fmt.Fprintf(&b, "…and %d more", more)
	}
	return strings.TrimRight(b.String(), "\n")
}

func price(d ledger.Deal) string {
	if !d.Price.Valid {
		return ""
	}
	return money.Format(d.Price.Decimal)
}

func name(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return format.MD(s)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
