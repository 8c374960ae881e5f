// Package bot adapts the Telegram runtime to the escrow flow router: it turns
// updates into flow events and renders flow notices back into messages.
package bot

import (
	"context"

	tele "gopkg.in/telebot.v4"

	tg "github.com/fihsr/giftescrow/core/telegram"
	"github.com/fihsr/giftescrow/core/telegram/callbacks"
	"github.com/fihsr/giftescrow/core/telegram/commands"
	"github.com/fihsr/giftescrow/core/telegram/helpers"
	"github.com/fihsr/giftescrow/internal/flow"
)

// Handler is the part of the flow router driven by updates.
type Handler interface {
	Handle(ctx context.Context, ev flow.Event) error
}

type commandSpec struct {
	name   string
	cmd    flow.Command
	desc   string
	label  string
	admin  bool
	hidden bool
}

var commandSpecs = []commandSpec{
	{name: "/start", cmd: flow.CmdStart, desc: "Start the bot"},
	{name: "/menu", cmd: flow.CmdMenu, desc: "Main menu"},
	{name: "/create_deal", cmd: flow.CmdCreateDeal, desc: "Create a deal", label: LabelCreateDeal},
	{name: "/support", cmd: flow.CmdSupport, desc: "Contact support", label: LabelSupport},
	{name: "/how_it_works", cmd: flow.CmdHowItWorks, desc: "How the escrow works", label: LabelHowItWorks},
	{name: "/reviews", cmd: flow.CmdReviews, desc: "Reviews", label: LabelReviews},
	{name: "/bonuses", cmd: flow.CmdBonuses, desc: "Bonuses", label: LabelBonuses},
	{name: "/bind_card", cmd: flow.CmdBindCard, desc: "Bind a payout card", label: LabelBindCard},
	{name: "/cancel", cmd: flow.CmdCancel, desc: "Cancel card entry"},
	{name: "/admpanel", cmd: flow.CmdAdmin, desc: "Admin panel", admin: true, hidden: true},
}

// Register adds the escrow commands, the deal button callback and the free-text
// fallback to reg.
func Register(reg *tg.Registry, h Handler) error {
	for _, s := range commandSpecs {
		var aliases []string
		if s.label != "" {
			aliases = []string{s.label}
		}
		reg.RegisterCommand(s.name, commands.Command{
			Handler:     commandHandler(h, s.cmd),
			Description: s.desc,
			AdminOnly:   s.admin,
			Hidden:      s.hidden,
			Aliases:     aliases,
		})
	}
	if err := reg.RegisterCallback(DealCallback, buttonHandler(h)); err != nil {
		return err
	}
	reg.SetTextFallback(textHandler(h))
	return nil
}

// AdminReject answers a sender stopped by the admin gate through the router,
// which replies with the access denied notice.
func AdminReject(h Handler) tele.HandlerFunc {
	return commandHandler(h, flow.CmdAdmin)
}

// Limited answers a button press dropped by the rate limiter so the client
// stops its spinner. Dropped messages get no reply.
func Limited(c tele.Context) error {
	if c.Callback() == nil {
		return nil
	}
	return c.Respond(&tele.CallbackResponse{Text: "Too many requests, slow down."})
}

// NewEvent starts an event for the sender of c; updates without a sender
// report false.
func NewEvent(c tele.Context, kind flow.Kind) (flow.Event, bool) {
	u := c.Sender()
	if u == nil || u.ID == 0 {
		return flow.Event{}, false
	}
	return flow.Event{Kind: kind, User: flow.User{ID: u.ID, Name: helpers.DisplayName(u)}}, true
}

func commandHandler(h Handler, cmd flow.Command) tele.HandlerFunc {
	return func(c tele.Context) error {
		ev, ok := NewEvent(c, flow.KindCommand)
		if !ok {
			return nil
		}
		ev.Command = cmd
		if cmd == flow.CmdStart && c.Message() != nil {
			ev.Arg = c.Message().Payload
		}
		return h.Handle(helpers.BuildContext(c), ev)
	}
}

func buttonHandler(h Handler) tele.HandlerFunc {
	return func(c tele.Context) error {
		ev, ok := NewEvent(c, flow.KindButton)
		if !ok {
			return nil
		}
		// A malformed payload leaves the action empty; the router answers it.
		if code, dealID, err := callbacks.PayloadPair(c, PayloadSep); err == nil {
			ev.Action, _ = flow.ParseAction(code)
			ev.DealID = dealID
		}
		return h.Handle(helpers.BuildContext(c), ev)
	}
}

func textHandler(h Handler) tele.HandlerFunc {
	return func(c tele.Context) error {
		ev, ok := NewEvent(c, flow.KindText)
		if !ok {
			return nil
		}
		ev.Text = c.Text()
		return h.Handle(helpers.BuildContext(c), ev)
	}
}
