package bot

import (
	"context"
	"testing"

	tele "gopkg.in/telebot.v4"

	tg "github.com/fihsr/giftescrow/core/telegram"
	"github.com/fihsr/giftescrow/internal/flow"
)

type recordingHandler struct {
	events []flow.Event
}

func (r *recordingHandler) Handle(_ context.Context, ev flow.Event) error {
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingHandler) last(t *testing.T) flow.Event {
	t.Helper()
	if len(r.events) == 0 {
		t.Fatal("no event recorded")
	}
	return r.events[len(r.events)-1]
}

func messageCtx(text, payload string) tele.Context {
	return tele.NewContext(nil, tele.Update{
		ID: 7,
		Message: &tele.Message{
			Sender:  &tele.User{ID: 42, Username: "buyer"},
			Chat:    &tele.Chat{ID: 42, Type: tele.ChatPrivate},
			Text:    text,
			Payload: payload,
		},
	})
}

func callbackCtx(data string) tele.Context {
	return tele.NewContext(nil, tele.Update{
		ID:       8,
		Callback: &tele.Callback{Sender: &tele.User{ID: 42, FirstName: "Ann"}, Data: data},
	})
}

func TestStartCarriesPayload(t *testing.T) {
	h := &recordingHandler{}
	if err := commandHandler(h, flow.CmdStart)(messageCtx("/start deal_abc123def456", "deal_abc123def456")); err != nil {
		t.Fatalf("handler: %v", err)
	}
	ev := h.last(t)
	if ev.Kind != flow.KindCommand || ev.Command != flow.CmdStart || ev.Arg != "deal_abc123def456" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.User.ID != 42 || ev.User.Name != "@buyer" {
		t.Fatalf("user = %+v", ev.User)
	}
}

func TestButtonEvent(t *testing.T) {
	h := &recordingHandler{}
	if err := buttonHandler(h)(callbackCtx("\fdeal|received|abc123def456")); err != nil {
		t.Fatalf("handler: %v", err)
	}
	ev := h.last(t)
	if ev.Kind != flow.KindButton || ev.Action != flow.ActionReceived || ev.DealID != "abc123def456" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.User.Name != "Ann" {
		t.Fatalf("name = %q", ev.User.Name)
	}
}

func TestButtonMalformedPayload(t *testing.T) {
	h := &recordingHandler{}
	for _, data := range []string{"\fdeal|", "\fdeal|pay", "\fdeal|refund|abc123def456"} {
		if err := buttonHandler(h)(callbackCtx(data)); err != nil {
			t.Fatalf("handler: %v", err)
		}
		if ev := h.last(t); ev.Action != "" {
			t.Fatalf("%q produced action %q", data, ev.Action)
		}
	}
}

func TestTextEvent(t *testing.T) {
	h := &recordingHandler{}
	if err := textHandler(h)(messageCtx("2500", "")); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if ev := h.last(t); ev.Kind != flow.KindText || ev.Text != "2500" {
		t.Fatalf("event = %+v", ev)
	}
}

func TestNoSenderIsIgnored(t *testing.T) {
	h := &recordingHandler{}
	c := tele.NewContext(nil, tele.Update{ID: 9})
	if err := textHandler(h)(c); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if len(h.events) != 0 {
		t.Fatalf("events = %+v", h.events)
	}
}

func TestRegister(t *testing.T) {
	reg := tg.NewRegistry()
	h := &recordingHandler{}
	if err := Register(reg, h); err != nil {
		t.Fatalf("register: %v", err)
	}

	key, cmd, ok := reg.LookupCommand(LabelCreateDeal)
	if !ok || key != "/create_deal" {
		t.Fatalf("label lookup = %q %v", key, ok)
	}
	if err := cmd.Handler(messageCtx(LabelCreateDeal, "")); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if ev := h.last(t); ev.Command != flow.CmdCreateDeal {
		t.Fatalf("command = %q", ev.Command)
	}

	if _, ok := reg.GetCallback(DealCallback); !ok {
		t.Fatal("deal callback not registered")
	}
	if reg.TextFallback() == nil {
		t.Fatal("text fallback not set")
	}
	for _, c := range reg.ListCommands(true) {
		if c.Text == "/admpanel" {
			t.Fatal("admin command must stay hidden")
		}
	}
	if _, admin, ok := reg.LookupCommand("/admpanel"); !ok || !admin.AdminOnly {
		t.Fatal("admin command not gated")
	}
	if err := Register(reg, h); err == nil {
		t.Fatal("second registration should fail on the duplicate callback")
	}
}

func TestAdminRejectRoutesToRouter(t *testing.T) {
	h := &recordingHandler{}
	if err := AdminReject(h)(messageCtx("/admpanel", "")); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if ev := h.last(t); ev.Command != flow.CmdAdmin {
		t.Fatalf("command = %q", ev.Command)
	}
}
