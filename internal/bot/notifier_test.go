package bot

import (
	"context"
	"errors"
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"github.com/fihsr/giftescrow/internal/flow"
	"github.com/fihsr/giftescrow/internal/metrics"
)

type sentMessage struct {
	to   string
	text string
	opts *tele.SendOptions
}

// fakeAPI implements only Send; any other call panics on the nil interface.
type fakeAPI struct {
	tele.API
	sent []sentMessage
	err  error
}

func (f *fakeAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	if f.err != nil {
		return nil, f.err
	}
	msg := sentMessage{to: to.Recipient(), text: what.(string)}
	if len(opts) > 0 {
		msg.opts, _ = opts[0].(*tele.SendOptions)
	}
	f.sent = append(f.sent, msg)
	return &tele.Message{}, nil
}

func TestNotifierDetached(t *testing.T) {
	n := NewNotifier(Texts{})
	err := n.Notify(context.Background(), 1, flow.Notice{Kind: flow.NoticeMenu})
	if !errors.Is(err, ErrNotAttached) {
		t.Fatalf("err = %v, want ErrNotAttached", err)
	}
}

func TestNotifierSendsMarkdown(t *testing.T) {
	api := &fakeAPI{}
	n := NewNotifier(Texts{})
	n.Attach(api, "@escrow_bot")

	err := n.Notify(context.Background(), 42, flow.Notice{Kind: flow.NoticeDealCreated, Deal: sampleDeal()})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(api.sent) != 1 {
		t.Fatalf("sent %d messages", len(api.sent))
	}
	msg := api.sent[0]
	if msg.to != "42" {
		t.Fatalf("recipient = %q", msg.to)
	}
	if !strings.Contains(msg.text, "https://t.me/escrow_bot?start=deal_abc123def456") {
		t.Fatalf("text = %q", msg.text)
	}
	if msg.opts == nil || msg.opts.ParseMode != tele.ModeMarkdown || !msg.opts.DisableWebPagePreview {
		t.Fatalf("opts = %+v", msg.opts)
	}

	n.Detach()
	if err := n.Notify(context.Background(), 42, flow.Notice{Kind: flow.NoticeMenu}); !errors.Is(err, ErrNotAttached) {
		t.Fatalf("after detach err = %v", err)
	}
}

func TestNotifierConfiguredUsernameWins(t *testing.T) {
	api := &fakeAPI{}
	n := NewNotifier(Texts{BotUsername: "configured_bot"})
	n.Attach(api, "reported_bot")
	if err := n.Notify(context.Background(), 1, flow.Notice{Kind: flow.NoticeDealCreated, Deal: sampleDeal()}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if !strings.Contains(api.sent[0].text, "t.me/configured_bot?") {
		t.Fatalf("text = %q", api.sent[0].text)
	}
}

func TestNotifierReturnsSendError(t *testing.T) {
	boom := errors.New("boom")
	n := NewNotifier(Texts{})
	n.Attach(&fakeAPI{err: boom}, "escrow_bot")
	if err := n.Notify(context.Background(), 1, flow.Notice{Kind: flow.NoticeMenu}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestOnPanicSendsUnavailable(t *testing.T) {
	api := &fakeAPI{}
	n := NewNotifier(Texts{})
	n.Attach(api, "escrow_bot")
	n.OnPanic(messageCtx("hi", ""), "kaboom")
	if len(api.sent) != 1 || !strings.Contains(api.sent[0].text, "unavailable") {
		t.Fatalf("sent = %+v", api.sent)
	}
}

func TestCountFailures(t *testing.T) {
	m := metrics.New()
	hook := CountFailures(m)
	hook(context.Background(), ActionPrefix+string(flow.NoticePaid), errors.New("blocked"))
	hook(context.Background(), "send.text", errors.New("ignored"))

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != "escrow_notify_failures_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "kind" && lp.GetValue() != string(flow.NoticePaid) {
					t.Fatalf("unexpected kind %q", lp.GetValue())
				}
			}
			total += metric.GetCounter().GetValue()
		}
	}
	if total != 1 {
		t.Fatalf("failures = %v, want 1", total)
	}
}
