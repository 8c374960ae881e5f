package helpers

import (
	"context"
	"errors"
	"testing"

	tele "gopkg.in/telebot.v4"
)

type stubAPI struct {
	tele.API
	to   string
	opts *tele.SendOptions
	err  error
}

func (s *stubAPI) Send(to tele.Recipient, _ interface{}, opts ...interface{}) (*tele.Message, error) {
	s.to = to.Recipient()
	if len(opts) > 0 {
		s.opts, _ = opts[0].(*tele.SendOptions)
	}
	return &tele.Message{}, s.err
}

func TestSendMDToInline(t *testing.T) {
	SetDispatcher(nil)
	api := &stubAPI{}
	if err := SendMDTo(context.Background(), api, tele.ChatID(5), "notice.menu", "*hi*", nil); err != nil {
		t.Fatalf("send: %v", err)
	}
	if api.to != "5" || api.opts == nil || api.opts.ParseMode != tele.ModeMarkdown {
		t.Fatalf("to=%q opts=%+v", api.to, api.opts)
	}

	boom := errors.New("boom")
	if err := SendMDTo(context.Background(), &stubAPI{err: boom}, tele.ChatID(5), "notice.menu", "x", nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if err := SendMDTo(context.Background(), nil, tele.ChatID(5), "notice.menu", "x", nil); err == nil {
		t.Fatal("nil api should fail")
	}
}
