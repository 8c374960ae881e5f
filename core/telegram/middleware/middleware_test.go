package middleware

import (
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func messageFrom(id int64) tele.Context {
	return tele.NewContext(nil, tele.Update{
		ID: 1,
		Message: &tele.Message{
			Sender: &tele.User{ID: id},
			Chat:   &tele.Chat{ID: id, Type: tele.ChatPrivate},
			Text:   "hi",
		},
	})
}

func callbackFrom(id int64) tele.Context {
	return tele.NewContext(nil, tele.Update{
		ID:       2,
		Callback: &tele.Callback{Sender: &tele.User{ID: id}, Data: "\fdeal|pay|abc"},
	})
}

func TestAdminOnlyMiddleware(t *testing.T) {
	var ran, rejected int
	next := func(tele.Context) error { ran++; return nil }
	mw := AdminOnlyMiddleware(AdminOptions{
		AdminID:  42,
		OnReject: func(tele.Context) error { rejected++; return nil },
	})

	_ = mw(next)(messageFrom(42))
	_ = mw(next)(messageFrom(7))
	if ran != 1 || rejected != 1 {
		t.Fatalf("ran %d, rejected %d", ran, rejected)
	}

	unset := AdminOnlyMiddleware(AdminOptions{})
	_ = unset(next)(messageFrom(42))
	if ran != 1 {
		t.Fatal("unset admin id must reject everyone")
	}
}

func TestRecoverSwallowsPanic(t *testing.T) {
	var got any
	h := Recover(func(_ tele.Context, r any) { got = r })(func(tele.Context) error {
		panic("boom")
	})
	if err := h(messageFrom(1)); err != nil {
		t.Fatalf("err = %v", err)
	}
	if got != "boom" {
		t.Fatalf("onPanic got %v", got)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	var ran, limited int
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Hour,
		Exclude:   map[string]struct{}{"callback": {}},
		OnLimited: func(tele.Context) error { limited++; return nil },
	})
	h := mw(func(tele.Context) error { ran++; return nil })

	_ = h(messageFrom(5))
	_ = h(messageFrom(5))
	_ = h(messageFrom(6))
	_ = h(callbackFrom(5))
	if ran != 3 || limited != 1 {
		t.Fatalf("ran %d, limited %d", ran, limited)
	}
}

func TestMessageCounters(t *testing.T) {
	c := messageFrom(1)
	h := MessageMetricsMiddleware(func(c tele.Context) error {
		c.Set(counterMessages, 2)
		c.Set(counterKeyboard, true)
		return nil
	})
	_ = h(c)
	if msgs, kb := GetCounters(c); msgs != 2 || !kb {
		t.Fatalf("counters = %d, %v", msgs, kb)
	}
}
