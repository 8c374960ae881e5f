package middleware

import (
	"errors"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func textFrom(id int64, text string) tele.Context {
	return tele.NewContext(nil, tele.Update{
		Message: &tele.Message{
			Sender: &tele.User{ID: id},
			Chat:   &tele.Chat{ID: id, Type: tele.ChatPrivate},
			Text:   text,
		},
	})
}

func TestUserQueueKeepsArrivalOrder(t *testing.T) {
	q := NewUserQueue()
	var (
		mu  sync.Mutex
		got []string
	)
	h := q.Middleware(func(c tele.Context) error {
		if c.Text() == "0" {
			time.Sleep(20 * time.Millisecond)
		}
		mu.Lock()
		got = append(got, c.Text())
		mu.Unlock()
		return nil
	})

	want := []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}
	for _, s := range want {
		if err := h(textFrom(1, s)); err != nil {
			t.Fatalf("enqueue %s: %v", s, err)
		}
	}
	q.Wait()

	if len(got) != len(want) {
		t.Fatalf("handled %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %q", got)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("idle queue still tracks %d senders", q.Len())
	}
}

func TestUserQueueSendersRunConcurrently(t *testing.T) {
	q := NewUserQueue()
	release := make(chan struct{})
	other := make(chan struct{})
	h := q.Middleware(func(c tele.Context) error {
		if c.Sender().ID == 1 {
			<-release
			return nil
		}
		close(other)
		return nil
	})

	_ = h(textFrom(1, "slow"))
	_ = h(textFrom(2, "fast"))
	select {
	case <-other:
	case <-time.After(2 * time.Second):
		t.Fatal("a blocked sender held up another sender")
	}
	close(release)
	q.Wait()
}

func TestUserQueueReportsErrors(t *testing.T) {
	q := NewUserQueue()
	boom := errors.New("boom")
	var (
		mu  sync.Mutex
		got error
	)
	q.OnError = func(err error, _ tele.Context) {
		mu.Lock()
		got = err
		mu.Unlock()
	}
	h := q.Middleware(func(tele.Context) error { return boom })
	if err := h(textFrom(1, "x")); err != nil {
		t.Fatalf("enqueue returned %v", err)
	}
	q.Wait()
	mu.Lock()
	defer mu.Unlock()
	if !errors.Is(got, boom) {
		t.Fatalf("OnError got %v", got)
	}
}

func TestUserQueueSurvivesPanic(t *testing.T) {
	q := NewUserQueue()
	var ran bool
	h := q.Middleware(func(c tele.Context) error {
		if c.Text() == "panic" {
			panic("boom")
		}
		ran = true
		return nil
	})
	_ = h(textFrom(1, "panic"))
	_ = h(textFrom(1, "next"))
	q.Wait()
	if !ran {
		t.Fatal("queue stopped after a panic")
	}
}

func TestUserQueueRunsAnonymousUpdatesInline(t *testing.T) {
	q := NewUserQueue()
	boom := errors.New("boom")
	h := q.Middleware(func(tele.Context) error { return boom })
	if err := h(tele.NewContext(nil, tele.Update{})); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want inline boom", err)
	}
}
