package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestKafkaPublisherKeysByDeal(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, topic: "escrow.deals", timeout: time.Second}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev := DealEvent{DealID: "abc123def456", Op: "confirm_delivery", Status: "delivered", SellerID: 1, BuyerID: 2, DeliveryCount: 1, At: at}
	if err := p.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "abc123def456" {
		t.Fatalf("key = %q", msg.Key)
	}
	var got DealEvent
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Op != "confirm_delivery" || got.DeliveryCount != 1 || !got.At.Equal(at) {
		t.Fatalf("decoded event = %+v", got)
	}
}

func TestKafkaPublisherWrapsWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &fakeWriter{err: boom}, topic: "t", timeout: time.Second}
	err := p.Publish(context.Background(), DealEvent{DealID: "x", Op: "join"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped %v", err, boom)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []DealEvent
	closed bool
}

func (r *recordingPublisher) Publish(_ context.Context, ev DealEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingPublisher) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func TestAsyncDeliversInOrderAndDrainsOnClose(t *testing.T) {
	rec := &recordingPublisher{}
	a := NewAsync(rec, 16)
	ops := []string{"create", "join", "submit_gift_info"}
	for _, op := range ops {
		if err := a.Publish(context.Background(), DealEvent{DealID: "d", Op: op}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !rec.closed {
		t.Fatal("wrapped publisher not closed")
	}
	if len(rec.events) != len(ops) {
		t.Fatalf("events = %d, want %d", len(rec.events), len(ops))
	}
	for i, op := range ops {
		if rec.events[i].Op != op {
			t.Fatalf("event %d op = %s, want %s", i, rec.events[i].Op, op)
		}
	}
	if err := a.Publish(context.Background(), DealEvent{DealID: "d", Op: "late"}); err != nil {
		t.Fatalf("publish after close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
