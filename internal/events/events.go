// Package events publishes deal lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/fihsr/giftescrow/core/logger"
)

// DealEvent describes one committed deal transition.
type DealEvent struct {
	DealID        string    `json:"deal_id"`
	Op            string    `json:"op"`
	Status        string    `json:"status"`
	SellerID      int64     `json:"seller_id"`
	BuyerID       int64     `json:"buyer_id,omitempty"`
	Price         string    `json:"price,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	DeliveryCount int       `json:"delivery_count"`
	At            time.Time `json:"at"`
}

// Publisher hands committed events to a downstream stream.
type Publisher interface {
	Publish(ctx context.Context, ev DealEvent) error
	Close() error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, DealEvent) error { return nil }
func (Nop) Close() error                             { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes JSON events keyed by deal id so a deal's history stays
// in one partition.
type KafkaPublisher struct {
	writer  messageWriter
	topic   string
	timeout time.Duration
}

// NewKafkaPublisher connects a writer for topic on the given brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
		topic:   topic,
		timeout: 5 * time.Second,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev DealEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Op, err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(ev.DealID),
		Value: value,
		Time:  ev.At,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("events: write %s: %w", ev.Op, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Async decouples publication from the request path: events are queued and a
// single worker forwards them in order. Failures are logged and dropped.
type Async struct {
	next  Publisher
	queue chan asyncItem
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

type asyncItem struct {
	ctx context.Context
	ev  DealEvent
}

// NewAsync starts the forwarding worker with a queue of the given size.
func NewAsync(next Publisher, size int) *Async {
	if size <= 0 {
		size = 128
	}
	a := &Async{
		next:  next,
		queue: make(chan asyncItem, size),
		done:  make(chan struct{}),
	}
	go a.loop()
	return a
}

// Publish enqueues ev; a full queue drops the event with a warning.
func (a *Async) Publish(ctx context.Context, ev DealEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- asyncItem{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		logger.Warn(ctx, logger.ComponentEvents, "event.drop",
			slog.String("status", "skip"),
			slog.String("deal_id", ev.DealID),
			slog.String("op", ev.Op),
			slog.String("cause", "queue_full"),
		)
	}
	return nil
}

func (a *Async) loop() {
	for item := range a.queue {
		if err := a.next.Publish(item.ctx, item.ev); err != nil {
			logger.Error(item.ctx, logger.ComponentEvents, "event.publish",
				slog.String("status", "fail"),
				slog.String("deal_id", item.ev.DealID),
				slog.String("op", item.ev.Op),
				slog.String("err", err.Error()),
			)
			continue
		}
		logger.Debug(item.ctx, logger.ComponentEvents, "event.publish",
			slog.String("status", "ok"),
			slog.String("deal_id", item.ev.DealID),
			slog.String("op", item.ev.Op),
		)
	}
	close(a.done)
}

// Close drains the queue and closes the wrapped publisher.
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	return a.next.Close()
}
