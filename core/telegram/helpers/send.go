package helpers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/fihsr/giftescrow/core/logger"
	"github.com/fihsr/giftescrow/core/telegram/sender"

	tele "gopkg.in/telebot.v4"
)

var globalDispatcher atomic.Pointer[sender.Dispatcher]

// SetDispatcher wires the asynchronous sender used by helper functions.
func SetDispatcher(d *sender.Dispatcher) {
	globalDispatcher.Store(d)
}

func currentDispatcher() *sender.Dispatcher {
	return globalDispatcher.Load()
}

// enqueue hands run to the dispatcher, running it inline when none is wired or
// the queue cannot take it.
func enqueue(ctx context.Context, action, endpoint string, run func() error) error {
	disp := currentDispatcher()
	if disp == nil {
		return run()
	}

	if err := disp.Enqueue(ctx, action, endpoint, run); err != nil {
		if errors.Is(err, sender.ErrQueueFull) || errors.Is(err, sender.ErrQueueClosed) {
			logger.Warn(ctx, logger.ComponentSender, "queue.fallback",
				slog.String("action", action),
				slog.String("endpoint", endpoint),
				slog.String("status", "retry"),
				slog.String("err", err.Error()),
			)
			return run()
		}
		return err
	}
	return nil
}

// SendMDTo sends a Markdown message to an arbitrary chat outside of an update,
// e.g. a notice to the counterparty of a deal.
func SendMDTo(ctx context.Context, api tele.API, to tele.Recipient, action, text string, markup *tele.ReplyMarkup) error {
	if api == nil {
		return errors.New("telegram helpers: nil bot")
	}
	opts := &tele.SendOptions{ParseMode: tele.ModeMarkdown, ReplyMarkup: markup, DisableWebPagePreview: true}
	return enqueue(ctx, action, "sendMessage", func() error {
		_, err := api.Send(to, text, opts)
		return err
	})
}
