package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/fihsr/giftescrow/core/logger"
	tghelpers "github.com/fihsr/giftescrow/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// RecoverMiddleware catches panics in handlers and prevents the bot from crashing.
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return Recover(nil)(next)
}

// Recover returns a panic guard; onPanic, when set, runs after the panic is logged.
// The update is answered with a nil error so the poller keeps going.
func Recover(onPanic func(c tele.Context, recovered any)) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				ctx := tghelpers.BuildContext(c)
				logger.Error(ctx, logger.ComponentTG, "tg.panic",
					slog.String("status", "fail"),
					slog.String("err", logger.SanitizeLimit(fmt.Sprint(r), 256)),
					slog.String("stack", string(debug.Stack())),
				)
				if onPanic != nil {
					onPanic(c, r)
				}
				err = nil
			}()
			return next(c)
		}
	}
}
