package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/fihsr/giftescrow/core/logger"
	tg "github.com/fihsr/giftescrow/core/telegram"
	"github.com/fihsr/giftescrow/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// CommandRouteOptions configures how commands are wrapped and exposed.
type CommandRouteOptions struct {
	AdminID       int64
	OnAdminReject tele.HandlerFunc
}

// CommandRoutes prepares slash command handlers wrapped with shared middleware
// and the handler summary log. Admin-only commands are gated on AdminID.
func CommandRoutes(reg *tg.Registry, opts CommandRouteOptions) []tg.Route {
	if reg == nil {
		return nil
	}

	adminOpts := middleware.AdminOptions{
		AdminID:  opts.AdminID,
		OnReject: opts.OnAdminReject,
	}

	routes := make([]tg.Route, 0, len(reg.Commands()))
	for cmd, def := range reg.Commands() {
		name := normalizeHandlerName(cmd)
		inner := def.Handler
		var h tele.HandlerFunc = func(c tele.Context) error {
			return handleWithSummary(c, name, time.Now(), "", "", func() error {
				return inner(c)
			})
		}
		if def.AdminOnly {
			h = middleware.AdminOnlyMiddleware(adminOpts)(h)
		}
		h = middleware.LoggerMiddleware(h)
		h = middleware.RecoverMiddleware(h)
		routes = append(routes, tg.Route{
			Endpoint: cmd,
			Handler:  h,
		})
	}

	logger.Info(context.Background(), logger.ComponentWire, "tg.wire",
		slog.String("status", "ok"),
		slog.Int("count", len(routes)),
		slog.Int("callbacks", len(reg.ListCallbacks())),
	)

	return routes
}
