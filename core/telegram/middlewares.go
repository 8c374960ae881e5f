package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/fihsr/giftescrow/core/config"
	"github.com/fihsr/giftescrow/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// Hooks lets the application observe what the shared middleware absorbs.
type Hooks struct {
	// OnLimited answers an update dropped by the rate limiter.
	OnLimited tele.HandlerFunc
	// OnPanic runs after a recovered handler panic was logged.
	OnPanic func(c tele.Context, recovered any)
}

// DefaultMiddlewares builds the shared middleware chain for bots.
func DefaultMiddlewares(cfg *coreconfig.Config, hooks Hooks) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.Recover(hooks.OnPanic)},
	}

	if cfg != nil {
		interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
		if interval > 0 {
			ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
			for _, t := range cfg.RateLimit.ExcludeUpdates {
				ex[strings.ToLower(t)] = struct{}{}
			}
			mws = append(mws, Middleware{
				Name: "rate_limit",
				Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
					Interval:  interval,
					Exclude:   ex,
					OnLimited: hooks.OnLimited,
				}),
			})
		}
	}

	mws = append(mws,
		Middleware{Name: "logger", Use: middleware.LoggerMiddleware},
		Middleware{Name: "counters", Use: middleware.MessageMetricsMiddleware},
	)

	return mws
}
