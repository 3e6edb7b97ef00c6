package telegram

import (
	"strings"
	"time"

	coreconfig "github.com/m3rciful/portalbot/core/config"
	"github.com/m3rciful/portalbot/core/telegram/middleware"

	tele "gopkg.in/telebot.v4"
)

// textRateLimited is shown when a user presses buttons faster than allowed.
const textRateLimited = "Too many requests, slow down a little."

// DefaultMiddlewares builds the global middleware chain: panic recovery and,
// when configured, per-user rate limiting. Per-update logging is attached by
// the router.
func DefaultMiddlewares(cfg *coreconfig.Config) []Middleware {
	mws := []Middleware{
		{Name: "recover", Use: middleware.RecoverMiddleware},
	}
	if cfg == nil {
		return mws
	}
	interval := time.Duration(cfg.RateLimit.IntervalMS) * time.Millisecond
	if interval <= 0 {
		return mws
	}
	ex := make(map[string]struct{}, len(cfg.RateLimit.ExcludeUpdates))
	for _, t := range cfg.RateLimit.ExcludeUpdates {
		ex[strings.ToLower(t)] = struct{}{}
	}
	return append(mws, Middleware{
		Name: "rate_limit",
		Use: middleware.RateLimitMiddleware(middleware.RateLimitOptions{
			Interval:  interval,
			Exclude:   ex,
			OnLimited: onRateLimited,
		}),
	})
}

// onRateLimited answers dropped button presses so the client stops spinning.
func onRateLimited(c tele.Context) error {
	if c.Callback() == nil {
		return nil
	}
	return c.Respond(&tele.CallbackResponse{Text: textRateLimited})
}
