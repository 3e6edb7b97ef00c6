package telegram

import (
	"log/slog"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/m3rciful/portalbot/core/logger"
	"github.com/m3rciful/portalbot/core/telegram/netutil"
)

const (
	defaultDialTimeout       = 5 * time.Second
	defaultTLSHandshake      = 5 * time.Second
	defaultIdleConnTimeout   = 30 * time.Second
	defaultResponseTimeout   = 5 * time.Second
	defaultClientTimeout     = 30 * time.Second
	defaultKeepAliveInterval = 30 * time.Second
	defaultRetryAttempts     = 3
	defaultRetryBackoff      = 2 * time.Second
)

// BuildHTTPClient returns an HTTP client tuned for Telegram API calls.
// longPoll is the getUpdates timeout; response deadlines are stretched past
// it so a quiet long poll is not cut off. Zero means webhook mode.
func BuildHTTPClient(longPoll time.Duration) *http.Client {
	responseTimeout := defaultResponseTimeout
	clientTimeout := defaultClientTimeout
	if longPoll > 0 {
		responseTimeout = longPoll + defaultResponseTimeout
		if floor := longPoll + defaultClientTimeout/2; clientTimeout < floor {
			clientTimeout = floor
		}
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAliveInterval}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   defaultTLSHandshake,
		ResponseHeaderTimeout: responseTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout: clientTimeout,
		Transport: &retryTransport{
			base:       transport,
			maxRetries: defaultRetryAttempts,
			backoff:    defaultRetryBackoff,
		},
	}
}

// retryTransport repeats requests that failed before a response arrived.
// Requests whose body cannot be replayed are attempted once.
type retryTransport struct {
	base       http.RoundTripper
	maxRetries int
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	limit := t.maxRetries + 1
	if req.Body != nil && req.GetBody == nil {
		limit = 1
	}
	ctx := req.Context()

	for n := 1; ; n++ {
		resp, err := base.RoundTrip(req)
		if err == nil || n >= limit || !netutil.ShouldRetry(err) {
			return resp, err
		}
		wait := t.backoff * time.Duration(n)
		logger.Debug(ctx, "tg.http", "retry",
			slog.String("op", path.Base(req.URL.Path)),
			slog.Int("attempts", n),
			slog.String("cause", netutil.Kind(err)),
			slog.Duration("backoff", wait),
		)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		if req, err = replay(req); err != nil {
			return nil, err
		}
	}
}

// replay clones req with a fresh body for another attempt.
func replay(req *http.Request) (*http.Request, error) {
	next := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		next.Body = body
	}
	return next, nil
}
