package logger

import (
	"log/slog"
	"strings"
)

// outcomes lists accepted values of the outcome field; others are dropped.
var outcomes = map[string]bool{
	"ok": true, "fail": true, "cancelled": true, "rate_limited": true,
}

func levelName(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARN"
	}
	return "ERROR"
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func normalizeStatus(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func knownOutcome(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	return s, outcomes[s]
}

// defaultKeyOrder lists the keys rendered first, in this order. Other keys
// follow alphabetically.
var defaultKeyOrder = []string{
	"ts", "level", "component", "event", "status",
	"rid", "rid_full", "ts_unix_nano",
	"update_id", "user_id", "chat_id", "handler",
	"op", "action", "outcome", "duration_ms",
	"wizard", "step", "kind", "entity_id",
	"recipients", "sent", "failed", "actions", "deduped", "kb",
	"count", "username", "mode", "listen", "public_url", "http_code",
	"db", "host", "port", "store", "ticket_id",
	"err", "err_code", "cause", "retryable", "attempts", "backoff_ms",
	"wait_ms",
}
