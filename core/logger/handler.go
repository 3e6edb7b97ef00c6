package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	tsLayout = "2006-01-02T15:04:05.000Z07:00"
)

var errNoWriter = errors.New("logger: writer not initialized")

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders records as one flat line per event, either JSON
// or key=value, with well-known keys first in keyOrder.
type structuredHandler struct {
	cfg    handlerConfig
	attrs  []slog.Attr
	prefix string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = append([]string(nil), defaultKeyOrder...)
	}
	return &structuredHandler{cfg: cfg}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return errNoWriter
	}
	jsonOut := h.cfg.format == formatJSON

	e := make(entry, 16)
	ts := r.Time.UTC()
	e["ts"] = ts.Truncate(time.Millisecond).Format(tsLayout)
	e["level"] = levelName(r.Level)
	if jsonOut {
		e["ts_unix_nano"] = ts.UnixNano()
	}
	for _, a := range h.attrs {
		e.add(h.prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		e.add(h.prefix, a)
		return true
	})
	e.fillFrom(metaFrom(ctx))

	if rid, ok := e["rid"].(string); ok {
		if short := CompactRID(rid); short != rid {
			e["rid"] = short
			if jsonOut {
				e.setDefault("rid_full", rid)
			}
		}
	}
	e.setDefault("event", r.Message)
	e.setDefault("event", "unknown")
	e.setDefault("component", "app")
	e.normalizeEnums()

	var line []byte
	if jsonOut {
		var err error
		if line, err = encodeJSON(e, h.cfg.keyOrder); err != nil {
			return err
		}
	} else {
		line = encodeKV(e, h.cfg.keyOrder)
	}
	return h.cfg.writer.Write(append(line, '\n'))
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = joinKey(h.prefix, name)
	return &clone
}

// entry holds the flattened fields of one record. Empty values are never
// stored, so a later non-empty value for the same key always wins.
type entry map[string]any

func (e entry) add(prefix string, a slog.Attr) {
	key := joinKey(prefix, a.Key)
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		for _, child := range v.Group() {
			e.add(key, child)
		}
		return
	}
	if key == "" {
		return
	}
	key, val := plainValue(key, v)
	switch x := val.(type) {
	case nil:
		return
	case string:
		if x == "" {
			return
		}
	}
	e[key] = val
}

func (e entry) setDefault(key string, val any) {
	if s, ok := val.(string); ok && s == "" {
		return
	}
	if _, ok := e[key]; !ok {
		e[key] = val
	}
}

func (e entry) fillFrom(m meta) {
	e.setDefault("rid", m.rid)
	e.setDefault("handler", m.handler)
	if m.updateID != 0 {
		e.setDefault("update_id", m.updateID)
	}
	if m.userID != 0 {
		e.setDefault("user_id", m.userID)
	}
	if m.chatID != 0 {
		e.setDefault("chat_id", m.chatID)
	}
}

func (e entry) normalizeEnums() {
	if s, ok := e["status"].(string); ok {
		e["status"] = normalizeStatus(s)
	}
	if s, ok := e["outcome"].(string); ok {
		if o, known := knownOutcome(s); known {
			e["outcome"] = o
		} else {
			delete(e, "outcome")
		}
	}
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

// plainValue converts v into a JSON-friendly value. Durations become whole
// milliseconds and their key gains an _ms suffix.
func plainValue(key string, v slog.Value) (string, any) {
	switch v.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(v.String())
	case slog.KindDuration:
		return millisKey(key), RoundMS(v.Duration()).Milliseconds()
	case slog.KindTime:
		return key, v.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindUint64:
		if u := v.Uint64(); u <= math.MaxInt64 {
			return key, int64(u)
		}
		return key, v.Uint64()
	case slog.KindAny:
		switch x := v.Any().(type) {
		case nil:
			return key, nil
		case time.Duration:
			return millisKey(key), RoundMS(x).Milliseconds()
		case error:
			return key, x.Error()
		case string:
			return key, strings.TrimSpace(x)
		case fmt.Stringer:
			return key, x.String()
		default:
			return key, fmt.Sprint(x)
		}
	}
	return key, v.Any()
}

func millisKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	}
	return key + "_ms"
}
