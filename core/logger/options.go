package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	coreconfig "github.com/m3rciful/portalbot/core/config"
)

const (
	defaultSampleNum = 1
	defaultSampleDen = 50
)

// options is the logging configuration resolved from the app config.
type options struct {
	format    logFormat
	keyOrder  []string
	level     slog.Level
	sampleNum int
	sampleDen int
	// trace forces every sampled debug line through.
	trace   bool
	profile string
	// file is the optional log file next to stdout.
	file string
}

func optionsFrom(cfg *coreconfig.Config) options {
	o := options{
		format:    formatJSON,
		keyOrder:  append([]string(nil), defaultKeyOrder...),
		level:     slog.LevelInfo,
		sampleNum: defaultSampleNum,
		sampleDen: defaultSampleDen,
		trace:     truthy(os.Getenv("TRACE")) || truthy(os.Getenv("LOG_TRACE")),
		profile:   "prod",
	}
	if cfg == nil {
		return o
	}
	lc := cfg.Logging

	if p := strings.ToLower(strings.TrimSpace(lc.Profile)); p != "" {
		o.profile = p
	}
	switch strings.ToLower(strings.TrimSpace(lc.Format)) {
	case "kv", "text", "pretty":
		o.format = formatKV
	case "json":
	default:
		if o.profile == "debug" || o.profile == "dev" {
			o.format = formatKV
		}
	}
	if order := splitKeys(lc.KeysOrder); len(order) > 0 {
		o.keyOrder = order
	}
	o.level = parseLevel(lc.Level)
	if num, den, ok := parseRatio(lc.DebugSample); ok {
		o.sampleNum, o.sampleDen = num, den
	}
	if dir, name := strings.TrimSpace(lc.Dir), strings.TrimSpace(lc.BotFile); dir != "" && name != "" {
		o.file = filepath.Join(dir, name)
	}
	return o
}

func splitKeys(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "default" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}
