// Package debug provides category-based debug logging for trickle.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): TRICKLE_DEBUG env or the debug.categories setting
//   - Levels (HOW MUCH detail): TRICKLE_LOG_LEVEL env or the debug.level setting
//
// Usage:
//
//	debug.Log(debug.Transmit, "chunk written", "session", id, "bytes", n)
//	if debug.Enabled(debug.Channel) { /* expensive formatting */ }
//
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync/atomic"
)

// Debug categories.
const (
	Transmit  = "transmit"
	Channel   = "channel"
	Transport = "transport"
	Exec      = "exec"
	Source    = "source"
	Config    = "config"
	All       = "all"
)

// LevelTrace is below slog.LevelDebug. At TRACE, chunk payloads are
// logged (truncated by Truncate).
const LevelTrace = slog.LevelDebug - 4

// categories holds the enabled set. It is swapped as a whole by Init so
// readers never see a partially built map.
var categories atomic.Pointer[map[string]bool]

func init() {
	set(parseCategories(os.Getenv("TRICKLE_DEBUG")))
}

func set(m map[string]bool) {
	categories.Store(&m)
}

// Init configures categories and the default slog level. Environment
// variables take precedence over the given values. In development mode
// the level defaults to DEBUG instead of INFO.
func Init(configCategories, configLevel string, development bool) {
	cats := os.Getenv("TRICKLE_DEBUG")
	if cats == "" {
		cats = configCategories
	}
	set(parseCategories(cats))

	level := os.Getenv("TRICKLE_LOG_LEVEL")
	if level == "" {
		level = configLevel
	}
	if level == "" && development {
		level = "DEBUG"
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})))
}

// Enabled reports whether debug output is active for the category.
func Enabled(category string) bool {
	m := *categories.Load()
	return m[All] || m[category]
}

// Log emits a debug message for the category, or nothing if the category
// is disabled.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the category.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(context.Background(), LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE level is active for the category.
func TraceIsEnabled(category string) bool {
	if !Enabled(category) {
		return false
	}
	return slog.Default().Enabled(context.Background(), LevelTrace)
}

// ParseLevel converts a level string to a slog.Level. Unknown values map
// to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the enabled categories, sorted.
func Categories() []string {
	m := *categories.Load()
	result := make([]string, 0, len(m))
	for k := range m {
		result = append(result, k)
	}
	slices.Sort(result)
	return result
}

// Truncate returns b as a string cut to maxLen bytes, with "..." appended
// if it was cut.
func Truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
