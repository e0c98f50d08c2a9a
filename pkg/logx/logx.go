// Package logx provides structured, domain-scoped logging for the proxy core.
//
// It is deliberately thin: it never terminates into an observability
// backend of its own, so logx only needs to format lines consistently and
// gate debug output behind an env var, the way callers downstream expect.
package logx

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a logging severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ctxKey is a private type to avoid context key collisions.
type ctxKey string

// TaskIDKey is the context key request-scoped logging helpers look for.
const TaskIDKey ctxKey = "task_id"

type debugState struct {
	mu      sync.RWMutex
	enabled bool
	domains map[string]bool // nil = all domains enabled
}

var debug = &debugState{}

func init() { //nolint:gochecknoinits // env-driven default, mirrors teacher's logx init
	initFromEnv()
}

func initFromEnv() {
	debug.mu.Lock()
	defer debug.mu.Unlock()

	if v := os.Getenv("THOUGHTGATE_DEBUG"); v == "1" || strings.EqualFold(v, "true") {
		debug.enabled = true
	}
	if domains := os.Getenv("THOUGHTGATE_DEBUG_DOMAINS"); domains != "" {
		debug.domains = make(map[string]bool)
		for _, d := range strings.Split(domains, ",") {
			debug.domains[strings.TrimSpace(d)] = true
		}
	}
}

// SetDebug enables or disables debug logging, optionally scoped to domains.
// An empty domains list enables debug logging for every domain.
func SetDebug(enabled bool, domains ...string) {
	debug.mu.Lock()
	defer debug.mu.Unlock()

	debug.enabled = enabled
	if len(domains) == 0 {
		debug.domains = nil
		return
	}
	debug.domains = make(map[string]bool, len(domains))
	for _, d := range domains {
		debug.domains[d] = true
	}
}

// DebugEnabledFor reports whether debug logging is active for a domain.
func DebugEnabledFor(domain string) bool {
	debug.mu.RLock()
	defer debug.mu.RUnlock()

	if !debug.enabled {
		return false
	}
	if debug.domains == nil {
		return true
	}
	return debug.domains[domain]
}

// Logger is a component-scoped logger. The zero value is not usable; create
// one with NewLogger.
type Logger struct {
	component string
	domain    string
	out       *log.Logger
}

// NewLogger creates a logger for a named component (e.g. "ratelimit",
// "approval", "proxy-service"). Output goes to stderr, matching the
// teacher's CLI-friendly convention.
func NewLogger(component string) *Logger {
	return &Logger{
		component: component,
		domain:    component,
		out:       log.New(os.Stderr, "", 0),
	}
}

func (l *Logger) line(level Level, msg string) string {
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	return fmt.Sprintf("[%s] [%s] %s: %s", ts, l.component, level, msg)
}

func (l *Logger) Debug(format string, args ...any) {
	if !DebugEnabledFor(l.domain) {
		return
	}
	l.out.Println(l.line(LevelDebug, fmt.Sprintf(format, args...)))
}

func (l *Logger) Info(format string, args ...any) {
	l.out.Println(l.line(LevelInfo, fmt.Sprintf(format, args...)))
}

func (l *Logger) Warn(format string, args ...any) {
	l.out.Println(l.line(LevelWarn, fmt.Sprintf(format, args...)))
}

func (l *Logger) Error(format string, args ...any) {
	l.out.Println(l.line(LevelError, fmt.Sprintf(format, args...)))
}

// WithTaskID returns a logger whose lines are prefixed with a ticket/request
// task_id, useful for tracing a single approval round-trip through logs.
func (l *Logger) WithTaskID(ctx context.Context) *Logger {
	id, _ := ctx.Value(TaskIDKey).(string)
	if id == "" {
		return l
	}
	return &Logger{
		component: l.component + "[" + id + "]",
		domain:    l.domain,
		out:       l.out,
	}
}

// Global convenience logger for package-level one-offs.
var defaultLogger = NewLogger("thoughtgate")

// Errorf formats, logs, and returns an error — for call sites that need to
// both log and propagate.
func Errorf(format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	defaultLogger.Error("%s", err.Error())
	return err
}

// Wrap logs and wraps err with msg context, or returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	wrapped := fmt.Errorf("%s: %w", msg, err)
	defaultLogger.Error("%s", wrapped.Error())
	return wrapped
}
