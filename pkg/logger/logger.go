// Package logger provides component-scoped structured logging on top of
// log/slog with a tint console handler.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

const componentKey = "component"

var (
	mu       sync.RWMutex
	levelVar = new(slog.LevelVar)
	base     = newBase(os.Stderr)
)

func newBase(w io.Writer) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      levelVar,
		TimeFormat: time.DateTime,
		NoColor:    !isTerminal(w),
	}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetLevel changes the minimum level for every logger handed out by this package.
func SetLevel(level LogLevel) {
	levelVar.Set(level.slogLevel())
}

// GetLevel reports the current minimum level.
func GetLevel() LogLevel {
	switch levelVar.Level() {
	case slog.LevelDebug:
		return DEBUG
	case slog.LevelWarn:
		return WARN
	case slog.LevelError:
		return ERROR
	default:
		return INFO
	}
}

// SetOutput redirects log output. Tests use it to capture lines.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	base = newBase(w)
}

// Logger returns a slog.Logger tagged with the component name.
func Logger(component string) *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if component == "" {
		return base
	}
	return base.With(componentKey, component)
}

func logf(level slog.Level, component, message string, fields map[string]any) {
	l := Logger(component)
	if !l.Enabled(context.Background(), level) {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	l.LogAttrs(context.Background(), level, message, attrs...)
}

func sortedKeys(fields map[string]any) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func DebugC(component, message string) { logf(slog.LevelDebug, component, message, nil) }
func InfoC(component, message string) { logf(slog.LevelInfo, component, message, nil) }
func WarnC(component, message string) { logf(slog.LevelWarn, component, message, nil) }
func ErrorC(component, message string) { logf(slog.LevelError, component, message, nil) }

func DebugCF(component, message string, fields map[string]any) {
	logf(slog.LevelDebug, component, message, fields)
}

func InfoCF(component, message string, fields map[string]any) {
	logf(slog.LevelInfo, component, message, fields)
}

func WarnCF(component, message string, fields map[string]any) {
	logf(slog.LevelWarn, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]any) {
	logf(slog.LevelError, component, message, fields)
}
