package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

var (
	mu       sync.RWMutex
	base     *zap.Logger
	initOnce sync.Once
)

// New builds a zap logger for the given format ("console" or "json") and level
// ("debug", "info", "warn", "error").
func New(format, level string) (*zap.Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	}
	lvl := zapcore.InfoLevel
	if strings.TrimSpace(level) != "" {
		if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// SetLogger replaces the process logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	initOnce.Do(func() {})
	mu.Lock()
	base = l
	mu.Unlock()
}

// Sync flushes buffered entries.
func Sync() {
	_ = current().Sync()
}

func current() *zap.Logger {
	initOnce.Do(func() {
		l, err := New(os.Getenv("BOTIFY_LOG_FORMAT"), os.Getenv("BOTIFY_LOG_LEVEL"))
		if err != nil {
			l, _ = New("console", "info")
		}
		mu.Lock()
		base = l
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func sugar(component string) *zap.SugaredLogger {
	return current().Sugar().With("component", strings.ToLower(strings.TrimSpace(component)))
}

// Debug logs a debug message with key/value fields for a component.
func Debug(component, msg string, kv ...any) {
	sugar(component).Debugw(msg, sanitize(kv)...)
}

// Info logs a message with key/value fields for a component.
func Info(component, msg string, kv ...any) {
	sugar(component).Infow(msg, sanitize(kv)...)
}

// Warn logs a warning with key/value fields for a component.
func Warn(component, msg string, kv ...any) {
	sugar(component).Warnw(msg, sanitize(kv)...)
}

// Error logs an error message with key/value fields for a component.
func Error(component, msg string, kv ...any) {
	sugar(component).Errorw(msg, sanitize(kv)...)
}

// sanitize pads odd-length field lists and redacts credential-like keys.
func sanitize(kv []any) []any {
	if len(kv) == 0 {
		return kv
	}
	if len(kv)%2 != 0 {
		kv = append(kv, "(missing)")
	}
	out := make([]any, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		key := toString(kv[i])
		val := kv[i+1]
		if isRedactKey(strings.ToLower(key)) {
			val = redacted
		}
		out = append(out, key, val)
	}
	return out
}

func isRedactKey(key string) bool {
	for _, marker := range []string{"api_key", "apikey", "token", "password", "secret", "authorization"} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", t))
	}
}
