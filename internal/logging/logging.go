// Package logging provides structured logging: a log/slog front end backed
// by a zap core.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Format string    // "json" | "console"
	Level  string    // "debug" | "info" | "warn" | "error"
	Output io.Writer // defaults to stdout
}

// Setup installs a zap-backed slog logger as the process default and
// returns a function that flushes buffered entries.
func Setup(cfg Config) func() {
	logger, sync := New(cfg)
	slog.SetDefault(logger)
	return sync
}

// New builds a zap-backed slog logger without installing it.
func New(cfg Config) (*slog.Logger, func()) {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var enc zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "console", "text":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	default:
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(out)), zap.NewAtomicLevelAt(parseLevel(cfg.Level)))
	handler := zapslog.NewHandler(core, zapslog.WithCaller(false))

	return slog.New(handler), func() { _ = core.Sync() }
}

// parseLevel converts a string level to a zap level.
func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// correlationIDKey is the context key for correlation IDs.
type correlationIDKey struct{}

// WithCorrelationID adds a correlation ID to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID retrieves the correlation ID from context.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// RunLogger creates a logger with refresh run context fields.
func RunLogger(ctx context.Context, runID, marker, mode string) *slog.Logger {
	return slog.With(
		"component", "refresh",
		"correlation_id", CorrelationID(ctx),
		"run_id", runID,
		"source_marker", marker,
		"mode", mode,
	)
}
