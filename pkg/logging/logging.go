// Package logging carries a *zap.SugaredLogger on a context.Context,
// in the shape of the teacher's knative.dev/pkg/logging.FromContext
// call sites, without pulling in the Knative logging package itself.
package logging

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

var fallback = zap.NewNop().Sugar()

// WithLogger returns a child context carrying l.
func WithLogger(ctx context.Context, l *zap.SugaredLogger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger attached to ctx, or a no-op logger if
// none was attached. Never returns nil.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger); ok && l != nil {
		return l
	}
	return fallback
}

// NewProduction builds the process-wide logger used by cmd/webhook at
// the given level, which cmd/webhook takes from LOG_LEVEL (DEBUG, INFO,
// WARN, ERROR; anything else means INFO).
func NewProduction(level string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	var lvl zap.AtomicLevel
	switch level {
	case "DEBUG":
		lvl = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "WARN":
		lvl = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "ERROR":
		lvl = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		lvl = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	cfg.Level = lvl
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
