// Package logger wraps zerolog with a context-carried child logger so fields
// added at the edge (request id, order id) follow the call into services.
package logger

import (
	"context"
	"io"
	"maps"
	"os"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const FormatConsole = "console"

type Options struct {
	ServiceName string
	Level       zerolog.Level
	// Format is "json" (default) or "console".
	Format    string
	WarnStack bool
	Output    io.Writer
	// Fields are attached to every entry, e.g. env and instance.
	Fields map[string]any
}

type Logger struct {
	root      zerolog.Logger
	warnStack bool
}

type ctxKey struct{}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if strings.EqualFold(strings.TrimSpace(opts.Format), FormatConsole) {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	}
	level := opts.Level
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	zctx := zerolog.New(out).Level(level).With().Timestamp().Str("service", opts.ServiceName)
	zctx = withSorted(zctx, opts.Fields)
	return &Logger{root: zctx.Logger(), warnStack: opts.WarnStack}
}

// Nop discards everything.
func Nop() *Logger {
	return New(Options{Output: io.Discard})
}

// ParseLevel falls back to info for empty or unknown values.
func ParseLevel(value string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(value)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

func withSorted(zctx zerolog.Context, fields map[string]any) zerolog.Context {
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		zctx = zctx.Interface(k, fields[k])
	}
	return zctx
}

func (l *Logger) from(ctx context.Context) *zerolog.Logger {
	if ctx != nil {
		if child, ok := ctx.Value(ctxKey{}).(*zerolog.Logger); ok {
			return child
		}
	}
	return &l.root
}

func (l *Logger) extend(ctx context.Context, fn func(zerolog.Context) zerolog.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	child := fn(l.from(ctx).With()).Logger()
	return context.WithValue(ctx, ctxKey{}, &child)
}

func (l *Logger) WithField(ctx context.Context, key string, value any) context.Context {
	return l.extend(ctx, func(z zerolog.Context) zerolog.Context { return z.Interface(key, value) })
}

func (l *Logger) WithFields(ctx context.Context, fields map[string]any) context.Context {
	return l.extend(ctx, func(z zerolog.Context) zerolog.Context { return withSorted(z, fields) })
}

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.extend(ctx, func(z zerolog.Context) zerolog.Context { return z.Str("request_id", requestID) })
}

func (l *Logger) WithUserID(ctx context.Context, userID string) context.Context {
	return l.extend(ctx, func(z zerolog.Context) zerolog.Context { return z.Str("user_id", userID) })
}

func (l *Logger) WithOrderID(ctx context.Context, orderID string) context.Context {
	return l.extend(ctx, func(z zerolog.Context) zerolog.Context { return z.Str("order_id", orderID) })
}

func (l *Logger) WithActorRole(ctx context.Context, role string) context.Context {
	return l.extend(ctx, func(z zerolog.Context) zerolog.Context { return z.Str("actor_role", role) })
}

func (l *Logger) Info(ctx context.Context, msg string) {
	l.from(ctx).Info().Msg(msg)
}

func (l *Logger) Warn(ctx context.Context, msg string) {
	event := l.from(ctx).Warn()
	if l.warnStack {
		event = event.Str("stack", stack())
	}
	event.Msg(msg)
}

func (l *Logger) Error(ctx context.Context, msg string, err error) {
	l.from(ctx).Error().Err(err).Str("stack", stack()).Msg(msg)
}

// Alert is Error with alert=true; money-movement failures that need a human use it.
func (l *Logger) Alert(ctx context.Context, msg string, err error) {
	l.from(ctx).Error().Bool("alert", true).Err(err).Str("stack", stack()).Msg(msg)
}

func stack() string {
	return strings.TrimSpace(string(debug.Stack()))
}
