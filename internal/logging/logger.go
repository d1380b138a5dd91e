// Package logging is the structured logger shared by client and server,
// backed by log/slog.
package logging

import "context"

// Logger takes alternating key/value args after the message:
//
//	log.Info(ctx, "sync pass finished", "pushed", n, "failed", failed)
//
// Debug carries per-attempt retry and transfer detail; everything an
// operator should see is Info or above.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that adds args to every record.
	With(args ...any) Logger
}
