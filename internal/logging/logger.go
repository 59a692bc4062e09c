// Package logging is the structured logger shared by the server, the client
// and the certificate engine. The only implementation wraps log/slog.
package logging

import "context"

// Logger is a context-aware, structured logger. args are key-value pairs:
//
//	log.Info(ctx, "certificates polled", "count", n, "realm", realmID)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given pairs.
	With(args ...any) Logger
}
