package session

import (
	"context"
	"errors"
	"strings"

	"github.com/rendis/mediamcp/internal/logging"
)

// WithID binds a session id to ctx. The binding shares the logging
// correlation key, so log records emitted under ctx carry session_id.
func WithID(ctx context.Context, id string) context.Context {
	return logging.WithSessionID(ctx, id)
}

// IDFromContext returns the session id bound to ctx, or "".
func IDFromContext(ctx context.Context) string {
	return logging.SessionID(ctx)
}

// Run executes fn with id bound to its context. The binding ends when fn
// returns.
func Run(ctx context.Context, id string, fn func(ctx context.Context) error) error {
	return fn(WithID(ctx, id))
}

// ErrSessionConflict is returned by Resolve when an explicit id names a
// different session than the one bound to the connection.
var ErrSessionConflict = errors.New("explicit session id does not match the bound session")

// Resolve picks the effective session id. An explicit id is used on
// unbound contexts; on a bound context it must name the bound session.
func Resolve(ctx context.Context, explicit string) (string, error) {
	bound := IDFromContext(ctx)
	id := strings.TrimSpace(explicit)
	switch {
	case id == "":
		return bound, nil
	case bound == "" || bound == id:
		return id, nil
	default:
		return "", ErrSessionConflict
	}
}
