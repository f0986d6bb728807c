// Package requestid provides request ID propagation via context.
package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header is the HTTP header carrying the request ID in both directions.
const Header = "X-Request-ID"

const maxIncomingLen = 128

type ctxKey struct{}

// WithRequestID returns a context with the given request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the request ID from context, or generates a new one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// New generates a new request ID and returns the enriched context and ID.
func New(ctx context.Context) (context.Context, string) {
	id := uuid.New().String()
	return WithRequestID(ctx, id), id
}

// Ensure reuses an incoming request ID when it looks sane, otherwise it
// generates a fresh one.
func Ensure(ctx context.Context, incoming string) (context.Context, string) {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" || len(incoming) > maxIncomingLen || strings.ContainsAny(incoming, "\r\n") {
		return New(ctx)
	}
	return WithRequestID(ctx, incoming), incoming
}
