// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Values are set by transport middleware and consumed by services. Keeping
// this package free of net/http lets services import only what they need.
//
// The engine has no scheduler: every cooldown and deadline is a pure function
// of the request-scoped time, so all operations within one call observe the
// same "now". Tests inject a fixed time with WithTime.
package requestcontext

import (
	"context"
	"time"
)

// Context key types (unexported for encapsulation).
type (
	actorKey       struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
)

// Actor retrieves the authenticated operator/governance identity from the
// context. Empty when the request is unauthenticated.
func Actor(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok {
		return actor
	}
	return ""
}

// WithActor injects an authenticated actor identity into the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// RequestID retrieves the request correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() for non-HTTP contexts (workers, CLI, tests that
// do not care about time).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Useful for:
//   - service unit tests that don't run the HTTP middleware chain
//   - advancing the clock across degradation thresholds and cooldowns
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}

// ClientIP retrieves the caller's IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the caller's user agent family from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and user agent into a context.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}
