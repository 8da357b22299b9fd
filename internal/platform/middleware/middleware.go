// Package middleware provides the transport middleware chain: request
// correlation, request-scoped time, client metadata, and JWT role gating.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"fundgate/internal/platform/token"
	dErrors "fundgate/pkg/domain-errors"
	"fundgate/pkg/platform/httputil"
	"fundgate/pkg/requestcontext"
)

// RequestContext pins one timestamp per request, assigns a correlation ID
// and captures client metadata. Applied first so every downstream cooldown
// and deadline check observes the same "now".
func RequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = requestcontext.WithRequestID(ctx, requestID)
		ctx = requestcontext.WithClientMetadata(ctx, clientIP(r), uaFamily(r.Header.Get("User-Agent")))

		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// clientIP extracts the real client IP, handling proxies and load balancers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For may list client, proxy1, proxy2 - first is the client.
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if rip := r.Header.Get("X-Real-Ip"); rip != "" {
		return strings.TrimSpace(rip)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

// uaFamily reduces a raw User-Agent to "name/version" so audit events do not
// store full fingerprintable strings.
func uaFamily(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return "unknown"
	}
	if version == "" {
		return name
	}
	return name + "/" + version
}

// RequireRole gates a route on a valid bearer token carrying the given role.
// Roles are hierarchical: governance satisfies operator routes, operator
// satisfies member routes.
func RequireRole(svc *token.Service, role string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "bearer token required"))
				return
			}

			claims, err := svc.Validate(raw)
			if err != nil {
				logger.WarnContext(r.Context(), "token validation failed",
					"request_id", requestcontext.RequestID(r.Context()),
					"error", err,
				)
				httputil.WriteError(w, err)
				return
			}

			if !roleSatisfies(claims.Role, role) {
				httputil.WriteError(w, dErrors.Newf(dErrors.CodeForbidden, "role %q required", role))
				return
			}

			ctx := requestcontext.WithActor(r.Context(), claims.Actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func roleSatisfies(have, want string) bool {
	rank := map[string]int{
		token.RoleMember:     1,
		token.RoleOperator:   2,
		token.RoleGovernance: 3,
	}
	return rank[have] >= rank[want] && rank[want] > 0
}
