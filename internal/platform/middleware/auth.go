// Package middleware holds the HTTP middleware shared by every route group.
package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"tributary/pkg/domain"
	"tributary/pkg/requestcontext"
)

// tenantClaims is the token shape issued by the external credential service.
// The tenant claim is the only thing this service trusts the token for;
// entitlement decisions happen upstream.
type tenantClaims struct {
	TenantID string `json:"tid"`
	jwt.RegisteredClaims
}

// RequireTenant validates the bearer token and injects the tenant scope and
// actor into the request context. Requests without a resolvable tenant never
// reach a handler.
func RequireTenant(signingKey []byte, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				unauthorized(w, "missing bearer token")
				return
			}

			claims := &tenantClaims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return signingKey, nil
			})
			if err != nil || !parsed.Valid {
				logger.WarnContext(r.Context(), "rejected invalid token",
					"request_id", middleware.GetReqID(r.Context()),
					"error", err,
				)
				unauthorized(w, "invalid or expired token")
				return
			}
			if claims.TenantID == "" {
				unauthorized(w, "token carries no tenant scope")
				return
			}

			ctx := requestcontext.WithTenant(r.Context(), domain.TenantID(claims.TenantID))
			ctx = requestcontext.WithActor(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":"unauthorized","error_description":%q}`, description)
}

// ClientMetadata captures the client IP, User-Agent and chi request ID so
// services downstream never touch *http.Request.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.Header.Get("X-Forwarded-For")
		if ip != "" {
			// First hop in the chain is the original client.
			if i := strings.IndexByte(ip, ','); i >= 0 {
				ip = strings.TrimSpace(ip[:i])
			}
		} else if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}

		ctx := requestcontext.WithClientMetadata(r.Context(), ip, r.UserAgent())
		ctx = requestcontext.WithRequestID(ctx, middleware.GetReqID(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
