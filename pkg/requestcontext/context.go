// Package requestcontext provides HTTP-independent accessors for
// request-scoped values. Middleware sets them, services read them; keeping
// the package free of net/http lets workers and tests use the same keys.
package requestcontext

import (
	"context"

	"tributary/pkg/domain"
)

type (
	tenantKey    struct{}
	actorKey     struct{}
	requestIDKey struct{}
	clientIPKey  struct{}
	userAgentKey struct{}
)

// Tenant retrieves the authenticated tenant scope. Zero when unauthenticated.
func Tenant(ctx context.Context) domain.TenantID {
	if t, ok := ctx.Value(tenantKey{}).(domain.TenantID); ok {
		return t
	}
	return ""
}

// WithTenant injects a tenant scope into the context.
func WithTenant(ctx context.Context, tenant domain.TenantID) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// Actor retrieves the authenticated caller identity, for audit attribution.
func Actor(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok {
		return a
	}
	return ""
}

// WithActor injects a caller identity into the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		return ip
	}
	return ""
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}

// WithClientMetadata injects client IP and User-Agent, for tests that skip
// the HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, clientIPKey{}, clientIP)
	return context.WithValue(ctx, userAgentKey{}, userAgent)
}
