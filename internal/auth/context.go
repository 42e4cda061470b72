// ABOUTME: Request context helpers for carrying the resolved Principal
// ABOUTME: Provides WithPrincipal/FromContext for handlers behind the auth middleware

package auth

import (
	"context"
)

// principalContextKey is the key type for storing a Principal in context.Context.
type principalContextKey struct{}

// WithPrincipal returns a new context with p attached.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// FromContext retrieves the Principal from the context.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// MustFromContext retrieves the Principal from the context, panicking if not present.
func MustFromContext(ctx context.Context) Principal {
	p, ok := FromContext(ctx)
	if !ok {
		panic("auth: Principal not found in context")
	}
	return p
}
