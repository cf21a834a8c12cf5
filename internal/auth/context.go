package auth

import (
	"context"
	"strings"
)

type identityContextKey struct{}
type tokenContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
// A nil identity leaves the context unauthenticated.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if id == nil {
		return ctx
	}
	cp := *id
	return context.WithValue(ctx, identityContextKey{}, &cp)
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(identityContextKey{}).(*Identity)
	if !ok || v == nil || strings.TrimSpace(v.UserID) == "" {
		return nil, false
	}
	cp := *v
	return &cp, true
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := IdentityFromContext(ctx)
	if !ok {
		return "", false
	}
	return id.UserID, true
}

// ContextWithToken stores the raw token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the raw token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
