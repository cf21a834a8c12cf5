package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"trullo.app/internal/obs"
)

const (
	// CookieName is the cookie carrying the identity token.
	CookieName = "token"

	authHeader = "Authorization"
	bearer     = "Bearer "
)

// TokenSource extracts a raw token from a request; empty means absent.
type TokenSource func(r *http.Request) string

// FromBearer reads an "Authorization: Bearer <token>" header.
func FromBearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}

// FromCookie reads the token cookie.
func FromCookie(r *http.Request) string {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

// TokenFromRequest returns the first non-empty token in source order.
func TokenFromRequest(r *http.Request, sources ...TokenSource) string {
	for _, src := range sources {
		if tok := src(r); tok != "" {
			return tok
		}
	}
	return ""
}

// SetTokenCookie writes the httpOnly identity cookie.
func SetTokenCookie(w http.ResponseWriter, token string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearTokenCookie expires the identity cookie.
func ClearTokenCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// Authenticator resolves request identities and honours logout revocations.
type Authenticator struct {
	tokens  *Tokens
	revoked Revocations
}

// NewAuthenticator constructs an Authenticator. revoked may be nil.
func NewAuthenticator(tokens *Tokens, revoked Revocations) *Authenticator {
	return &Authenticator{tokens: tokens, revoked: revoked}
}

// Tokens exposes the token signer.
func (a *Authenticator) Tokens() *Tokens { return a.tokens }

// Identify resolves raw into an identity. Revoked tokens and revocation-store
// failures yield nil.
func (a *Authenticator) Identify(ctx context.Context, raw string) *Identity {
	claims, err := a.tokens.Parse(raw)
	if err != nil {
		return nil
	}
	if a.revoked != nil && claims.ID != "" {
		revoked, err := a.revoked.IsRevoked(ctx, claims.ID)
		if err != nil {
			obs.LogRequest(map[string]any{
				"ts":    time.Now().UTC().Format(time.RFC3339Nano),
				"level": "error",
				"msg":   "revocation_lookup_failed",
				"error": err.Error(),
			})
			return nil
		}
		if revoked {
			return nil
		}
	}
	return claims.Identity()
}

// Revoke invalidates raw until its natural expiry. Invalid tokens are ignored.
func (a *Authenticator) Revoke(ctx context.Context, raw string) error {
	if a.revoked == nil {
		return nil
	}
	claims, err := a.tokens.Parse(raw)
	if err != nil || claims.ExpiresAt == nil {
		return nil
	}
	return a.revoked.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

// Middleware attaches the identity (when any) and raw token to the request
// context. It never rejects a request; guards decide.
func (a *Authenticator) Middleware(sources ...TokenSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := TokenFromRequest(r, sources...)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := ContextWithToken(r.Context(), raw)
			ctx = ContextWithIdentity(ctx, a.Identify(ctx, raw))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
