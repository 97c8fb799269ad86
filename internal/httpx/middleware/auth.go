package middleware

import (
	"context"
	"net/http"
	"strings"

	"file-server-go/internal/httpx/response"
)

// TokenHeader is the header the browser client sends its session token in.
const TokenHeader = "x-auth-token"

// Principal is the authenticated caller of a request.
type Principal struct {
	ID      string
	Name    string
	Email   string
	TokenID string
	Token   string
}

// Authenticator verifies a bearer token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Principal, error)
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored by RequireAuth.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// GetToken extracts the session token from the x-auth-token header, an
// Authorization bearer header, or the token query parameter (download links
// and websocket upgrades cannot set headers).
func GetToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(TokenHeader)); token != "" {
		return token
	}
	if authz := r.Header.Get("Authorization"); authz != "" {
		if scheme, token, ok := strings.Cut(authz, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// RequireAuth rejects requests without a valid token and stores the
// principal in the request context.
func RequireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := GetToken(r)
			if token == "" {
				response.Unauthorized(w)
				return
			}
			p, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				response.Unauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
