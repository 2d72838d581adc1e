package auth

import (
	"context"
	"net/http"
	"strings"
)

type claimsContextKey struct{}

// WithClaims stores claims on the context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// FromContext retrieves claims stored by WithClaims.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*Claims)
	return claims, ok && claims != nil
}

// Cookie and query parameter names that may carry a token.
const (
	CookieName       = "jwt"
	QueryParam       = "token"
	SubprotocolToken = "access_token"
)

// Skipper allows callers to bypass authentication for specific requests.
type Skipper func(r *http.Request) bool

// Middleware provides HTTP middleware for token validation.
type Middleware struct {
	Config  Config
	Skipper Skipper
}

// NewMiddleware constructs a middleware with optional skipper.
func NewMiddleware(cfg Config, skipper Skipper) Middleware {
	return Middleware{Config: cfg, Skipper: skipper}
}

// Wrap wraps an http.Handler with authentication.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skipper != nil && m.Skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.Authenticate(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		ctx := WithClaims(r.Context(), claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Authenticate extracts and validates the request token.
func (m Middleware) Authenticate(r *http.Request) (*Claims, error) {
	token, _ := TokenFromRequest(r)
	return Parse(token, m.Config)
}

// TokenFromRequest looks for a token in the Authorization header, the jwt
// cookie, the token query parameter, then Sec-WebSocket-Protocol. When the
// token came from the subprotocol header, the protocol the server must echo
// is returned as well.
func TokenFromRequest(r *http.Request) (token string, subprotocol string) {
	if header := r.Header.Get("Authorization"); header != "" {
		if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
			return strings.TrimSpace(header[len("Bearer "):]), ""
		}
		return "", ""
	}
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value, ""
	}
	if q := r.URL.Query().Get(QueryParam); q != "" {
		return q, ""
	}

	var protocols []string
	for _, value := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				protocols = append(protocols, p)
			}
		}
	}
	for i, p := range protocols {
		if p == SubprotocolToken && i+1 < len(protocols) {
			return protocols[i+1], SubprotocolToken
		}
	}
	if len(protocols) == 1 {
		return protocols[0], protocols[0]
	}
	return "", ""
}
