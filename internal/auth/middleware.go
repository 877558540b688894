package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// CookieName is the session cookie set on sign-in.
const CookieName = "session"

type contextKey string

const sessionKey contextKey = "session"

// OnUnauthorized writes the response for a request without a valid session.
type OnUnauthorized func(w http.ResponseWriter, r *http.Request, err error)

// RequireSession rejects requests without a valid session token and stores
// the Session in the request context otherwise.
func RequireSession(tokens *TokenService, onFail OnUnauthorized) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := extractSession(r, tokens)
			if err != nil {
				onFail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
		})
	}
}

// OptionalSession stores the session in the context when the request
// carries a valid token and passes the request through unchanged otherwise.
func OptionalSession(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if session, err := extractSession(r, tokens); err == nil {
				r = r.WithContext(WithSession(r.Context(), session))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the session stored by RequireSession.
func SessionFromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey).(Session)
	return s, ok && s.AccountID != ""
}

var errNoToken = errors.New("auth: no session token")

// extractSession prefers the Authorization header over the cookie.
func extractSession(r *http.Request, tokens *TokenService) (Session, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		raw, ok := strings.CutPrefix(h, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			return Session{}, errNoToken
		}
		return tokens.Validate(strings.TrimSpace(raw))
	}
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return Session{}, errNoToken
	}
	return tokens.Validate(cookie.Value)
}

// SessionCookie builds the HttpOnly cookie carrying token.
func SessionCookie(token string, tokens *TokenService, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}
