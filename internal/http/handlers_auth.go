package http

import (
	"crypto/subtle"
	"net/http"
	"time"

	"binledger/internal/apperror"
	"binledger/internal/auth"
	"binledger/internal/core"
	applog "binledger/internal/log"
	"binledger/internal/middleware/trace"

	"github.com/rs/xid"
)

const (
	stateCookieName = "oauth_state"
	stateCookiePath = "/auth/github"
	stateCookieTTL  = 10 * time.Minute
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	Account   core.Account `json:"account"`
}

// issueSession signs a token for acct, sets the session cookie and writes
// the token and account as the response.
func (s *Server) issueSession(w http.ResponseWriter, r *http.Request, status int, acct core.Account) {
	token, err := s.deps.Tokens.Generate(acct.ID, acct.IsAnonymous)
	if err != nil {
		writeError(w, r, err)
		return
	}
	trace.SetAccount(r.Context(), acct.ID)
	http.SetCookie(w, auth.SessionCookie(token, s.deps.Tokens, s.opts.CookieSecure))
	writeJSON(w, status, sessionResponse{
		Token:     token,
		ExpiresAt: s.now().Add(s.deps.Tokens.TTL()).UTC(),
		Account:   acct,
	})
}

// handleRegister creates a username account. A guest session calling it
// is upgraded in place and keeps its expenses.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var current *core.Account
	if session, ok := auth.SessionFromContext(r.Context()); ok {
		if !session.Anonymous {
			writeError(w, r, apperror.IdentityConflict("already signed in with a username"))
			return
		}
		current = &core.Account{ID: session.AccountID, IsAnonymous: true}
	}

	acct, err := s.deps.Identity.RegisterUsername(r.Context(), current, sanitizeInput(req.Username), req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.issueSession(w, r, http.StatusCreated, acct)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := s.deps.Identity.Login(r.Context(), sanitizeInput(req.Username), req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.issueSession(w, r, http.StatusOK, acct)
}

func (s *Server) handleAnonymous(w http.ResponseWriter, r *http.Request) {
	acct, err := s.deps.Identity.LoginAnonymous(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.issueSession(w, r, http.StatusCreated, acct)
}

// currentAccount resolves the session account. RequireSession has run.
func (s *Server) currentAccount(r *http.Request) (core.Account, error) {
	session, ok := auth.SessionFromContext(r.Context())
	if !ok {
		return core.Account{}, apperror.Unauthenticated()
	}
	return s.deps.Identity.Account(r.Context(), session.AccountID)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	acct, err := s.currentAccount(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// handleLogout clears the session cookie. Issued tokens stay valid until
// they expire.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFromContext(r.Context())
	acct, err := s.currentAccount(r)
	if err != nil {
		acct = core.Account{ID: session.AccountID, IsAnonymous: session.Anonymous}
	}
	http.SetCookie(w, auth.ClearSessionCookie(s.opts.CookieSecure))
	if err := s.deps.Identity.Logout(r.Context(), acct); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangeUsername(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := s.currentAccount(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := s.deps.Identity.ChangeUsername(r.Context(), acct, sanitizeInput(req.Username), req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	acct, err := s.currentAccount(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.deps.Identity.ChangePassword(r.Context(), acct, req.CurrentPassword, req.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if s.deps.GitHub == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "GitHub sign-in is not configured", Code: "not_found"})
		return
	}
	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     stateCookiePath,
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.deps.GitHub.AuthURL(state), http.StatusTemporaryRedirect)
}

func (s *Server) handleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.GitHub == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "GitHub sign-in is not configured", Code: "not_found"})
		return
	}
	logger := applog.FromContext(r.Context()).WithComponent(applog.ComponentSecurity)

	stateCookie, err := r.Cookie(stateCookieName)
	query := r.URL.Query()
	if err != nil || stateCookie.Value == "" ||
		subtle.ConstantTimeCompare([]byte(stateCookie.Value), []byte(query.Get("state"))) != 1 {
		logger.Warn("OAuth callback with invalid state")
		writeError(w, r, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Path:     stateCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.CookieSecure,
	})

	if denied := query.Get("error"); denied != "" {
		logger.Info("OAuth authorization denied", "reason", denied)
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}
	code := query.Get("code")
	if code == "" {
		writeError(w, r, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	user, err := s.deps.GitHub.Exchange(r.Context(), code)
	if err != nil {
		logger.Error("GitHub exchange failed", applog.FieldError, err)
		writeError(w, r, apperror.InvalidCredential(err))
		return
	}
	acct, err := s.deps.Identity.LoginExternal(r.Context(), "github", user.Subject(), user.Email, user.Login)
	if err != nil {
		writeError(w, r, err)
		return
	}

	token, err := s.deps.Tokens.Generate(acct.ID, false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	trace.SetAccount(r.Context(), acct.ID)
	http.SetCookie(w, auth.SessionCookie(token, s.deps.Tokens, s.opts.CookieSecure))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
