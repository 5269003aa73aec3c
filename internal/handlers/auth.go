package handlers

import (
	"net/http"

	"centsible/internal/apperr"
	"centsible/internal/models"

	"go.uber.org/zap"
)

// AuthedHandlerFunc is a handler that runs with an authenticated session.
type AuthedHandlerFunc func(w http.ResponseWriter, r *http.Request, sess *models.Session)

// RequireAuth wraps next so it only runs for requests carrying a live session
// cookie; everything else is rejected with 401 before next is called.
// Renewed sessions get a fresh cookie.
func (h *Handlers) RequireAuth(next AuthedHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.sessionToken(r)
		sess, err := h.sessions.RequireAuthenticated(r.Context(), token)
		if err != nil {
			if token != "" && apperr.KindOf(err) == apperr.KindUnauthenticated {
				h.clearSessionCookie(w)
			}
			h.writeError(w, r, err)
			return
		}

		if sess.Renewed {
			h.setSessionCookie(w, sess.Token)
		}

		next(w, r, sess)
	})
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handlers) readCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, error) {
	var req credentialsRequest
	if isForm(r) {
		if err := parseForm(w, r); err != nil {
			return req, err
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
		return req, nil
	}
	err := decodeJSON(w, r, &req)
	return req, err
}

// SignUp registers a new user.
func (h *Handlers) SignUp(w http.ResponseWriter, r *http.Request) {
	req, err := h.readCredentials(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	user, err := h.credentials.CreateUser(r.Context(), req.Username, req.Password)
	h.metrics.AuthEvent("signup", outcome(err))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.log.Info("user signed up", zap.Int64("user_id", user.ID), zap.String("username", user.Username))
	writeJSON(w, http.StatusCreated, map[string]any{"id": user.ID, "username": user.Username})
}

// SignIn checks credentials and establishes a session cookie. A session the
// caller already holds is revoked first.
func (h *Handlers) SignIn(w http.ResponseWriter, r *http.Request) {
	req, err := h.readCredentials(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		h.metrics.AuthEvent("signin", apperr.KindValidation.String())
		h.writeError(w, r, apperr.Validation("Username and password are required"))
		return
	}

	user, err := h.credentials.Authenticate(r.Context(), req.Username, req.Password)
	h.metrics.AuthEvent("signin", outcome(err))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if old := h.sessionToken(r); old != "" {
		if err := h.sessions.Logout(r.Context(), old); err != nil {
			h.log.Warn("failed to revoke previous session", zap.Error(err))
		}
	}

	sess, err := h.sessions.Login(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.setSessionCookie(w, sess.Token)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Login successful", "username": user.Username})
}

// SignOut invalidates the caller's session.
func (h *Handlers) SignOut(w http.ResponseWriter, r *http.Request, sess *models.Session) {
	err := h.sessions.Logout(r.Context(), sess.Token)
	h.metrics.AuthEvent("signout", outcome(err))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}

func (h *Handlers) sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(h.cookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessions.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
