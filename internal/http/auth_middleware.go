package httpx

import (
	"context"
	"net/http"
)

type sessionContextKey string

const contextKeySession sessionContextKey = "electionbox-session-email"

type contextSetter interface {
	SetContext(context.Context)
}

// requireSession runs the verify state machine against the session cookies
// before invoking the handler. When verification succeeds via the refresh
// token, the replacement access cookie is set on this response (silent
// refresh applies on every protected route, not just /auth/verify).
func (r *Router) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		ctx, _, ok := r.ensureSession(w, req)
		if !ok {
			return
		}
		if setter, ok := w.(contextSetter); ok {
			setter.SetContext(ctx)
		}
		next(w, req.WithContext(ctx))
	}
}

// ensureSession validates the cookie pair and enriches the context with the
// authenticated email.
func (r *Router) ensureSession(w http.ResponseWriter, req *http.Request) (context.Context, string, bool) {
	access := readCookie(req, accessCookieName)
	refresh := readCookie(req, refreshCookieName)
	result, err := r.session.Verify(req.Context(), access, refresh)
	if err != nil {
		r.logger.Warn("session verification failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication required")
		return req.Context(), "", false
	}
	if result.Refreshed {
		r.setAccessCookie(w, result.NewAccessToken, result.NewAccessTTL)
	}
	ctx := context.WithValue(req.Context(), contextKeySession, result.Email)
	return ctx, result.Email, true
}

// sessionEmailFromContext extracts the authenticated email from context.
func sessionEmailFromContext(ctx context.Context) (string, bool) {
	value := ctx.Value(contextKeySession)
	if value == nil {
		return "", false
	}
	email, ok := value.(string)
	return email, ok
}
