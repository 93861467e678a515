package httpx

import (
	"net/http"
	"time"

	"github.com/electionbox/electionbox/internal/service/session"
)

// Session cookie names. Both cookies are HTTP-only; their expirations mirror
// the internal expiry of the token they carry exactly.
const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
)

func (r *Router) sessionCookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   r.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

func (r *Router) setSessionCookies(w http.ResponseWriter, pair session.TokenPair) {
	http.SetCookie(w, r.sessionCookie(accessCookieName, pair.AccessToken, pair.AccessTTL))
	http.SetCookie(w, r.sessionCookie(refreshCookieName, pair.RefreshToken, pair.RefreshTTL))
}

func (r *Router) setAccessCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, r.sessionCookie(accessCookieName, token, ttl))
}

func (r *Router) clearSessionCookies(w http.ResponseWriter) {
	for _, name := range []string{accessCookieName, refreshCookieName} {
		cookie := r.sessionCookie(name, "", 0)
		cookie.Expires = time.Unix(0, 0)
		cookie.MaxAge = -1
		http.SetCookie(w, cookie)
	}
}

// readCookie returns the named cookie value or "" when absent.
func readCookie(req *http.Request, name string) string {
	cookie, err := req.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
