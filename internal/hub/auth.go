package hub

import (
	"net/http"
	"time"

	"github.com/RJW34/CNM/internal/authsvc"
)

const sessionCookieName = "relay_session"

// authenticate checks r for either a live session cookie or the
// configured bearer token (as a query param or header, matching how a
// browser WebSocket upgrade can't set Authorization). On a fresh token
// match it returns a Set-Cookie header for the caller to attach to the
// upgrade response so subsequent upgrades on the same browser skip the
// token (spec.md §4.3.1 "Auth model"). The cookie is returned rather
// than written directly because a failed check must still be able to
// complete the WS upgrade and send a 4001 close frame (spec.md §9),
// which requires the caller to control exactly what's written to w.
func (h *Hub) authenticate(r *http.Request) (ok bool, cookie *http.Cookie) {
	token := h.authToken()
	if token == "" {
		return true, nil
	}

	if sessCookie, err := r.Cookie(sessionCookieName); err == nil {
		if h.auth.Touch(sessCookie.Value) {
			return true, nil
		}
	}

	candidate := r.URL.Query().Get("token")
	if candidate == "" {
		candidate = r.Header.Get("Authorization")
	}
	if !authsvc.CheckToken(candidate, token) {
		return false, nil
	}

	sess, err := h.auth.Mint()
	if err != nil {
		return true, nil // token was valid; cookie minting is best-effort
	}
	return true, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.TLSCertPath != "",
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(authsvc.IdleTimeout),
	}
}

// authenticateAgent checks the separate agent bearer token, which the
// agent sends as the token query param of its upgrade URL; no session
// cookie is involved, since agents dial in without ever loading the
// browser UI (spec.md §4.3.4).
func (h *Hub) authenticateAgent(token string) bool {
	configured := h.agentToken()
	if configured == "" {
		return true
	}
	return authsvc.CheckToken(token, configured)
}
