package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

// authMiddleware enforces Bearer token auth on /api/* routes. Health and the
// webhook endpoint are exempt: the webhook is authenticated by the provider's
// verification token inside the payload instead of a header.
func (g *Gateway) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.cfg.AuthToken == "" ||
			r.URL.Path == "/health" ||
			r.URL.Path == "/webhook/docs" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || !compareTokens(token, g.cfg.AuthToken) {
			g.logger.Warn("unauthorized API request",
				"path", r.URL.Path, "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// compareTokens hashes both sides before the constant-time compare so the
// comparison does not leak length.
func compareTokens(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}
