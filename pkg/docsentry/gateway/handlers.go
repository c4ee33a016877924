package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxWebhookBody bounds pushed event payloads.
const maxWebhookBody = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth returns the tracking health snapshot plus server uptime.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := g.svc.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   snap.Status,
		"tracking": snap,
		"uptime":   time.Since(g.started).Round(time.Second).String(),
	})
}

// webhookEnvelope is the subset of the pushed payload the gateway itself
// inspects: the URL-verification handshake and the shared verify token.
// Full event decoding happens in the ingestor.
type webhookEnvelope struct {
	Type      string `json:"type,omitempty"`
	Challenge string `json:"challenge,omitempty"`
	Token     string `json:"token,omitempty"`
	Header    struct {
		Token string `json:"token,omitempty"`
	} `json:"header"`
}

// handleWebhook receives provider push deliveries. The provider expects the
// URL-verification challenge echoed back during endpoint registration, and a
// 200 on every accepted event; non-2xx responses trigger redelivery.
func (g *Gateway) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	if g.cfg.WebhookVerifyToken != "" {
		got := env.Token
		if got == "" {
			got = env.Header.Token
		}
		if !compareTokens(got, g.cfg.WebhookVerifyToken) {
			g.logger.Warn("webhook delivery with bad verification token",
				"remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "invalid verification token")
			return
		}
	}

	if env.Type == "url_verification" {
		writeJSON(w, http.StatusOK, map[string]string{"challenge": env.Challenge})
		return
	}

	if err := g.ingestor.OnEvent(r.Context(), body); err != nil {
		g.logger.Warn("webhook event rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid change event")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTracked lists tracked documents, optionally filtered by channel.
func (g *Gateway) handleTracked(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	docs := g.svc.ListTracked(r.URL.Query().Get("channel"))
	writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(docs),
		"documents": docs,
	})
}

// handleChanges returns recent change history for /api/changes/{token}.
func (g *Gateway) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/api/changes/")
	if token == "" || strings.Contains(token, "/") {
		writeError(w, http.StatusBadRequest, "missing document token")
		return
	}
	events, err := g.svc.RecentChanges(token, 20)
	if err != nil {
		g.logger.Error("change history lookup failed", "token", token, "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":  token,
		"events": events,
	})
}
