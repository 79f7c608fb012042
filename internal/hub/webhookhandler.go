package hub

import (
	"io"
	"net/http"

	"github.com/RJW34/CNM/internal/webhook"
)

// handleWebhook verifies and acknowledges a GitHub webhook delivery.
// The hub does nothing with the payload beyond logging it; the
// endpoint exists so a CI push can be wired to a future auto-deploy
// hook without the relay needing to know about deployment (spec.md
// §4.3, SPEC_FULL.md "Supplemented features").
func (h *Hub) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	sig := r.Header.Get(webhook.HeaderName)
	if !webhook.Verify(body, sig, h.webhookSecret()) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	h.log.WithField("event", r.Header.Get("X-GitHub-Event")).Info("webhook received")
	w.WriteHeader(http.StatusNoContent)
}
