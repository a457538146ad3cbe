package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/example/leadshop/internal/bot"
	"github.com/example/leadshop/internal/reconcile"
	"github.com/example/leadshop/internal/telegram"
)

// maxIPNBody caps notification bodies; real IPNs are well under this.
const maxIPNBody = 1 << 20

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondJSONError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Handlers serves the public surface: payment notifications and the
// Telegram webhook.
type Handlers struct {
	reconciler    *reconcile.Reconciler
	bot           *bot.Handler
	webhookSecret string
}

func NewHandlers(r *reconcile.Reconciler, b *bot.Handler, webhookSecret string) *Handlers {
	return &Handlers{reconciler: r, bot: b, webhookSecret: webhookSecret}
}

// HandleIPN processes a payment notification. The response body is always
// opaque: the only signal the provider acts on is the status code, a
// non-2xx meaning "send it again later".
func (h *Handlers) HandleIPN(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, maxIPNBody))
	if err != nil {
		respondJSONError(w, "unreadable body", http.StatusBadRequest)
		return
	}

	outcome := h.reconciler.ProcessNotification(r.Context(), rawBody)
	if outcome == reconcile.OutcomeRetry {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleTelegramWebhook receives bot updates. The secret path segment is
// the only authentication Telegram offers for webhooks; a mismatch gets a
// 404 indistinguishable from an unknown route.
func (h *Handlers) HandleTelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "secret") != h.webhookSecret {
		http.NotFound(w, r)
		return
	}

	var upd telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		log.Printf("[API] Dropping undecodable update: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Always 200: Telegram retries non-2xx responses and the bot handler
	// already reported any problem to the buyer.
	h.bot.HandleUpdate(r.Context(), upd)
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
