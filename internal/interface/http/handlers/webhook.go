package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	tgapi "github.com/alem-hub/botcore/internal/infrastructure/external/telegram"
	"github.com/alem-hub/botcore/internal/interface/telegram"
)

// ══════════════════════════════════════════════════════════════════════════════
// TELEGRAM WEBHOOK HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// SecretTokenHeader carries the secret registered with setWebhook.
const SecretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// MaxWebhookBody is the largest update body accepted.
const MaxWebhookBody = 1 << 20

// UpdateSink accepts envelopes from the webhook. *telegram.Dispatcher
// implements it.
type UpdateSink interface {
	EnqueueUpdate(u *tgapi.Update) error
	Enqueue(env *telegram.Envelope) error
}

// WebhookHandler receives pushed updates and places them on the dispatch
// queue. Malformed bodies are acknowledged and reported as decode
// ErrorEvents so the platform does not redeliver them.
type WebhookHandler struct {
	sink   UpdateSink
	secret string
	logger *slog.Logger
}

// NewWebhookHandler creates a handler. An empty secret disables the header
// check.
func NewWebhookHandler(sink UpdateSink, secret string, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{
		sink:   sink,
		secret: secret,
		logger: logger.With("component", "webhook"),
	}
}

// ServeHTTP implements http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
		return
	}

	if h.secret != "" {
		got := r.Header.Get(SecretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			h.logger.Warn("rejecting webhook with bad secret token", "remote", r.RemoteAddr)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxWebhookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	update, err := tgapi.DecodeUpdate(body)
	if err != nil {
		h.logger.Warn("undecodable webhook update", "error", err)
		if pushErr := h.sink.Enqueue(telegram.NewErrorEnvelope(telegram.NewErrorEvent(err, nil))); pushErr != nil {
			writeError(w, http.StatusServiceUnavailable, "queue_closed")
			return
		}
		writeStatus(w, http.StatusOK, "rejected")
		return
	}

	if err := h.sink.EnqueueUpdate(update); err != nil {
		h.logger.Error("failed to enqueue webhook update", "update_id", update.UpdateID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "queue_closed")
		return
	}

	h.logger.Debug("received webhook update", "update_id", update.UpdateID, "kind", update.Kind())
	writeStatus(w, http.StatusOK, "received")
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func writeError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": reason})
}
