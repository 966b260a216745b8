package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/piquet/courier/internal/webhook"
)

// maxWebhookBody bounds the webhook payload size.
const maxWebhookBody = 1 << 20

// handleWebhook handles POST /webhooks/resend. The payload signature is
// verified before parsing; processing errors return 500 so the provider
// redelivers, which the reconciler absorbs idempotently.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "Failed to read body")
		return
	}

	eventID := r.Header.Get(webhook.HeaderID)

	if s.verifier != nil {
		err := s.verifier.Verify(
			eventID,
			r.Header.Get(webhook.HeaderTimestamp),
			r.Header.Get(webhook.HeaderSignature),
			body,
		)
		if err != nil {
			s.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr, "error", err)
			s.sendError(w, http.StatusUnauthorized, "Invalid signature")
			return
		}
	}

	var ev webhook.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid event payload")
		return
	}

	if err := s.reconciler.Handle(r.Context(), eventID, &ev); err != nil {
		s.logger.Error("webhook processing failed", "type", ev.Type, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to process event")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
