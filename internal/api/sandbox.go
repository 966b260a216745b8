package api

import (
	"net/http"
	"strconv"
)

// handleSandboxList handles GET /api/v1/sandbox/messages
func (s *Server) handleSandboxList(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	messages, err := s.sandbox.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list captured messages", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list captured messages")
		return
	}

	s.sendJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// handleSandboxClear handles DELETE /api/v1/sandbox/messages
func (s *Server) handleSandboxClear(w http.ResponseWriter, r *http.Request) {
	if err := s.sandbox.Clear(r.Context()); err != nil {
		s.logger.Error("failed to clear captured messages", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to clear captured messages")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
