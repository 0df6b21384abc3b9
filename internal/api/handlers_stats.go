package api

import (
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.meter == nil || s.meter.Stats() == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"model": s.meter.Model(),
		"stats": s.meter.Stats().Snapshot(),
	})
}
