package api

import (
	"net/http"
)

func (s *Server) handleLLMStats(w http.ResponseWriter, r *http.Request) {
	if s.app.Usage == nil {
		jsonError(w, "llm stats unavailable", http.StatusServiceUnavailable)
		return
	}

	usage := s.app.Usage.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"model":           s.cfg.CompletionModel,
		"embedding_model": s.cfg.EmbeddingModel,
		"stats":           usage.Completion,
		"embedding_stats": usage.Embedding,
	})
}
