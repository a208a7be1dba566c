package api

import (
	"encoding/json"
	"net/http"

	"github.com/dgallion1/regcheck/internal/assess"
	"github.com/dgallion1/regcheck/internal/document"
)

const (
	maxJSONBody         = 1 << 20
	debugExcerptChars   = 300
	defaultDebugResults = 10
	maxDebugResults     = 100
)

func (s *Server) handleComplianceCheck(w http.ResponseWriter, r *http.Request) {
	var req assess.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Concern == "" {
		jsonError(w, "concern is required", http.StatusBadRequest)
		return
	}

	v := s.app.Assessor.Assess(r.Context(), req)
	s.log.Info("compliance check",
		"status", v.Status,
		"confidence", v.Confidence,
		"processing_time_ms", v.ProcessingTimeMs,
	)
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDocumentStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.app.Ingester.Status(r.Context())
	if err != nil {
		jsonError(w, "failed to read document status: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Ingester.Reload(r.Context())
	if err != nil {
		s.log.Error("reload failed", "error", err)
		jsonError(w, "failed to reload documents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Documents reloaded successfully",
		"result":  res,
	})
}

type debugChunksRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

type debugChunk struct {
	Rank         int                `json:"rank"`
	Similarity   float64            `json:"similarity_score"`
	DocumentName string             `json:"document_name"`
	PageNumber   int                `json:"page_number"`
	ChunkType    document.ChunkType `json:"chunk_type"`
	Content      string             `json:"content"`
}

// handleDebugChunks returns the raw top-k similarity hits for a query.
func (s *Server) handleDebugChunks(w http.ResponseWriter, r *http.Request) {
	var req debugChunksRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return
	}
	if req.K <= 0 {
		req.K = defaultDebugResults
	}
	req.K = min(req.K, maxDebugResults)

	results, err := s.app.Retriever.Search(r.Context(), req.Query, req.K)
	if err != nil {
		jsonError(w, "search failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	out := make([]debugChunk, 0, len(results))
	for i, res := range results {
		out = append(out, debugChunk{
			Rank:         i + 1,
			Similarity:   res.Similarity,
			DocumentName: res.Chunk.DocumentName,
			PageNumber:   res.Chunk.PageNumber,
			ChunkType:    res.Chunk.Type,
			Content:      excerpt(res.Chunk.Content, debugExcerptChars),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": out})
}

func (s *Server) handleChunkStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"documents": s.app.Ingester.ChunkStats()})
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
