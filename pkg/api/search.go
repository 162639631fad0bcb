package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// SearchRequest is the body of POST /api/v1/search.
type SearchRequest struct {
	Query       string  `json:"query"`
	HybridAlpha float64 `json:"hybrid_alpha"`
	Limit       int     `json:"limit,omitempty"`
}

// SearchResult is one ranked hit, carrying both legs' scores and which
// leg(s) contributed, per spec.md §4.5's fusion algorithm.
type SearchResult struct {
	ConversationID string  `json:"conversation_id"`
	Username       string  `json:"username,omitempty"`
	TS             string  `json:"ts"`
	Text           string  `json:"text"`
	FusedScore     float64 `json:"fused_score"`
	LexicalScore   float64 `json:"lexical_score"`
	VectorScore    float64 `json:"vector_score"`
	KeywordMatch   bool    `json:"keyword_match"`
	SemanticMatch  bool    `json:"semantic_match"`
}

// SearchResponse is the body of a successful search response.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// handleSearch runs the hybrid fusion search and returns ranked results.
// An empty query returns an empty result set, not an error, matching
// search.Engine.Search's contract.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	results, err := s.engine.Search(r.Context(), req.Query, req.HybridAlpha, req.Limit)
	if err != nil {
		log.Printf("search %q failed: %v", req.Query, err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}

	out := make([]SearchResult, 0, len(results))
	for _, res := range results {
		out = append(out, SearchResult{
			ConversationID: res.Message.ConversationID,
			Username:       res.Message.User,
			TS:             res.Message.TS.Format(time.RFC3339Nano),
			Text:           res.Message.Text,
			FusedScore:     res.FusedScore,
			LexicalScore:   res.LexicalScore,
			VectorScore:    res.VectorScore,
			KeywordMatch:   res.KeywordMatch,
			SemanticMatch:  res.SemanticMatch,
		})
	}

	writeJSON(w, http.StatusOK, SearchResponse{Results: out, Count: len(out)})
}
