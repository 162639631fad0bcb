package api

import (
	"net/http"
	"strconv"

	"github.com/connect-llm/slackcorpus/pkg/slackmodel"
)

// conversationPageSize bounds GET /conversations/{id}'s message page.
const conversationPageSize = 50

type conversationListResponse struct {
	Conversations []slackmodel.Conversation `json:"conversations"`
	Count         int                       `json:"count"`
}

// handleListConversations returns every conversation, a read-only view
// over the document store.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.docs.ListConversations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list conversations")
		return
	}
	writeJSON(w, http.StatusOK, conversationListResponse{Conversations: convs, Count: len(convs)})
}

type conversationDetailResponse struct {
	Conversation slackmodel.Conversation `json:"conversation"`
	Messages     []slackmodel.Message    `json:"messages"`
	Page         int                     `json:"page"`
}

// handleGetConversation returns one conversation and a page of its
// messages, optionally filtered by the ?q= free-text query.
func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	conv, err := s.docs.GetConversation(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get conversation")
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil && parsed > 0 {
			page = parsed
		}
	}
	query := r.URL.Query().Get("q")

	messages, err := s.docs.ConversationMessages(ctx, id, query, page, conversationPageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list conversation messages")
		return
	}

	writeJSON(w, http.StatusOK, conversationDetailResponse{Conversation: *conv, Messages: messages, Page: page})
}
