package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/kidsight/internal/domain/sync/entity"
	"github.com/vadim/kidsight/internal/domain/sync/service"
	"github.com/vadim/kidsight/internal/httpx/response"
)

// SyncPolicy defines the interface for conversation sync operations
type SyncPolicy interface {
	Sync(ctx context.Context, token, childID string) (*entity.RunSummary, error)
	ListConversations(ctx context.Context, token, childID string, limit, offset int) (*service.ConversationsPage, error)
	ListMessages(ctx context.Context, token, childID, conversationID string, limit, offset int) (*service.MessagesPage, error)
}

// SyncHandler handles HTTP requests for conversation synchronization
type SyncHandler struct {
	policy SyncPolicy
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(p SyncPolicy) *SyncHandler {
	return &SyncHandler{policy: p}
}

// RegisterRoutes registers sync routes
func (h *SyncHandler) RegisterRoutes(r chi.Router) {
	r.Route("/children/{childId}", func(r chi.Router) {
		// Run one bounded import pass
		r.Post("/sync", h.Sync())

		// Read stored conversations
		r.Get("/conversations", h.GetConversations())

		// Read stored messages of a conversation
		r.Get("/conversations/{conversationId}/messages", h.GetMessages())
	})
}

// SyncResponse represents the response for a sync run
type SyncResponse struct {
	ConversationsProcessed int                  `json:"conversations_processed"`
	MessagesImported       int                  `json:"messages_imported"`
	Skipped                []entity.SkippedItem `json:"skipped,omitempty"`
}

// Sync handles POST /children/{childId}/sync
func (h *SyncHandler) Sync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		childID := chi.URLParam(r, "childId")

		token, ok := bearerToken(r)
		if !ok {
			response.Unauthorized(w, "missing bearer token")
			return
		}

		summary, err := h.policy.Sync(r.Context(), token, childID)
		if err != nil {
			handleSyncError(w, err)
			return
		}

		response.OK(w, SyncResponse{
			ConversationsProcessed: summary.ConversationsProcessed,
			MessagesImported:       summary.MessagesImported,
			Skipped:                summary.Skipped,
		})
	}
}

// GetConversationsResponse represents the response for listing conversations
type GetConversationsResponse struct {
	Conversations []entity.Conversation `json:"conversations"`
	Total         int64                 `json:"total"`
	HasMore       bool                  `json:"has_more"`
}

// GetConversations handles GET /children/{childId}/conversations
func (h *SyncHandler) GetConversations() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		childID := chi.URLParam(r, "childId")

		token, ok := bearerToken(r)
		if !ok {
			response.Unauthorized(w, "missing bearer token")
			return
		}

		limit, offset := pagination(r)

		page, err := h.policy.ListConversations(r.Context(), token, childID, limit, offset)
		if err != nil {
			handleSyncError(w, err)
			return
		}

		response.OK(w, GetConversationsResponse{
			Conversations: page.Conversations,
			Total:         page.Total,
			HasMore:       page.HasMore,
		})
	}
}

// GetMessagesResponse represents the response for listing messages
type GetMessagesResponse struct {
	Messages []entity.Message `json:"messages"`
	Total    int64            `json:"total"`
	HasMore  bool             `json:"has_more"`
}

// GetMessages handles GET /children/{childId}/conversations/{conversationId}/messages
func (h *SyncHandler) GetMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		childID := chi.URLParam(r, "childId")
		conversationID := chi.URLParam(r, "conversationId")

		token, ok := bearerToken(r)
		if !ok {
			response.Unauthorized(w, "missing bearer token")
			return
		}

		limit, offset := pagination(r)

		page, err := h.policy.ListMessages(r.Context(), token, childID, conversationID, limit, offset)
		if err != nil {
			handleSyncError(w, err)
			return
		}

		response.OK(w, GetMessagesResponse{
			Messages: page.Messages,
			Total:    page.Total,
			HasMore:  page.HasMore,
		})
	}
}

// bearerToken extracts the token from the Authorization header
func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", false
	}
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

// pagination parses limit/offset query parameters with defaults
func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 100 {
				limit = 100
			}
		}
	}

	offset = 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	return limit, offset
}

func handleSyncError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, entity.ErrUnauthorized):
		response.Unauthorized(w, err.Error())
	case errors.Is(err, entity.ErrForbidden):
		response.Forbidden(w, err.Error())
	case errors.Is(err, entity.ErrNoCredentials):
		response.BadRequest(w, err.Error())
	case errors.Is(err, entity.ErrRateLimited):
		response.Error(w, http.StatusTooManyRequests, err.Error())
	default:
		response.InternalError(w, "internal server error")
	}
}
