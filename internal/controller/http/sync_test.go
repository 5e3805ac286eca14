package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/vadim/kidsight/internal/domain/sync/entity"
	"github.com/vadim/kidsight/internal/domain/sync/service"
)

type fakePolicy struct {
	summary   *entity.RunSummary
	err       error
	lastToken string
	lastChild string
}

func (f *fakePolicy) Sync(_ context.Context, token, childID string) (*entity.RunSummary, error) {
	f.lastToken = token
	f.lastChild = childID
	if f.err != nil {
		return nil, f.err
	}
	return f.summary, nil
}

func (f *fakePolicy) ListConversations(_ context.Context, token, childID string, limit, offset int) (*service.ConversationsPage, error) {
	f.lastToken = token
	if f.err != nil {
		return nil, f.err
	}
	return &service.ConversationsPage{Total: 2, HasMore: false}, nil
}

func (f *fakePolicy) ListMessages(_ context.Context, token, childID, conversationID string, limit, offset int) (*service.MessagesPage, error) {
	f.lastToken = token
	if f.err != nil {
		return nil, f.err
	}
	return &service.MessagesPage{Total: 5, HasMore: true}, nil
}

func newTestRouter(p SyncPolicy) chi.Router {
	r := chi.NewRouter()
	NewSyncHandler(p).RegisterRoutes(r)
	return r
}

func TestSyncEndpoint(t *testing.T) {
	policy := &fakePolicy{summary: &entity.RunSummary{
		ConversationsProcessed: 2,
		MessagesImported:       5,
	}}
	router := newTestRouter(policy)

	req := httptest.NewRequest(http.MethodPost, "/children/child-1/sync", nil)
	req.Header.Set("Authorization", "Bearer parent-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}
	if policy.lastToken != "parent-token" {
		t.Errorf("token = %q, want parent-token", policy.lastToken)
	}
	if policy.lastChild != "child-1" {
		t.Errorf("childID = %q, want child-1", policy.lastChild)
	}

	var resp SyncResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.ConversationsProcessed != 2 || resp.MessagesImported != 5 {
		t.Errorf("response = %+v", resp)
	}
}

func TestSyncRequiresBearerToken(t *testing.T) {
	router := newTestRouter(&fakePolicy{})

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/children/child-1/sync", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
		})
	}
}

func TestSyncErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid token", entity.ErrUnauthorized, http.StatusUnauthorized},
		{"not the parent", entity.ErrForbidden, http.StatusForbidden},
		{"no credentials", entity.ErrNoCredentials, http.StatusBadRequest},
		{"rate limited", fmt.Errorf("listing conversations: %w", entity.ErrRateLimited), http.StatusTooManyRequests},
		{"anything else", errors.New("pool exhausted"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(&fakePolicy{err: tt.err})

			req := httptest.NewRequest(http.MethodPost, "/children/child-1/sync", nil)
			req.Header.Set("Authorization", "Bearer some-token")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestGetConversationsEndpoint(t *testing.T) {
	router := newTestRouter(&fakePolicy{})

	req := httptest.NewRequest(http.MethodGet, "/children/child-1/conversations?limit=10", nil)
	req.Header.Set("Authorization", "Bearer parent-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp GetConversationsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("Total = %d, want 2", resp.Total)
	}
}

func TestGetMessagesEndpoint(t *testing.T) {
	router := newTestRouter(&fakePolicy{})

	req := httptest.NewRequest(http.MethodGet, "/children/child-1/conversations/conv-9/messages", nil)
	req.Header.Set("Authorization", "Bearer parent-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp GetMessagesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Total != 5 || !resp.HasMore {
		t.Errorf("response = %+v", resp)
	}
}
