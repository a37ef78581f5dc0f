package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandbridge/sandbridge/internal/common/logger"
	"github.com/sandbridge/sandbridge/internal/conversation/search"
	"github.com/sandbridge/sandbridge/internal/events/notifier"
	"github.com/sandbridge/sandbridge/internal/events/store"
)

func newAPIServer(t *testing.T) (*httptest.Server, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Default()

	svc := NewService(NewMemoryStore(), store.NewMemoryStore(), notifier.NewNotifier(log), log)

	local := func(ctx context.Context, query string, limit int) ([]search.Result, error) {
		matches, err := svc.Search(ctx, query, limit)
		if err != nil {
			return nil, err
		}
		results := make([]search.Result, 0, len(matches))
		for _, conv := range matches {
			results = append(results, search.Result{ID: conv.ID, Title: conv.Title, CreatedAt: conv.CreatedAt})
		}
		return results, nil
	}
	gateway := search.NewGateway("", 30*time.Second, time.Second, local, log)

	router := gin.New()
	NewHandlers(svc, gateway, log).RegisterRoutes(router.Group("/api"))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, svc
}

func TestCreateConversationEndpoint(t *testing.T) {
	srv, _ := newAPIServer(t)

	resp, err := http.Post(srv.URL+"/api/conversations", "application/json",
		strings.NewReader(`{"id":"conv-1","title":"hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var conv Conversation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))
	assert.Equal(t, "conv-1", conv.ID)
	assert.Equal(t, "hello", conv.Title)
}

func TestCreateConversationRejectsBadBody(t *testing.T) {
	srv, _ := newAPIServer(t)

	resp, err := http.Post(srv.URL+"/api/conversations", "application/json",
		strings.NewReader(`{"id":`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetConversationEndpoint(t *testing.T) {
	srv, svc := newAPIServer(t)
	_, err := svc.Create(context.Background(), "conv-1", "hello", "")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/conversations/conv-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/api/conversations/missing")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

func TestListConversationsEndpoint(t *testing.T) {
	srv, svc := newAPIServer(t)
	for _, id := range []string{"a", "b", "c"} {
		_, err := svc.Create(context.Background(), id, "conversation "+id, "")
		require.NoError(t, err)
	}

	resp, err := http.Get(srv.URL + "/api/conversations?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Conversations []Conversation `json:"conversations"`
		HasMore       bool           `json:"has_more"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Len(t, body.Conversations, 2)
	assert.True(t, body.HasMore)
}

func TestSearchEndpoint(t *testing.T) {
	srv, svc := newAPIServer(t)
	_, err := svc.Create(context.Background(), "conv-1", "fix login bug", "")
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/conversations/search?q=login")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []search.Result `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, "conv-1", body.Results[0].ID)

	resp2, err := http.Get(srv.URL + "/api/conversations/search")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}
