// ABOUTME: Tests for the REST client and snapshot loader against an httptest backend
// ABOUTME: Covers pagination, filter fingerprints, auth failures and error envelopes

package snapshot

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-console/internal/store"
	"github.com/2389/agent-console/internal/view"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// pagedServer serves n conversations, pageSize per page, with integer cursors.
func pagedServer(t *testing.T, n int, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/conversations", func(w http.ResponseWriter, req *http.Request) {
		requests.Add(1)
		if req.Header.Get("Authorization") != "Bearer tok" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "bad token"})
			return
		}
		limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
		start, _ := strconv.Atoi(req.URL.Query().Get("cursor"))
		end := min(start+limit, n)

		page := Page[store.Conversation]{}
		for i := start; i < end; i++ {
			page.Items = append(page.Items, store.Conversation{
				ID:        "c" + strconv.Itoa(i),
				Channel:   store.ChannelEmail,
				State:     store.StateOpen,
				Priority:  store.PriorityP2,
				CreatedAt: t0,
				UpdatedAt: t0,
			})
		}
		if end < n {
			page.HasMore = true
			page.NextCursor = strconv.Itoa(end)
		}
		writeJSON(w, http.StatusOK, page)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoad_WalksAllPages(t *testing.T) {
	var requests atomic.Int32
	srv := pagedServer(t, 7, &requests)

	loader := NewLoader(NewClient(srv.URL, "tok", nil, time.Second), 3, 10, nil)
	filter := view.Filter{States: []store.State{store.StateOpen}}

	snap, err := loader.Load(t.Context(), filter)
	require.NoError(t, err)

	assert.Len(t, snap.Conversations, 7)
	assert.Equal(t, int32(3), requests.Load())
	assert.Equal(t, filter.Fingerprint(), snap.Fingerprint)
	assert.False(t, snap.Truncated)
	assert.False(t, snap.RequestedAt.IsZero())
}

func TestLoad_StopsAtMaxPages(t *testing.T) {
	var requests atomic.Int32
	srv := pagedServer(t, 100, &requests)

	loader := NewLoader(NewClient(srv.URL, "tok", nil, time.Second), 10, 2, nil)
	snap, err := loader.Load(t.Context(), view.Filter{})
	require.NoError(t, err)

	assert.Len(t, snap.Conversations, 20)
	assert.True(t, snap.Truncated)
	assert.Equal(t, int32(2), requests.Load())
}

func TestLoad_Unauthorized(t *testing.T) {
	var requests atomic.Int32
	srv := pagedServer(t, 3, &requests)

	loader := NewLoader(NewClient(srv.URL, "wrong", nil, time.Second), 10, 2, nil)
	_, err := loader.Load(t.Context(), view.Filter{})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestListConversations_SendsFilterParams(t *testing.T) {
	var got map[string][]string
	r := chi.NewRouter()
	r.Get("/conversations", func(w http.ResponseWriter, req *http.Request) {
		got = req.URL.Query()
		writeJSON(w, http.StatusOK, Page[store.Conversation]{})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewClient(srv.URL+"/", "", nil, time.Second)
	_, err := c.ListConversations(t.Context(), ListQuery{
		States:     []store.State{store.StateOpen, store.StatePending},
		Channels:   []store.Channel{store.ChannelSMS},
		AssigneeID: "agent-1",
		Search:     "refund",
		Limit:      25,
	}, "abc")
	require.NoError(t, err)

	assert.Equal(t, []string{"open", "pending"}, got["state"])
	assert.Equal(t, []string{"sms"}, got["channel"])
	assert.Equal(t, []string{"agent-1"}, got["assignee"])
	assert.Equal(t, []string{"refund"}, got["q"])
	assert.Equal(t, []string{"25"}, got["limit"])
	assert.Equal(t, []string{"abc"}, got["cursor"])
}

func TestLoadHistory_Paginates(t *testing.T) {
	r := chi.NewRouter()
	r.Get("/conversations/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		cursor := req.URL.Query().Get("cursor")
		page := Page[store.Message]{}
		if cursor == "" {
			page.Items = []store.Message{{ID: "m1", ConversationID: id}}
			page.HasMore = true
			page.NextCursor = "next"
		} else {
			page.Items = []store.Message{{ID: "m2", ConversationID: id}}
		}
		writeJSON(w, http.StatusOK, page)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	loader := NewLoader(NewClient(srv.URL, "", nil, time.Second), 1, 5, nil)
	h, err := loader.LoadHistory(t.Context(), "c1")
	require.NoError(t, err)

	require.Len(t, h.Messages, 2)
	assert.Equal(t, "m1", h.Messages[0].ID)
	assert.Equal(t, "m2", h.Messages[1].ID)
	assert.Equal(t, "c1", h.Messages[1].ConversationID)
}

func TestSendMessage(t *testing.T) {
	var body SendRequest
	r := chi.NewRouter()
	r.Post("/conversations/{id}/messages", func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		writeJSON(w, http.StatusCreated, store.Message{
			ID:             "m9",
			ClientID:       body.ClientMessageID,
			ConversationID: chi.URLParam(req, "id"),
			Content:        body.Content,
		})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewClient(srv.URL, "tok", nil, time.Second)
	msg, err := c.SendMessage(t.Context(), "c1", SendRequest{ClientMessageID: "local-1", Content: "hi"})
	require.NoError(t, err)

	assert.Equal(t, "local-1", body.ClientMessageID)
	assert.Equal(t, "m9", msg.ID)
	assert.Equal(t, "local-1", msg.ClientID)
	assert.Equal(t, "c1", msg.ConversationID)
}

func TestClientErrors(t *testing.T) {
	r := chi.NewRouter()
	r.Patch("/conversations/missing", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no such conversation"})
	})
	r.Patch("/conversations/busy", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusConflict, errorBody{Error: "already resolved"})
	})
	r.Patch("/conversations/broken", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})
	r.Patch("/conversations/ok", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewClient(srv.URL, "", nil, time.Second)

	require.ErrorIs(t, c.SetState(t.Context(), "missing", store.StateResolved), ErrNotFound)

	err := c.SetState(t.Context(), "busy", store.StateResolved)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already resolved")

	err = c.SetState(t.Context(), "broken", store.StateResolved)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")

	assert.NoError(t, c.SetState(t.Context(), "ok", store.StateResolved))
}
