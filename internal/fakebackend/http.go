// ABOUTME: REST and WebSocket routes for the fake platform
// ABOUTME: Bearer tokens guard REST; the WebSocket authenticates in-band

package fakebackend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/2389/agent-console/internal/auth"
	"github.com/2389/agent-console/internal/realtime"
	"github.com/2389/agent-console/internal/snapshot"
	"github.com/2389/agent-console/internal/store"
	"github.com/2389/agent-console/internal/view"
)

const (
	defaultPageSize  = 50
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
)

type claimsKey struct{}

// Handler returns the platform's HTTP surface.
func (b *Backend) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", b.serveWS)
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(b.requireToken)
		r.Get("/conversations", b.listConversations)
		r.Get("/conversations/{id}", b.getConversation)
		r.Patch("/conversations/{id}", b.patchConversation)
		r.Get("/conversations/{id}/messages", b.listMessages)
		r.Post("/conversations/{id}/messages", b.postMessage)
	})
	return r
}

func (b *Backend) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := b.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func claimsFrom(ctx context.Context) auth.Claims {
	c, _ := ctx.Value(claimsKey{}).(auth.Claims)
	return c
}

func (b *Backend) listConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := view.Filter{AssigneeID: q.Get("assignee"), Query: q.Get("q")}
	for _, s := range q["state"] {
		st, err := store.ParseState(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.States = append(filter.States, st)
	}
	for _, s := range q["channel"] {
		ch, err := store.ParseChannel(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Channels = append(filter.Channels, ch)
	}

	b.mu.Lock()
	var matched []store.Conversation
	for _, c := range b.convs {
		if filter.Match(c) {
			matched = append(matched, c.Clone())
		}
	}
	b.mu.Unlock()
	slices.SortFunc(matched, func(x, y store.Conversation) int { return strings.Compare(x.ID, y.ID) })

	writeJSON(w, http.StatusOK, paginate(matched, q.Get("cursor"), q.Get("limit")))
}

func (b *Backend) getConversation(w http.ResponseWriter, r *http.Request) {
	c, ok := b.Conversation(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (b *Backend) patchConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	st, err := store.ParseState(body.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := b.SetState(chi.URLParam(r, "id"), st, claimsFrom(r.Context()).AgentID); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) listMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	_, ok := b.convs[id]
	msgs := slices.Clone(b.messages[id])
	b.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, paginate(msgs, r.URL.Query().Get("cursor"), r.URL.Query().Get("limit")))
}

func (b *Backend) postMessage(w http.ResponseWriter, r *http.Request) {
	var req snapshot.SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}

	claims := claimsFrom(r.Context())
	msg, err := b.addMessage(chi.URLParam(r, "id"), store.Message{
		ClientID:    req.ClientMessageID,
		Direction:   store.DirectionOutbound,
		Sender:      store.SenderAgent,
		SenderID:    claims.AgentID,
		Content:     req.Content,
		ContentType: req.ContentType,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// serveWS authenticates a real-time connection in-band, then relays hub
// frames out and applies intents coming in.
func (b *Backend) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	claims, ok := b.handshake(conn)
	if !ok {
		return
	}

	c := b.hub.register(claims.AgentID)
	defer b.hub.unregister(c.id)

	go func() {
		for frame := range c.send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				break
			}
		}
		// Hub closed the channel or the write failed.
		_ = conn.Close()
	}()

	for {
		var in realtime.Intent
		if err := conn.ReadJSON(&in); err != nil {
			return
		}
		b.handleIntent(c, claims, in)
	}
}

func (b *Backend) handshake(conn *websocket.Conn) (auth.Claims, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var req realtime.AuthRequest
	if err := conn.ReadJSON(&req); err != nil || req.Type != realtime.FrameAuth {
		_ = conn.WriteJSON(realtime.AuthResult{Type: realtime.FrameAuthResult, Error: "expected auth frame"})
		return auth.Claims{}, false
	}
	_ = conn.SetReadDeadline(time.Time{})

	claims, err := b.verifier.Verify(req.Token)
	if err != nil {
		_ = conn.WriteJSON(realtime.AuthResult{Type: realtime.FrameAuthResult, Error: err.Error()})
		return auth.Claims{}, false
	}
	if err := conn.WriteJSON(realtime.AuthResult{Type: realtime.FrameAuthResult, Success: true}); err != nil {
		return auth.Claims{}, false
	}
	return claims, true
}

func (b *Backend) handleIntent(c *client, claims auth.Claims, in realtime.Intent) {
	switch in.Type {
	case realtime.FrameJoin:
		b.hub.join(c.id, in.ConversationID)
	case realtime.FrameLeave:
		b.hub.leave(c.id, in.ConversationID)
	case realtime.FrameTyping:
		typing := in.Typing != nil && *in.Typing
		b.push(realtime.TypingIndicator{
			ConversationID: in.ConversationID,
			At:             b.now(),
			Participant:    claims.AgentID,
			Typing:         typing,
		}, true, c.id)
	case realtime.FramePresence:
		b.mu.Lock()
		b.presence[claims.AgentID] = in.Status
		b.mu.Unlock()
	default:
		b.logger.Debug("unknown intent", "type", in.Type, "agent_id", claims.AgentID)
	}
}

// paginate slices items by an offset cursor.
func paginate[T any](items []T, cursor, limit string) snapshot.Page[T] {
	start, _ := strconv.Atoi(cursor)
	size, err := strconv.Atoi(limit)
	if err != nil || size <= 0 {
		size = defaultPageSize
	}
	start = min(max(start, 0), len(items))
	end := min(start+size, len(items))

	page := snapshot.Page[T]{Items: items[start:end]}
	if page.Items == nil {
		page.Items = []T{}
	}
	if end < len(items) {
		page.HasMore = true
		page.NextCursor = strconv.Itoa(end)
	}
	return page
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
