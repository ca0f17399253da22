// ABOUTME: In-memory conversation platform state and the simulation API
// ABOUTME: Every mutation is pushed to connected agents as a real-time frame

package fakebackend

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/2389/agent-console/internal/auth"
	"github.com/2389/agent-console/internal/content"
	"github.com/2389/agent-console/internal/realtime"
	"github.com/2389/agent-console/internal/store"
)

// Backend is the fake support platform.
type Backend struct {
	verifier *auth.Verifier
	hub      *Hub
	seq      atomic.Uint64
	now      func() time.Time
	logger   *slog.Logger

	mu       sync.Mutex
	convs    map[string]*store.Conversation
	messages map[string][]store.Message
	presence map[string]string // agentID -> status
}

// Option configures a Backend.
type Option func(*Backend)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates an empty backend that accepts tokens signed by verifier.
// Pass nil logger for default.
func New(verifier *auth.Verifier, logger *slog.Logger, opts ...Option) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Backend{
		verifier: verifier,
		hub:      NewHub(logger),
		now:      time.Now,
		logger:   logger.With("component", "fakebackend"),
		convs:    make(map[string]*store.Conversation),
		messages: make(map[string][]store.Message),
		presence: make(map[string]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Hub exposes the real-time fan-out.
func (b *Backend) Hub() *Hub {
	return b.hub
}

// Upsert stores a conversation as-is without pushing anything.
func (b *Backend) Upsert(c store.Conversation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c = c.Clone()
	c.Tags = store.NormalizeTags(c.Tags)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = b.now()
	}
	b.convs[c.ID] = &c
}

// Conversation returns a copy of one conversation.
func (b *Backend) Conversation(id string) (store.Conversation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.convs[id]
	if !ok {
		return store.Conversation{}, false
	}
	return c.Clone(), true
}

// Presence returns an agent's last published status.
func (b *Backend) Presence(agentID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.presence[agentID]
}

// CustomerMessage records an inbound customer message and pushes it.
func (b *Backend) CustomerMessage(conversationID, text string) (store.Message, error) {
	return b.addMessage(conversationID, store.Message{
		Direction:   store.DirectionInbound,
		Sender:      store.SenderCustomer,
		Content:     text,
		ContentType: content.TypePlain,
	})
}

// addMessage stores msg, updates the conversation's activity and pushes a
// message.received frame to every agent.
func (b *Backend) addMessage(conversationID string, msg store.Message) (store.Message, error) {
	b.mu.Lock()
	c, ok := b.convs[conversationID]
	if !ok {
		b.mu.Unlock()
		return store.Message{}, fmt.Errorf("%w: %s", store.ErrNotFound, conversationID)
	}
	now := b.now()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Sender == store.SenderCustomer && msg.SenderID == "" {
		msg.SenderID = c.CustomerID
	}
	msg.ConversationID = conversationID
	msg.CreatedAt = now
	msg.Delivery = ""
	b.messages[conversationID] = append(b.messages[conversationID], msg)

	c.MessageCount++
	c.LastActivityAt = now
	c.LastMessagePreview = content.Preview(msg.Content, msg.ContentType)
	if msg.Direction == store.DirectionOutbound && msg.Sender == store.SenderAgent && c.FirstResponseAt == nil {
		c.FirstResponseAt = &now
	}
	c.UpdatedAt = now
	b.mu.Unlock()

	b.push(realtime.MessageReceived{ConversationID: conversationID, At: now, Message: msg}, false, "")
	return msg, nil
}

// SetState changes a conversation's state and pushes the change.
func (b *Backend) SetState(conversationID string, state store.State, by string) error {
	now, err := b.mutate(conversationID, func(c *store.Conversation) { c.State = state })
	if err != nil {
		return err
	}
	b.logger.Debug("state changed", "conversation_id", conversationID, "state", state, "by", by)
	b.push(realtime.StateChanged{ConversationID: conversationID, At: now, State: state}, false, "")
	return nil
}

// Assign changes a conversation's assignee and pushes the change.
func (b *Backend) Assign(conversationID, agentID, by string) error {
	now, err := b.mutate(conversationID, func(c *store.Conversation) { c.AssigneeID = agentID })
	if err != nil {
		return err
	}
	b.push(realtime.Assigned{ConversationID: conversationID, At: now, AssigneeID: agentID, AssignedBy: by}, false, "")
	return nil
}

// Retag replaces a conversation's tags and priority and pushes the change.
func (b *Backend) Retag(conversationID string, tags []string, priority store.Priority) error {
	tags = store.NormalizeTags(tags)
	now, err := b.mutate(conversationID, func(c *store.Conversation) {
		c.Tags = slices.Clone(tags)
		c.Priority = priority
	})
	if err != nil {
		return err
	}
	b.push(realtime.ConversationUpdated{ConversationID: conversationID, At: now, Tags: tags, Priority: &priority}, false, "")
	return nil
}

// SuggestResolution pushes an informational resolution update.
func (b *Backend) SuggestResolution(conversationID, status, summary string) {
	b.push(realtime.ResolutionUpdate{ConversationID: conversationID, At: b.now(), Status: status, Summary: summary}, false, "")
}

// CustomerTyping pushes a typing indicator to agents who joined the
// conversation.
func (b *Backend) CustomerTyping(conversationID string, typing bool) {
	participant := "customer"
	if c, ok := b.Conversation(conversationID); ok && c.CustomerID != "" {
		participant = c.CustomerID
	}
	b.push(realtime.TypingIndicator{ConversationID: conversationID, At: b.now(), Participant: participant, Typing: typing}, true, "")
}

// DropConnections disconnects every real-time client without touching
// state, as a network partition would.
func (b *Backend) DropConnections() {
	b.hub.Close()
}

func (b *Backend) mutate(conversationID string, fn func(*store.Conversation)) (time.Time, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.convs[conversationID]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", store.ErrNotFound, conversationID)
	}
	now := b.now()
	fn(c)
	c.UpdatedAt = now
	return now, nil
}

func (b *Backend) push(ev realtime.Event, joinedOnly bool, excludeSubID string) {
	frame, err := realtime.Encode(ev, b.seq.Add(1))
	if err != nil {
		b.logger.Error("encoding event", "kind", ev.Kind(), "error", err)
		return
	}
	b.hub.Publish(frame, ev.Conversation(), joinedOnly, excludeSubID)
}
