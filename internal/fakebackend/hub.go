// ABOUTME: Fan-out of encoded real-time frames to connected agents
// ABOUTME: Tracks per-connection joins; slow connections drop frames rather than block

package fakebackend

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
)

const (
	// clientBufferSize is the outbound frame buffer for each connection.
	clientBufferSize = 64
)

type client struct {
	id      string
	agentID string
	send    chan []byte
	joined  map[string]bool
}

// Hub is the set of live real-time connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client // subID -> client
	logger  *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*client),
		logger:  logger.With("component", "hub"),
	}
}

// register adds an authenticated connection and returns its subscription.
func (h *Hub) register(agentID string) *client {
	c := &client{
		id:      uuid.New().String(),
		agentID: agentID,
		send:    make(chan []byte, clientBufferSize),
		joined:  make(map[string]bool),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	h.logger.Debug("client registered", "sub_id", c.id, "agent_id", agentID)
	return c
}

// unregister removes a connection and closes its send channel.
func (h *Hub) unregister(subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[subID]
	if !ok {
		return
	}
	delete(h.clients, subID)
	close(c.send)

	h.logger.Debug("client unregistered", "sub_id", subID, "agent_id", c.agentID)
}

func (h *Hub) join(subID, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[subID]; ok {
		c.joined[conversationID] = true
	}
}

func (h *Hub) leave(subID, conversationID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[subID]; ok {
		delete(c.joined, conversationID)
	}
}

// Publish sends a frame to every connection, or when joinedOnly is set only
// to connections that joined conversationID. excludeSubID skips the
// originating connection. Non-blocking: frames are dropped for connections
// whose buffers are full.
func (h *Hub) Publish(frame []byte, conversationID string, joinedOnly bool, excludeSubID string) {
	// Sends happen under the read lock so unregister cannot close a channel
	// mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, c := range h.clients {
		if id == excludeSubID || (joinedOnly && !c.joined[conversationID]) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			h.logger.Debug("dropped frame for slow client",
				"sub_id", id,
				"conversation_id", conversationID)
		}
	}
}

// Joined returns the agents subscribed to a conversation, sorted and
// deduplicated.
func (h *Hub) Joined(conversationID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var agents []string
	for _, c := range h.clients {
		if c.joined[conversationID] && !slices.Contains(agents, c.agentID) {
			agents = append(agents, c.agentID)
		}
	}
	slices.Sort(agents)
	return agents
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client. Their writers close the sockets.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, c := range h.clients {
		close(c.send)
		delete(h.clients, id)
	}
	h.logger.Debug("hub closed")
}
