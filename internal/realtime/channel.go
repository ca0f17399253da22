// ABOUTME: Channel runs the authenticated WebSocket connection for one session
// ABOUTME: Reconnects with backoff and resubscribes before reading pushed frames

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	eventBufferSize = 256
	writeWait       = 10 * time.Second

	defaultHandshakeTimeout = 10 * time.Second
	defaultReconnectInitial = 500 * time.Millisecond
	defaultReconnectMax     = 30 * time.Second
)

// ErrAuthRejected is returned by Run when the backend refuses the session
// token. The channel does not retry.
var ErrAuthRejected = errors.New("realtime authentication rejected")

// ErrNotConnected is returned by intents that need a live connection.
var ErrNotConnected = errors.New("realtime channel not connected")

// Status is the connection lifecycle state.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusAuthenticating
	StatusConnected
	StatusReconnecting
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusAuthenticating:
		return "authenticating"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusClosed:
		return "closed"
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// Options configures a Channel.
type Options struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration // zero disables keepalive pings
	Backoff          Backoff
	Dialer           *websocket.Dialer
	Logger           *slog.Logger
}

// Channel is the session's single duplex connection.
type Channel struct {
	opts   Options
	subs   *Subscriptions
	events chan Event
	status atomic.Int32
	logger *slog.Logger

	mu       sync.Mutex // guards conn, presence and every write
	conn     *websocket.Conn
	presence string
}

// New creates a channel. Call Run to connect.
func New(opts Options) *Channel {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.Backoff.Initial <= 0 {
		opts.Backoff.Initial = defaultReconnectInitial
	}
	if opts.Backoff.Max <= 0 {
		opts.Backoff.Max = defaultReconnectMax
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	}
	return &Channel{
		opts:   opts,
		subs:   NewSubscriptions(),
		events: make(chan Event, eventBufferSize),
		logger: opts.Logger.With("component", "realtime"),
	}
}

// Events delivers decoded inbound events and status changes in receipt
// order.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Status returns the current connection status.
func (c *Channel) Status() Status {
	return Status(c.status.Load())
}

// Subscriptions exposes the reference-counted subscription set.
func (c *Channel) Subscriptions() *Subscriptions {
	return c.subs
}

// Run connects and keeps the connection alive until ctx is cancelled or the
// handshake is rejected. A cancelled context returns nil.
func (c *Channel) Run(ctx context.Context) error {
	attempt := 0
	for {
		c.setStatus(ctx, StatusConnecting, nil)
		authenticated, err := c.session(ctx)

		if ctx.Err() != nil {
			c.setStatus(context.WithoutCancel(ctx), StatusClosed, nil)
			return nil
		}
		if errors.Is(err, ErrAuthRejected) {
			c.logger.Warn("handshake rejected", "error", err)
			c.setStatus(ctx, StatusClosed, err)
			return err
		}
		if authenticated {
			attempt = 0
		}

		delay := c.opts.Backoff.Delay(attempt)
		attempt++
		c.logger.Info("connection lost, reconnecting", "error", err, "attempt", attempt, "delay", delay)
		c.setStatus(ctx, StatusReconnecting, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.setStatus(context.WithoutCancel(ctx), StatusClosed, nil)
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection from dial to drop. It reports whether the
// handshake succeeded so Run can reset the backoff.
func (c *Channel) session(ctx context.Context) (bool, error) {
	conn, _, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return false, fmt.Errorf("dialing %s: %w", c.opts.URL, err)
	}
	defer conn.Close()

	c.setStatus(ctx, StatusAuthenticating, nil)
	if err := c.handshake(conn); err != nil {
		return false, err
	}

	if err := c.attach(conn); err != nil {
		c.detach()
		return true, err
	}
	defer c.detach()

	c.setStatus(ctx, StatusConnected, nil)
	c.logger.Info("connected", "url", c.opts.URL, "subscriptions", len(c.subs.Active()))

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessCtx.Done()
		// Unblocks ReadMessage on shutdown or drop.
		_ = conn.Close()
	}()
	if c.opts.PingInterval > 0 {
		go c.keepalive(sessCtx, conn)
	}

	return true, c.readLoop(ctx, conn)
}

func (c *Channel) handshake(conn *websocket.Conn) error {
	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(AuthRequest{Type: FrameAuth, Token: c.opts.Token}); err != nil {
		return fmt.Errorf("sending auth: %w", err)
	}

	_ = conn.SetReadDeadline(deadline)
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("awaiting auth result: %w", err)
	}
	var res AuthResult
	if err := json.Unmarshal(data, &res); err != nil || res.Type != FrameAuthResult {
		return fmt.Errorf("unexpected handshake frame: %s", truncate(data))
	}
	if !res.Success {
		if res.Error == "" {
			return ErrAuthRejected
		}
		return fmt.Errorf("%w: %s", ErrAuthRejected, res.Error)
	}
	_ = conn.SetReadDeadline(time.Time{})
	return nil
}

// attach publishes conn for intents and resubscribes. Holding mu for both
// means no intent can reach the new connection ahead of the joins.
func (c *Channel) attach(conn *websocket.Conn) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn
	for _, id := range c.subs.Active() {
		if err := c.writeLocked(Intent{Type: FrameJoin, ConversationID: id}); err != nil {
			return fmt.Errorf("resubscribing %s: %w", id, err)
		}
	}
	if c.presence != "" {
		if err := c.writeLocked(Intent{Type: FramePresence, Status: c.presence}); err != nil {
			return fmt.Errorf("restoring presence: %w", err)
		}
	}
	return nil
}

func (c *Channel) detach() {
	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn) error {
	if c.opts.PingInterval > 0 {
		pongWait := 2 * c.opts.PingInterval
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}
		ev, err := Decode(data)
		if err != nil {
			if errors.Is(err, ErrUnknownEvent) {
				c.logger.Debug("ignoring frame", "error", err)
			} else {
				c.logger.Warn("dropping malformed frame", "error", err, "frame", truncate(data))
			}
			continue
		}
		select {
		case c.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Channel) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// Join subscribes to a conversation's live updates. Only the first
// reference sends a join; while disconnected the join goes out on the next
// reconnect.
func (c *Channel) Join(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.subs.Acquire(conversationID) || c.conn == nil {
		return nil
	}
	return c.writeLocked(Intent{Type: FrameJoin, ConversationID: conversationID})
}

// Leave releases a reference. The leave intent is sent only when no view
// references the conversation any more.
func (c *Channel) Leave(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.subs.Release(conversationID) || c.conn == nil {
		return nil
	}
	return c.writeLocked(Intent{Type: FrameLeave, ConversationID: conversationID})
}

// Typing sends a typing indicator. It is fire-and-forget: nothing is queued
// or retried while disconnected.
func (c *Channel) Typing(conversationID string, typing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}
	if err := c.writeLocked(Intent{Type: FrameTyping, ConversationID: conversationID, Typing: &typing}); err != nil {
		c.logger.Debug("typing intent dropped", "conversation_id", conversationID, "error", err)
	}
}

// SetPresence publishes the agent's availability. The latest value is
// re-sent after every reconnect.
func (c *Channel) SetPresence(status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.presence = status
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.writeLocked(Intent{Type: FramePresence, Status: status})
}

func (c *Channel) writeLocked(intent Intent) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(intent); err != nil {
		return fmt.Errorf("writing %s: %w", intent.Type, err)
	}
	return nil
}

func (c *Channel) setStatus(ctx context.Context, s Status, err error) {
	if Status(c.status.Swap(int32(s))) == s && err == nil {
		return
	}
	select {
	case c.events <- ConnectionStatus{Status: s, Err: err}:
	case <-ctx.Done():
	default:
		c.logger.Warn("event buffer full, status change not delivered", "status", s)
	}
}

func truncate(data []byte) string {
	const limit = 256
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
