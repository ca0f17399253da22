// ABOUTME: In-memory collaborators for session tests
// ABOUTME: Loader, backend and channel fakes plus a settable clock and recording sink

package console

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/agent-console/internal/auth"
	"github.com/2389/agent-console/internal/notify"
	"github.com/2389/agent-console/internal/realtime"
	"github.com/2389/agent-console/internal/snapshot"
	"github.com/2389/agent-console/internal/store"
	"github.com/2389/agent-console/internal/view"
)

const me = "agent-1"

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type fakeLoader struct {
	loads atomic.Int32

	// respond returns the conversations for a filter. It may block.
	respond func(view.Filter) ([]store.Conversation, error)
	history map[string][]store.Message
	asOf    func() time.Time
}

func (l *fakeLoader) Load(_ context.Context, f view.Filter) (*snapshot.Snapshot, error) {
	l.loads.Add(1)
	var convs []store.Conversation
	if l.respond != nil {
		var err error
		if convs, err = l.respond(f); err != nil {
			return nil, err
		}
	}
	return &snapshot.Snapshot{Fingerprint: f.Fingerprint(), RequestedAt: l.asOf(), Conversations: convs}, nil
}

func (l *fakeLoader) LoadHistory(_ context.Context, id string) (*snapshot.History, error) {
	return &snapshot.History{ConversationID: id, Messages: l.history[id]}, nil
}

type fakeBackend struct {
	mu      sync.Mutex
	sendErr  error
	stateErr error
	sent     []snapshot.SendRequest
	states  map[string]store.State
	gate    chan struct{} // when set, SendMessage waits for it
}

func (b *fakeBackend) SendMessage(_ context.Context, id string, req snapshot.SendRequest) (*store.Message, error) {
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, req)
	if b.sendErr != nil {
		return nil, b.sendErr
	}
	return &store.Message{
		ID:             "srv-" + req.ClientMessageID,
		ClientID:       req.ClientMessageID,
		ConversationID: id,
		Direction:      store.DirectionOutbound,
		Sender:         store.SenderAgent,
		SenderID:       me,
		Content:        req.Content,
		CreatedAt:      at(1),
	}, nil
}

func (b *fakeBackend) SetState(_ context.Context, id string, state store.State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.states == nil {
		b.states = make(map[string]store.State)
	}
	if b.stateErr != nil {
		return b.stateErr
	}
	b.states[id] = state
	return nil
}

type fakeChannel struct {
	events chan realtime.Event
	runErr chan error
	subs   *realtime.Subscriptions

	mu      sync.Mutex
	intents []string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		events: make(chan realtime.Event, 16),
		runErr: make(chan error, 1),
		subs:   realtime.NewSubscriptions(),
	}
}

func (c *fakeChannel) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-c.runErr:
		return err
	}
}

func (c *fakeChannel) Events() <-chan realtime.Event          { return c.events }
func (c *fakeChannel) Status() realtime.Status                { return realtime.StatusConnected }
func (c *fakeChannel) Subscriptions() *realtime.Subscriptions { return c.subs }

func (c *fakeChannel) record(s string) {
	c.mu.Lock()
	c.intents = append(c.intents, s)
	c.mu.Unlock()
}

func (c *fakeChannel) Intents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.intents...)
}

func (c *fakeChannel) Join(id string) error {
	if c.subs.Acquire(id) {
		c.record("join:" + id)
	}
	return nil
}

func (c *fakeChannel) Leave(id string) error {
	if c.subs.Release(id) {
		c.record("leave:" + id)
	}
	return nil
}

func (c *fakeChannel) Typing(id string, typing bool) {
	c.record(fmt.Sprintf("typing:%s:%t", id, typing))
}

func (c *fakeChannel) SetPresence(status string) error {
	c.record("presence:" + status)
	return nil
}

type recorder struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (r *recorder) Notify(n notify.Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
}

func (r *recorder) Kinds() []notify.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]notify.Kind, 0, len(r.notes))
	for _, n := range r.notes {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

type harness struct {
	session *Session
	clock   *clock
	loader  *fakeLoader
	backend *fakeBackend
	channel *fakeChannel
	sink    *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	token, err := auth.NewVerifier([]byte("test-secret")).Generate(me, "Ana", time.Hour)
	require.NoError(t, err)

	clk := &clock{now: t0}
	h := &harness{
		clock:   clk,
		loader:  &fakeLoader{asOf: clk.Now},
		backend: &fakeBackend{},
		channel: newFakeChannel(),
		sink:    &recorder{},
	}
	h.session, err = New(Options{
		Token:        token,
		Loader:       h.loader,
		Backend:      h.backend,
		Channel:      h.channel,
		Sink:         h.sink,
		TickInterval: time.Hour,
		Now:          clk.Now,
	})
	require.NoError(t, err)
	return h
}

// run starts the session loop and returns a channel with its result.
func (h *harness) run(t *testing.T) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		done <- h.session.Run(ctx)
		close(finished)
	}()
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return done
}

func conv(id string, state store.State, prio store.Priority, updated time.Time) store.Conversation {
	return store.Conversation{
		ID:             id,
		Channel:        store.ChannelEmail,
		State:          state,
		Priority:       prio,
		CreatedAt:      t0,
		LastActivityAt: t0,
		UpdatedAt:      updated,
	}
}

func inbound(id string, t time.Time) store.Message {
	return store.Message{
		ID:        id,
		Direction: store.DirectionInbound,
		Sender:    store.SenderCustomer,
		SenderID:  "cust-1",
		Content:   "hello " + id,
		CreatedAt: t,
	}
}
