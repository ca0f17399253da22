// ABOUTME: Session context object: owns the store, channel, loader and SLA state
// ABOUTME: Run is the single event loop; public methods post work onto it

package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/agent-console/internal/auth"
	"github.com/2389/agent-console/internal/notify"
	"github.com/2389/agent-console/internal/realtime"
	"github.com/2389/agent-console/internal/sla"
	"github.com/2389/agent-console/internal/snapshot"
	"github.com/2389/agent-console/internal/store"
	"github.com/2389/agent-console/internal/view"
)

const (
	defaultTickInterval = 15 * time.Second
	inboxSize           = 64
)

// ErrSessionEnded is returned by commands issued after the loop has exited.
var ErrSessionEnded = errors.New("session ended")

// Loader fetches snapshots and histories.
type Loader interface {
	Load(ctx context.Context, filter view.Filter) (*snapshot.Snapshot, error)
	LoadHistory(ctx context.Context, conversationID string) (*snapshot.History, error)
}

// Backend performs the agent's write actions.
type Backend interface {
	SendMessage(ctx context.Context, conversationID string, req snapshot.SendRequest) (*store.Message, error)
	SetState(ctx context.Context, conversationID string, state store.State) error
}

// Channel is the real-time connection as the session uses it.
type Channel interface {
	Run(ctx context.Context) error
	Events() <-chan realtime.Event
	Status() realtime.Status
	Subscriptions() *realtime.Subscriptions
	Join(conversationID string) error
	Leave(conversationID string) error
	Typing(conversationID string, typing bool)
	SetPresence(status string) error
}

// Options configures a Session.
type Options struct {
	Token        string
	Loader       Loader
	Backend      Backend
	Channel      Channel
	Sink         notify.Sink
	Policy       sla.Policy
	Store        store.Options
	TickInterval time.Duration
	Filter       view.Filter
	Sort         view.SortKey
	Logger       *slog.Logger
	Now          func() time.Time
}

// Session is one logged-in agent's console state.
type Session struct {
	claims    auth.Claims
	store     *store.Store
	evaluator *sla.Evaluator
	tracker   *sla.Tracker
	loader    Loader
	backend   Backend
	channel   Channel
	sink      notify.Sink
	tick      time.Duration
	now       func() time.Time
	logger    *slog.Logger

	inbox   chan func() error
	updates chan struct{}
	done    chan struct{}

	// Read by Rows from other goroutines; written only on the loop.
	mu          sync.RWMutex
	filter      view.Filter
	fingerprint string
	sortKey     view.SortKey
	search      string

	// Loop-only state.
	ctx          context.Context
	wasConnected bool
}

// New starts a session for the agent identified by opts.Token. An invalid
// or expired token is rejected before anything connects.
func New(opts Options) (*Session, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Sink == nil {
		opts.Sink = notify.Discard
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.Sort == "" {
		opts.Sort = view.SortSLA
	}
	if opts.Policy.Budgets == nil {
		opts.Policy = sla.DefaultPolicy()
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sla policy: %w", err)
	}
	if opts.Loader == nil || opts.Backend == nil || opts.Channel == nil {
		return nil, errors.New("loader, backend and channel are required")
	}

	claims, err := auth.Inspect(opts.Token, opts.Now())
	if err != nil {
		return nil, fmt.Errorf("session token: %w", err)
	}

	logger := opts.Logger.With("component", "console", "agent_id", claims.AgentID)
	if opts.Store.Logger == nil {
		opts.Store.Logger = opts.Logger
	}

	return &Session{
		claims:      claims,
		store:       store.New(opts.Store),
		evaluator:   sla.NewEvaluator(opts.Policy),
		tracker:     sla.NewTracker(),
		loader:      opts.Loader,
		backend:     opts.Backend,
		channel:     opts.Channel,
		sink:        opts.Sink,
		tick:        opts.TickInterval,
		now:         opts.Now,
		logger:      logger,
		inbox:       make(chan func() error, inboxSize),
		updates:     make(chan struct{}, 1),
		done:        make(chan struct{}),
		filter:      opts.Filter,
		fingerprint: opts.Filter.Fingerprint(),
		sortKey:     opts.Sort,
		ctx:         context.Background(),
	}, nil
}

// Claims returns the identity of the logged-in agent.
func (s *Session) Claims() auth.Claims {
	return s.claims
}

// Run connects the channel, loads the initial snapshot and processes work
// until ctx is cancelled (logout) or authentication fails. The store is
// cleared on the way out either way.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer close(s.done)
	s.ctx = ctx

	channelErr := make(chan error, 1)
	go func() { channelErr <- s.channel.Run(ctx) }()

	s.logger.Info("session started", "filter", s.fingerprint)
	s.startLoad()

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.teardown(nil)
			return nil

		case err := <-channelErr:
			if err == nil {
				s.teardown(nil)
				return nil
			}
			s.teardown(err)
			return err

		case ev := <-s.channel.Events():
			s.Apply(ev)

		case fn := <-s.inbox:
			if err := fn(); err != nil {
				s.teardown(err)
				return err
			}

		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}

// teardown ends the session. cause is nil for a normal logout.
func (s *Session) teardown(cause error) {
	s.store.Clear()
	s.tracker.Reset()
	s.channel.Subscriptions().Reset()
	if cause != nil {
		s.logger.Warn("session ended", "error", cause)
		s.sink.Notify(notify.Notification{
			Kind:    notify.KindSessionEnded,
			Title:   "Signed out",
			Message: cause.Error(),
			At:      s.now(),
		})
	} else {
		s.logger.Info("session closed")
	}
	s.changed()
}

// call runs fn on the loop and waits for it.
func (s *Session) call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	wrapped := func() error {
		result <- fn()
		return nil
	}
	select {
	case s.inbox <- wrapped:
	case <-s.done:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrSessionEnded
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues a background result onto the loop. Results arriving after
// the session ended are dropped.
func (s *Session) post(fn func() error) {
	select {
	case s.inbox <- fn:
	case <-s.done:
	}
}

// changed signals Updates without blocking.
func (s *Session) changed() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Updates fires after any change that could alter Rows. Signals coalesce.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// ConnectionStatus reports the real-time channel's status.
func (s *Session) ConnectionStatus() realtime.Status {
	return s.channel.Status()
}

// Rows projects the store through the active filter, search and sort.
func (s *Session) Rows(now time.Time) []view.Row {
	s.mu.RLock()
	filter, key, search := s.filter, s.sortKey, s.search
	s.mu.RUnlock()
	return view.Project(s.store.SelectAll(), filter, key, search, s.evaluator, now)
}

// Conversation returns one conversation.
func (s *Session) Conversation(id string) (store.Conversation, bool) {
	return s.store.Select(id)
}

// Messages returns the retained messages of an open conversation.
func (s *Session) Messages(id string) []store.Message {
	return s.store.Messages(id)
}

// TypingIn returns who is typing in a conversation.
func (s *Session) TypingIn(id string) []string {
	return s.store.Typing(id, s.now())
}

// SetFilter replaces the active filter and loads a fresh snapshot for it.
// Responses still in flight for the previous filter will be discarded.
func (s *Session) SetFilter(ctx context.Context, f view.Filter) error {
	return s.call(ctx, func() error {
		s.mu.Lock()
		s.filter = f
		s.fingerprint = f.Fingerprint()
		s.mu.Unlock()
		s.startLoad()
		s.changed()
		return nil
	})
}

// SetSort changes the ordering of Rows.
func (s *Session) SetSort(ctx context.Context, key view.SortKey) error {
	return s.call(ctx, func() error {
		s.mu.Lock()
		s.sortKey = key
		s.mu.Unlock()
		s.changed()
		return nil
	})
}

// SetSearch changes the local search query. It does not hit the backend.
func (s *Session) SetSearch(ctx context.Context, query string) error {
	return s.call(ctx, func() error {
		s.mu.Lock()
		s.search = query
		s.mu.Unlock()
		s.changed()
		return nil
	})
}

// Refresh reloads the snapshot for the active filter.
func (s *Session) Refresh(ctx context.Context) error {
	return s.call(ctx, func() error {
		s.startLoad()
		return nil
	})
}

// startLoad fetches a snapshot for the active filter in the background.
func (s *Session) startLoad() {
	s.mu.RLock()
	filter := s.filter
	s.mu.RUnlock()

	ctx := s.ctx
	go func() {
		snap, err := s.loader.Load(ctx, filter)
		s.post(func() error { return s.applySnapshot(snap, err) })
	}()
}

func (s *Session) applySnapshot(snap *snapshot.Snapshot, err error) error {
	if err != nil {
		if errors.Is(err, snapshot.ErrUnauthorized) {
			return err
		}
		if s.ctx.Err() == nil {
			s.logger.Warn("snapshot load failed", "error", err)
		}
		return nil
	}

	s.mu.RLock()
	active := s.fingerprint
	s.mu.RUnlock()
	if snap.Fingerprint != active {
		s.logger.Debug("discarding superseded snapshot", "fingerprint", snap.Fingerprint, "active", active)
		return nil
	}

	seed := s.store.Seed
	if snap.Truncated {
		seed = s.store.SeedPartial
	}
	res := seed(snap.Conversations, snap.RequestedAt)
	for _, id := range res.Evicted {
		s.tracker.Forget(id)
	}
	// A backlog that was already breached when it arrived is not news.
	now := s.now()
	for _, c := range snap.Conversations {
		if cur, ok := s.store.Select(c.ID); ok {
			s.tracker.Seed(c.ID, s.evaluator.Evaluate(cur, now))
		}
	}
	s.logger.Info("snapshot applied",
		"conversations", len(snap.Conversations),
		"rejected", res.Rejected,
		"evicted", len(res.Evicted),
		"truncated", snap.Truncated)

	s.Tick(now)
	return nil
}

// OpenConversation subscribes to a conversation and loads its history.
// Several views may open the same conversation.
func (s *Session) OpenConversation(ctx context.Context, id string) error {
	return s.call(ctx, func() error {
		if err := s.channel.Join(id); err != nil {
			// The join is re-sent on reconnect.
			s.logger.Warn("join failed", "conversation_id", id, "error", err)
		}
		s.store.Open(id)
		s.changed()

		loopCtx := s.ctx
		go func() {
			h, err := s.loader.LoadHistory(loopCtx, id)
			s.post(func() error {
				if err != nil {
					if errors.Is(err, snapshot.ErrUnauthorized) {
						return err
					}
					s.logger.Warn("history load failed", "conversation_id", id, "error", err)
					return nil
				}
				n := s.store.LoadHistory(id, h.Messages)
				s.logger.Debug("history loaded", "conversation_id", id, "messages", n)
				s.changed()
				return nil
			})
		}()
		return nil
	})
}

// CloseConversation releases a view's reference. Leave is sent, and the
// retained messages dropped, only when no view still has it open. In-flight
// sends are not cancelled.
func (s *Session) CloseConversation(ctx context.Context, id string) error {
	return s.call(ctx, func() error {
		if err := s.channel.Leave(id); err != nil {
			s.logger.Warn("leave failed", "conversation_id", id, "error", err)
		}
		if s.channel.Subscriptions().Count(id) == 0 {
			s.store.Close(id)
			s.changed()
		}
		return nil
	})
}

// SendMessage shows the reply immediately as pending and posts it. The
// server echo confirms it; a failed post marks it failed.
func (s *Session) SendMessage(ctx context.Context, id, text, contentType string) (store.Message, error) {
	var pending store.Message
	err := s.call(ctx, func() error {
		msg, err := s.store.AppendPending(id, store.Message{
			Direction:   store.DirectionOutbound,
			Sender:      store.SenderAgent,
			SenderID:    s.claims.AgentID,
			Content:     text,
			ContentType: contentType,
			CreatedAt:   s.now(),
		})
		if err != nil {
			return err
		}
		pending = msg
		s.changed()

		// Detached from the loop context so navigation never cancels a send.
		sendCtx := context.WithoutCancel(s.ctx)
		go func() {
			echo, err := s.backend.SendMessage(sendCtx, id, snapshot.SendRequest{
				ClientMessageID: msg.ClientID,
				Content:         msg.Content,
				ContentType:     msg.ContentType,
			})
			s.post(func() error { return s.finishSend(id, msg, echo, err) })
		}()
		return nil
	})
	if err != nil {
		return store.Message{}, err
	}
	return pending, nil
}

func (s *Session) finishSend(id string, pending store.Message, echo *store.Message, err error) error {
	if err != nil {
		s.logger.Warn("send failed", "conversation_id", id, "client_message_id", pending.ClientID, "error", err)
		s.store.MarkFailed(id, pending.ClientID)
		s.changed()
		if errors.Is(err, snapshot.ErrUnauthorized) {
			return err
		}
		return nil
	}
	if echo.ClientID == "" {
		echo.ClientID = pending.ClientID
	}
	if _, err := s.store.Append(id, *echo, store.OriginLocal); err != nil {
		s.logger.Warn("send response rejected", "conversation_id", id, "error", err)
		return nil
	}
	s.observe(id, store.OriginLocal)
	s.changed()
	return nil
}

// Resolve marks a conversation resolved locally and tells the backend.
// Local changes never notify.
func (s *Session) Resolve(ctx context.Context, id string) error {
	return s.SetState(ctx, id, store.StateResolved)
}

// SetState changes a conversation's state locally and on the backend.
func (s *Session) SetState(ctx context.Context, id string, state store.State) error {
	return s.call(ctx, func() error {
		if _, ok := s.store.Select(id); !ok {
			return fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		st := state
		res, err := s.store.Merge(store.Update{ID: id, At: s.now(), Origin: store.OriginLocal, State: &st})
		if err != nil {
			return err
		}
		s.observe(id, store.OriginLocal)
		s.changed()

		reqCtx := context.WithoutCancel(s.ctx)
		go func() {
			err := s.backend.SetState(reqCtx, id, state)
			if err == nil {
				return
			}
			s.post(func() error {
				s.logger.Warn("state change rejected, reloading", "conversation_id", id, "state", state, "error", err)
				if errors.Is(err, snapshot.ErrUnauthorized) {
					return err
				}
				if len(s.store.Revert(id, res.Previous, res.Applied...)) > 0 {
					s.observe(id, store.OriginLocal)
					s.changed()
				}
				s.startLoad()
				return nil
			})
		}()
		return nil
	})
}

// Typing forwards a typing indicator. Nothing is retried.
func (s *Session) Typing(id string, typing bool) {
	s.channel.Typing(id, typing)
}

// SetPresence publishes the agent's availability.
func (s *Session) SetPresence(status string) error {
	err := s.channel.SetPresence(status)
	if errors.Is(err, realtime.ErrNotConnected) {
		// Sent once the channel reconnects.
		return nil
	}
	return err
}
