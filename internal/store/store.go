// ABOUTME: In-memory conversation collection with field-group merge semantics
// ABOUTME: Seed, Merge, Select and SelectAll; message handling lives in messages.go

package store

import (
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/2389/agent-console/internal/dedupe"
)

const (
	defaultTypingTTL    = 6 * time.Second
	defaultDedupeTTL    = 30 * time.Minute
	defaultDedupeWindow = 20000
)

type entry struct {
	conv     Conversation
	stamps   [groupCount]time.Time
	local    [groupCount]bool // group holds an unconfirmed local value
	open     bool
	messages []Message       // retained only while open
	pending  map[string]bool // client ids awaiting a server echo
	typing   map[string]time.Time
}

func newEntry(id string) *entry {
	return &entry{
		conv:    Conversation{ID: id},
		pending: make(map[string]bool),
		typing:  make(map[string]time.Time),
	}
}

// newest returns the latest stamp across all groups.
func (e *entry) newest() time.Time {
	var t time.Time
	for _, s := range e.stamps {
		t = laterOf(t, s)
	}
	return t
}

// Result describes the outcome of a mutation.
type Result struct {
	Created   bool
	Applied   []Group
	Stale     []Group
	Previous  Conversation
	Current   Conversation
	Duplicate bool     // Append: message id already seen
	Confirmed bool     // Append: server echo confirmed a pending message
	Message   *Message // Append: the stored message
}

// Changed reports whether the mutation altered the collection.
func (r Result) Changed() bool {
	return r.Created || len(r.Applied) > 0 || (r.Message != nil && !r.Duplicate)
}

// SeedResult summarises a Seed call.
type SeedResult struct {
	Merged   int
	Rejected int
	Evicted  []string
}

// Options configures a Store.
type Options struct {
	TypingTTL    time.Duration
	DedupeTTL    time.Duration
	DedupeWindow int
	Logger       *slog.Logger
}

// Store is the canonical conversation collection.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	seen      *dedupe.Window
	typingTTL time.Duration
	logger    *slog.Logger
}

// New creates an empty store.
func New(opts Options) *Store {
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = defaultTypingTTL
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = defaultDedupeTTL
	}
	if opts.DedupeWindow <= 0 {
		opts.DedupeWindow = defaultDedupeWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		entries:   make(map[string]*entry),
		seen:      dedupe.New(opts.DedupeTTL, opts.DedupeWindow),
		typingTTL: opts.TypingTTL,
		logger:    opts.Logger.With("component", "store"),
	}
}

// Seed reconciles a REST snapshot taken at asOf into the collection. Each
// record is merged with its UpdatedAt as the stamp for every group, so push
// events newer than the snapshot survive. Entries missing from the snapshot
// are evicted unless they are open or were written after asOf.
func (s *Store) Seed(conversations []Conversation, asOf time.Time) SeedResult {
	return s.seed(conversations, asOf, true)
}

// SeedPartial merges an incomplete snapshot, such as one cut short by a page
// limit, without evicting anything.
func (s *Store) SeedPartial(conversations []Conversation, asOf time.Time) SeedResult {
	return s.seed(conversations, asOf, false)
}

func (s *Store) seed(conversations []Conversation, asOf time.Time, evict bool) SeedResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res SeedResult
	present := make(map[string]bool, len(conversations))
	for _, c := range conversations {
		u := UpdateFromConversation(c, asOf)
		if _, err := s.mergeLocked(u); err != nil {
			s.logger.Warn("dropping malformed snapshot record", "conversation_id", c.ID, "error", err)
			res.Rejected++
			continue
		}
		if e := s.entries[c.ID]; e != nil && c.UnreadCount > e.conv.UnreadCount && !e.open {
			e.conv.UnreadCount = c.UnreadCount
		}
		present[c.ID] = true
		res.Merged++
	}

	for id, e := range s.entries {
		if !evict || present[id] || e.open || !e.newest().Before(asOf) {
			continue
		}
		delete(s.entries, id)
		res.Evicted = append(res.Evicted, id)
	}
	slices.Sort(res.Evicted)

	s.logger.Debug("seeded store",
		"merged", res.Merged,
		"rejected", res.Rejected,
		"evicted", len(res.Evicted))
	return res
}

// Merge applies a partial update. Each touched group is written only if the
// update is at least as new as the group's last write; older groups are
// reported in Result.Stale and left untouched. Unknown ids are upserted.
//
// A local update always applies but leaves the group stamps alone, so the
// next authoritative write for the group replaces it whatever the client
// clock says. Revert undoes it if the backend rejects the action.
func (s *Store) Merge(u Update) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(u)
}

func (s *Store) mergeLocked(u Update) (Result, error) {
	if err := u.Validate(); err != nil {
		return Result{}, err
	}

	e, ok := s.entries[u.ID]
	if !ok {
		e = newEntry(u.ID)
		s.entries[u.ID] = e
	}
	res := Result{Created: !ok, Previous: e.conv.Clone()}

	for _, g := range u.Groups() {
		if u.Origin == OriginLocal {
			u.apply(g, &e.conv)
			e.local[g] = true
			res.Applied = append(res.Applied, g)
			continue
		}
		if u.At.Before(e.stamps[g]) {
			res.Stale = append(res.Stale, g)
			continue
		}
		u.apply(g, &e.conv)
		e.stamps[g] = u.At
		e.local[g] = false
		res.Applied = append(res.Applied, g)
	}
	if len(res.Applied) > 0 && u.Origin != OriginLocal {
		e.conv.UpdatedAt = laterOf(e.conv.UpdatedAt, u.At)
	}
	if len(res.Stale) > 0 {
		s.logger.Debug("ignored stale field groups",
			"conversation_id", u.ID,
			"at", u.At,
			"stale", res.Stale)
	}

	res.Current = e.conv.Clone()
	return res, nil
}

// Revert restores groups of a conversation to their values in prev, undoing
// a rejected local update. Groups written by the backend since the local
// update are kept. It returns the groups restored.
func (s *Store) Revert(id string, prev Conversation, groups ...Group) []Group {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil
	}
	u := UpdateFromConversation(prev, e.newest())
	var reverted []Group
	for _, g := range groups {
		// Activity only moves forward and is never set locally.
		if g < 0 || g >= GroupActivity || !e.local[g] {
			continue
		}
		u.apply(g, &e.conv)
		e.local[g] = false
		reverted = append(reverted, g)
	}
	if len(reverted) > 0 {
		s.logger.Debug("reverted local change", "conversation_id", id, "groups", reverted)
	}
	return reverted
}

// Select returns a copy of one conversation.
func (s *Store) Select(id string) (Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return Conversation{}, false
	}
	return e.conv.Clone(), true
}

// SelectAll returns copies of every conversation ordered by id.
func (s *Store) SelectAll() []Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Conversation, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.conv.Clone())
	}
	slices.SortFunc(out, func(a, b Conversation) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of conversations held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear empties the store. Called on session teardown.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*entry)
	s.seen.Reset()
	s.logger.Debug("store cleared")
}

// SetTyping records or clears a typing indicator for a participant.
func (s *Store) SetTyping(conversationID, participant string, typing bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[conversationID]
	if !ok {
		return
	}
	if typing {
		e.typing[participant] = at
	} else {
		delete(e.typing, participant)
	}
}

// Typing returns participants currently typing in a conversation, sorted.
func (s *Store) Typing(conversationID string, now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[conversationID]
	if !ok {
		return nil
	}
	var who []string
	for p, at := range e.typing {
		if now.Sub(at) < s.typingTTL {
			who = append(who, p)
		}
	}
	slices.Sort(who)
	return who
}
