// ABOUTME: Bounded, TTL-based window of seen message keys
// ABOUTME: Used by the conversation store to make message appends idempotent

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Window tracks keys seen within the last ttl, holding at most maxSize keys.
// The oldest key is evicted first when the window is full. Expired keys are
// pruned lazily on Remember, so a Window needs no background goroutine.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// Option configures a Window.
type Option func(*Window)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

// New creates a window. A non-positive ttl means keys never expire;
// a non-positive maxSize defaults to 10000.
func New(ttl time.Duration, maxSize int, opts ...Option) *Window {
	if maxSize <= 0 {
		maxSize = 10000
	}
	w := &Window{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Seen reports whether key is inside the window.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.seen[key]
	return ok && !w.expired(e, w.now())
}

// Remember marks key as seen and reports whether it was already present.
// Check and mark happen under one lock.
func (w *Window) Remember(key string) (duplicate bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if e, ok := w.seen[key]; ok {
		if !w.expired(e, now) {
			return true
		}
		w.order.Remove(e.element)
		delete(w.seen, key)
	}

	w.pruneFront(now)
	if len(w.seen) >= w.maxSize {
		w.evict(w.order.Front())
	}

	w.seen[key] = &entry{seenAt: now, element: w.order.PushBack(key)}
	return false
}

// Forget removes key from the window.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if e, ok := w.seen[key]; ok {
		w.evict(e.element)
	}
}

// Len returns the number of keys currently held, expired or not.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Reset drops every key.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seen = make(map[string]*entry)
	w.order.Init()
}

func (w *Window) expired(e *entry, now time.Time) bool {
	return w.ttl > 0 && now.Sub(e.seenAt) >= w.ttl
}

// pruneFront drops expired keys from the old end. Keys are ordered by
// insertion time, so pruning stops at the first live one.
func (w *Window) pruneFront(now time.Time) {
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		key, _ := front.Value.(string)
		if !w.expired(w.seen[key], now) {
			return
		}
		w.evict(front)
	}
}

// evict must be called with mu held.
func (w *Window) evict(el *list.Element) {
	if el == nil {
		return
	}
	key, _ := el.Value.(string)
	w.order.Remove(el)
	delete(w.seen, key)
}
