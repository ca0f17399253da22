// ABOUTME: Projects the conversation collection into the filtered, searched, sorted list
// ABOUTME: Pure: never mutates its inputs and returns a fresh slice every call

package view

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/2389/agent-console/internal/sla"
	"github.com/2389/agent-console/internal/store"
)

// Unassigned matches conversations without an assignee when used as
// Filter.AssigneeID.
const Unassigned = "-"

// SortKey selects the list ordering.
type SortKey string

const (
	SortSLA      SortKey = "sla"
	SortSeverity SortKey = "severity"
	SortNewest   SortKey = "newest"
	SortOldest   SortKey = "oldest"
)

// ParseSortKey validates a sort key; the empty string means SortSLA.
func ParseSortKey(s string) (SortKey, error) {
	switch k := SortKey(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return SortSLA, nil
	case SortSLA, SortSeverity, SortNewest, SortOldest:
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key %q", s)
}

// Filter is a conjunction of independent predicates. Empty fields match all.
type Filter struct {
	States     []store.State
	AssigneeID string
	Channels   []store.Channel
	Query      string
}

// Fingerprint is a stable identity for the filter, used to recognise
// snapshot responses for a filter that is no longer active.
func (f Filter) Fingerprint() string {
	states := make([]string, 0, len(f.States))
	for _, s := range f.States {
		states = append(states, string(s))
	}
	slices.Sort(states)
	states = slices.Compact(states)

	channels := make([]string, 0, len(f.Channels))
	for _, c := range f.Channels {
		channels = append(channels, string(c))
	}
	slices.Sort(channels)
	channels = slices.Compact(channels)

	return fmt.Sprintf("states=%s;assignee=%s;channels=%s;q=%s",
		strings.Join(states, ","),
		f.AssigneeID,
		strings.Join(channels, ","),
		strings.ToLower(strings.TrimSpace(f.Query)))
}

// Match reports whether c passes every predicate.
func (f Filter) Match(c *store.Conversation) bool {
	if len(f.States) > 0 && !slices.Contains(f.States, c.State) {
		return false
	}
	switch f.AssigneeID {
	case "":
	case Unassigned:
		if c.AssigneeID != "" {
			return false
		}
	default:
		if c.AssigneeID != f.AssigneeID {
			return false
		}
	}
	if len(f.Channels) > 0 && !slices.Contains(f.Channels, c.Channel) {
		return false
	}
	return matchesQuery(c, f.Query)
}

// matchesQuery is a case-insensitive substring search over subject, tags
// and the last message preview.
func matchesQuery(c *store.Conversation, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Subject), q) ||
		strings.Contains(strings.ToLower(c.LastMessagePreview), q) {
		return true
	}
	for _, tag := range c.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}
	return false
}

// Row is one projected conversation with its SLA status at projection time.
type Row struct {
	Conversation store.Conversation
	SLA          sla.Status
}

// Project filters, searches and sorts conversations. query is combined with
// f.Query; both must match. The result is a new slice of copies.
func Project(conversations []store.Conversation, f Filter, key SortKey, query string, ev *sla.Evaluator, now time.Time) []Row {
	rows := make([]Row, 0, len(conversations))
	for i := range conversations {
		c := &conversations[i]
		if !f.Match(c) || !matchesQuery(c, query) {
			continue
		}
		rows = append(rows, Row{Conversation: c.Clone(), SLA: ev.Evaluate(*c, now)})
	}

	slices.SortStableFunc(rows, comparator(key))
	return rows
}

func comparator(key SortKey) func(a, b Row) int {
	var primary func(a, b Row) int
	switch key {
	case SortSeverity:
		primary = func(a, b Row) int {
			return cmp.Compare(a.Conversation.Priority.Rank(), b.Conversation.Priority.Rank())
		}
	case SortNewest:
		primary = func(a, b Row) int {
			return b.Conversation.LastActivityAt.Compare(a.Conversation.LastActivityAt)
		}
	case SortOldest:
		primary = func(a, b Row) int {
			return a.Conversation.LastActivityAt.Compare(b.Conversation.LastActivityAt)
		}
	default:
		primary = func(a, b Row) int {
			return cmp.Compare(a.SLA.MinutesRemaining, b.SLA.MinutesRemaining)
		}
	}
	return func(a, b Row) int {
		if c := primary(a, b); c != 0 {
			return c
		}
		return strings.Compare(a.Conversation.ID, b.Conversation.ID)
	}
}
