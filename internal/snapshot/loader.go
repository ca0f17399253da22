// ABOUTME: Snapshot Loader: walks paginated REST collections into point-in-time snapshots
// ABOUTME: Each snapshot carries the fingerprint of the filter it was requested for

package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/agent-console/internal/store"
	"github.com/2389/agent-console/internal/view"
)

// Snapshot is the conversation collection for one filter at one time.
type Snapshot struct {
	Fingerprint   string
	RequestedAt   time.Time
	Conversations []store.Conversation
	Truncated     bool // MaxPages reached before the collection ended
}

// History is a fetched message history for one conversation.
type History struct {
	ConversationID string
	Messages       []store.Message
}

// Backend is what the loader needs from the REST client.
type Backend interface {
	ListConversations(ctx context.Context, q ListQuery, cursor string) (*Page[store.Conversation], error)
	ListMessages(ctx context.Context, id, cursor string, limit int) (*Page[store.Message], error)
}

// Loader fetches snapshots on demand.
type Loader struct {
	backend  Backend
	pageSize int
	maxPages int
	now      func() time.Time
	logger   *slog.Logger
}

// NewLoader creates a loader. Pass nil logger for default.
func NewLoader(backend Backend, pageSize, maxPages int, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	if maxPages <= 0 {
		maxPages = 20
	}
	return &Loader{
		backend:  backend,
		pageSize: pageSize,
		maxPages: maxPages,
		now:      time.Now,
		logger:   logger.With("component", "snapshot"),
	}
}

// Load fetches every page of conversations matching filter.
func (l *Loader) Load(ctx context.Context, filter view.Filter) (*Snapshot, error) {
	snap := &Snapshot{
		Fingerprint: filter.Fingerprint(),
		RequestedAt: l.now(),
	}
	q := ListQuery{
		States:     filter.States,
		AssigneeID: filter.AssigneeID,
		Channels:   filter.Channels,
		Search:     filter.Query,
		Limit:      l.pageSize,
	}

	cursor := ""
	for page := 0; ; page++ {
		if page == l.maxPages {
			snap.Truncated = true
			l.logger.Warn("snapshot truncated", "fingerprint", snap.Fingerprint, "pages", page)
			break
		}
		result, err := l.backend.ListConversations(ctx, q, cursor)
		if err != nil {
			return nil, fmt.Errorf("listing conversations: %w", err)
		}
		snap.Conversations = append(snap.Conversations, result.Items...)
		if !result.HasMore || result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	l.logger.Debug("snapshot loaded",
		"fingerprint", snap.Fingerprint,
		"conversations", len(snap.Conversations))
	return snap, nil
}

// LoadHistory fetches a conversation's full message history.
func (l *Loader) LoadHistory(ctx context.Context, conversationID string) (*History, error) {
	h := &History{ConversationID: conversationID}

	cursor := ""
	for page := 0; page < l.maxPages; page++ {
		result, err := l.backend.ListMessages(ctx, conversationID, cursor, l.pageSize)
		if err != nil {
			return nil, fmt.Errorf("listing messages: %w", err)
		}
		h.Messages = append(h.Messages, result.Items...)
		if !result.HasMore || result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}
	return h, nil
}
