// ABOUTME: Tests for the view projector
// ABOUTME: Covers filter predicates, search, sort keys, purity and projecting a live store

package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-console/internal/sla"
	"github.com/2389/agent-console/internal/store"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func ids(rows []Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Conversation.ID)
	}
	return out
}

func fixture() []store.Conversation {
	return []store.Conversation{
		{ID: "c", State: store.StateOpen, Priority: store.PriorityP2, Channel: store.ChannelEmail,
			Subject: "Invoice question", CreatedAt: base, LastActivityAt: base.Add(3 * time.Minute), AssigneeID: "agent-1"},
		{ID: "a", State: store.StateOpen, Priority: store.PriorityP0, Channel: store.ChannelWebChat,
			Subject: "Site down", Tags: []string{"Outage"}, CreatedAt: base, LastActivityAt: base.Add(1 * time.Minute)},
		{ID: "b", State: store.StateResolved, Priority: store.PriorityP1, Channel: store.ChannelSMS,
			Subject: "Password reset", CreatedAt: base, LastActivityAt: base.Add(5 * time.Minute), AssigneeID: "agent-2",
			LastMessagePreview: "Thanks, that WORKED"},
		{ID: "d", State: store.StatePending, Priority: store.PriorityP3, Channel: store.ChannelVoice,
			Subject: "Callback", CreatedAt: base, LastActivityAt: base.Add(2 * time.Minute), AssigneeID: "agent-1"},
	}
}

func TestProject_Filters(t *testing.T) {
	ev := sla.NewEvaluator(sla.DefaultPolicy())
	convs := fixture()

	tests := []struct {
		name   string
		filter Filter
		query  string
		want   []string
	}{
		{"all", Filter{}, "", []string{"a", "b", "c", "d"}},
		{"state open", Filter{States: []store.State{store.StateOpen}}, "", []string{"a", "c"}},
		{"open or pending", Filter{States: []store.State{store.StateOpen, store.StatePending}}, "", []string{"a", "c", "d"}},
		{"assignee", Filter{AssigneeID: "agent-1"}, "", []string{"c", "d"}},
		{"unassigned", Filter{AssigneeID: Unassigned}, "", []string{"a"}},
		{"channel", Filter{Channels: []store.Channel{store.ChannelSMS}}, "", []string{"b"}},
		{"search subject", Filter{}, "invoice", []string{"c"}},
		{"search tag case-insensitive", Filter{}, "outage", []string{"a"}},
		{"search preview", Filter{}, "worked", []string{"b"}},
		{"filter query and search combine", Filter{Query: "pass"}, "reset", []string{"b"}},
		{"conjunction", Filter{States: []store.State{store.StateOpen}, AssigneeID: "agent-1"}, "", []string{"c"}},
		{"no match", Filter{}, "nothing-like-this", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := Project(convs, tt.filter, SortSLA, tt.query, ev, base)
			assert.ElementsMatch(t, tt.want, ids(rows))
		})
	}
}

func TestProject_SortKeys(t *testing.T) {
	ev := sla.NewEvaluator(sla.DefaultPolicy())
	convs := fixture()

	tests := []struct {
		key  SortKey
		want []string
	}{
		{SortSLA, []string{"a", "b", "c", "d"}},
		{SortSeverity, []string{"a", "b", "c", "d"}},
		{SortNewest, []string{"b", "c", "d", "a"}},
		{SortOldest, []string{"a", "d", "c", "b"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			assert.Equal(t, tt.want, ids(Project(convs, Filter{}, tt.key, "", ev, base)))
		})
	}
}

func TestProject_SLASortPutsBreachedFirst(t *testing.T) {
	ev := sla.NewEvaluator(sla.DefaultPolicy())
	convs := []store.Conversation{
		{ID: "late", Priority: store.PriorityP3, CreatedAt: base.Add(-10 * time.Hour)},
		{ID: "fresh", Priority: store.PriorityP0, CreatedAt: base},
	}

	rows := Project(convs, Filter{}, SortSLA, "", ev, base)
	require.Len(t, rows, 2)
	assert.Equal(t, "late", rows[0].Conversation.ID)
	assert.Equal(t, sla.TierBreached, rows[0].SLA.Tier)
	assert.Negative(t, rows[0].SLA.MinutesRemaining)
}

func TestProject_TiesBreakByID(t *testing.T) {
	ev := sla.NewEvaluator(sla.DefaultPolicy())
	convs := []store.Conversation{
		{ID: "z", Priority: store.PriorityP1, CreatedAt: base},
		{ID: "m", Priority: store.PriorityP1, CreatedAt: base},
		{ID: "b", Priority: store.PriorityP1, CreatedAt: base},
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, []string{"b", "m", "z"}, ids(Project(convs, Filter{}, SortSLA, "", ev, base)))
	}
}

func TestProject_DoesNotMutateInput(t *testing.T) {
	ev := sla.NewEvaluator(sla.DefaultPolicy())
	convs := fixture()
	order := []string{convs[0].ID, convs[1].ID, convs[2].ID, convs[3].ID}

	rows := Project(convs, Filter{}, SortNewest, "", ev, base)
	rows[0].Conversation.Tags = append(rows[0].Conversation.Tags, "x")
	rows[0].Conversation.Subject = "changed"

	assert.Equal(t, order, []string{convs[0].ID, convs[1].ID, convs[2].ID, convs[3].ID})
	assert.Equal(t, "Password reset", convs[2].Subject)

	again := Project(convs, Filter{}, SortNewest, "", ev, base)
	assert.NotSame(t, &rows[0], &again[0])
}

func TestProject_AfterSeedAndAppend(t *testing.T) {
	s := store.New(store.Options{})
	s.Seed([]store.Conversation{
		{ID: "A", State: store.StateOpen, Priority: store.PriorityP1, Channel: store.ChannelWebChat, CreatedAt: base, UpdatedAt: base},
		{ID: "B", State: store.StateResolved, Priority: store.PriorityP0, Channel: store.ChannelEmail, CreatedAt: base, UpdatedAt: base},
	}, base)
	_, err := s.Append("A", store.Message{
		ID:        "m1",
		Direction: store.DirectionInbound,
		Sender:    store.SenderCustomer,
		Content:   "hello?",
		CreatedAt: base.Add(time.Minute),
	}, store.OriginRemote)
	require.NoError(t, err)

	rows := Project(s.SelectAll(), Filter{States: []store.State{store.StateOpen}}, SortSLA, "", sla.NewEvaluator(sla.DefaultPolicy()), base.Add(2*time.Minute))

	require.Equal(t, []string{"A"}, ids(rows))
	assert.Equal(t, 1, rows[0].Conversation.MessageCount)
	assert.Equal(t, 1, rows[0].Conversation.UnreadCount)
	assert.Equal(t, "hello?", rows[0].Conversation.LastMessagePreview)
}

func TestFilter_Fingerprint(t *testing.T) {
	a := Filter{States: []store.State{store.StatePending, store.StateOpen}, Query: " Refund "}
	b := Filter{States: []store.State{store.StateOpen, store.StatePending, store.StateOpen}, Query: "refund"}
	c := Filter{States: []store.State{store.StateOpen}, Query: "refund"}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestParseSortKey(t *testing.T) {
	k, err := ParseSortKey("")
	require.NoError(t, err)
	assert.Equal(t, SortSLA, k)

	k, err = ParseSortKey("Newest")
	require.NoError(t, err)
	assert.Equal(t, SortNewest, k)

	_, err = ParseSortKey("random")
	assert.Error(t, err)
}
