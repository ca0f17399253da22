// ABOUTME: Tests for conversation store seeding and field-group merging
// ABOUTME: Covers ordering robustness, merge independence, local reverts and malformed updates

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return t0.Add(time.Duration(minutes) * time.Minute)
}

func ptr[T any](v T) *T { return &v }

func conv(id string, state State, prio Priority, updated time.Time) Conversation {
	return Conversation{
		ID:             id,
		Channel:        ChannelWebChat,
		State:          state,
		Priority:       prio,
		CreatedAt:      updated,
		LastActivityAt: updated,
		UpdatedAt:      updated,
	}
}

func TestMerge_OutOfOrderStateChangeDoesNotRegress(t *testing.T) {
	s := New(Options{})
	s.Seed([]Conversation{conv("A", StateOpen, PriorityP1, at(0))}, at(0))

	_, err := s.Merge(Update{ID: "A", At: at(5), State: ptr(StateResolved)})
	require.NoError(t, err)

	res, err := s.Merge(Update{ID: "A", At: at(3), State: ptr(StatePending)})
	require.NoError(t, err)
	assert.Equal(t, []Group{GroupStatus}, res.Stale)
	assert.Empty(t, res.Applied)

	got, _ := s.Select("A")
	assert.Equal(t, StateResolved, got.State)
}

func TestMerge_FieldGroupsAreIndependent(t *testing.T) {
	s := New(Options{})
	s.Seed([]Conversation{conv("A", StateOpen, PriorityP1, at(0))}, at(0))

	_, err := s.Merge(Update{ID: "A", At: at(20), State: ptr(StatePending)})
	require.NoError(t, err)

	res, err := s.Merge(Update{ID: "A", At: at(10), Tags: []string{"vip", "billing"}})
	require.NoError(t, err)
	assert.Equal(t, []Group{GroupTags}, res.Applied)

	got, _ := s.Select("A")
	assert.Equal(t, StatePending, got.State, "older tag update must not revert status")
	assert.Equal(t, []string{"billing", "vip"}, got.Tags)
}

func TestMerge_EqualTimestampApplies(t *testing.T) {
	s := New(Options{})
	_, err := s.Merge(Update{ID: "A", At: at(1), State: ptr(StateOpen)})
	require.NoError(t, err)

	res, err := s.Merge(Update{ID: "A", At: at(1), State: ptr(StatePending)})
	require.NoError(t, err)
	assert.Equal(t, []Group{GroupStatus}, res.Applied)
}

func TestMerge_UnknownIDIsUpserted(t *testing.T) {
	s := New(Options{})

	res, err := s.Merge(Update{ID: "ghost", At: at(2), AssigneeID: ptr("agent-7")})
	require.NoError(t, err)
	assert.True(t, res.Created)

	got, ok := s.Select("ghost")
	require.True(t, ok)
	assert.Equal(t, "agent-7", got.AssigneeID)
}

func TestMerge_Malformed(t *testing.T) {
	tests := []struct {
		name string
		u    Update
	}{
		{"missing id", Update{At: at(1), State: ptr(StateOpen)}},
		{"missing timestamp", Update{ID: "A", State: ptr(StateOpen)}},
		{"unknown state", Update{ID: "A", At: at(1), State: ptr(State("archived"))}},
		{"unknown priority", Update{ID: "A", At: at(1), Priority: ptr(Priority("P9"))}},
		{"unknown channel", Update{ID: "A", At: at(1), Channel: ptr(Channel("fax"))}},
		{"negative count", Update{ID: "A", At: at(1), MessageCount: ptr(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Options{})
			_, err := s.Merge(tt.u)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Equal(t, 0, s.Len(), "malformed update must not touch the store")
		})
	}
}

func TestMerge_PriorityAliasesNormalize(t *testing.T) {
	s := New(Options{})
	_, err := s.Merge(Update{ID: "A", At: at(1), Priority: ptr(Priority("urgent"))})
	require.NoError(t, err)

	got, _ := s.Select("A")
	assert.Equal(t, PriorityP0, got.Priority)
}

func TestMerge_ActivityNeverRegresses(t *testing.T) {
	s := New(Options{})
	_, err := s.Merge(Update{ID: "A", At: at(10), LastActivityAt: ptr(at(10)), MessageCount: ptr(5)})
	require.NoError(t, err)

	_, err = s.Merge(Update{ID: "A", At: at(12), LastActivityAt: ptr(at(4)), MessageCount: ptr(2)})
	require.NoError(t, err)

	got, _ := s.Select("A")
	assert.Equal(t, at(10), got.LastActivityAt)
	assert.Equal(t, 5, got.MessageCount)
}

func TestMerge_LocalUpdateYieldsToAuthoritativeData(t *testing.T) {
	s := New(Options{})
	s.Seed([]Conversation{conv("A", StateOpen, PriorityP1, at(0))}, at(0))

	// Client clock runs ahead of the backend.
	res, err := s.Merge(Update{ID: "A", At: at(60), Origin: OriginLocal, State: ptr(StateResolved)})
	require.NoError(t, err)
	assert.Equal(t, []Group{GroupStatus}, res.Applied)
	got, _ := s.Select("A")
	assert.Equal(t, StateResolved, got.State)
	assert.Equal(t, at(0), got.UpdatedAt)

	// Reload after a rejection: the server record is still open.
	s.Seed([]Conversation{conv("A", StateOpen, PriorityP1, at(0))}, at(2))
	got, _ = s.Select("A")
	assert.Equal(t, StateOpen, got.State)

	_, err = s.Merge(Update{ID: "A", At: at(60), Origin: OriginLocal, State: ptr(StatePending)})
	require.NoError(t, err)
	_, err = s.Merge(Update{ID: "A", At: at(3), State: ptr(StateClosed)})
	require.NoError(t, err)
	got, _ = s.Select("A")
	assert.Equal(t, StateClosed, got.State, "remote event stamped before the local clock still applies")
}

func TestRevert_RestoresRejectedLocalUpdate(t *testing.T) {
	s := New(Options{})
	s.Seed([]Conversation{conv("A", StateOpen, PriorityP1, at(0))}, at(0))

	res, err := s.Merge(Update{ID: "A", At: at(1), Origin: OriginLocal, State: ptr(StateResolved)})
	require.NoError(t, err)

	reverted := s.Revert("A", res.Previous, res.Applied...)
	assert.Equal(t, []Group{GroupStatus}, reverted)
	got, _ := s.Select("A")
	assert.Equal(t, StateOpen, got.State)

	assert.Empty(t, s.Revert("A", res.Previous, GroupStatus), "nothing left to revert")
	assert.Empty(t, s.Revert("missing", res.Previous, GroupStatus))
}

func TestRevert_KeepsAuthoritativeWriteSinceLocalUpdate(t *testing.T) {
	s := New(Options{})
	s.Seed([]Conversation{conv("A", StateOpen, PriorityP1, at(0))}, at(0))

	res, err := s.Merge(Update{ID: "A", At: at(1), Origin: OriginLocal, State: ptr(StateResolved)})
	require.NoError(t, err)
	_, err = s.Merge(Update{ID: "A", At: at(2), State: ptr(StatePending)})
	require.NoError(t, err)

	assert.Empty(t, s.Revert("A", res.Previous, res.Applied...))
	got, _ := s.Select("A")
	assert.Equal(t, StatePending, got.State)
}

func TestSeed_KeepsNewerPushState(t *testing.T) {
	s := New(Options{})

	// Push event lands before the snapshot that was requested earlier.
	_, err := s.Merge(Update{ID: "A", At: at(8), State: ptr(StateResolved)})
	require.NoError(t, err)

	res := s.Seed([]Conversation{conv("A", StateOpen, PriorityP2, at(5))}, at(6))
	assert.Equal(t, 1, res.Merged)

	got, _ := s.Select("A")
	assert.Equal(t, StateResolved, got.State)
	assert.Equal(t, PriorityP2, got.Priority, "untouched groups still seed")
}

func TestSeed_EvictsEntriesMissingFromSnapshot(t *testing.T) {
	s := New(Options{})
	s.Seed([]Conversation{
		conv("A", StateOpen, PriorityP1, at(0)),
		conv("B", StateOpen, PriorityP1, at(0)),
		conv("C", StateOpen, PriorityP1, at(0)),
	}, at(0))
	s.Open("C")
	_, err := s.Merge(Update{ID: "D", At: at(20), State: ptr(StateOpen)})
	require.NoError(t, err)

	res := s.Seed([]Conversation{conv("A", StateOpen, PriorityP1, at(10))}, at(10))

	assert.Equal(t, []string{"B"}, res.Evicted)
	_, ok := s.Select("C")
	assert.True(t, ok, "open conversations are kept")
	_, ok = s.Select("D")
	assert.True(t, ok, "entries written after the snapshot are kept")
}

func TestSeedPartial_KeepsEverything(t *testing.T) {
	s := New(Options{})
	s.Seed([]Conversation{
		conv("A", StateOpen, PriorityP1, at(0)),
		conv("B", StateOpen, PriorityP1, at(0)),
	}, at(0))

	res := s.SeedPartial([]Conversation{conv("A", StatePending, PriorityP1, at(10))}, at(10))

	assert.Empty(t, res.Evicted)
	assert.Equal(t, 2, s.Len())
	a, _ := s.Select("A")
	assert.Equal(t, StatePending, a.State)
}

func TestSeed_RejectsMalformedRecords(t *testing.T) {
	s := New(Options{})
	bad := conv("X", State("weird"), PriorityP1, at(0))

	res := s.Seed([]Conversation{bad, conv("A", StateOpen, PriorityP1, at(0))}, at(0))

	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.Merged)
	assert.Equal(t, 1, s.Len())
}

func TestSelect_ReturnsCopies(t *testing.T) {
	s := New(Options{})
	c := conv("A", StateOpen, PriorityP1, at(0))
	c.Tags = []string{"vip"}
	s.Seed([]Conversation{c}, at(0))

	got, _ := s.Select("A")
	got.Tags[0] = "mutated"

	again, _ := s.Select("A")
	assert.Equal(t, []string{"vip"}, again.Tags)
}

func TestSelectAll_OrderedByID(t *testing.T) {
	s := New(Options{})
	s.Seed([]Conversation{
		conv("c", StateOpen, PriorityP1, at(0)),
		conv("a", StateOpen, PriorityP1, at(0)),
		conv("b", StateOpen, PriorityP1, at(0)),
	}, at(0))

	var ids []string
	for _, c := range s.SelectAll() {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestClear(t *testing.T) {
	s := New(Options{})
	s.Seed([]Conversation{conv("A", StateOpen, PriorityP1, at(0))}, at(0))

	s.Clear()

	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.SelectAll())
}

func TestTyping_ExpiresAfterTTL(t *testing.T) {
	s := New(Options{TypingTTL: 5 * time.Second})
	s.Seed([]Conversation{conv("A", StateOpen, PriorityP1, at(0))}, at(0))

	s.SetTyping("A", "customer-1", true, at(1))
	s.SetTyping("A", "agent-2", true, at(1))
	assert.Equal(t, []string{"agent-2", "customer-1"}, s.Typing("A", at(1).Add(4*time.Second)))

	s.SetTyping("A", "agent-2", false, at(1))
	assert.Equal(t, []string{"customer-1"}, s.Typing("A", at(1).Add(time.Second)))
	assert.Empty(t, s.Typing("A", at(1).Add(5*time.Second)))
}

func TestParsers(t *testing.T) {
	p, err := ParsePriority("High")
	require.NoError(t, err)
	assert.Equal(t, PriorityP1, p)

	ch, err := ParseChannel("WhatsApp")
	require.NoError(t, err)
	assert.Equal(t, ChannelWhatsApp, ch)

	_, err = ParseState("archived")
	assert.ErrorIs(t, err, ErrMalformed)

	assert.Less(t, PriorityP0.Rank(), PriorityP3.Rank())
	assert.Equal(t, 4, Priority("").Rank())
}
