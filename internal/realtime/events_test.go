// ABOUTME: Tests for frame decoding, validation and the encode round trip
// ABOUTME: Malformed payloads must be rejected with ErrMalformedFrame

package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/agent-console/internal/store"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func TestDecode_MessageReceived(t *testing.T) {
	frame := `{"type":"message.received","conversation_id":"c1","seq":4,
		"data":{"id":"m1","direction":"inbound","sender":"customer","content":"hello",
		"created_at":"2025-03-01T09:05:00Z"}}`

	ev, err := Decode([]byte(frame))
	require.NoError(t, err)

	msg, ok := ev.(MessageReceived)
	require.True(t, ok)
	assert.Equal(t, "c1", msg.Conversation())
	assert.Equal(t, "c1", msg.Message.ConversationID)
	assert.Equal(t, "m1", msg.Message.ID)
	// Falls back to the message timestamp when the frame has none.
	assert.Equal(t, t0.Add(5*time.Minute), msg.At)
}

func TestDecode_StateChanged(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"conversation.state_changed","conversation_id":"c1",
		"timestamp":"2025-03-01T09:00:05Z","data":{"state":"Resolved"}}`))
	require.NoError(t, err)

	sc := ev.(StateChanged)
	assert.Equal(t, store.StateResolved, sc.State)
	u := sc.Update()
	assert.Equal(t, "c1", u.ID)
	assert.Equal(t, t0.Add(5*time.Second), u.At)
	assert.Equal(t, []store.Group{store.GroupStatus}, u.Groups())
}

func TestDecode_AssignedAllowsUnassign(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"conversation.assigned","conversation_id":"c1",
		"timestamp":"2025-03-01T09:00:00Z","data":{"assignee_id":"","assigned_by":"lead"}}`))
	require.NoError(t, err)

	a := ev.(Assigned)
	assert.Empty(t, a.AssigneeID)
	assert.Equal(t, "lead", a.AssignedBy)
	require.NotNil(t, a.Update().AssigneeID)
}

func TestDecode_ConversationUpdated(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"conversation.updated","conversation_id":"c1",
		"timestamp":"2025-03-01T09:00:00Z","data":{"tags":[],"priority":"urgent"}}`))
	require.NoError(t, err)

	cu := ev.(ConversationUpdated)
	require.NotNil(t, cu.Tags, "empty tag list clears tags")
	assert.Empty(t, cu.Tags)
	require.NotNil(t, cu.Priority)
	assert.Equal(t, store.PriorityP0, *cu.Priority)
	assert.Nil(t, cu.Subject)
	u := cu.Update()
	assert.ElementsMatch(t, []store.Group{store.GroupTags, store.GroupPriority}, u.Groups())
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `{`},
		{"missing type", `{"conversation_id":"c1"}`},
		{"missing conversation", `{"type":"conversation.state_changed","data":{"state":"open"}}`},
		{"missing data", `{"type":"conversation.state_changed","conversation_id":"c1","timestamp":"2025-03-01T09:00:00Z"}`},
		{"unknown state", `{"type":"conversation.state_changed","conversation_id":"c1","timestamp":"2025-03-01T09:00:00Z","data":{"state":"snoozed"}}`},
		{"state without timestamp", `{"type":"conversation.state_changed","conversation_id":"c1","data":{"state":"open"}}`},
		{"assignment without assignee", `{"type":"conversation.assigned","conversation_id":"c1","timestamp":"2025-03-01T09:00:00Z","data":{}}`},
		{"unknown priority", `{"type":"conversation.updated","conversation_id":"c1","timestamp":"2025-03-01T09:00:00Z","data":{"priority":"P9"}}`},
		{"message without id", `{"type":"message.received","conversation_id":"c1","data":{"direction":"inbound","sender":"customer","created_at":"2025-03-01T09:00:00Z"}}`},
		{"message bad direction", `{"type":"message.received","conversation_id":"c1","data":{"id":"m1","direction":"sideways","sender":"customer","created_at":"2025-03-01T09:00:00Z"}}`},
		{"message for other conversation", `{"type":"message.received","conversation_id":"c1","data":{"id":"m1","conversation_id":"c2","direction":"inbound","sender":"customer","created_at":"2025-03-01T09:00:00Z"}}`},
		{"typing without participant", `{"type":"typing.indicator","conversation_id":"c1","data":{"typing":true}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.frame))
			require.ErrorIs(t, err, ErrMalformedFrame)
		})
	}
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"agent.kudos","conversation_id":"c1","data":{}}`))
	require.ErrorIs(t, err, ErrUnknownEvent)
	assert.NotErrorIs(t, err, ErrMalformedFrame)
}

func TestEncode_DecodesBack(t *testing.T) {
	subject := "Refund"
	prio := store.PriorityP1
	events := []Event{
		MessageReceived{ConversationID: "c1", At: t0, Message: store.Message{
			ID: "m1", Direction: store.DirectionInbound, Sender: store.SenderCustomer,
			Content: "hi", CreatedAt: t0,
		}},
		StateChanged{ConversationID: "c1", At: t0, State: store.StatePending},
		Assigned{ConversationID: "c1", At: t0, AssigneeID: "a1", AssignedBy: "a2"},
		ConversationUpdated{ConversationID: "c1", At: t0, Tags: []string{"vip"}, Priority: &prio, Subject: &subject},
		ResolutionUpdate{ConversationID: "c1", At: t0, Status: "suggested", Summary: "refund issued"},
		TypingIndicator{ConversationID: "c1", At: t0, Participant: "cust-1", Typing: true},
	}
	for _, ev := range events {
		t.Run(string(ev.Kind()), func(t *testing.T) {
			data, err := Encode(ev, 1)
			require.NoError(t, err)
			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, ev.Kind(), got.Kind())
			assert.Equal(t, "c1", got.Conversation())
		})
	}

	_, err := Encode(ConnectionStatus{Status: StatusConnected}, 0)
	assert.Error(t, err)
}
