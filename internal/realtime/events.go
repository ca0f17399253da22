// ABOUTME: Wire frames and typed inbound event variants
// ABOUTME: Decode validates payloads so malformed frames never reach the store

package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/agent-console/internal/store"
)

// ErrMalformedFrame is returned by Decode for frames that cannot be applied.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrUnknownEvent is returned by Decode for event types this client does not
// handle.
var ErrUnknownEvent = errors.New("unknown event type")

// Kind names an event on the wire.
type Kind string

const (
	KindMessageReceived     Kind = "message.received"
	KindStateChanged        Kind = "conversation.state_changed"
	KindAssigned            Kind = "conversation.assigned"
	KindConversationUpdated Kind = "conversation.updated"
	KindResolutionUpdate    Kind = "resolution.update"
	KindTyping              Kind = "typing.indicator"

	// KindConnectionStatus never appears on the wire.
	KindConnectionStatus Kind = "connection.status"
)

// Control and intent frame types.
const (
	FrameAuth       = "auth"
	FrameAuthResult = "auth_result"
	FrameJoin       = "join"
	FrameLeave      = "leave"
	FrameTyping     = "typing"
	FramePresence   = "presence"
)

// Frame is the envelope of every message on the connection.
type Frame struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Timestamp      *time.Time      `json:"timestamp,omitempty"`
	Seq            uint64          `json:"seq,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// AuthRequest is the handshake the client sends first.
type AuthRequest struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// AuthResult is the server's answer to AuthRequest.
type AuthResult struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Intent is an outbound agent action.
type Intent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	Typing         *bool  `json:"typing,omitempty"`
	Status         string `json:"status,omitempty"`
}

// Event is one decoded inbound event.
type Event interface {
	Kind() Kind
	Conversation() string
}

// MessageReceived appends a message to a conversation.
type MessageReceived struct {
	ConversationID string
	At             time.Time
	Message        store.Message
}

// StateChanged overwrites a conversation's lifecycle state.
type StateChanged struct {
	ConversationID string
	At             time.Time
	State          store.State
}

// Assigned overwrites a conversation's assignee. An empty AssigneeID
// unassigns.
type Assigned struct {
	ConversationID string
	At             time.Time
	AssigneeID     string
	AssignedBy     string
}

// ConversationUpdated carries tag, priority, subject or SLA due changes.
// Nil fields are untouched.
type ConversationUpdated struct {
	ConversationID string
	At             time.Time
	Tags           []string
	Priority       *store.Priority
	Subject        *string
	SLADueAt       *time.Time
}

// ResolutionUpdate is informational and only reaches the notification sink.
type ResolutionUpdate struct {
	ConversationID string
	At             time.Time
	Status         string
	Summary        string
}

// TypingIndicator reports a participant starting or stopping typing.
type TypingIndicator struct {
	ConversationID string
	At             time.Time
	Participant    string
	Typing         bool
}

// ConnectionStatus is emitted locally whenever the channel changes status.
type ConnectionStatus struct {
	Status Status
	Err    error
}

func (MessageReceived) Kind() Kind     { return KindMessageReceived }
func (StateChanged) Kind() Kind        { return KindStateChanged }
func (Assigned) Kind() Kind            { return KindAssigned }
func (ConversationUpdated) Kind() Kind { return KindConversationUpdated }
func (ResolutionUpdate) Kind() Kind    { return KindResolutionUpdate }
func (TypingIndicator) Kind() Kind     { return KindTyping }
func (ConnectionStatus) Kind() Kind    { return KindConnectionStatus }

func (e MessageReceived) Conversation() string     { return e.ConversationID }
func (e StateChanged) Conversation() string        { return e.ConversationID }
func (e Assigned) Conversation() string            { return e.ConversationID }
func (e ConversationUpdated) Conversation() string { return e.ConversationID }
func (e ResolutionUpdate) Conversation() string    { return e.ConversationID }
func (e TypingIndicator) Conversation() string     { return e.ConversationID }
func (ConnectionStatus) Conversation() string      { return "" }

// Update expresses the event as a store merge.
func (e StateChanged) Update() store.Update {
	st := e.State
	return store.Update{ID: e.ConversationID, At: e.At, State: &st}
}

// Update expresses the event as a store merge.
func (e Assigned) Update() store.Update {
	a := e.AssigneeID
	return store.Update{ID: e.ConversationID, At: e.At, AssigneeID: &a}
}

// Update expresses the event as a store merge.
func (e ConversationUpdated) Update() store.Update {
	return store.Update{
		ID:       e.ConversationID,
		At:       e.At,
		Tags:     e.Tags,
		Priority: e.Priority,
		Subject:  e.Subject,
		SLADueAt: e.SLADueAt,
	}
}

type statePayload struct {
	State string `json:"state"`
}

type assignPayload struct {
	AssigneeID *string `json:"assignee_id"`
	AssignedBy string  `json:"assigned_by,omitempty"`
}

type updatedPayload struct {
	Tags     []string   `json:"tags"`
	Priority *string    `json:"priority,omitempty"`
	Subject  *string    `json:"subject,omitempty"`
	SLADueAt *time.Time `json:"sla_due_at,omitempty"`
}

type resolutionPayload struct {
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
}

type typingPayload struct {
	Participant string `json:"participant"`
	Typing      bool   `json:"typing"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}

// Decode parses one inbound frame into a typed event.
func Decode(data []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, malformed("invalid json: %v", err)
	}
	if f.Type == "" {
		return nil, malformed("missing type")
	}
	if f.ConversationID == "" {
		return nil, malformed("%s: missing conversation_id", f.Type)
	}
	var at time.Time
	if f.Timestamp != nil {
		at = *f.Timestamp
	}

	switch Kind(f.Type) {
	case KindMessageReceived:
		var msg store.Message
		if err := unmarshalData(f, &msg); err != nil {
			return nil, err
		}
		if msg.ConversationID != "" && msg.ConversationID != f.ConversationID {
			return nil, malformed("message belongs to %s, not %s", msg.ConversationID, f.ConversationID)
		}
		msg.ConversationID = f.ConversationID
		if msg.ID == "" {
			return nil, malformed("message id required")
		}
		if err := msg.Validate(); err != nil {
			return nil, malformed("%v", err)
		}
		if at.IsZero() {
			at = msg.CreatedAt
		}
		return MessageReceived{ConversationID: f.ConversationID, At: at, Message: msg}, nil

	case KindStateChanged:
		var p statePayload
		if err := unmarshalData(f, &p); err != nil {
			return nil, err
		}
		st, err := store.ParseState(p.State)
		if err != nil {
			return nil, malformed("%v", err)
		}
		if at.IsZero() {
			return nil, malformed("%s: timestamp required", f.Type)
		}
		return StateChanged{ConversationID: f.ConversationID, At: at, State: st}, nil

	case KindAssigned:
		var p assignPayload
		if err := unmarshalData(f, &p); err != nil {
			return nil, err
		}
		if p.AssigneeID == nil {
			return nil, malformed("%s: assignee_id required", f.Type)
		}
		if at.IsZero() {
			return nil, malformed("%s: timestamp required", f.Type)
		}
		return Assigned{
			ConversationID: f.ConversationID,
			At:             at,
			AssigneeID:     *p.AssigneeID,
			AssignedBy:     p.AssignedBy,
		}, nil

	case KindConversationUpdated:
		var p updatedPayload
		if err := unmarshalData(f, &p); err != nil {
			return nil, err
		}
		if at.IsZero() {
			return nil, malformed("%s: timestamp required", f.Type)
		}
		ev := ConversationUpdated{
			ConversationID: f.ConversationID,
			At:             at,
			Tags:           p.Tags,
			Subject:        p.Subject,
			SLADueAt:       p.SLADueAt,
		}
		if p.Priority != nil {
			prio, err := store.ParsePriority(*p.Priority)
			if err != nil {
				return nil, malformed("%v", err)
			}
			ev.Priority = &prio
		}
		return ev, nil

	case KindResolutionUpdate:
		var p resolutionPayload
		if err := unmarshalData(f, &p); err != nil {
			return nil, err
		}
		return ResolutionUpdate{
			ConversationID: f.ConversationID,
			At:             at,
			Status:         p.Status,
			Summary:        p.Summary,
		}, nil

	case KindTyping:
		var p typingPayload
		if err := unmarshalData(f, &p); err != nil {
			return nil, err
		}
		if p.Participant == "" {
			return nil, malformed("%s: participant required", f.Type)
		}
		return TypingIndicator{
			ConversationID: f.ConversationID,
			At:             at,
			Participant:    p.Participant,
			Typing:         p.Typing,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, f.Type)
}

func unmarshalData(f Frame, v any) error {
	if len(f.Data) == 0 {
		return malformed("%s: missing data", f.Type)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return malformed("%s: %v", f.Type, err)
	}
	return nil
}

// Encode renders an event as a wire frame. The backend side uses it to push
// events; the client only decodes.
func Encode(ev Event, seq uint64) ([]byte, error) {
	var (
		at      time.Time
		payload any
	)
	switch e := ev.(type) {
	case MessageReceived:
		at, payload = e.At, e.Message
	case StateChanged:
		at, payload = e.At, statePayload{State: string(e.State)}
	case Assigned:
		a := e.AssigneeID
		at, payload = e.At, assignPayload{AssigneeID: &a, AssignedBy: e.AssignedBy}
	case ConversationUpdated:
		p := updatedPayload{Tags: e.Tags, Subject: e.Subject, SLADueAt: e.SLADueAt}
		if e.Priority != nil {
			s := string(*e.Priority)
			p.Priority = &s
		}
		at, payload = e.At, p
	case ResolutionUpdate:
		at, payload = e.At, resolutionPayload{Status: e.Status, Summary: e.Summary}
	case TypingIndicator:
		at, payload = e.At, typingPayload{Participant: e.Participant, Typing: e.Typing}
	default:
		return nil, fmt.Errorf("cannot encode %s", ev.Kind())
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", ev.Kind(), err)
	}
	f := Frame{
		Type:           string(ev.Kind()),
		ConversationID: ev.Conversation(),
		Seq:            seq,
		Data:           data,
	}
	if !at.IsZero() {
		f.Timestamp = &at
	}
	return json.Marshal(f)
}
