// ABOUTME: Conversation and message types with their enumerations
// ABOUTME: Parsers reject unknown enum values so malformed events can be dropped

package store

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrMalformed is returned when an update or message is missing required
// fields or carries an unknown enum value.
var ErrMalformed = errors.New("malformed update")

// ErrNotFound is returned when a conversation is not in the store.
var ErrNotFound = errors.New("conversation not found")

// Channel is the medium a conversation arrived on.
type Channel string

const (
	ChannelWebChat  Channel = "web_chat"
	ChannelEmail    Channel = "email"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelVoice    Channel = "voice"
	ChannelSocial   Channel = "social"
)

// ParseChannel validates a channel name.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case ChannelWebChat, ChannelEmail, ChannelWhatsApp, ChannelSMS, ChannelVoice, ChannelSocial:
		return c, nil
	}
	return "", fmt.Errorf("%w: unknown channel %q", ErrMalformed, s)
}

// State is the lifecycle state of a conversation.
type State string

const (
	StateOpen     State = "open"
	StatePending  State = "pending"
	StateResolved State = "resolved"
	StateClosed   State = "closed"
)

// ParseState validates a lifecycle state.
func ParseState(s string) (State, error) {
	switch st := State(strings.ToLower(strings.TrimSpace(s))); st {
	case StateOpen, StatePending, StateResolved, StateClosed:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown state %q", ErrMalformed, s)
}

// Active reports whether the conversation still needs agent attention.
func (s State) Active() bool {
	return s == StateOpen || s == StatePending
}

// Priority is the urgency class. The backend uses P0..P3 in some places and
// urgent/high/normal/low in others; both parse to the P form.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

var priorityAliases = map[string]Priority{
	"p0": PriorityP0, "urgent": PriorityP0,
	"p1": PriorityP1, "high": PriorityP1,
	"p2": PriorityP2, "normal": PriorityP2, "medium": PriorityP2,
	"p3": PriorityP3, "low": PriorityP3,
}

// ParsePriority validates a priority in either naming scheme.
func ParsePriority(s string) (Priority, error) {
	if p, ok := priorityAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrMalformed, s)
}

// Rank orders priorities, most urgent first. Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityP0:
		return 0
	case PriorityP1:
		return 1
	case PriorityP2:
		return 2
	case PriorityP3:
		return 3
	}
	return 4
}

// Direction of a message relative to the support organisation.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// SenderClass identifies who wrote a message.
type SenderClass string

const (
	SenderCustomer SenderClass = "customer"
	SenderAgent    SenderClass = "agent"
	SenderSystem   SenderClass = "system"
	SenderBot      SenderClass = "bot"
)

// Delivery tracks optimistic sends.
type Delivery string

const (
	DeliveryPending   Delivery = "pending"
	DeliveryConfirmed Delivery = "confirmed"
	DeliveryFailed    Delivery = "failed"
)

// Origin says whether a mutation came from the backend or from the agent's
// own action. Only remote mutations produce notifications and unread counts.
type Origin int

const (
	OriginRemote Origin = iota
	OriginLocal
)

// Annotation is advisory AI output attached to a message. It never drives
// state transitions.
type Annotation struct {
	Kind       string  `json:"kind"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Message is a single entry in a conversation.
type Message struct {
	ID             string       `json:"id"`
	ClientID       string       `json:"client_message_id,omitempty"`
	ConversationID string       `json:"conversation_id"`
	Direction      Direction    `json:"direction"`
	Sender         SenderClass  `json:"sender"`
	SenderID       string       `json:"sender_id,omitempty"`
	Content        string       `json:"content"`
	ContentType    string       `json:"content_type,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	Annotations    []Annotation `json:"annotations,omitempty"`
	Delivery       Delivery     `json:"delivery,omitempty"`
}

// Validate checks the fields Append relies on.
func (m *Message) Validate() error {
	if m.ID == "" && m.ClientID == "" {
		return fmt.Errorf("%w: message id required", ErrMalformed)
	}
	switch m.Direction {
	case DirectionInbound, DirectionOutbound:
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrMalformed, m.Direction)
	}
	switch m.Sender {
	case SenderCustomer, SenderAgent, SenderSystem, SenderBot:
	default:
		return fmt.Errorf("%w: unknown sender class %q", ErrMalformed, m.Sender)
	}
	if m.CreatedAt.IsZero() {
		return fmt.Errorf("%w: message timestamp required", ErrMalformed)
	}
	return nil
}

// Conversation is a threaded exchange with one customer over one channel.
type Conversation struct {
	ID                 string     `json:"id"`
	Channel            Channel    `json:"channel"`
	State              State      `json:"state"`
	Priority           Priority   `json:"priority"`
	AssigneeID         string     `json:"assignee_id,omitempty"`
	Tags               []string   `json:"tags,omitempty"`
	Subject            string     `json:"subject,omitempty"`
	CustomerID         string     `json:"customer_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	FirstResponseAt    *time.Time `json:"first_response_at,omitempty"`
	SLADueAt           *time.Time `json:"sla_due_at,omitempty"`
	LastActivityAt     time.Time  `json:"last_activity_at"`
	MessageCount       int        `json:"message_count"`
	LastMessagePreview string     `json:"last_message_preview,omitempty"`
	UnreadCount        int        `json:"unread_count"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Clone returns a deep copy.
func (c Conversation) Clone() Conversation {
	c.Tags = slices.Clone(c.Tags)
	c.FirstResponseAt = cloneTime(c.FirstResponseAt)
	c.SLADueAt = cloneTime(c.SLADueAt)
	return c
}

// HasTag reports whether tag is in the tag set.
func (c *Conversation) HasTag(tag string) bool {
	return slices.Contains(c.Tags, tag)
}

// NormalizeTags trims, deduplicates and sorts a tag set.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || slices.Contains(out, t) {
			continue
		}
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
