// ABOUTME: Partial conversation updates and their field groups
// ABOUTME: Each group is versioned by timestamp so merges are last-write-wins per group

package store

import (
	"fmt"
	"time"
)

// Group is an independently versioned set of conversation fields.
type Group int

const (
	GroupStatus Group = iota
	GroupAssignment
	GroupTags
	GroupPriority
	GroupDetails
	GroupActivity

	groupCount
)

var groupNames = [...]string{"status", "assignment", "tags", "priority", "details", "activity"}

func (g Group) String() string {
	if g < 0 || g >= groupCount {
		return fmt.Sprintf("group(%d)", int(g))
	}
	return groupNames[g]
}

// Update is a partial change to one conversation. Nil fields are untouched.
// A non-nil empty Tags slice clears the tag set; a non-nil empty AssigneeID
// unassigns the conversation.
type Update struct {
	ID     string
	At     time.Time
	Origin Origin

	State *State

	AssigneeID *string

	Tags []string

	Priority *Priority
	SLADueAt *time.Time

	Subject    *string
	Channel    *Channel
	CustomerID *string
	CreatedAt  *time.Time

	LastActivityAt     *time.Time
	MessageCount       *int
	LastMessagePreview *string
	FirstResponseAt    *time.Time
}

// Groups lists the field groups the update touches, in group order.
func (u *Update) Groups() []Group {
	var gs []Group
	if u.State != nil {
		gs = append(gs, GroupStatus)
	}
	if u.AssigneeID != nil {
		gs = append(gs, GroupAssignment)
	}
	if u.Tags != nil {
		gs = append(gs, GroupTags)
	}
	if u.Priority != nil || u.SLADueAt != nil {
		gs = append(gs, GroupPriority)
	}
	if u.Subject != nil || u.Channel != nil || u.CustomerID != nil || u.CreatedAt != nil {
		gs = append(gs, GroupDetails)
	}
	if u.LastActivityAt != nil || u.MessageCount != nil || u.LastMessagePreview != nil || u.FirstResponseAt != nil {
		gs = append(gs, GroupActivity)
	}
	return gs
}

// Validate rejects updates that must never reach the collection.
func (u *Update) Validate() error {
	if u.ID == "" {
		return fmt.Errorf("%w: conversation id required", ErrMalformed)
	}
	if u.At.IsZero() {
		return fmt.Errorf("%w: update timestamp required", ErrMalformed)
	}
	if u.State != nil {
		if _, err := ParseState(string(*u.State)); err != nil {
			return err
		}
	}
	if u.Priority != nil {
		if _, err := ParsePriority(string(*u.Priority)); err != nil {
			return err
		}
	}
	if u.Channel != nil {
		if _, err := ParseChannel(string(*u.Channel)); err != nil {
			return err
		}
	}
	if u.MessageCount != nil && *u.MessageCount < 0 {
		return fmt.Errorf("%w: negative message count", ErrMalformed)
	}
	return nil
}

// UpdateFromConversation expresses a full snapshot record as an update
// stamped at the record's UpdatedAt, or at fallback when that is unset.
func UpdateFromConversation(c Conversation, fallback time.Time) Update {
	at := c.UpdatedAt
	if at.IsZero() {
		at = fallback
	}
	c = c.Clone()
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	u := Update{
		ID:                 c.ID,
		At:                 at,
		Origin:             OriginRemote,
		State:              &c.State,
		AssigneeID:         &c.AssigneeID,
		Tags:               tags,
		Priority:           &c.Priority,
		SLADueAt:           c.SLADueAt,
		Subject:            &c.Subject,
		Channel:            &c.Channel,
		CustomerID:         &c.CustomerID,
		MessageCount:       &c.MessageCount,
		LastMessagePreview: &c.LastMessagePreview,
		FirstResponseAt:    c.FirstResponseAt,
	}
	if !c.CreatedAt.IsZero() {
		u.CreatedAt = &c.CreatedAt
	}
	if !c.LastActivityAt.IsZero() {
		u.LastActivityAt = &c.LastActivityAt
	}
	return u
}

// apply writes one group of u into c.
func (u *Update) apply(g Group, c *Conversation) {
	switch g {
	case GroupStatus:
		c.State, _ = ParseState(string(*u.State))
	case GroupAssignment:
		c.AssigneeID = *u.AssigneeID
	case GroupTags:
		c.Tags = NormalizeTags(u.Tags)
	case GroupPriority:
		if u.Priority != nil {
			p, _ := ParsePriority(string(*u.Priority))
			c.Priority = p
		}
		if u.SLADueAt != nil {
			c.SLADueAt = cloneTime(u.SLADueAt)
		}
	case GroupDetails:
		if u.Subject != nil {
			c.Subject = *u.Subject
		}
		if u.Channel != nil {
			ch, _ := ParseChannel(string(*u.Channel))
			c.Channel = ch
		}
		if u.CustomerID != nil {
			c.CustomerID = *u.CustomerID
		}
		if u.CreatedAt != nil {
			c.CreatedAt = *u.CreatedAt
		}
	case GroupActivity:
		// Message-derived fields only move forward.
		if u.LastActivityAt != nil {
			c.LastActivityAt = laterOf(c.LastActivityAt, *u.LastActivityAt)
		}
		if u.MessageCount != nil && *u.MessageCount > c.MessageCount {
			c.MessageCount = *u.MessageCount
		}
		if u.LastMessagePreview != nil {
			c.LastMessagePreview = *u.LastMessagePreview
		}
		if u.FirstResponseAt != nil && c.FirstResponseAt == nil {
			c.FirstResponseAt = cloneTime(u.FirstResponseAt)
		}
	}
}
