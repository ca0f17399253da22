// ABOUTME: Message append, optimistic sends and open-conversation history
// ABOUTME: Appends are idempotent by message id and never regress activity fields

package store

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/2389/agent-console/internal/content"
)

func messageKey(conversationID, messageID string) string {
	return conversationID + "/" + messageID
}

// Append adds a message to a conversation. Replaying a message id already
// seen is a no-op reported as Result.Duplicate. A server echo whose client id
// matches a pending optimistic message confirms that message in place.
func (s *Store) Append(conversationID string, msg Message, origin Origin) (Result, error) {
	if conversationID == "" {
		return Result{}, fmt.Errorf("%w: conversation id required", ErrMalformed)
	}
	if msg.ID == "" {
		return Result{}, fmt.Errorf("%w: message id required", ErrMalformed)
	}
	if err := msg.Validate(); err != nil {
		return Result{}, err
	}
	msg.ConversationID = conversationID
	msg.Annotations = slices.Clone(msg.Annotations)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[conversationID]
	if !ok {
		e = newEntry(conversationID)
		s.entries[conversationID] = e
	}
	res := Result{Created: !ok, Previous: e.conv.Clone()}

	if msg.ClientID != "" && e.pending[msg.ClientID] {
		delete(e.pending, msg.ClientID)
		if s.seen.Remember(messageKey(conversationID, msg.ID)) || e.indexOfID(msg.ID) >= 0 {
			// The echo already arrived without its client id: keep that
			// copy and drop the optimistic one.
			if i := e.indexOfClientID(msg.ClientID); i >= 0 {
				e.messages = slices.Delete(e.messages, i, i+1)
			}
			if e.conv.MessageCount > 0 {
				e.conv.MessageCount--
			}
			res.Confirmed = true
			res.Duplicate = true
			res.Current = e.conv.Clone()
			return res, nil
		}
		msg.Delivery = DeliveryConfirmed
		if i := e.indexOfClientID(msg.ClientID); i >= 0 {
			e.messages[i] = msg
		}
		s.touchActivity(e, &msg)
		res.Confirmed = true
		res.Message = &msg
		res.Applied = []Group{GroupActivity}
		res.Current = e.conv.Clone()
		return res, nil
	}

	if s.seen.Remember(messageKey(conversationID, msg.ID)) || e.indexOfID(msg.ID) >= 0 {
		res.Duplicate = true
		res.Current = e.conv.Clone()
		return res, nil
	}

	if msg.Delivery == "" {
		msg.Delivery = DeliveryConfirmed
	}
	e.conv.MessageCount++
	if msg.Direction == DirectionInbound && origin == OriginRemote && !e.open {
		e.conv.UnreadCount++
	}
	s.touchActivity(e, &msg)
	if e.open {
		e.insert(msg)
	}

	res.Message = &msg
	res.Applied = []Group{GroupActivity}
	res.Current = e.conv.Clone()
	return res, nil
}

// AppendPending stores an agent's message before the backend has accepted
// it. The returned message carries a generated client id the server will
// echo back. A pending message counts toward MessageCount but leaves the
// activity fields alone until it is confirmed, so a failed send cannot
// satisfy the first-response milestone.
func (s *Store) AppendPending(conversationID string, msg Message) (Message, error) {
	if conversationID == "" {
		return Message{}, fmt.Errorf("%w: conversation id required", ErrMalformed)
	}
	if msg.ClientID == "" {
		msg.ClientID = uuid.NewString()
	}
	msg.ConversationID = conversationID
	msg.Delivery = DeliveryPending
	if err := msg.Validate(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[conversationID]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrNotFound, conversationID)
	}
	e.pending[msg.ClientID] = true
	e.conv.MessageCount++
	if e.open {
		e.insert(msg)
	}
	return msg, nil
}

// MarkFailed flags a pending message whose send was rejected and backs it
// out of the message count.
func (s *Store) MarkFailed(conversationID, clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[conversationID]
	if !ok || !e.pending[clientID] {
		return false
	}
	delete(e.pending, clientID)
	if e.conv.MessageCount > 0 {
		e.conv.MessageCount--
	}
	if i := e.indexOfClientID(clientID); i >= 0 {
		e.messages[i].Delivery = DeliveryFailed
	}
	return true
}

// Open marks a conversation as being viewed: its messages are retained and
// its unread count is reset. Unknown ids are upserted.
func (s *Store) Open(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[conversationID]
	if !ok {
		e = newEntry(conversationID)
		s.entries[conversationID] = e
	}
	e.open = true
	e.conv.UnreadCount = 0
}

// Close stops retaining a conversation's messages.
func (s *Store) Close(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[conversationID]; ok {
		e.open = false
		e.messages = nil
	}
}

// IsOpen reports whether a conversation is currently open.
func (s *Store) IsOpen(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[conversationID]
	return ok && e.open
}

// LoadHistory merges fetched history into an open conversation. Messages
// already held (including pending ones) are kept; history does not change
// the message count, which comes from the conversation record.
func (s *Store) LoadHistory(conversationID string, history []Message) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[conversationID]
	if !ok || !e.open {
		return 0
	}
	added := 0
	for _, m := range history {
		if m.ID == "" || e.indexOfID(m.ID) >= 0 {
			continue
		}
		if m.ClientID != "" && e.pending[m.ClientID] {
			continue
		}
		if err := m.Validate(); err != nil {
			s.logger.Warn("dropping malformed history message",
				"conversation_id", conversationID,
				"message_id", m.ID,
				"error", err)
			continue
		}
		m.ConversationID = conversationID
		if m.Delivery == "" {
			m.Delivery = DeliveryConfirmed
		}
		s.seen.Remember(messageKey(conversationID, m.ID))
		e.insert(m)
		added++
	}
	return added
}

// Messages returns a copy of an open conversation's retained messages.
func (s *Store) Messages(conversationID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[conversationID]
	if !ok {
		return nil
	}
	return slices.Clone(e.messages)
}

// touchActivity advances activity fields for a new message. A message older
// than the current activity does not replace the preview.
func (s *Store) touchActivity(e *entry, msg *Message) {
	if !msg.CreatedAt.Before(e.conv.LastActivityAt) {
		e.conv.LastMessagePreview = content.Preview(msg.Content, msg.ContentType)
	}
	e.conv.LastActivityAt = laterOf(e.conv.LastActivityAt, msg.CreatedAt)
	if msg.Direction == DirectionOutbound && msg.Sender == SenderAgent && e.conv.FirstResponseAt == nil {
		at := msg.CreatedAt
		e.conv.FirstResponseAt = &at
	}
	e.stamps[GroupActivity] = laterOf(e.stamps[GroupActivity], msg.CreatedAt)
	e.conv.UpdatedAt = laterOf(e.conv.UpdatedAt, msg.CreatedAt)
}

// insert keeps messages ordered by creation time, arrival order breaking ties.
func (e *entry) insert(m Message) {
	i := len(e.messages)
	for i > 0 && e.messages[i-1].CreatedAt.After(m.CreatedAt) {
		i--
	}
	e.messages = slices.Insert(e.messages, i, m)
}

func (e *entry) indexOfID(id string) int {
	return slices.IndexFunc(e.messages, func(m Message) bool { return m.ID == id })
}

func (e *entry) indexOfClientID(clientID string) int {
	return slices.IndexFunc(e.messages, func(m Message) bool { return m.ClientID == clientID })
}
