// ABOUTME: Reducer for real-time events plus the notification rules
// ABOUTME: Also the SLA tick that re-evaluates tiers as wall-clock time passes

package console

import (
	"fmt"
	"slices"
	"time"

	"github.com/2389/agent-console/internal/content"
	"github.com/2389/agent-console/internal/notify"
	"github.com/2389/agent-console/internal/realtime"
	"github.com/2389/agent-console/internal/sla"
	"github.com/2389/agent-console/internal/store"
)

// Apply reduces one real-time event into the store. Malformed or stale
// events are dropped; neither is an error.
func (s *Session) Apply(ev realtime.Event) {
	switch e := ev.(type) {
	case realtime.MessageReceived:
		s.applyMessage(e)
	case realtime.StateChanged:
		s.merge(e.Update())
	case realtime.Assigned:
		s.applyAssigned(e)
	case realtime.ConversationUpdated:
		s.merge(e.Update())
	case realtime.ResolutionUpdate:
		s.notify(notify.KindResolution, e.ConversationID,
			fmt.Sprintf("Resolution %s", e.Status), e.Summary)
	case realtime.TypingIndicator:
		at := e.At
		if at.IsZero() {
			at = s.now()
		}
		s.store.SetTyping(e.ConversationID, e.Participant, e.Typing, at)
	case realtime.ConnectionStatus:
		s.applyStatus(e)
		return
	default:
		s.logger.Debug("ignoring event", "kind", ev.Kind())
		return
	}
	s.changed()
}

func (s *Session) applyMessage(e realtime.MessageReceived) {
	res, err := s.store.Append(e.ConversationID, e.Message, store.OriginRemote)
	if err != nil {
		s.logger.Warn("dropping message", "conversation_id", e.ConversationID, "error", err)
		return
	}
	if res.Duplicate || res.Confirmed {
		return
	}
	if e.Message.SenderID != "" {
		s.store.SetTyping(e.ConversationID, e.Message.SenderID, false, e.At)
	}

	if e.Message.Direction == store.DirectionInbound && !s.store.IsOpen(e.ConversationID) {
		title := "New message"
		if subj := res.Current.Subject; subj != "" {
			title = "New message: " + subj
		}
		s.notify(notify.KindMessage, e.ConversationID, title,
			content.Preview(e.Message.Content, e.Message.ContentType))
	}
	s.observe(e.ConversationID, store.OriginRemote)
}

func (s *Session) applyAssigned(e realtime.Assigned) {
	res, ok := s.merge(e.Update())
	if !ok || !slices.Contains(res.Applied, store.GroupAssignment) {
		return
	}
	me := s.claims.AgentID
	if e.AssigneeID == me && res.Previous.AssigneeID != me && e.AssignedBy != me {
		title := "Assigned to you"
		if res.Current.Subject != "" {
			title += ": " + res.Current.Subject
		}
		s.notify(notify.KindAssigned, e.ConversationID, title, e.AssignedBy)
	}
}

func (s *Session) applyStatus(e realtime.ConnectionStatus) {
	s.logger.Debug("connection status", "status", e.Status, "error", e.Err)
	switch e.Status {
	case realtime.StatusConnected:
		if s.wasConnected {
			// Pushes sent while disconnected are gone; reload to catch up.
			s.logger.Info("reconnected, reloading snapshot")
			s.startLoad()
		}
		s.wasConnected = true
	case realtime.StatusReconnecting:
		if s.wasConnected && e.Err != nil {
			s.notify(notify.KindConnectionLost, "", "Connection lost", "reconnecting")
		}
	}
	s.changed()
}

// merge applies a remote update and re-evaluates the conversation's SLA.
func (s *Session) merge(u store.Update) (store.Result, bool) {
	u.Origin = store.OriginRemote
	res, err := s.store.Merge(u)
	if err != nil {
		s.logger.Warn("dropping update", "conversation_id", u.ID, "error", err)
		return store.Result{}, false
	}
	if len(res.Stale) > 0 {
		s.logger.Debug("stale update ignored", "conversation_id", u.ID, "groups", res.Stale)
	}
	if len(res.Applied) > 0 {
		s.observe(u.ID, store.OriginRemote)
	}
	return res, true
}

// Tick re-evaluates every conversation's SLA tier at now.
func (s *Session) Tick(now time.Time) {
	for _, c := range s.store.SelectAll() {
		s.observeAt(c, now, store.OriginRemote)
	}
	s.changed()
}

func (s *Session) observe(id string, origin store.Origin) {
	if c, ok := s.store.Select(id); ok {
		s.observeAt(c, s.now(), origin)
	}
}

// observeAt records the SLA tier and notifies when an active conversation
// crosses into warning (own conversations) or breached. Local actions are
// tracked but never notify.
func (s *Session) observeAt(c store.Conversation, now time.Time, origin store.Origin) {
	status := s.evaluator.Evaluate(c, now)
	tr, changed := s.tracker.Observe(c.ID, status)
	if !changed || origin == store.OriginLocal || !c.State.Active() {
		return
	}
	switch tr.To {
	case sla.TierBreached:
		s.notify(notify.KindSLABreached, c.ID,
			fmt.Sprintf("SLA breached: %s", label(c)),
			fmt.Sprintf("%s %s due %s", c.Priority, status.Milestone, status.DueAt.Format(time.Kitchen)))
	case sla.TierWarning:
		if c.AssigneeID == s.claims.AgentID {
			s.notify(notify.KindSLAWarning, c.ID,
				fmt.Sprintf("SLA due in %d min: %s", status.MinutesRemaining, label(c)), "")
		}
	}
}

func (s *Session) notify(kind notify.Kind, conversationID, title, message string) {
	s.sink.Notify(notify.Notification{
		Kind:           kind,
		ConversationID: conversationID,
		Title:          title,
		Message:        message,
		At:             s.now(),
	})
}

func label(c store.Conversation) string {
	if c.Subject != "" {
		return c.Subject
	}
	return c.ID
}
