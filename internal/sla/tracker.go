// ABOUTME: Remembers the last SLA tier per conversation to detect transitions
// ABOUTME: Owned by the session loop; the evaluator itself stays stateless

package sla

// Transition is a tier change observed by the tracker.
type Transition struct {
	ConversationID string
	From           Tier
	To             Tier
	Status         Status
}

// Tracker records the last observed tier for each conversation.
type Tracker struct {
	last map[string]Tier
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{last: make(map[string]Tier)}
}

// Observe records status for a conversation and returns the transition if
// the tier changed. The first observation of a conversation is not a
// transition unless it starts breached.
func (t *Tracker) Observe(id string, status Status) (Transition, bool) {
	prev, seen := t.last[id]
	t.last[id] = status.Tier
	if !seen {
		prev = TierOK
	}
	if prev == status.Tier {
		return Transition{}, false
	}
	return Transition{ConversationID: id, From: prev, To: status.Tier, Status: status}, true
}

// Seed records status for a conversation not yet tracked, without reporting
// a transition. Already tracked conversations are left alone so a real tier
// change is still seen by the next Observe.
func (t *Tracker) Seed(id string, status Status) {
	if _, seen := t.last[id]; !seen {
		t.last[id] = status.Tier
	}
}

// Forget drops a conversation, e.g. after it leaves the store.
func (t *Tracker) Forget(id string) {
	delete(t.last, id)
}

// Reset drops all state.
func (t *Tracker) Reset() {
	t.last = make(map[string]Tier)
}

// Len returns the number of tracked conversations.
func (t *Tracker) Len() int {
	return len(t.last)
}
