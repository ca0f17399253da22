// ABOUTME: SLA due dates and tier evaluation per conversation priority
// ABOUTME: Pure functions of conversation fields, policy and wall-clock time

package sla

import (
	"fmt"
	"math"
	"time"

	"github.com/2389/agent-console/internal/store"
)

// Tier is the SLA health of a conversation.
type Tier string

const (
	TierOK       Tier = "ok"
	TierWarning  Tier = "warning"
	TierBreached Tier = "breached"
)

// Budget is the time allowed for each response milestone.
type Budget struct {
	FirstResponse time.Duration
	Resolution    time.Duration
}

// Policy maps priorities to budgets and sets the warning threshold.
type Policy struct {
	Budgets          map[store.Priority]Budget
	WarningThreshold time.Duration
}

// DefaultPolicy is used when configuration does not override it.
func DefaultPolicy() Policy {
	return Policy{
		Budgets: map[store.Priority]Budget{
			store.PriorityP0: {FirstResponse: 15 * time.Minute, Resolution: 4 * time.Hour},
			store.PriorityP1: {FirstResponse: time.Hour, Resolution: 8 * time.Hour},
			store.PriorityP2: {FirstResponse: 4 * time.Hour, Resolution: 24 * time.Hour},
			store.PriorityP3: {FirstResponse: 8 * time.Hour, Resolution: 72 * time.Hour},
		},
		WarningThreshold: 3 * time.Minute,
	}
}

// Validate checks that every priority has positive budgets.
func (p Policy) Validate() error {
	for _, prio := range []store.Priority{store.PriorityP0, store.PriorityP1, store.PriorityP2, store.PriorityP3} {
		b, ok := p.Budgets[prio]
		if !ok {
			return fmt.Errorf("sla policy missing budget for %s", prio)
		}
		if b.FirstResponse <= 0 || b.Resolution <= 0 {
			return fmt.Errorf("sla policy for %s must have positive budgets", prio)
		}
	}
	if p.WarningThreshold < 0 {
		return fmt.Errorf("sla warning threshold must not be negative")
	}
	return nil
}

// Status is the derived SLA state of one conversation at one instant.
type Status struct {
	DueAt            time.Time
	MinutesRemaining int
	Tier             Tier
	Milestone        string // "first_response" or "resolution"; empty for backend overrides
}

// Evaluator derives SLA status. It holds only the policy and is safe to call
// on every tick.
type Evaluator struct {
	policy Policy
}

// NewEvaluator creates an evaluator for policy.
func NewEvaluator(policy Policy) *Evaluator {
	return &Evaluator{policy: policy}
}

// Policy returns the evaluator's policy.
func (e *Evaluator) Policy() Policy {
	return e.policy
}

// DueAt returns the conversation's due time and the milestone it measures.
// A backend-provided due time wins. Otherwise the first-response budget
// applies until an agent has replied, then the resolution budget; both are
// measured from creation. ok is false when no budget covers the priority.
func (e *Evaluator) DueAt(c store.Conversation) (due time.Time, milestone string, ok bool) {
	if c.SLADueAt != nil {
		return *c.SLADueAt, "", true
	}
	b, found := e.policy.Budgets[c.Priority]
	if !found || c.CreatedAt.IsZero() {
		return time.Time{}, "", false
	}
	if c.FirstResponseAt == nil {
		return c.CreatedAt.Add(b.FirstResponse), "first_response", true
	}
	return c.CreatedAt.Add(b.Resolution), "resolution", true
}

// Evaluate returns the conversation's SLA status at now. Conversations
// without an applicable budget are reported as ok with no due time.
func (e *Evaluator) Evaluate(c store.Conversation, now time.Time) Status {
	due, milestone, ok := e.DueAt(c)
	if !ok {
		return Status{Tier: TierOK, MinutesRemaining: math.MaxInt32}
	}
	remaining := MinutesUntil(due, now)
	return Status{
		DueAt:            due,
		MinutesRemaining: remaining,
		Tier:             e.TierFor(remaining),
		Milestone:        milestone,
	}
}

// TierFor maps whole minutes remaining to a tier.
func (e *Evaluator) TierFor(minutesRemaining int) Tier {
	switch {
	case minutesRemaining <= 0:
		return TierBreached
	case time.Duration(minutesRemaining)*time.Minute <= e.policy.WarningThreshold:
		return TierWarning
	default:
		return TierOK
	}
}

// MinutesUntil returns the whole minutes from now until due, rounded up so a
// conversation is only breached once its due time has actually passed.
func MinutesUntil(due, now time.Time) int {
	return int(math.Ceil(due.Sub(now).Minutes()))
}
