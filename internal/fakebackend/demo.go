// ABOUTME: Demo data and a random traffic simulator for the fake backend
// ABOUTME: Used by cmd/fake-backend to give a console something to watch

package fakebackend

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/2389/agent-console/internal/store"
)

var demoSubjects = []string{
	"Refund for order #4821",
	"Cannot log in after password reset",
	"Package marked delivered but missing",
	"Upgrade to the annual plan",
	"Card declined at checkout",
	"Wrong size shipped",
	"Cancel my subscription",
	"Invoice shows double charge",
}

var demoLines = []string{
	"Hi, is anyone there?",
	"I've been waiting for a while now.",
	"Here is my order number: **4821**",
	"Thanks, that helps.",
	"Can you check again please?",
	"It still doesn't work.",
	"- tried logging out\n- cleared cache\n- still broken",
}

// SeedDemo loads n demo conversations created at staggered times before now
// and returns their ids.
func SeedDemo(b *Backend, n int, now time.Time) []string {
	channels := []store.Channel{store.ChannelWebChat, store.ChannelEmail, store.ChannelSMS, store.ChannelWhatsApp}
	priorities := []store.Priority{store.PriorityP0, store.PriorityP1, store.PriorityP2, store.PriorityP3}

	ids := make([]string, 0, n)
	for i := range n {
		id := fmt.Sprintf("conv-%03d", i+1)
		created := now.Add(-time.Duration(i*7+2) * time.Minute)
		b.Upsert(store.Conversation{
			ID:                 id,
			Channel:            channels[i%len(channels)],
			State:              store.StateOpen,
			Priority:           priorities[i%len(priorities)],
			Subject:            demoSubjects[i%len(demoSubjects)],
			CustomerID:         fmt.Sprintf("cust-%03d", i+1),
			CreatedAt:          created,
			LastActivityAt:     created,
			MessageCount:       1,
			LastMessagePreview: demoLines[0],
			UnreadCount:        1,
			UpdatedAt:          created,
		})
		ids = append(ids, id)
	}
	return ids
}

// Simulator drives random customer and platform activity.
type Simulator struct {
	backend *Backend
	ids     []string
	agents  []string
	rng     *rand.Rand
}

// NewSimulator creates a simulator over the given conversations. agents are
// candidate assignees; rng may be nil.
func NewSimulator(b *Backend, ids, agents []string, rng *rand.Rand) *Simulator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	return &Simulator{backend: b, ids: ids, agents: agents, rng: rng}
}

// Run steps the simulation every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Step performs one random action.
func (s *Simulator) Step() {
	if len(s.ids) == 0 {
		return
	}
	id := s.ids[s.rng.IntN(len(s.ids))]
	var err error

	switch roll := s.rng.IntN(10); {
	case roll < 4:
		s.backend.CustomerTyping(id, true)
		_, err = s.backend.CustomerMessage(id, demoLines[s.rng.IntN(len(demoLines))])
		s.backend.CustomerTyping(id, false)
	case roll < 6 && len(s.agents) > 0:
		err = s.backend.Assign(id, s.agents[s.rng.IntN(len(s.agents))], "router")
	case roll < 7:
		priorities := []store.Priority{store.PriorityP0, store.PriorityP1, store.PriorityP2, store.PriorityP3}
		err = s.backend.Retag(id, []string{"billing", "vip"}[:s.rng.IntN(3)], priorities[s.rng.IntN(len(priorities))])
	case roll < 8:
		s.backend.SuggestResolution(id, "suggested", "Customer issue appears resolved")
	case roll < 9:
		err = s.backend.SetState(id, store.StatePending, "platform")
	default:
		err = s.backend.SetState(id, store.StateOpen, "platform")
	}
	if err != nil {
		s.backend.logger.Warn("simulation step failed", "conversation_id", id, "error", err)
	}
}
