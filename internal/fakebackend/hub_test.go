// ABOUTME: Tests for the hub fan-out
// ABOUTME: Covers broadcast, joined-only frames, exclusion, slow clients and close

package fakebackend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishReachesEveryClient(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	a := h.register("agent-1")
	b := h.register("agent-2")
	h.Publish([]byte("frame"), "c1", false, "")

	assert.Equal(t, []byte("frame"), <-a.send)
	assert.Equal(t, []byte("frame"), <-b.send)
}

func TestHub_JoinedOnly(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	a := h.register("agent-1")
	b := h.register("agent-2")
	h.join(a.id, "c1")
	h.join(b.id, "c2")

	h.Publish([]byte("typing"), "c1", true, "")
	assert.Len(t, a.send, 1)
	assert.Empty(t, b.send)

	h.leave(a.id, "c1")
	h.Publish([]byte("typing"), "c1", true, "")
	assert.Len(t, a.send, 1, "no frame after leave")
	assert.Empty(t, h.Joined("c1"))
	assert.Equal(t, []string{"agent-2"}, h.Joined("c2"))
}

func TestHub_ExcludesOrigin(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	a := h.register("agent-1")
	b := h.register("agent-1")
	h.join(a.id, "c1")
	h.join(b.id, "c1")

	h.Publish([]byte("typing"), "c1", true, a.id)
	assert.Empty(t, a.send)
	assert.Len(t, b.send, 1)
	assert.Equal(t, []string{"agent-1"}, h.Joined("c1"), "agents deduplicated")
}

func TestHub_SlowClientDropsFrames(t *testing.T) {
	h := NewHub(nil)
	defer h.Close()

	a := h.register("agent-1")
	for range clientBufferSize + 10 {
		h.Publish([]byte("x"), "c1", false, "")
	}
	assert.Len(t, a.send, clientBufferSize)
}

func TestHub_UnregisterAndClose(t *testing.T) {
	h := NewHub(nil)

	a := h.register("agent-1")
	b := h.register("agent-2")
	require.Equal(t, 2, h.Len())

	h.unregister(a.id)
	h.unregister(a.id) // idempotent
	_, open := <-a.send
	assert.False(t, open)

	h.Close()
	_, open = <-b.send
	assert.False(t, open)
	assert.Zero(t, h.Len())

	h.Publish([]byte("late"), "c1", false, "") // no clients, no panic
}
