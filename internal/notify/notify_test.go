// ABOUTME: Tests for the notification sinks
// ABOUTME: Terminal output is checked with color disabled

package notify

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTerminalSink(t *testing.T) {
	prev := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = prev })

	var buf bytes.Buffer
	sink := NewTerminalSink(&buf)
	sink.Notify(Notification{
		Kind:    KindSLABreached,
		Title:   "SLA breached: c1",
		Message: "P0 email",
		At:      time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
	})

	assert.Equal(t, "09:30:00 [sla_breached] SLA breached: c1 - P0 email\n", buf.String())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	NewLogSink(logger).Notify(Notification{Kind: KindAssigned, ConversationID: "c7", Title: "Assigned to you"})

	out := buf.String()
	assert.Contains(t, out, "Assigned to you")
	assert.Contains(t, out, "component=notify")
	assert.Contains(t, out, "conversation_id=c7")
	assert.Contains(t, out, "kind=assigned")
}

func TestMulti(t *testing.T) {
	var got []Kind
	rec := SinkFunc(func(n Notification) { got = append(got, n.Kind) })

	Multi{rec, Discard, rec}.Notify(Notification{Kind: KindMessage})
	require.Len(t, got, 2)
	assert.Equal(t, KindMessage, got[1])
}
