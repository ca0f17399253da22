// ABOUTME: Notification Sink: where the session tells the agent about things
// ABOUTME: Log, terminal and fan-out sinks; the console only sees the Sink interface

package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fatih/color"
)

// Kind classifies a notification.
type Kind string

const (
	KindMessage        Kind = "message"
	KindAssigned       Kind = "assigned"
	KindSLABreached    Kind = "sla_breached"
	KindSLAWarning     Kind = "sla_warning"
	KindResolution     Kind = "resolution"
	KindSessionEnded   Kind = "session_ended"
	KindConnectionLost Kind = "connection_lost"
)

// Notification is something the agent should be told about.
type Notification struct {
	Kind           Kind
	ConversationID string
	Title          string
	Message        string
	At             time.Time
}

// Sink receives notifications. Implementations must not block the caller
// for long; the session calls Notify from its event loop.
type Sink interface {
	Notify(Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notification)

// Notify calls f.
func (f SinkFunc) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Sink = SinkFunc(func(Notification) {})

// Multi fans a notification out to several sinks in order.
type Multi []Sink

// Notify forwards n to every sink.
func (m Multi) Notify(n Notification) {
	for _, s := range m {
		s.Notify(n)
	}
}

// LogSink writes notifications to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink. Pass nil logger for default.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "notify")}
}

// Notify logs n. Breaches are logged as warnings.
func (s *LogSink) Notify(n Notification) {
	level := slog.LevelInfo
	if n.Kind == KindSLABreached || n.Kind == KindSessionEnded {
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, n.Title,
		"kind", string(n.Kind),
		"conversation_id", n.ConversationID,
		"message", n.Message)
}

// TerminalSink prints one colored line per notification.
type TerminalSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminalSink writes to w.
func NewTerminalSink(w io.Writer) *TerminalSink {
	return &TerminalSink{w: w}
}

// Notify prints n.
func (s *TerminalSink) Notify(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	badge := kindColor(n.Kind).Sprintf("[%s]", n.Kind)
	line := fmt.Sprintf("%s %s %s", color.HiBlackString(n.At.Format("15:04:05")), badge, n.Title)
	if n.Message != "" {
		line += color.HiBlackString(" - ") + n.Message
	}
	fmt.Fprintln(s.w, line)
}

func kindColor(k Kind) *color.Color {
	switch k {
	case KindSLABreached, KindSessionEnded:
		return color.New(color.FgRed, color.Bold)
	case KindSLAWarning, KindConnectionLost:
		return color.New(color.FgYellow)
	case KindAssigned:
		return color.New(color.FgMagenta)
	case KindResolution:
		return color.New(color.FgGreen)
	}
	return color.New(color.FgCyan)
}
