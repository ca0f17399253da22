// ABOUTME: Renders the projected conversation list to the terminal
// ABOUTME: SLA column is colored by tier; typing and unread counts are inline

package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/agent-console/internal/sla"
	"github.com/2389/agent-console/internal/view"
)

const subjectWidth = 48

// frame is everything one render needs.
type frame struct {
	Agent  string
	Status string
	Sort   view.SortKey
	Rows   []view.Row
	Typing func(id string) []string
	Now    time.Time
}

func render(w io.Writer, f frame) {
	gray := color.New(color.FgHiBlack)
	cyan := color.New(color.FgCyan)

	fmt.Fprintln(w)
	cyan.Fprint(w, "▶ ")
	fmt.Fprintf(w, "%s  ", f.Agent)
	statusColor(f.Status).Fprint(w, f.Status)
	gray.Fprintf(w, "  %d conversations  sort=%s  %s\n", len(f.Rows), f.Sort, f.Now.Format("15:04:05"))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, gray.Sprint("ID\tPRI\tSTATE\tCHANNEL\tSLA\tUNREAD\tASSIGNEE\tSUBJECT"))
	for _, r := range f.Rows {
		c := r.Conversation
		subject := c.Subject
		if subject == "" {
			subject = c.LastMessagePreview
		}
		if who := f.Typing(c.ID); len(who) > 0 {
			subject = truncate(subject, subjectWidth-12) + color.HiBlackString(" (typing…)")
		} else {
			subject = truncate(subject, subjectWidth)
		}
		unread := ""
		if c.UnreadCount > 0 {
			unread = color.New(color.FgCyan, color.Bold).Sprintf("%d", c.UnreadCount)
		}
		assignee := c.AssigneeID
		if assignee == "" {
			assignee = gray.Sprint("-")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Priority, c.State, c.Channel, formatSLA(r.SLA), unread, assignee, subject)
	}
	_ = tw.Flush()
}

func statusColor(status string) *color.Color {
	switch status {
	case "connected":
		return color.New(color.FgGreen)
	case "reconnecting", "connecting", "authenticating":
		return color.New(color.FgYellow)
	}
	return color.New(color.FgRed)
}

// formatSLA renders minutes remaining as e.g. "1h05m", "-12m" or "n/a".
func formatSLA(s sla.Status) string {
	if s.DueAt.IsZero() {
		return color.HiBlackString("n/a")
	}
	text := formatMinutes(s.MinutesRemaining)
	switch s.Tier {
	case sla.TierBreached:
		return color.New(color.FgRed, color.Bold).Sprint(text)
	case sla.TierWarning:
		return color.YellowString(text)
	}
	return color.GreenString(text)
}

func formatMinutes(m int) string {
	sign := ""
	if m < 0 {
		sign = "-"
		m = -m
	}
	if m < 60 {
		return fmt.Sprintf("%s%dm", sign, m)
	}
	return fmt.Sprintf("%s%dh%02dm", sign, m/60, m%60)
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
