// ABOUTME: The watch command: runs a console session and renders the queue
// ABOUTME: Reads interactive commands from stdin until quit or session end

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/agent-console/internal/auth"
	"github.com/2389/agent-console/internal/config"
	"github.com/2389/agent-console/internal/console"
	"github.com/2389/agent-console/internal/notify"
	"github.com/2389/agent-console/internal/realtime"
	"github.com/2389/agent-console/internal/snapshot"
	"github.com/2389/agent-console/internal/store"
	"github.com/2389/agent-console/internal/view"
)

// renderInterval throttles redraws when many events arrive together.
const renderInterval = 250 * time.Millisecond

type watchOptions struct {
	states   []string
	channels []string
	assignee string
	query    string
	sort     string
}

func newWatchCommand(root *rootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"w"},
		Short:   "Sign in and watch the conversation queue",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runWatch(ctx, root, opts, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringSliceVar(&opts.states, "state", []string{"open", "pending"}, "states to load")
	cmd.Flags().StringSliceVar(&opts.channels, "channel", nil, "channels to load")
	cmd.Flags().StringVar(&opts.assignee, "assignee", "", "assignee id, 'me' or '-' for unassigned")
	cmd.Flags().StringVar(&opts.query, "query", "", "server-side search")
	cmd.Flags().StringVar(&opts.sort, "sort", "sla", "sla, severity, newest or oldest")
	return cmd
}

func (o *watchOptions) filter(me string) (view.Filter, error) {
	var terms []string
	if len(o.states) > 0 {
		terms = append(terms, "state="+strings.Join(o.states, ","))
	}
	if len(o.channels) > 0 {
		terms = append(terms, "channel="+strings.Join(o.channels, ","))
	}
	if o.assignee != "" {
		terms = append(terms, "assignee="+o.assignee)
	}
	f, err := parseFilter(terms, me)
	if err != nil {
		return view.Filter{}, err
	}
	f.Query = o.query
	return f, nil
}

func runWatch(ctx context.Context, root *rootOptions, opts *watchOptions, in io.Reader, out io.Writer) error {
	cfg, source, err := loadConfig(root)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := setupLogger(cfg.Logging, os.Stderr)

	token, err := cfg.Agent.ResolveToken()
	if err != nil {
		return err
	}

	color.New(color.FgCyan).Fprint(out, banner)
	color.New(color.FgHiBlack).Fprintf(out, "    version: %s  config: %s\n", version, source)

	claims, err := auth.Inspect(token, time.Now())
	if err != nil {
		return err
	}
	filter, err := opts.filter(claims.AgentID)
	if err != nil {
		return err
	}
	sortKey, err := view.ParseSortKey(opts.sort)
	if err != nil {
		return err
	}

	session, err := newSession(cfg, token, filter, sortKey, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- session.Run(ctx) }()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	agent := claims.AgentID
	if claims.Name != "" {
		agent = fmt.Sprintf("%s (%s)", claims.Name, claims.AgentID)
	}
	draw := func() {
		now := time.Now()
		render(out, frame{
			Agent:  agent,
			Status: session.ConnectionStatus().String(),
			Sort:   sortKey,
			Rows:   session.Rows(now),
			Typing: session.TypingIn,
			Now:    now,
		})
	}

	throttle := time.NewTicker(renderInterval)
	defer throttle.Stop()
	dirty := true

	for {
		select {
		case err := <-runErr:
			if errors.Is(err, realtime.ErrAuthRejected) || errors.Is(err, snapshot.ErrUnauthorized) {
				return fmt.Errorf("signed out: %w", err)
			}
			return err

		case <-session.Updates():
			dirty = true

		case <-throttle.C:
			if dirty {
				draw()
				dirty = false
			}

		case line, ok := <-lines:
			if !ok {
				// stdin closed: keep watching until interrupted.
				lines = nil
				continue
			}
			cmd, err := parseCommand(line, claims.AgentID)
			if err != nil {
				fmt.Fprintln(out, color.RedString(err.Error()))
				continue
			}
			if cmd.Name == "sort" {
				sortKey = cmd.Sort
			}
			if err := execute(ctx, session, cmd, out); err != nil {
				if errors.Is(err, errQuit) {
					cancel()
					return <-runErr
				}
				fmt.Fprintln(out, color.RedString(err.Error()))
			}
			dirty = true
		}
	}
}

func newSession(cfg *config.Config, token string, filter view.Filter, sortKey view.SortKey, logger *slog.Logger) (*console.Session, error) {
	client := snapshot.NewClient(cfg.Backend.BaseURL, token, nil, cfg.Backend.RequestTimeout)
	channel := realtime.New(realtime.Options{
		URL:              cfg.Backend.WSURL,
		Token:            token,
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
		PingInterval:     cfg.Realtime.PingInterval,
		Backoff:          realtime.Backoff{Initial: cfg.Realtime.ReconnectInitial, Max: cfg.Realtime.ReconnectMax},
		Logger:           logger,
	})

	sink := notify.Multi{notify.NewTerminalSink(os.Stderr)}
	if cfg.Logging.Format == "json" {
		sink = notify.Multi{notify.NewLogSink(logger)}
	}

	return console.New(console.Options{
		Token:   token,
		Loader:  snapshot.NewLoader(client, cfg.Backend.PageSize, cfg.Backend.MaxPages, logger),
		Backend: client,
		Channel: channel,
		Sink:    sink,
		Policy:  cfg.SLA.Policy,
		Store: store.Options{
			TypingTTL:    cfg.Realtime.TypingTTL,
			DedupeTTL:    cfg.Store.DedupeTTL,
			DedupeWindow: cfg.Store.DedupeWindow,
			Logger:       logger,
		},
		TickInterval: cfg.SLA.TickInterval,
		Filter:       filter,
		Sort:         sortKey,
		Logger:       logger,
	})
}

func execute(ctx context.Context, s *console.Session, cmd command, out io.Writer) error {
	switch cmd.Name {
	case "":
		return nil
	case "quit":
		return errQuit
	case "help":
		fmt.Fprintln(out, helpText)
	case "refresh":
		return s.Refresh(ctx)
	case "open":
		return s.OpenConversation(ctx, cmd.ID)
	case "close":
		return s.CloseConversation(ctx, cmd.ID)
	case "show":
		showMessages(out, s.Messages(cmd.ID))
	case "send":
		_, err := s.SendMessage(ctx, cmd.ID, cmd.Text, "")
		return err
	case "typing":
		s.Typing(cmd.ID, cmd.Text == "on")
	case "resolve":
		return s.Resolve(ctx, cmd.ID)
	case "state":
		return s.SetState(ctx, cmd.ID, cmd.State)
	case "filter":
		return s.SetFilter(ctx, cmd.Filter)
	case "sort":
		return s.SetSort(ctx, cmd.Sort)
	case "search":
		return s.SetSearch(ctx, cmd.Text)
	case "presence":
		return s.SetPresence(cmd.Text)
	}
	return nil
}

func showMessages(out io.Writer, msgs []store.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(out, color.HiBlackString("no messages (is the conversation open?)"))
		return
	}
	for _, m := range msgs {
		who := color.CyanString(string(m.Sender))
		if m.Direction == store.DirectionOutbound {
			who = color.GreenString(string(m.Sender))
		}
		mark := ""
		switch m.Delivery {
		case store.DeliveryPending:
			mark = color.HiBlackString(" (sending)")
		case store.DeliveryFailed:
			mark = color.RedString(" (failed)")
		}
		fmt.Fprintf(out, "%s %s: %s%s\n", color.HiBlackString(m.CreatedAt.Local().Format("15:04")), who, m.Content, mark)
	}
}
