// ABOUTME: Parses the interactive commands typed while watching the queue
// ABOUTME: One command per line, e.g. "open c1" or "filter state=open,pending"

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/2389/agent-console/internal/store"
	"github.com/2389/agent-console/internal/view"
)

const helpText = `commands:
  open ID              open a conversation (subscribe, load history)
  close ID             close a conversation
  show ID              print an open conversation's messages
  send ID TEXT         reply to a conversation
  typing ID on|off     send a typing indicator
  resolve ID           resolve a conversation
  state ID STATE       set a conversation's state
  filter [k=v ...]     state=open,pending assignee=ID|me|- channel=email,sms q=TEXT
  sort sla|severity|newest|oldest
  search [TEXT]        local search over subject, tags and preview
  presence STATUS      publish availability
  refresh              reload the snapshot
  help                 show this help
  quit                 sign out`

var errQuit = errors.New("quit")

// command is one parsed input line.
type command struct {
	Name   string
	ID     string
	Text   string
	State  store.State
	Filter view.Filter
	Sort   view.SortKey
}

// parseCommand parses a line. me replaces "assignee=me" in filters.
func parseCommand(line, me string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}
	cmd := command{Name: strings.ToLower(fields[0])}
	args := fields[1:]

	needID := func() error {
		if len(args) == 0 {
			return fmt.Errorf("%s: conversation id required", cmd.Name)
		}
		cmd.ID = args[0]
		return nil
	}

	switch cmd.Name {
	case "quit", "exit", "logout":
		cmd.Name = "quit"
	case "help", "refresh":
	case "open", "close", "show", "resolve":
		if err := needID(); err != nil {
			return command{}, err
		}
	case "send":
		if err := needID(); err != nil {
			return command{}, err
		}
		// Keep the reply's original spacing.
		rest := strings.TrimSpace(strings.TrimSpace(line)[len(fields[0]):])
		cmd.Text = strings.TrimSpace(rest[len(args[0]):])
		if cmd.Text == "" {
			return command{}, errors.New("send: message text required")
		}
	case "typing":
		if len(args) != 2 || (args[1] != "on" && args[1] != "off") {
			return command{}, errors.New("usage: typing ID on|off")
		}
		cmd.ID, cmd.Text = args[0], args[1]
	case "state":
		if len(args) != 2 {
			return command{}, errors.New("usage: state ID STATE")
		}
		st, err := store.ParseState(args[1])
		if err != nil {
			return command{}, err
		}
		cmd.ID, cmd.State = args[0], st
	case "filter":
		f, err := parseFilter(args, me)
		if err != nil {
			return command{}, err
		}
		cmd.Filter = f
	case "sort":
		if len(args) != 1 {
			return command{}, errors.New("usage: sort sla|severity|newest|oldest")
		}
		key, err := view.ParseSortKey(args[0])
		if err != nil {
			return command{}, err
		}
		cmd.Sort = key
	case "search":
		cmd.Text = strings.Join(args, " ")
	case "presence":
		if len(args) != 1 {
			return command{}, errors.New("usage: presence STATUS")
		}
		cmd.Text = args[0]
	default:
		return command{}, fmt.Errorf("unknown command %q (try help)", cmd.Name)
	}
	return cmd, nil
}

// parseFilter parses key=value filter terms.
func parseFilter(args []string, me string) (view.Filter, error) {
	var f view.Filter
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return view.Filter{}, fmt.Errorf("filter term %q must be key=value", arg)
		}
		switch strings.ToLower(key) {
		case "state":
			for _, s := range strings.Split(value, ",") {
				st, err := store.ParseState(s)
				if err != nil {
					return view.Filter{}, err
				}
				f.States = append(f.States, st)
			}
		case "channel":
			for _, s := range strings.Split(value, ",") {
				ch, err := store.ParseChannel(s)
				if err != nil {
					return view.Filter{}, err
				}
				f.Channels = append(f.Channels, ch)
			}
		case "assignee":
			if value == "me" {
				value = me
			}
			f.AssigneeID = value
		case "q":
			f.Query = value
		default:
			return view.Filter{}, fmt.Errorf("unknown filter key %q", key)
		}
	}
	return f, nil
}
