// ABOUTME: The token command: shows who the configured token signs in as
// ABOUTME: Decodes claims locally; the backend still verifies the signature

package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/agent-console/internal/auth"
)

func newTokenCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Show the agent identity in the configured token",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(root)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			token, err := cfg.Agent.ResolveToken()
			if err != nil {
				return err
			}
			claims, err := auth.Inspect(token, time.Now())
			if err != nil {
				return err
			}
			printClaims(os.Stdout, claims, time.Now())
			return nil
		},
	}
}

func printClaims(w io.Writer, c auth.Claims, now time.Time) {
	label := color.New(color.FgHiBlack)
	label.Fprint(w, "agent:   ")
	fmt.Fprintln(w, c.AgentID)
	if c.Name != "" {
		label.Fprint(w, "name:    ")
		fmt.Fprintln(w, c.Name)
	}
	label.Fprint(w, "expires: ")
	if c.ExpiresAt.IsZero() {
		fmt.Fprintln(w, "never")
		return
	}
	fmt.Fprintf(w, "%s (in %s)\n", c.ExpiresAt.Local().Format(time.RFC3339), c.ExpiresAt.Sub(now).Round(time.Second))
}
