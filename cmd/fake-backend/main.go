// ABOUTME: Standalone fake support platform for trying the console locally
// ABOUTME: Serves REST and WebSocket, seeds demo data and mints agent tokens

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/agent-console/internal/auth"
	"github.com/2389/agent-console/internal/fakebackend"
)

const secretEnv = "FAKE_BACKEND_SECRET"

type rootOptions struct {
	secret string
}

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "fake-backend",
		Short:         "Fake support platform for agent-console",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.secret, "secret", os.Getenv(secretEnv), "token signing secret (env "+secretEnv+")")
	cmd.AddCommand(newServeCommand(opts), newTokenCommand(opts))
	return cmd
}

func (o *rootOptions) verifier() (*auth.Verifier, error) {
	if o.secret == "" {
		return nil, fmt.Errorf("--secret or %s is required", secretEnv)
	}
	return auth.NewVerifier([]byte(o.secret)), nil
}

func newServeCommand(root *rootOptions) *cobra.Command {
	var (
		addr     string
		seed     int
		interval time.Duration
		agents   []string
		debug    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the fake platform",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			verifier, err := root.verifier()
			if err != nil {
				return err
			}
			level := slog.LevelInfo
			if debug {
				level = slog.LevelDebug
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			backend := fakebackend.New(verifier, logger)
			ids := fakebackend.SeedDemo(backend, seed, time.Now())
			if interval > 0 {
				go fakebackend.NewSimulator(backend, ids, agents, nil).Run(ctx, interval)
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           backend.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("fake backend listening",
					"addr", addr,
					"conversations", len(ids),
					"agents", strings.Join(agents, ","))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			}

			backend.DropConnections()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8088", "listen address")
	cmd.Flags().IntVar(&seed, "conversations", 8, "demo conversations to seed")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "simulated activity interval; 0 disables")
	cmd.Flags().StringSliceVar(&agents, "agents", []string{"agent-1", "agent-2"}, "agents the simulator assigns to")
	cmd.Flags().BoolVar(&debug, "debug", false, "debug logging")
	return cmd
}

func newTokenCommand(root *rootOptions) *cobra.Command {
	var (
		agentID string
		name    string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an agent token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			verifier, err := root.verifier()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				return errors.New("--ttl must be positive")
			}
			token, err := verifier.Generate(agentID, name, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "agent-1", "agent id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 8*time.Hour, "token lifetime")
	return cmd
}
