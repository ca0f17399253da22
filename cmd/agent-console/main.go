// ABOUTME: Entry point for agent-console, the terminal agent console
// ABOUTME: Wires config, logging and the session; subcommands live alongside

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/2389/agent-console/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __ _  __ _  ___ _ __ | |_       ___ ___  _ __  ___  ___ | | ___
 / _' |/ _' |/ _ \ '_ \| __|____ / __/ _ \| '_ \/ __|/ _ \| |/ _ \
| (_| | (_| |  __/ | | | ||_____| (_| (_) | | | \__ \ (_) | |  __/
 \__,_|\__, |\___|_| |_|\__|     \___\___/|_| |_|___/\___/|_|\___|
       |___/
`

type rootOptions struct {
	configPath string
	envFile    string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "agent-console",
		Short:         "Real-time conversation queue for support agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadEnvFile(opts.envFile)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (yaml or toml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading config")

	cmd.AddCommand(
		newWatchCommand(opts),
		newTokenCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

// loadEnvFile loads a dotenv file. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// getConfigPath returns the path to the console config file.
// Priority: --config flag > AGENT_CONSOLE_CONFIG env var > XDG_CONFIG_HOME/agent-console/config.yaml > ~/.config/agent-console/config.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(config.EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "agent-console", "config.yaml")
}

// loadConfig reads the config file when present, otherwise the environment.
func loadConfig(opts *rootOptions) (*config.Config, string, error) {
	path := getConfigPath(opts.configPath)
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			cfg, err := config.Load(path)
			return cfg, path, err
		} else if opts.configPath != "" {
			return nil, path, fmt.Errorf("config file: %w", err)
		}
	}
	cfg, err := config.FromEnv()
	return cfg, "environment", err
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("agent-console %s\n", version)
		},
	}
}
