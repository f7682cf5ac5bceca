// Package cli provides the command-line interface for craftchat.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mstepanenko/craftchat/internal/api"
	"github.com/mstepanenko/craftchat/internal/auth"
	"github.com/mstepanenko/craftchat/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Global config, session, and API client
	cfg       config.Config
	session   *auth.Session
	apiClient *api.Client
	logger    *slog.Logger
	logClose  func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "craftchat",
	Short: "Messaging client for the artisan marketplace",
	Long: `Craftchat keeps a local, always-consistent view of your marketplace
conversations: who is talking to you, what was last said, and how many
messages you have not read yet.

It speaks the marketplace REST API for history and sends, and holds a
live socket for new messages, surviving drops with automatic reconnects.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, logClose = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)

		token := cfg.ResolveToken()
		if token == "" {
			token = auth.TokenFromEnv()
		}
		session = auth.NewSession(token)
		apiClient = api.New(cfg.ServerURL, session.Token)

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logClose != nil {
			if err := logClose(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// requireAuth fails fast for commands that cannot do anything anonymously.
func requireAuth() error {
	if !session.Authenticated() {
		return fmt.Errorf("no credential: set CRAFTCHAT_TOKEN or token_file in the config")
	}
	return nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(unreadCmd)
	rootCmd.AddCommand(watchCmd)
}
