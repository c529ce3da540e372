// Package cli provides the command-line interface for medresearch.
package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/medresearch/internal/client"
	"github.com/raphaelgruber/medresearch/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string
	userEmail string

	// Global config and API client
	cfg       config.Config
	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "medresearch",
	Short: "Medical research assistant",
	Long: `Medresearch is a chat-driven research assistant for medical questions.

Each conversation is a dialog. While answering, the assistant searches medical
news and the scholarly literature and saves findings to the dialog. Findings
you mark as not relevant are excluded from later research.

Commands talk to a running medresearch-server (MEDRESEARCH_SERVER_URL).`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()

		email := strings.TrimSpace(userEmail)
		if email == "" {
			email = cfg.UserEmail
		}
		if email == "" {
			return errors.New("no user: pass --user or set MEDRESEARCH_USER")
		}

		apiClient = client.New(serverURL, email)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $MEDRESEARCH_SERVER_URL or http://localhost:8484)")
	rootCmd.PersistentFlags().StringVarP(&userEmail, "user", "u", "", "user email (default $MEDRESEARCH_USER)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(dialogsCmd)
	rootCmd.AddCommand(findingsCmd)
	rootCmd.AddCommand(meCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statsCmd)
}

// parseID parses a numeric dialog or finding id argument.
func parseID(kind, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s id: %q", kind, s)
	}
	return id, nil
}
