package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "detector",
	Short: "Detector - web-only client detection and verification bot",
	Long: `Detector watches a chat community for accounts that connect only
through the web client, places them behind a restricted access tag, and
lets them release themselves through configurable verification challenges.

Quarantine mutations run through a serialized, rate-limit-aware queue;
moderators get scan reports, audit logging and periodic reminders.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}
