package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// errAdminRequestFailed indicates the admin API returned a non-200
// response.
var errAdminRequestFailed = errors.New("admin request failed")

var (
	// admin is the admin API client, initialized in PersistentPreRunE.
	admin *adminClient

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's admin API base URL.
	serverAddr string
)

// rootCmd is the top-level cobra command for gospadctl.
var rootCmd = &cobra.Command{
	Use:   "gospadctl",
	Short: "CLI client for the gospad single packet authorization daemon",
	Long:  "gospadctl queries the gospad daemon's read-only admin API for status and health.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		admin = newAdminClient(serverAddr)
		return nil
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "http://localhost:9101",
		"gospad daemon admin API base URL")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(healthzCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
