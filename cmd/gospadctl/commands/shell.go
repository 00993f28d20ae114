package commands

import (
	"fmt"

	"github.com/reeflective/console"
	"github.com/spf13/cobra"
)

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive gospadctl console",
		Long:  "Launches a readline-backed console exposing every gospadctl subcommand interactively.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			app := console.New("gospadctl")

			menu := app.ActiveMenu()
			menu.SetCommands(func() *cobra.Command {
				return rootCmd
			})

			if err := app.Start(); err != nil {
				return fmt.Errorf("start console: %w", err)
			}
			return nil
		},
	}
}
