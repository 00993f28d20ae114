package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon's current status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			status, err := admin.getStatus(context.Background())
			if err != nil {
				return fmt.Errorf("get status: %w", err)
			}

			out, err := formatStatus(status, outputFormat)
			if err != nil {
				return fmt.Errorf("format status: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func healthzCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "healthz",
		Short: "Check whether the daemon is reachable and healthy",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := admin.getHealthz(context.Background()); err != nil {
				return fmt.Errorf("healthz: %w", err)
			}
			fmt.Println("ok")
			return nil
		},
	}
}
