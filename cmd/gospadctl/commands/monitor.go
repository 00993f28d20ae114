package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func monitorCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll the daemon's status at a fixed interval",
		Long:  "Polls the gospad daemon's admin API and prints its status until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			if err := printStatusOnce(ctx); err != nil {
				return err
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := printStatusOnce(ctx); err != nil {
						if errors.Is(err, context.Canceled) {
							return nil
						}
						return err
					}
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "polling interval")

	return cmd
}

func printStatusOnce(ctx context.Context) error {
	status, err := admin.getStatus(ctx)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	out, err := formatStatus(status, outputFormat)
	if err != nil {
		return fmt.Errorf("format status: %w", err)
	}

	fmt.Println(out)
	return nil
}
