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

func watchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll and print the runtime's status until interrupted",
		Long:  "Polls the federate admin HTTP API's /status endpoint on an interval and prints each snapshot, until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			url := "http://" + serverAddr + "/status"
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				view, err := fetchStatus(url)
				if err != nil {
					return err
				}

				out, err := formatStatus(view, outputFormat)
				if err != nil {
					return err
				}
				fmt.Println(out)

				select {
				case <-ctx.Done():
					if errors.Is(ctx.Err(), context.Canceled) {
						return nil
					}
					return ctx.Err()
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", time.Second, "polling interval")

	return cmd
}
