package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newBatchCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "batch",
		Short: "Generate recommendations for every active user once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.newRecommender(ctx)
			if err != nil {
				return err
			}

			summary, err := rec.runner.Run(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "users:      %d\n", summary.TotalUsers)
			fmt.Fprintf(out, "succeeded:  %d\n", summary.Succeeded)
			fmt.Fprintf(out, "failed:     %d\n", summary.Failed)
			fmt.Fprintf(out, "rate:       %.1f%%\n", summary.SuccessRate())
			fmt.Fprintf(out, "duration:   %s\n", summary.Duration.Round(time.Millisecond))
			if summary.Exhausted {
				return fmt.Errorf("stopped early: all API keys exhausted")
			}
			return nil
		},
	}
}
