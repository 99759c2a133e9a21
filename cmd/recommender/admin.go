package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/gokeypool/pkg/keypool"
)

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show usage and validity of every API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			status, err := a.pool.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "current key: %d of %d (quota %d per key)\n\n",
				status.CurrentIndex, status.TotalKeys, status.MaxRequestsPerKey)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tUSED\tINVALID\tUSABLE")
			invalid := make(map[keypool.Index]bool, len(status.InvalidKeys))
			for _, index := range status.InvalidKeys {
				invalid[index] = true
			}
			for i := 0; i < status.TotalKeys; i++ {
				index := keypool.Index(i)
				fmt.Fprintf(tw, "%d\t%d\t%t\t%t\n", i, status.UsageCounts[index], invalid[index], status.Usable(index))
			}
			return tw.Flush()
		},
	}
}

func newClearInvalidCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-invalid INDEX",
		Short: "Remove the invalid flag of a key after it was replaced or re-enabled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid key index %q", args[0])
			}

			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.pool.ClearInvalid(cmd.Context(), keypool.Index(index)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "key %d is usable again\n", index)
			return nil
		},
	}
}

func newRotationsCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "rotations",
		Short: "Print recent key rotations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := a.pool.RotationLog(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				fmt.Fprintln(cmd.OutOrStdout(), entry)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of entries to show")
	return cmd
}
