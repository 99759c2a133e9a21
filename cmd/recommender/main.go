package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "recommender",
		Short:         "Lunch recommendations backed by a rotating Gemini key pool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (optional)")

	root.AddCommand(
		newServeCmd(&configPath),
		newBatchCmd(&configPath),
		newStatusCmd(&configPath),
		newClearInvalidCmd(&configPath),
		newRotationsCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
