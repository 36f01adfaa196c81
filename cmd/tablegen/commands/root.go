package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/maltedev/tablegen/internal/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tablegen",
	Short: "tablegen extracts product data from shop pages into tables.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnvFiles()
	},
	SilenceUsage: true,
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
