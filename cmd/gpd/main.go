// Command gpd is the zero-downtime process supervisor's CLI, built cobra
// style: a root command with version info, per-subcommand flags registered
// in init(), and RunE handlers that return wrapped errors for cobra to print.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "gpd",
	Short:   "gpd runs a zero-downtime pool of worker processes behind a shared listening socket",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("gpd version %s (%s)\n", Version, Commit))
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}
