package cmd

import (
	"runtime"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X mongoinit/cmd.Version=... -X mongoinit/cmd.Commit=..."
var (
	Version = "dev"
	Commit  = "none"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infoColor.Fprintf(cmd.OutOrStdout(), "mongoinit %s (commit %s, %s)\n", Version, Commit, runtime.Version())
			return nil
		},
	}
}
