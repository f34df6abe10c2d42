package cmd

import (
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// newRunCmd creates the 'run' subcommand
func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Create the collection and the application user, then verify the login",
		Long: `Run the bootstrap sequence: authenticate as administrator, ensure the collection,
ensure the application user and authenticate as that user. This is the default command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBootstrap(cmd, opts)
		},
	}
}

func runBootstrap(cmd *cobra.Command, opts *rootOptions) error {
	s, err := prepare(cmd, opts, true)
	if err != nil {
		return err
	}
	defer s.close()

	format := opts.format()
	out := cmd.OutOrStdout()

	// Show progress spinner on interactive terminals only
	var sp *spinner.Spinner
	if format == formatText && !opts.quiet && !color.NoColor {
		sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr()))
		sp.Suffix = " Bootstrapping " + s.cfg.Target.Database + "..."
		sp.Start()
	}

	result, runErr := s.boot.Run(s.ctx)

	if sp != nil {
		sp.Stop()
	}
	writeMetrics(s)

	report := newRunReport(result, runErr)
	structured, err := outputStructured(out, format, report)
	if err != nil {
		return err
	}
	if !structured && (!opts.quiet || runErr != nil) {
		renderRunReport(out, "Bootstrap", report)
	}
	return runErr
}
