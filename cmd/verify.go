package cmd

import (
	"github.com/spf13/cobra"
)

// newVerifyCmd creates the 'verify' subcommand
func newVerifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Authenticate as the application user and confirm the session identity",
		Long: `Log in with the application credential against the target database and check
connectionStatus. Only the application password is read, so the command suits a readiness
probe that has no access to the administrator secret.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := prepare(cmd, opts, false)
			if err != nil {
				return err
			}
			defer s.close()

			result, verifyErr := s.boot.Verify(s.ctx)
			writeMetrics(s)

			report := newRunReport(result, verifyErr)
			report.Collection = ""
			structured, err := outputStructured(cmd.OutOrStdout(), opts.format(), report)
			if err != nil {
				return err
			}
			if !structured && (!opts.quiet || verifyErr != nil) {
				renderRunReport(cmd.OutOrStdout(), "Verification", report)
			}
			return verifyErr
		},
	}
}
