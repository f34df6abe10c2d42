package cmd

import (
	"github.com/spf13/cobra"
)

// newPlanCmd creates the 'plan' subcommand
func newPlanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show what run would change without changing anything",
		Long: `Authenticate as administrator and read the collection and user catalog of the target
database. Each step is reported as create, noop, update, skip or conflict. The command fails
with the same exit status as run would when the plan contains a conflict.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := prepare(cmd, opts, true)
			if err != nil {
				return err
			}
			defer s.close()

			plan, err := s.boot.Plan(s.ctx)
			if err != nil {
				return err
			}

			structured, err := outputStructured(cmd.OutOrStdout(), opts.format(), plan)
			if err != nil {
				return err
			}
			if !structured {
				renderPlan(cmd.OutOrStdout(), plan)
			}
			return plan.Err()
		},
	}
}
