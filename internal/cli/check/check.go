// Package check provides the check command.
package check

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/coral-mesh/zoltan/internal/cli/helpers"
	"github.com/coral-mesh/zoltan/internal/pipeline"
)

// NewCheckCmd creates the check command.
func NewCheckCmd(flags *helpers.GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check SOURCE",
		Short: "Validate the annotations of a declaration source",
		Long: `Parse SOURCE and compile the pattern of every annotated declaration
without an executable. Reports annotation syntax errors and patterns the
scanner cannot anchor. Absolute captures are sized for the pointer width of
the configured data model.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := helpers.LoadConfig(cmd, flags, args[0])
			if err != nil {
				return err
			}

			logger := helpers.NewLogger(cfg, cmd.ErrOrStderr())
			plan, err := pipeline.New(cfg, logger).Check(cmd.Context(), args[0])
			if plan == nil {
				return err
			}

			failures := multierr.Errors(err)
			for _, f := range failures {
				cmd.PrintErrf("  %v\n", f)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d declarations, %d annotated, %d patterns compiled\n",
				len(plan.Graph.Decls), plan.Annotated, len(plan.Patterns))
			if len(failures) > 0 {
				return fmt.Errorf("%d declarations failed", len(failures))
			}
			return nil
		},
	}
}
