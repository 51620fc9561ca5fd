package cli

import (
	"github.com/spf13/cobra"

	"github.com/cascadehq/cascade/internal/sheet"
)

// NewRecalcCommand creates the recalc command.
func NewRecalcCommand(rootOpts *RootOptions) *cobra.Command {
	var cols []string
	var aggs []string
	var all bool
	cmd := &cobra.Command{
		Use:   "recalc [sheet]",
		Short: "Run a manual recompute pass",
		Long: `Run a manual recompute pass over a sheet. Naming columns or
aggregates recomputes just those (this is the only way manual-trigger
formulas run); naming none recomputes every formula in the sheet.
--all recomputes every sheet in the workbook.

Example:
  cascade recalc orders
  cascade recalc orders --col Margin --agg Total
  cascade recalc --all`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all {
				if len(args) > 0 || len(cols) > 0 || len(aggs) > 0 {
					return NewExitError(ExitCommandError, "--all takes no sheet, --col, or --agg")
				}
				return runRecalcAll(rootOpts, cmd)
			}
			if len(args) != 1 {
				return NewExitError(ExitCommandError, "recalc needs a sheet (or --all)")
			}
			return runRecalc(rootOpts, sheet.SheetID(args[0]), cols, aggs, cmd)
		},
	}
	cmd.Flags().StringArrayVar(&cols, "col", nil, "recompute only this column (repeatable)")
	cmd.Flags().StringArrayVar(&aggs, "agg", nil, "recompute only this aggregate (repeatable)")
	cmd.Flags().BoolVar(&all, "all", false, "recompute every sheet in the workbook")
	return cmd
}

func runRecalc(opts *RootOptions, id sheet.SheetID, cols, aggs []string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	colIDs := make([]sheet.ColumnID, 0, len(cols))
	for _, c := range cols {
		colIDs = append(colIDs, sheet.ColumnID(c))
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.gw.Recompute(ctx, decision(opts), id, colIDs, aggs)
	if err != nil {
		return mutationExitError(out, err)
	}
	return out.PrintPass(res)
}

func runRecalcAll(opts *RootOptions, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.gw.RecomputeAll(ctx, decision(opts))
	if err != nil {
		return mutationExitError(out, err)
	}
	return out.PrintPasses(results)
}
