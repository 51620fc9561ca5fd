package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/sheet"
)

// NewFormulaCommand creates the formula command group.
func NewFormulaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "formula",
		Short: "Manage column and aggregate formulas",
	}
	cmd.AddCommand(newFormulaSetCommand(rootOpts))
	cmd.AddCommand(newFormulaRmCommand(rootOpts))
	return cmd
}

func newFormulaSetCommand(rootOpts *RootOptions) *cobra.Command {
	var trigger string
	var aggregate bool
	cmd := &cobra.Command{
		Use:   "set <sheet> <target> <source>",
		Short: "Create or replace a formula (superadmin only)",
		Long: `Create or replace the formula of a column, or of a sheet aggregate
with --aggregate. The formula is parsed and cycle-checked before it
takes effect; a definition that would loop is rejected whole.

Column triggers: row (default) or manual. Aggregate triggers: sheet
(default) or manual.

Example:
  cascade formula set orders B "A * 2" --role superadmin
  cascade formula set orders Total "sum(B)" --aggregate --role superadmin`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFormulaSet(rootOpts, args, trigger, aggregate, cmd)
		},
	}
	cmd.Flags().StringVar(&trigger, "trigger", "", "recompute trigger (row|sheet|manual)")
	cmd.Flags().BoolVar(&aggregate, "aggregate", false, "target is a sheet aggregate")
	return cmd
}

func runFormulaSet(opts *RootOptions, args []string, triggerFlag string, aggregate bool, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	id := sheet.SheetID(args[0])

	trigger := sheet.TriggerRow
	if aggregate {
		trigger = sheet.TriggerSheet
	}
	if triggerFlag != "" {
		var err error
		trigger, err = sheet.ParseTrigger(triggerFlag)
		if err != nil {
			return WrapExitError(ExitCommandError, "bad arguments", err)
		}
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if aggregate {
		passRes, err := a.gw.SetAggregateFormula(ctx, decision(opts), id, args[1], args[2], trigger)
		if err != nil {
			return formulaExitError(out, err)
		}
		return out.PrintPass(passRes)
	}
	passRes, err := a.gw.SetColumnFormula(ctx, decision(opts), id, sheet.ColumnID(args[1]), args[2], trigger)
	if err != nil {
		return formulaExitError(out, err)
	}
	return out.PrintPass(passRes)
}

// formulaExitError renders cycle rejections with their path before
// falling back to the generic mutation rendering.
func formulaExitError(out *OutputFormatter, err error) error {
	var cycleErr *graph.CycleError
	if errors.As(err, &cycleErr) {
		out.Error("CYCLE", cycleErr.Error())
		return WrapExitError(ExitFailure, "formula rejected", err)
	}
	return mutationExitError(out, err)
}

func newFormulaRmCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <sheet> <column>",
		Short: "Remove a column formula (superadmin only)",
		Long: `Remove a column's formula, turning it back into an editable input
column. Existing computed values stay in place as raw data does not
exist for them; aggregate formulas can only be replaced, not removed.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFormulaRm(rootOpts, sheet.SheetID(args[0]), sheet.ColumnID(args[1]), cmd)
		},
	}
}

func runFormulaRm(opts *RootOptions, id sheet.SheetID, col sheet.ColumnID, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.gw.RemoveColumnFormula(ctx, decision(opts), id, col); err != nil {
		return mutationExitError(out, err)
	}
	return out.Success(fmt.Sprintf("removed formula from %s.%s; column is editable again", id, col))
}
