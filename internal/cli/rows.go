package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cascadehq/cascade/internal/sheet"
)

// NewRowsCommand creates the rows command group.
func NewRowsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rows",
		Short: "Insert and remove rows",
	}
	cmd.AddCommand(newRowsAddCommand(rootOpts))
	cmd.AddCommand(newRowsRmCommand(rootOpts))
	return cmd
}

func newRowsAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <sheet>",
		Short: "Append a new row to a sheet",
		Long: `Append a new row. Derived cells of the row evaluate immediately, so
formulas over empty inputs surface their errors right away.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRowsAdd(rootOpts, sheet.SheetID(args[0]), cmd)
		},
	}
}

func runRowsAdd(opts *RootOptions, id sheet.SheetID, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	row, res, err := a.gw.InsertRow(ctx, decision(opts), id)
	if err != nil {
		return mutationExitError(out, err)
	}
	if opts.Format == "text" {
		fmt.Fprintf(cmd.OutOrStdout(), "inserted row %d\n", row)
		return out.PrintPass(res)
	}
	return out.Success(map[string]any{"row": row, "pass": summarizePass(res)})
}

func newRowsRmCommand(rootOpts *RootOptions) *cobra.Command {
	var hard bool
	cmd := &cobra.Command{
		Use:   "rm <sheet> <row>",
		Short: "Remove a row from a sheet",
		Long: `Remove a row. Removal is logical: the row stops feeding aggregates
but its data stays recoverable. --hard erases the row's cells for
good and requires the superadmin role.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRowsRm(rootOpts, sheet.SheetID(args[0]), args[1], hard, cmd)
		},
	}
	cmd.Flags().BoolVar(&hard, "hard", false, "erase the row permanently (superadmin only)")
	return cmd
}

func runRowsRm(opts *RootOptions, id sheet.SheetID, rowArg string, hard bool, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	row, err := parseRowID(rowArg)
	if err != nil {
		return WrapExitError(ExitCommandError, "bad arguments", err)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if hard {
		passRes, err := a.gw.HardDeleteRow(ctx, decision(opts), id, row)
		if err != nil {
			return mutationExitError(out, err)
		}
		return out.PrintPass(passRes)
	}
	passRes, err := a.gw.DeleteRow(ctx, decision(opts), id, row)
	if err != nil {
		return mutationExitError(out, err)
	}
	return out.PrintPass(passRes)
}
