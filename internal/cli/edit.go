package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/cascadehq/cascade/internal/gateway"
	"github.com/cascadehq/cascade/internal/sheet"
)

// NewEditCommand creates the edit command.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <sheet> <row> <column> <value>",
		Short: "Write a raw value into an input cell",
		Long: `Write a raw value into an input cell and run the recompute pass it
triggers. Derived columns are read-only; editing one is rejected.

The value parses as a number, true/false, or text; surround it with
quotes to force text, or pass "" to clear the cell.

Example:
  cascade edit orders 3 A 42`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runEdit(opts *RootOptions, args []string, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	row, err := parseRowID(args[1])
	if err != nil {
		return WrapExitError(ExitCommandError, "bad arguments", err)
	}
	ref := sheet.CellRef{Sheet: sheet.SheetID(args[0]), Row: row, Col: sheet.ColumnID(args[2])}

	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.gw.ApplyEdit(ctx, decision(opts), ref, parseLiteral(args[3]))
	if err != nil {
		return mutationExitError(out, err)
	}
	return out.PrintPass(res)
}

// mutationExitError renders a rejected mutation and converts it to the
// failure exit code.
func mutationExitError(out *OutputFormatter, err error) error {
	var mutErr *gateway.MutationError
	if errors.As(err, &mutErr) {
		out.Error(string(mutErr.Code), mutErr.Error())
		return WrapExitError(ExitFailure, "mutation rejected", err)
	}
	return WrapExitError(ExitFailure, "mutation failed", err)
}
