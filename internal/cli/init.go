package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/store"
	"github.com/cascadehq/cascade/internal/workbook"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init <defs-dir>",
		Short: "Create a workbook database from CUE definitions",
		Long: `Load workbook definitions from a directory of CUE files, validate
every formula against the dependency graph, and write the workbook
into a new database.

Example:
  cascade init ./defs --db ./workbook.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runInit(opts *RootOptions, defsDir string, cmd *cobra.Command) error {
	setupLogging(opts)
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "loading config", err)
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}

	wb, _, err := workbook.Load(defsDir)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid workbook definition", err)
	}

	ctx := cmd.Context()
	lock, err := acquireLock(ctx, cfg.Database.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "locking workbook", err)
	}
	defer lock.Unlock()

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return WrapExitError(ExitCommandError, "opening database", err)
	}
	defer st.Close()

	if err := st.InitWorkbook(ctx, wb); err != nil {
		return WrapExitError(ExitCommandError, "writing workbook", err)
	}

	sheets := 0
	columns := 0
	for _, sh := range wb.Sheets {
		sheets++
		columns += len(sh.Columns)
	}
	return out.Success(fmt.Sprintf("initialized %s: %d sheet(s), %d column(s)", cfg.Database.Path, sheets, columns))
}
