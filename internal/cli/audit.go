package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cascadehq/cascade/internal/audit"
	"github.com/cascadehq/cascade/internal/value"
)

// NewAuditCommand creates the audit command.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	var verify bool
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the audit log",
		Long: `Print the audit log in chain order. --verify recomputes the hash
chain from genesis and fails if any entry was altered or removed.

Example:
  cascade audit -n 20
  cascade audit --verify`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(rootOpts, verify, limit, cmd)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "verify the hash chain")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show only the first N entries (0 = all)")
	return cmd
}

func runAudit(opts *RootOptions, verify bool, limit int, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if verify {
		if err := a.store.VerifyChain(ctx); err != nil {
			out.Error("CHAIN_BROKEN", err.Error())
			return WrapExitError(ExitFailure, "audit chain verification failed", err)
		}
		if opts.Format == "text" {
			fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgGreen).Sprint("audit chain verified"))
		}
	}

	entries, err := a.store.ReadAudit(ctx, limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "reading audit log", err)
	}

	if opts.Format == "json" {
		return out.Success(map[string]any{
			"entries":  entriesJSON(entries),
			"verified": verify,
		})
	}
	for _, e := range entries {
		printEntry(cmd, e)
	}
	return nil
}

func printEntry(cmd *cobra.Command, e audit.Entry) {
	target := string(e.Sheet)
	switch {
	case e.Aggregate != "":
		target += "!" + e.Aggregate
	case e.Col != "" && e.Row != 0:
		target += fmt.Sprintf("!%d.%s", e.Row, e.Col)
	case e.Col != "":
		target += "." + string(e.Col)
	case e.Row != 0:
		target += fmt.Sprintf("!%d", e.Row)
	}

	line := fmt.Sprintf("%4d  %s  %-14s %-12s %s",
		e.Seq,
		e.Time.Format("2006-01-02 15:04:05"),
		e.Actor.Name,
		e.Action,
		target,
	)
	if e.After != nil || e.Before != nil {
		line += fmt.Sprintf("  %s -> %s", value.Display(e.Before), value.Display(e.After))
	}
	if e.PassToken != "" {
		line += color.New(color.FgHiBlack).Sprintf("  pass=%s", e.PassToken)
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}

func entriesJSON(entries []audit.Entry) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		m := map[string]any{
			"seq":    e.Seq,
			"id":     e.ID,
			"time":   e.Time,
			"actor":  map[string]any{"id": e.Actor.ID, "name": e.Actor.Name, "role": e.Actor.Role},
			"action": e.Action,
			"sheet":  e.Sheet,
			"hash":   e.Hash,
		}
		if e.Row != 0 {
			m["row"] = e.Row
		}
		if e.Col != "" {
			m["col"] = e.Col
		}
		if e.Aggregate != "" {
			m["aggregate"] = e.Aggregate
		}
		if e.Before != nil {
			m["before"] = value.Display(e.Before)
		}
		if e.After != nil {
			m["after"] = value.Display(e.After)
		}
		if e.PassToken != "" {
			m["pass"] = e.PassToken
		}
		out = append(out, m)
	}
	return out
}
