// Package cli implements the cascade command line interface. Every
// command opens the workbook database under an exclusive file lock,
// applies its mutation through the gateway, and prints the resulting
// recompute pass. One process writes at a time; the lock makes the
// single-writer rule hold across processes too.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	Database string
	Config   string

	// Actor identity for audit entries and scope decisions.
	ActorID   string
	ActorName string
	Role      string // "user" | "superadmin"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the cascade CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cascade",
		Short: "Cascade - formula recomputation engine",
		Long: `Cascade is a multi-sheet tabular data store with derived columns,
sheet aggregates, and audited mutations. Edits propagate through the
dependency graph deterministically; formula failures become error
values in cells, never lost data.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Role != "user" && opts.Role != "superadmin" {
				return fmt.Errorf("invalid role %q: must be user or superadmin", opts.Role)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to workbook database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "cascade.toml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.ActorID, "actor", "local", "actor id recorded in audit entries")
	cmd.PersistentFlags().StringVar(&opts.ActorName, "actor-name", "", "actor display name (defaults to actor id)")
	cmd.PersistentFlags().StringVar(&opts.Role, "role", "user", "actor role (user|superadmin)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewEditCommand(opts))
	cmd.AddCommand(NewRowsCommand(opts))
	cmd.AddCommand(NewFormulaCommand(opts))
	cmd.AddCommand(NewRecalcCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))

	return cmd
}
