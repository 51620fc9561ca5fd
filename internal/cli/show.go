package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/value"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <sheet>",
		Short: "Print a sheet's current values",
		Long: `Print a sheet: input columns show their raw values, derived columns
their computed (or error) values, and aggregates follow the rows.
Stale cells are marked with ~.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(rootOpts, sheet.SheetID(args[0]), cmd)
		},
	}
	return cmd
}

func runShow(opts *RootOptions, id sheet.SheetID, cmd *cobra.Command) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}

	ctx := cmd.Context()
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	sh := a.wb.Sheet(id)
	if sh == nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("sheet %s not found", id), nil)
	}

	if opts.Format == "json" {
		return out.Success(sheetJSON(a, sh))
	}
	printSheet(a, sh, cmd)
	return nil
}

func printSheet(a *app, sh *sheet.Sheet, cmd *cobra.Command) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 2, 4, 2, ' ', 0)

	header := []string{"row"}
	for _, col := range sh.Columns {
		name := string(col.ID)
		if col.Derived() {
			name += "*"
		}
		header = append(header, name)
	}
	fmt.Fprintln(w, strings.Join(header, "\t"))

	for _, rowID := range sh.ActiveRows() {
		line := []string{fmt.Sprintf("%d", rowID)}
		for _, col := range sh.Columns {
			cell := a.grid.Cell(sheet.CellRef{Sheet: sh.ID, Row: rowID, Col: col.ID})
			line = append(line, renderCell(cell, col.Derived()))
		}
		fmt.Fprintln(w, strings.Join(line, "\t"))
	}
	w.Flush()

	for _, agg := range sh.Aggregates {
		cell := a.grid.Agg(sheet.AggRef{Sheet: sh.ID, Name: agg.Name})
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", agg.Name, renderCell(cell, true))
	}
}

// renderCell formats one cell for the table: derived cells show their
// effective value (errors in red), input cells their raw value, and a
// ~ suffix marks staleness.
func renderCell(cell sheet.Cell, derived bool) string {
	var s string
	if derived {
		v := cell.Effective()
		if value.IsError(v) {
			s = color.New(color.FgRed).Sprint(value.Display(v))
		} else {
			s = value.Display(v)
		}
	} else {
		s = value.Display(cell.Raw)
	}
	if cell.Stale {
		s += color.New(color.FgYellow).Sprint("~")
	}
	return s
}

// sheetJSON is the JSON rendering of a sheet's current state.
func sheetJSON(a *app, sh *sheet.Sheet) map[string]any {
	cols := make([]map[string]any, 0, len(sh.Columns))
	for _, col := range sh.Columns {
		c := map[string]any{"id": col.ID, "type": col.Type, "derived": col.Derived()}
		if col.Formula != nil {
			c["formula"] = col.Formula.Source
			c["trigger"] = col.Formula.Trigger.String()
		}
		cols = append(cols, c)
	}

	rows := make([]map[string]any, 0)
	for _, rowID := range sh.ActiveRows() {
		cells := map[string]any{}
		for _, col := range sh.Columns {
			cell := a.grid.Cell(sheet.CellRef{Sheet: sh.ID, Row: rowID, Col: col.ID})
			cells[string(col.ID)] = cellJSON(cell, col.Derived())
		}
		rows = append(rows, map[string]any{"id": rowID, "cells": cells})
	}

	aggs := map[string]any{}
	for _, agg := range sh.Aggregates {
		aggs[agg.Name] = cellJSON(a.grid.Agg(sheet.AggRef{Sheet: sh.ID, Name: agg.Name}), true)
	}

	return map[string]any{
		"sheet":      sh.ID,
		"columns":    cols,
		"rows":       rows,
		"aggregates": aggs,
	}
}

func cellJSON(cell sheet.Cell, derived bool) map[string]any {
	out := map[string]any{"stale": cell.Stale}
	if derived {
		v := cell.Effective()
		if errVal, ok := v.(value.Error); ok {
			out["error"] = map[string]any{"code": errVal.Code, "message": errVal.Message}
		} else {
			out["value"] = value.Display(v)
		}
	} else {
		out["value"] = value.Display(cell.Raw)
	}
	return out
}
