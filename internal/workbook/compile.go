// Package workbook loads workbook definitions written in CUE and
// builds the in-memory model from them. A definition declares sheets,
// their typed columns (with optional formulas), and their aggregates:
//
//	workbook: sheets: {
//		orders: {
//			columns: [
//				{id: "A", type: "number"},
//				{id: "B", type: "number", formula: "A * 2"},
//				{id: "C", type: "number", formula: {src: "B + 1", trigger: "manual"}},
//			]
//			aggregates: [
//				{name: "Total", formula: "sum(B)"},
//			]
//			rows: 2
//		}
//	}
//
// A formula may be a bare string (trigger defaults to row for columns
// and sheet for aggregates) or a struct with explicit src and trigger.
package workbook

import (
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/value"
)

// CompileError is a definition error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// compileWorkbook parses the root CUE value into a workbook model.
// Sheets come back in declaration order.
func compileWorkbook(v cue.Value) (*sheet.Workbook, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	sheetsVal := v.LookupPath(cue.ParsePath("workbook.sheets"))
	if !sheetsVal.Exists() {
		return nil, &CompileError{
			Field:   "workbook.sheets",
			Message: "definition has no workbook.sheets",
			Pos:     v.Pos(),
		}
	}

	wb := &sheet.Workbook{}
	iter, err := sheetsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		id := sheet.SheetID(iter.Label())
		if wb.Sheet(id) != nil {
			return nil, &CompileError{
				Field:   "sheet." + string(id),
				Message: "duplicate sheet",
				Pos:     iter.Value().Pos(),
			}
		}
		sh, err := compileSheet(id, iter.Value())
		if err != nil {
			return nil, err
		}
		wb.Sheets = append(wb.Sheets, sh)
	}
	if len(wb.Sheets) == 0 {
		return nil, &CompileError{
			Field:   "workbook.sheets",
			Message: "at least one sheet is required",
			Pos:     sheetsVal.Pos(),
		}
	}
	return wb, nil
}

func compileSheet(id sheet.SheetID, v cue.Value) (*sheet.Sheet, error) {
	sh := &sheet.Sheet{ID: id}

	colsVal := v.LookupPath(cue.ParsePath("columns"))
	if !colsVal.Exists() {
		return nil, &CompileError{
			Field:   "sheet." + string(id),
			Message: "at least one column is required",
			Pos:     v.Pos(),
		}
	}
	colIter, err := colsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for colIter.Next() {
		col, err := compileColumn(id, colIter.Value())
		if err != nil {
			return nil, err
		}
		if sh.Column(col.ID) != nil {
			return nil, &CompileError{
				Field:   fmt.Sprintf("sheet.%s.columns", id),
				Message: fmt.Sprintf("duplicate column %q", col.ID),
				Pos:     colIter.Value().Pos(),
			}
		}
		sh.Columns = append(sh.Columns, col)
	}
	if len(sh.Columns) == 0 {
		return nil, &CompileError{
			Field:   "sheet." + string(id),
			Message: "at least one column is required",
			Pos:     colsVal.Pos(),
		}
	}

	aggsVal := v.LookupPath(cue.ParsePath("aggregates"))
	if aggsVal.Exists() {
		aggIter, err := aggsVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for aggIter.Next() {
			agg, err := compileAggregate(id, aggIter.Value())
			if err != nil {
				return nil, err
			}
			if sh.Aggregate(agg.Name) != nil || sh.Column(sheet.ColumnID(agg.Name)) != nil {
				return nil, &CompileError{
					Field:   fmt.Sprintf("sheet.%s.aggregates", id),
					Message: fmt.Sprintf("name %q already in use", agg.Name),
					Pos:     aggIter.Value().Pos(),
				}
			}
			sh.Aggregates = append(sh.Aggregates, agg)
		}
	}

	rowsVal := v.LookupPath(cue.ParsePath("rows"))
	if rowsVal.Exists() {
		n, err := rowsVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if n < 0 {
			return nil, &CompileError{
				Field:   fmt.Sprintf("sheet.%s.rows", id),
				Message: "initial row count cannot be negative",
				Pos:     rowsVal.Pos(),
			}
		}
		for range n {
			sh.InsertRow()
		}
	}

	return sh, nil
}

func compileColumn(id sheet.SheetID, v cue.Value) (*sheet.Column, error) {
	colID, err := v.LookupPath(cue.ParsePath("id")).String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if colID == "" {
		return nil, &CompileError{
			Field:   fmt.Sprintf("sheet.%s.columns", id),
			Message: "column id cannot be empty",
			Pos:     v.Pos(),
		}
	}

	typStr, err := v.LookupPath(cue.ParsePath("type")).String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	typ, err := value.ParseType(typStr)
	if err != nil {
		return nil, &CompileError{
			Field:   fmt.Sprintf("sheet.%s.columns.%s", id, colID),
			Message: err.Error(),
			Pos:     v.Pos(),
		}
	}

	col := &sheet.Column{ID: sheet.ColumnID(colID), Type: typ}

	formulaVal := v.LookupPath(cue.ParsePath("formula"))
	if formulaVal.Exists() {
		def, err := compileFormula(formulaVal, sheet.TriggerRow)
		if err != nil {
			return nil, err
		}
		if def.Trigger == sheet.TriggerSheet {
			return nil, &CompileError{
				Field:   fmt.Sprintf("sheet.%s.columns.%s", id, colID),
				Message: "column formulas trigger on row or manual, not sheet",
				Pos:     formulaVal.Pos(),
			}
		}
		col.Formula = def
	}
	return col, nil
}

func compileAggregate(id sheet.SheetID, v cue.Value) (*sheet.Aggregate, error) {
	name, err := v.LookupPath(cue.ParsePath("name")).String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if name == "" {
		return nil, &CompileError{
			Field:   fmt.Sprintf("sheet.%s.aggregates", id),
			Message: "aggregate name cannot be empty",
			Pos:     v.Pos(),
		}
	}

	formulaVal := v.LookupPath(cue.ParsePath("formula"))
	if !formulaVal.Exists() {
		return nil, &CompileError{
			Field:   fmt.Sprintf("sheet.%s.aggregates.%s", id, name),
			Message: "aggregate formula is required",
			Pos:     v.Pos(),
		}
	}
	def, err := compileFormula(formulaVal, sheet.TriggerSheet)
	if err != nil {
		return nil, err
	}
	if def.Trigger == sheet.TriggerRow {
		return nil, &CompileError{
			Field:   fmt.Sprintf("sheet.%s.aggregates.%s", id, name),
			Message: "aggregate formulas trigger on sheet or manual, not row",
			Pos:     formulaVal.Pos(),
		}
	}
	return &sheet.Aggregate{Name: name, Formula: *def}, nil
}

// compileFormula accepts either a bare source string or a struct with
// src and an optional trigger.
func compileFormula(v cue.Value, defaultTrigger sheet.TriggerKind) (*sheet.FormulaDef, error) {
	if src, err := v.String(); err == nil {
		return &sheet.FormulaDef{Source: src, Trigger: defaultTrigger}, nil
	}

	srcVal := v.LookupPath(cue.ParsePath("src"))
	if !srcVal.Exists() {
		return nil, &CompileError{
			Field:   "formula",
			Message: "must be a string or a struct with a src field",
			Pos:     v.Pos(),
		}
	}
	src, err := srcVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}

	def := &sheet.FormulaDef{Source: src, Trigger: defaultTrigger}
	trigVal := v.LookupPath(cue.ParsePath("trigger"))
	if trigVal.Exists() {
		trigStr, err := trigVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		trigger, err := sheet.ParseTrigger(trigStr)
		if err != nil {
			return nil, &CompileError{
				Field:   "formula.trigger",
				Message: err.Error(),
				Pos:     trigVal.Pos(),
			}
		}
		def.Trigger = trigger
	}
	return def, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
