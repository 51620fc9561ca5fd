// Package graph maintains the dependency graph over formula-bearing
// columns and aggregates. It owns edges derived from formulas but
// never owns cell data.
//
// Edges are kept at column granularity (a row-trigger formula's
// per-row cells all share the same column-level dependency shape);
// the affected-closure walk expands to per-row nodes on demand.
package graph

import (
	"fmt"
	"slices"
	"sync"

	"github.com/cascadehq/cascade/internal/formula"
	"github.com/cascadehq/cascade/internal/sheet"
)

// colFormula is a registered derived-column formula.
type colFormula struct {
	col     sheet.ColumnID
	ordinal int
	trigger sheet.TriggerKind
	parsed  *formula.Parsed
	colRefs []sheet.ColumnID // same-row column dependencies
	aggRefs []string         // aggregate dependencies
}

// aggFormula is a registered sheet aggregate formula.
type aggFormula struct {
	name    string
	ordinal int
	trigger sheet.TriggerKind
	parsed  *formula.Parsed
	colRefs []sheet.ColumnID // whole-column dependencies
	aggRefs []string
}

// sheetGraph holds one sheet's formulas. All dependencies stay within
// a sheet, so cycle checks and closures never cross sheets.
type sheetGraph struct {
	cols map[sheet.ColumnID]*colFormula
	aggs map[string]*aggFormula
}

func newSheetGraph() *sheetGraph {
	return &sheetGraph{
		cols: make(map[sheet.ColumnID]*colFormula),
		aggs: make(map[string]*aggFormula),
	}
}

func (sg *sheetGraph) clone() *sheetGraph {
	out := newSheetGraph()
	for k, v := range sg.cols {
		out.cols[k] = v
	}
	for k, v := range sg.aggs {
		out.aggs[k] = v
	}
	return out
}

// Graph is the dependency graph for a workbook. It is read-heavy and
// mutated only on formula create/update/delete; mutations swap a
// rebuilt per-sheet graph under the lock, so in-flight readers never
// observe a graph mid-edit.
type Graph struct {
	mu     sync.RWMutex
	sheets map[sheet.SheetID]*sheetGraph
}

// New creates an empty dependency graph.
func New() *Graph {
	return &Graph{sheets: make(map[sheet.SheetID]*sheetGraph)}
}

func (g *Graph) sheetGraphFor(id sheet.SheetID) *sheetGraph {
	if sg, ok := g.sheets[id]; ok {
		return sg
	}
	return newSheetGraph()
}

// AddOrReplaceColumnFormula registers a derived column's formula.
// The declared dependency set comes from the parsed references; each
// must name an existing column or aggregate in the sheet. If inserting
// the new edges would create a cycle, the call fails with a CycleError
// and the graph is left unchanged (check happens on a candidate copy,
// which is only swapped in on success).
func (g *Graph) AddOrReplaceColumnFormula(sh *sheet.Sheet, col sheet.ColumnID, parsed *formula.Parsed, trigger sheet.TriggerKind) error {
	ordinal := sh.ColumnOrdinal(col)
	if ordinal < 0 {
		return fmt.Errorf("column %s not in sheet %s", col, sh.ID)
	}

	cf := &colFormula{
		col:     col,
		ordinal: ordinal,
		trigger: trigger,
		parsed:  parsed,
	}
	for _, ref := range parsed.Refs {
		switch {
		case sh.Column(sheet.ColumnID(ref)) != nil:
			// Row-trigger formulas only reach cells within their own
			// row; a bare column reference binds the same-row cell.
			cf.colRefs = append(cf.colRefs, sheet.ColumnID(ref))
		case sh.Aggregate(ref) != nil:
			cf.aggRefs = append(cf.aggRefs, ref)
		default:
			return fmt.Errorf("formula for column %s references unknown name %q", col, ref)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	candidate := g.sheetGraphFor(sh.ID).clone()
	candidate.cols[col] = cf
	if err := candidate.checkAcyclic(sh.ID); err != nil {
		return err
	}
	g.sheets[sh.ID] = candidate
	return nil
}

// AddOrReplaceAggregate registers a sheet aggregate's formula. An
// aggregate may depend on any column in the sheet, and on other
// aggregates as long as no cycle results.
func (g *Graph) AddOrReplaceAggregate(sh *sheet.Sheet, name string, parsed *formula.Parsed, trigger sheet.TriggerKind) error {
	ordinal := sh.AggregateOrdinal(name)
	if ordinal < 0 {
		return fmt.Errorf("aggregate %s not in sheet %s", name, sh.ID)
	}
	if trigger == sheet.TriggerRow {
		return fmt.Errorf("aggregate %s: row trigger is not valid for sheet aggregates", name)
	}

	af := &aggFormula{
		name:    name,
		ordinal: ordinal,
		trigger: trigger,
		parsed:  parsed,
	}
	for _, ref := range parsed.Refs {
		switch {
		case sh.Column(sheet.ColumnID(ref)) != nil:
			af.colRefs = append(af.colRefs, sheet.ColumnID(ref))
		case sh.Aggregate(ref) != nil:
			if ref == name {
				return &CycleError{Sheet: sh.ID, Path: []string{aggKey(name), aggKey(name)}}
			}
			af.aggRefs = append(af.aggRefs, ref)
		default:
			return fmt.Errorf("formula for aggregate %s references unknown name %q", name, ref)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	candidate := g.sheetGraphFor(sh.ID).clone()
	candidate.aggs[name] = af
	if err := candidate.checkAcyclic(sh.ID); err != nil {
		return err
	}
	g.sheets[sh.ID] = candidate
	return nil
}

// RemoveColumnFormula unregisters a derived column's formula. Removing
// edges can never create a cycle, so this always succeeds.
func (g *Graph) RemoveColumnFormula(id sheet.SheetID, col sheet.ColumnID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	candidate := g.sheetGraphFor(id).clone()
	delete(candidate.cols, col)
	g.sheets[id] = candidate
}

// RemoveAggregate unregisters an aggregate's formula.
func (g *Graph) RemoveAggregate(id sheet.SheetID, name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	candidate := g.sheetGraphFor(id).clone()
	delete(candidate.aggs, name)
	g.sheets[id] = candidate
}

// ColumnFormula returns the compiled formula for a derived column, or
// nil if none is registered.
func (g *Graph) ColumnFormula(id sheet.SheetID, col sheet.ColumnID) *formula.Parsed {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if cf, ok := g.sheetGraphFor(id).cols[col]; ok {
		return cf.parsed
	}
	return nil
}

// AggregateFormula returns the compiled formula for an aggregate, or
// nil if none is registered.
func (g *Graph) AggregateFormula(id sheet.SheetID, name string) *formula.Parsed {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if af, ok := g.sheetGraphFor(id).aggs[name]; ok {
		return af.parsed
	}
	return nil
}

// colKey and aggKey name column-level graph nodes for cycle reporting.
func colKey(c sheet.ColumnID) string { return "column " + string(c) }
func aggKey(n string) string         { return "aggregate " + n }

// sortedColIDs returns the derived-column IDs in stable order.
func (sg *sheetGraph) sortedColIDs() []sheet.ColumnID {
	ids := make([]sheet.ColumnID, 0, len(sg.cols))
	for id := range sg.cols {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// sortedAggNames returns the aggregate names in stable order.
func (sg *sheetGraph) sortedAggNames() []string {
	names := make([]string, 0, len(sg.aggs))
	for n := range sg.aggs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
