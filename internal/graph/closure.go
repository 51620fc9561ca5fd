package graph

import (
	"math"
	"slices"

	"github.com/cascadehq/cascade/internal/sheet"
)

// NodeKind distinguishes per-row cell nodes from sheet aggregates.
type NodeKind int

const (
	NodeCell NodeKind = iota + 1
	NodeAggregate
)

// Node is one entry of an affected closure: a derived cell to
// recompute, or an aggregate.
type Node struct {
	Kind NodeKind
	Cell sheet.CellRef // set when Kind == NodeCell
	Agg  sheet.AggRef  // set when Kind == NodeAggregate
}

func (n Node) String() string {
	if n.Kind == NodeAggregate {
		return n.Agg.String()
	}
	return n.Cell.String()
}

// ClosureOptions widens an automatic closure beyond the changed cells:
// explicitly requested formulas (the only way manual-trigger formulas
// ever run) and structural row-set changes.
type ClosureOptions struct {
	// ManualCols names columns explicitly requested for recompute.
	// Their cells seed the closure across all active rows. Required to
	// run a manual-trigger column; also used to seed a just-saved
	// formula regardless of trigger.
	ManualCols []sheet.ColumnID
	// ManualAggs names aggregates explicitly requested.
	ManualAggs []string
	// RecomputeAll seeds every registered formula (all rows), manual
	// ones included. Used for whole-sheet manual recomputes.
	RecomputeAll bool
	// ShapeChanged seeds every non-manual aggregate: a row insert or
	// delete changes the row set every aggregate reads, even though no
	// individual cell was edited.
	ShapeChanged bool
	// NewRows seeds every non-manual derived column on these rows, so
	// a freshly inserted row gets all its derived cells evaluated even
	// where a formula reads no input column at all.
	NewRows []sheet.RowID
}

// rowScope tracks which rows of a derived column are affected. An
// aggregate in the chain widens scope to every row, because a row
// formula reading an aggregate is affected in all rows when the
// aggregate moves.
type rowScope struct {
	all  bool
	rows map[sheet.RowID]bool
}

func (rs *rowScope) addRows(ids []sheet.RowID) bool {
	if rs.all {
		return false
	}
	if rs.rows == nil {
		rs.rows = make(map[sheet.RowID]bool)
	}
	grew := false
	for _, id := range ids {
		if !rs.rows[id] {
			rs.rows[id] = true
			grew = true
		}
	}
	return grew
}

func (rs *rowScope) widenAll() bool {
	if rs.all {
		return false
	}
	rs.all = true
	rs.rows = nil
	return true
}

// AffectedClosure computes, for a set of changed cells in one sheet,
// the derived nodes that become stale, in deterministic evaluation
// order: a topological order of the reachable subgraph with ties
// broken ascending (row index, column index), aggregates ordered
// after the rows they read.
//
// Row-trigger formulas are expanded per affected row only; a sheet
// aggregate appears once no matter how many rows changed. A node with
// no path from any changed cell is never included.
func (g *Graph) AffectedClosure(sh *sheet.Sheet, changed []sheet.CellRef, opts ClosureOptions) []Node {
	g.mu.RLock()
	sg := g.sheetGraphFor(sh.ID)
	g.mu.RUnlock()

	activeRows := sh.ActiveRows()

	// Column-level propagation with row tracking.
	colScope := make(map[sheet.ColumnID]*rowScope) // affected derived columns
	aggReached := make(map[string]bool)

	// inputScope carries the rows in which a column's value changed,
	// for input and derived columns alike.
	inputScope := make(map[sheet.ColumnID]*rowScope)
	for _, ref := range changed {
		rs := inputScope[ref.Col]
		if rs == nil {
			rs = &rowScope{}
			inputScope[ref.Col] = rs
		}
		rs.addRows([]sheet.RowID{ref.Row})
	}

	included := func(trigger sheet.TriggerKind, col sheet.ColumnID, agg string) bool {
		if trigger != sheet.TriggerManual {
			return true
		}
		if opts.RecomputeAll {
			return true
		}
		if col != "" && slices.Contains(opts.ManualCols, col) {
			return true
		}
		return agg != "" && slices.Contains(opts.ManualAggs, agg)
	}

	// Seed explicitly requested formulas.
	if opts.RecomputeAll {
		for _, col := range sg.sortedColIDs() {
			scope := &rowScope{}
			scope.widenAll()
			colScope[col] = scope
		}
		for _, name := range sg.sortedAggNames() {
			aggReached[name] = true
		}
	}
	for _, col := range opts.ManualCols {
		if _, ok := sg.cols[col]; ok {
			scope := &rowScope{}
			scope.widenAll()
			colScope[col] = scope
		}
	}
	for _, name := range opts.ManualAggs {
		if _, ok := sg.aggs[name]; ok {
			aggReached[name] = true
		}
	}
	if opts.ShapeChanged {
		for _, name := range sg.sortedAggNames() {
			if included(sg.aggs[name].trigger, "", name) {
				aggReached[name] = true
			}
		}
	}
	if len(opts.NewRows) > 0 {
		for _, col := range sg.sortedColIDs() {
			if !included(sg.cols[col].trigger, col, "") {
				continue
			}
			rs := colScope[col]
			if rs == nil {
				rs = &rowScope{}
				colScope[col] = rs
			}
			rs.addRows(opts.NewRows)
		}
	}

	// Fixed-point forward reachability. Graphs are small (columns per
	// sheet), so the repeated sweep is cheap and keeps the propagation
	// rules in one obvious place.
	for changedPass := true; changedPass; {
		changedPass = false

		producerRows := func(c sheet.ColumnID) *rowScope {
			// A column's changed rows: raw edits plus recomputed rows.
			merged := &rowScope{}
			if rs := inputScope[c]; rs != nil {
				if rs.all {
					merged.widenAll()
				} else {
					for r := range rs.rows {
						merged.addRows([]sheet.RowID{r})
					}
				}
			}
			if rs := colScope[c]; rs != nil {
				if rs.all {
					merged.widenAll()
				} else {
					for r := range rs.rows {
						merged.addRows([]sheet.RowID{r})
					}
				}
			}
			return merged
		}

		for _, col := range sg.sortedColIDs() {
			cf := sg.cols[col]
			if !included(cf.trigger, col, "") {
				continue
			}
			gain := &rowScope{}
			for _, dep := range cf.colRefs {
				src := producerRows(dep)
				if src.all {
					gain.widenAll()
				} else {
					for r := range src.rows {
						gain.addRows([]sheet.RowID{r})
					}
				}
			}
			for _, dep := range cf.aggRefs {
				if aggReached[dep] {
					// An aggregate input moved: every row of this
					// column re-evaluates.
					gain.widenAll()
				}
			}
			if gain.all || len(gain.rows) > 0 {
				rs := colScope[col]
				if rs == nil {
					rs = &rowScope{}
					colScope[col] = rs
				}
				if gain.all {
					if rs.widenAll() {
						changedPass = true
					}
				} else {
					ids := make([]sheet.RowID, 0, len(gain.rows))
					for r := range gain.rows {
						ids = append(ids, r)
					}
					if rs.addRows(ids) {
						changedPass = true
					}
				}
			}
		}

		for _, name := range sg.sortedAggNames() {
			af := sg.aggs[name]
			if aggReached[name] || !included(af.trigger, "", name) {
				continue
			}
			hit := false
			for _, dep := range af.colRefs {
				src := producerRows(dep)
				if src.all || len(src.rows) > 0 {
					hit = true
					break
				}
			}
			if !hit {
				for _, dep := range af.aggRefs {
					if aggReached[dep] {
						hit = true
						break
					}
				}
			}
			if hit {
				aggReached[name] = true
				changedPass = true
			}
		}
	}

	return sg.orderClosure(sh, activeRows, colScope, aggReached)
}

// closureNode is a node plus its Kahn bookkeeping.
type closureNode struct {
	node    Node
	sortRow int64 // row ID; aggregates sort after all rows
	sortCol int   // column ordinal, or aggregate ordinal
	deps    int   // unsatisfied dependency count
	outs    []int // indices of dependent nodes
}

// orderClosure expands affected columns to per-row nodes and runs
// Kahn's algorithm over the reachable subgraph. The ready set is kept
// sorted by (row, column ordinal) so unconstrained nodes come out in
// ascending grid order.
func (sg *sheetGraph) orderClosure(sh *sheet.Sheet, activeRows []sheet.RowID, colScope map[sheet.ColumnID]*rowScope, aggReached map[string]bool) []Node {
	var nodes []closureNode
	cellIndex := make(map[sheet.CellRef]int)
	aggIndex := make(map[string]int)

	rowsOf := func(rs *rowScope) []sheet.RowID {
		if rs.all {
			return activeRows
		}
		ids := make([]sheet.RowID, 0, len(rs.rows))
		for r := range rs.rows {
			ids = append(ids, r)
		}
		slices.Sort(ids)
		return ids
	}

	for _, col := range sg.sortedColIDs() {
		rs := colScope[col]
		if rs == nil {
			continue
		}
		cf := sg.cols[col]
		for _, row := range rowsOf(rs) {
			ref := sheet.CellRef{Sheet: sh.ID, Row: row, Col: col}
			cellIndex[ref] = len(nodes)
			nodes = append(nodes, closureNode{
				node:    Node{Kind: NodeCell, Cell: ref},
				sortRow: int64(row),
				sortCol: cf.ordinal,
			})
		}
	}
	for _, name := range sg.sortedAggNames() {
		if !aggReached[name] {
			continue
		}
		af := sg.aggs[name]
		aggIndex[name] = len(nodes)
		nodes = append(nodes, closureNode{
			node:    Node{Kind: NodeAggregate, Agg: sheet.AggRef{Sheet: sh.ID, Name: name}},
			sortRow: math.MaxInt64,
			sortCol: af.ordinal,
		})
	}

	addEdge := func(from, to int) {
		nodes[from].outs = append(nodes[from].outs, to)
		nodes[to].deps++
	}

	for i := range nodes {
		n := nodes[i]
		if n.node.Kind == NodeCell {
			cf := sg.cols[n.node.Cell.Col]
			for _, dep := range cf.colRefs {
				upstream := sheet.CellRef{Sheet: sh.ID, Row: n.node.Cell.Row, Col: dep}
				if j, ok := cellIndex[upstream]; ok {
					addEdge(j, i)
				}
			}
			for _, dep := range cf.aggRefs {
				if j, ok := aggIndex[dep]; ok {
					addEdge(j, i)
				}
			}
			continue
		}
		af := sg.aggs[n.node.Agg.Name]
		for _, dep := range af.colRefs {
			if rs := colScope[dep]; rs != nil {
				for _, row := range rowsOf(rs) {
					upstream := sheet.CellRef{Sheet: sh.ID, Row: row, Col: dep}
					if j, ok := cellIndex[upstream]; ok {
						addEdge(j, i)
					}
				}
			}
		}
		for _, dep := range af.aggRefs {
			if j, ok := aggIndex[dep]; ok {
				addEdge(j, i)
			}
		}
	}

	// Kahn with a sorted ready list. The registered graph is acyclic,
	// so every node drains.
	less := func(a, b int) int {
		if nodes[a].sortRow != nodes[b].sortRow {
			if nodes[a].sortRow < nodes[b].sortRow {
				return -1
			}
			return 1
		}
		if nodes[a].sortCol != nodes[b].sortCol {
			if nodes[a].sortCol < nodes[b].sortCol {
				return -1
			}
			return 1
		}
		return 0
	}

	var ready []int
	for i := range nodes {
		if nodes[i].deps == 0 {
			ready = append(ready, i)
		}
	}
	slices.SortFunc(ready, less)

	ordered := make([]Node, 0, len(nodes))
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		ordered = append(ordered, nodes[i].node)
		released := false
		for _, out := range nodes[i].outs {
			nodes[out].deps--
			if nodes[out].deps == 0 {
				ready = append(ready, out)
				released = true
			}
		}
		if released {
			slices.SortFunc(ready, less)
		}
	}
	return ordered
}
