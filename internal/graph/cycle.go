package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cascadehq/cascade/internal/sheet"
)

// CycleError reports that a formula's edges would make the sheet's
// dependency graph non-acyclic. It is rejected at formula-save time
// and never surfaces mid-recompute, because the registered graph is
// always kept acyclic.
type CycleError struct {
	Sheet sheet.SheetID
	Path  []string // e.g. ["column B", "aggregate Total", "column B"]
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("sheet %s: formula dependencies form a cycle: %s",
		e.Sheet, strings.Join(e.Path, " -> "))
}

// IsCycleError reports whether err wraps a CycleError.
func IsCycleError(err error) bool {
	var cerr *CycleError
	return errors.As(err, &cerr)
}

// checkAcyclic verifies the sheet's column-level graph has no cycles
// using a three-color depth-first search. Input columns have no
// dependencies and cannot participate in a cycle, so only registered
// formulas are visited.
func (sg *sheetGraph) checkAcyclic(id sheet.SheetID) error {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // done
	)
	color := make(map[string]int)

	// deps returns the column-level dependency keys of a node that are
	// themselves formula-bearing (inputs terminate the walk).
	deps := func(key string) []string {
		var out []string
		if col, ok := strings.CutPrefix(key, "column "); ok {
			cf := sg.cols[sheet.ColumnID(col)]
			if cf == nil {
				return nil
			}
			for _, c := range cf.colRefs {
				if _, isDerived := sg.cols[c]; isDerived {
					out = append(out, colKey(c))
				}
			}
			for _, a := range cf.aggRefs {
				if _, registered := sg.aggs[a]; registered {
					out = append(out, aggKey(a))
				}
			}
			return out
		}
		name := strings.TrimPrefix(key, "aggregate ")
		af := sg.aggs[name]
		if af == nil {
			return nil
		}
		for _, c := range af.colRefs {
			if _, isDerived := sg.cols[c]; isDerived {
				out = append(out, colKey(c))
			}
		}
		for _, a := range af.aggRefs {
			if _, registered := sg.aggs[a]; registered {
				out = append(out, aggKey(a))
			}
		}
		return out
	}

	var visit func(key string, path []string) *CycleError
	visit = func(key string, path []string) *CycleError {
		color[key] = grey
		path = append(path, key)
		for _, dep := range deps(key) {
			switch color[dep] {
			case grey:
				// Trim the path to the cycle itself and close it.
				start := 0
				for i, k := range path {
					if k == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), dep)
				return &CycleError{Sheet: id, Path: cycle}
			case white:
				if err := visit(dep, path); err != nil {
					return err
				}
			}
		}
		color[key] = black
		return nil
	}

	for _, col := range sg.sortedColIDs() {
		if color[colKey(col)] == white {
			if err := visit(colKey(col), nil); err != nil {
				return err
			}
		}
	}
	for _, name := range sg.sortedAggNames() {
		if color[aggKey(name)] == white {
			if err := visit(aggKey(name), nil); err != nil {
				return err
			}
		}
	}
	return nil
}
