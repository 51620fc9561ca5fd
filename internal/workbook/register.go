package workbook

import (
	"fmt"

	"github.com/cascadehq/cascade/internal/formula"
	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/sheet"
)

// Register parses every formula in the workbook and registers it in a
// fresh dependency graph. References resolve against the compiled
// model, so declaration order does not matter; cycles and unknown
// references fail the whole load.
func Register(wb *sheet.Workbook) (*graph.Graph, error) {
	g := graph.New()
	for _, sh := range wb.Sheets {
		for _, col := range sh.Columns {
			if col.Formula == nil {
				continue
			}
			parsed, err := formula.Parse(col.Formula.Source)
			if err != nil {
				return nil, fmt.Errorf("sheet %s column %s: %w", sh.ID, col.ID, err)
			}
			if err := g.AddOrReplaceColumnFormula(sh, col.ID, parsed, col.Formula.Trigger); err != nil {
				return nil, fmt.Errorf("sheet %s column %s: %w", sh.ID, col.ID, err)
			}
		}
		for _, agg := range sh.Aggregates {
			parsed, err := formula.Parse(agg.Formula.Source)
			if err != nil {
				return nil, fmt.Errorf("sheet %s aggregate %s: %w", sh.ID, agg.Name, err)
			}
			if err := g.AddOrReplaceAggregate(sh, agg.Name, parsed, agg.Formula.Trigger); err != nil {
				return nil, fmt.Errorf("sheet %s aggregate %s: %w", sh.ID, agg.Name, err)
			}
		}
	}
	return g, nil
}
