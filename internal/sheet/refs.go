package sheet

import "fmt"

// CellRef addresses one cell.
type CellRef struct {
	Sheet SheetID
	Row   RowID
	Col   ColumnID
}

func (r CellRef) String() string {
	return fmt.Sprintf("%s!%d.%s", r.Sheet, r.Row, r.Col)
}

// AggRef addresses one sheet-scoped aggregate.
type AggRef struct {
	Sheet SheetID
	Name  string
}

func (r AggRef) String() string {
	return fmt.Sprintf("%s!%s", r.Sheet, r.Name)
}
