// Package audit defines the append-only audit log: one entry per
// mutation, hash-chained so tampering with history is detectable.
package audit

import (
	"time"

	"github.com/cascadehq/cascade/internal/sheet"
	"github.com/cascadehq/cascade/internal/value"
)

// Role is an actor's pre-resolved role. The gateway never evaluates
// policy; roles arrive resolved and are recorded for the audit trail.
type Role string

const (
	RoleUser       Role = "user"
	RoleSuperadmin Role = "superadmin"
)

// Actor identifies who performed a mutation.
type Actor struct {
	ID   string
	Name string
	Role Role
}

// Action is the kind of mutation an entry records.
type Action string

const (
	ActionEditCell      Action = "edit_cell"
	ActionInsertRow     Action = "insert_row"
	ActionDeleteRow     Action = "delete_row"
	ActionHardDeleteRow Action = "hard_delete_row"
	ActionSetFormula    Action = "set_formula"
	ActionRemoveFormula Action = "remove_formula"
	ActionRecompute     Action = "recompute"
)

// Entry is one audit record. Seq and PrevHash/Hash are assigned at
// append time by the sink (the store stamps Seq from its own rowid
// ordering); everything else is filled by the gateway.
//
// Before/After hold the cell value (or formula source as a string
// value) around the mutation; either may be nil when not applicable,
// e.g. row inserts have no Before.
type Entry struct {
	ID        string // UUIDv7
	Seq       int64
	Time      time.Time
	Actor     Actor
	Action    Action
	Sheet     sheet.SheetID
	Row       sheet.RowID // 0 when the action is not row-scoped
	Col       sheet.ColumnID
	Aggregate string
	Before    value.Value
	After     value.Value
	PassToken string // recompute pass this mutation triggered, if any
	PrevHash  string
	Hash      string
}
