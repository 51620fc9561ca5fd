package gateway

import (
	"errors"
	"fmt"

	"github.com/cascadehq/cascade/internal/sheet"
)

// MutationCode classifies a rejected mutation.
type MutationCode string

const (
	// CodeForbidden: the scope decision does not permit the mutation
	// (or lacks the privileged flag where one is required).
	CodeForbidden MutationCode = "FORBIDDEN"
	// CodeReadOnlyColumn: the target column is derived; its cells are
	// owned by the recompute scheduler.
	CodeReadOnlyColumn MutationCode = "READ_ONLY_COLUMN"
	// CodeNotFound: the sheet, row, or column does not exist (or the
	// row is deleted).
	CodeNotFound MutationCode = "NOT_FOUND"
)

// MutationError is a rejected mutation. Rejections happen before any
// state changes, so a MutationError implies nothing was written and no
// audit entry was appended for the attempted mutation.
type MutationError struct {
	Code  MutationCode
	Sheet sheet.SheetID
	Row   sheet.RowID
	Col   sheet.ColumnID
	Msg   string
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func forbidden(id sheet.SheetID, msg string) *MutationError {
	return &MutationError{Code: CodeForbidden, Sheet: id, Msg: msg}
}

func readOnly(id sheet.SheetID, row sheet.RowID, col sheet.ColumnID) *MutationError {
	return &MutationError{
		Code: CodeReadOnlyColumn, Sheet: id, Row: row, Col: col,
		Msg: fmt.Sprintf("column %s is derived; its cells are not editable", col),
	}
}

func notFound(id sheet.SheetID, row sheet.RowID, col sheet.ColumnID, msg string) *MutationError {
	return &MutationError{Code: CodeNotFound, Sheet: id, Row: row, Col: col, Msg: msg}
}

// IsForbidden reports whether err is a FORBIDDEN mutation error.
func IsForbidden(err error) bool { return hasCode(err, CodeForbidden) }

// IsReadOnlyColumn reports whether err is a READ_ONLY_COLUMN mutation error.
func IsReadOnlyColumn(err error) bool { return hasCode(err, CodeReadOnlyColumn) }

// IsNotFound reports whether err is a NOT_FOUND mutation error.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

func hasCode(err error, code MutationCode) bool {
	var me *MutationError
	return errors.As(err, &me) && me.Code == code
}
