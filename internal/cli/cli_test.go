package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/internal/value"
)

const testDef = `
workbook: sheets: {
	orders: {
		columns: [
			{id: "A", type: "number"},
			{id: "B", type: "number", formula: "A * 2"},
		]
		aggregates: [
			{name: "Total", formula: "sum(B)"},
		]
		rows: 1
	}
}
`

// runCommand executes the CLI against a fresh root command, returning
// combined output.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// initTestWorkbook creates a database from the test definition and
// returns its path.
func initTestWorkbook(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	defsDir := filepath.Join(dir, "defs")
	require.NoError(t, os.Mkdir(defsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(defsDir, "workbook.cue"), []byte(testDef), 0o644))

	db := filepath.Join(dir, "workbook.db")
	out, err := runCommand(t, "init", defsDir, "--db", db)
	require.NoError(t, err, out)
	return db
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "cascade", cmd.Use)

	for _, name := range []string{"init", "edit", "rows", "formula", "recalc", "show", "audit"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, "command %s should exist", name)
		assert.Equal(t, name, sub.Name())
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	roleFlag := cmd.PersistentFlags().Lookup("role")
	require.NotNil(t, roleFlag)
	assert.Equal(t, "user", roleFlag.DefValue)
}

func TestFormatValidation(t *testing.T) {
	_, err := runCommand(t, "--format", "xml", "show", "orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRoleValidation(t *testing.T) {
	_, err := runCommand(t, "--role", "admin", "show", "orders")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid role")
}

func TestInitAndEdit(t *testing.T) {
	db := initTestWorkbook(t)

	out, err := runCommand(t, "edit", "orders", "1", "A", "3", "--db", db)
	require.NoError(t, err, out)
	assert.Contains(t, out, "COMMITTED")
	// The pass output names the recomputed values directly.
	assert.Contains(t, out, "orders!1.B = 6")
	assert.Contains(t, out, "orders!Total = 6")

	out, err = runCommand(t, "show", "orders", "--db", db, "--format", "json")
	require.NoError(t, err, out)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	data := resp.Data.(map[string]any)
	rows := data["rows"].([]any)
	require.Len(t, rows, 1)
	cells := rows[0].(map[string]any)["cells"].(map[string]any)
	assert.Equal(t, "3", cells["A"].(map[string]any)["value"])
	assert.Equal(t, "6", cells["B"].(map[string]any)["value"])
	aggs := data["aggregates"].(map[string]any)
	assert.Equal(t, "6", aggs["Total"].(map[string]any)["value"])
}

func TestEditDerivedColumnRejected(t *testing.T) {
	db := initTestWorkbook(t)

	out, err := runCommand(t, "edit", "orders", "1", "B", "9", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "READ_ONLY_COLUMN")
}

func TestFormulaSetRequiresSuperadmin(t *testing.T) {
	db := initTestWorkbook(t)

	out, err := runCommand(t, "formula", "set", "orders", "B", "A * 10", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FORBIDDEN")

	out, err = runCommand(t, "formula", "set", "orders", "B", "A * 10", "--db", db, "--role", "superadmin")
	require.NoError(t, err, out)
}

func TestFormulaCycleRejected(t *testing.T) {
	db := initTestWorkbook(t)

	out, err := runCommand(t, "formula", "set", "orders", "B", "B + 1", "--db", db, "--role", "superadmin")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "CYCLE")
}

func TestRowLifecycle(t *testing.T) {
	db := initTestWorkbook(t)

	out, err := runCommand(t, "rows", "add", "orders", "--db", db)
	require.NoError(t, err, out)
	assert.Contains(t, out, "inserted row 2")

	out, err = runCommand(t, "rows", "rm", "orders", "2", "--db", db)
	require.NoError(t, err, out)

	out, err = runCommand(t, "rows", "rm", "orders", "1", "--hard", "--db", db)
	require.Error(t, err)
	assert.Contains(t, out, "FORBIDDEN")

	out, err = runCommand(t, "rows", "rm", "orders", "1", "--hard", "--db", db, "--role", "superadmin")
	require.NoError(t, err, out)
}

func TestAuditVerify(t *testing.T) {
	db := initTestWorkbook(t)

	_, err := runCommand(t, "edit", "orders", "1", "A", "7", "--db", db)
	require.NoError(t, err)

	out, err := runCommand(t, "audit", "--verify", "--db", db)
	require.NoError(t, err, out)
	assert.Contains(t, out, "audit chain verified")
	assert.Contains(t, out, "edit_cell")
}

func TestShowUnknownSheet(t *testing.T) {
	db := initTestWorkbook(t)

	_, err := runCommand(t, "show", "missing", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestUninitializedDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	_, err := runCommand(t, "show", "orders", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestParseLiteral(t *testing.T) {
	assert.Equal(t, value.Number(42), parseLiteral("42"))
	assert.Equal(t, value.Bool(true), parseLiteral("true"))
	assert.Equal(t, value.String("hello"), parseLiteral("hello"))
	assert.Equal(t, value.String("42"), parseLiteral(`"42"`))
	assert.Equal(t, value.Null{}, parseLiteral(""))
}

func TestRecalcAll(t *testing.T) {
	db := initTestWorkbook(t)

	out, err := runCommand(t, "edit", "orders", "1", "A", "3", "--db", db)
	require.NoError(t, err, out)

	out, err = runCommand(t, "recalc", "--all", "--db", db)
	require.NoError(t, err, out)
	assert.Contains(t, out, "COMMITTED")

	out, err = runCommand(t, "recalc", "--all", "orders", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	_ = out
}

func TestRecalcWithoutSheet(t *testing.T) {
	db := initTestWorkbook(t)

	_, err := runCommand(t, "recalc", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
