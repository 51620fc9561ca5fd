package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWorkbook = `
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

// TestRun_ScenarioFiles executes every scenario under testdata; each
// file's own steps and assertions define what passing means.
func TestRun_ScenarioFiles(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths, "no scenario files found")

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario failed: %v", result.Errors)
		})
	}
}

func TestRun_TraceRecordsOutcomes(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "basic_recompute.yaml"))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "scenario failed: %v", result.Errors)
	require.Len(t, result.Trace, 2)

	committed := result.Trace[0]
	assert.Equal(t, "edit", committed.Op)
	assert.Equal(t, "1.A", committed.Target)
	assert.Equal(t, "committed", committed.Outcome)
	assert.Equal(t, "tok-1", committed.Token)
	assert.Equal(t, int64(1), committed.Seq)
	assert.Equal(t, 2, committed.Nodes)
	assert.Equal(t, 2, committed.Evaluated)
	assert.Zero(t, committed.Errored)

	rejected := result.Trace[1]
	assert.Equal(t, "rejected", rejected.Outcome)
	assert.Equal(t, "READ_ONLY_COLUMN", rejected.Code)
	assert.Empty(t, rejected.Token)
}

func TestRun_Golden(t *testing.T) {
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", "basic_recompute.yaml"))
	require.NoError(t, err)

	require.NoError(t, RunWithGolden(t, scenario))
}

func TestRun_UnexpectedRejectionFailsScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "unexpected_rejection",
		Description: "editing a derived column without an expect clause",
		Workbook:    testWorkbook,
		Steps: []Step{
			{Op: "edit", Sheet: "orders", Row: 1, Col: "B", Value: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "unexpected rejection")

	require.Len(t, result.Trace, 1)
	assert.Equal(t, "rejected", result.Trace[0].Outcome)
}

func TestRun_RejectionCodeMismatchFailsScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_code",
		Description: "expecting the wrong rejection code",
		Workbook:    testWorkbook,
		Steps: []Step{
			{Op: "edit", Sheet: "orders", Row: 1, Col: "B", Value: 1,
				Expect: &Expect{Rejected: "FORBIDDEN"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "READ_ONLY_COLUMN")
}

func TestRun_ErroredCountMismatchFailsScenario(t *testing.T) {
	one := 1
	scenario := &Scenario{
		Name:        "errored_mismatch",
		Description: "a clean edit expected to produce an errored node",
		Workbook:    testWorkbook,
		Steps: []Step{
			{Op: "edit", Sheet: "orders", Row: 1, Col: "A", Value: 3,
				Expect: &Expect{Errored: &one}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "errored node")
}

func TestRun_FailedAssertionReportsValues(t *testing.T) {
	scenario := &Scenario{
		Name:        "assertion_mismatch",
		Description: "asserting the wrong derived value",
		Workbook:    testWorkbook,
		Steps: []Step{
			{Op: "edit", Sheet: "orders", Row: 1, Col: "A", Value: 3},
		},
		Assertions: []Assertion{
			{Type: AssertCell, Sheet: "orders", Row: 1, Col: "B", Value: "7"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `value "6", want "7"`)
}

func TestRun_InvalidWorkbookAborts(t *testing.T) {
	scenario := &Scenario{
		Name:        "broken_workbook",
		Description: "a definition that does not compile",
		Workbook:    `workbook: sheets: {}`,
		Steps: []Step{
			{Op: "edit", Sheet: "orders", Row: 1, Col: "A", Value: 1},
		},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenario workbook")
}
