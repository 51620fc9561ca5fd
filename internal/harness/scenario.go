package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cascadehq/cascade/internal/sheet"
)

// Scenario is a declarative end-to-end test: a workbook definition,
// a sequence of mutations, and assertions over the final state.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files use it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Workbook is the inline CUE definition the scenario runs against.
	Workbook string `yaml:"workbook"`

	// Steps are the mutations, applied in order through the gateway.
	Steps []Step `yaml:"steps"`

	// Assertions validate cells, aggregates, and the audit log after
	// all steps ran.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one mutation. Op selects the operation; the other fields
// bind its arguments.
type Step struct {
	// Op is one of: edit, insert_row, delete_row, hard_delete_row,
	// set_formula, set_aggregate, remove_formula, recalc.
	Op string `yaml:"op"`

	Sheet string `yaml:"sheet"`
	Row   int64  `yaml:"row,omitempty"`
	Col   string `yaml:"col,omitempty"`
	Name  string `yaml:"name,omitempty"` // aggregate name

	// Value is the literal written by an edit. YAML scalars map to
	// cell values; null clears the cell.
	Value any `yaml:"value,omitempty"`

	// Src and Trigger define a formula for set_formula/set_aggregate.
	Src     string `yaml:"src,omitempty"`
	Trigger string `yaml:"trigger,omitempty"`

	// Cols and Aggs narrow a recalc step.
	Cols []string `yaml:"cols,omitempty"`
	Aggs []string `yaml:"aggs,omitempty"`

	// Role overrides the default superadmin actor for this step.
	Role string `yaml:"role,omitempty"`

	// Expect validates the step outcome. Without it the step must
	// succeed (a rejected mutation fails the scenario).
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect validates one step's outcome.
type Expect struct {
	// Rejected names the mutation code the step must be rejected
	// with (FORBIDDEN, READ_ONLY_COLUMN, NOT_FOUND, or CYCLE).
	Rejected string `yaml:"rejected,omitempty"`

	// Errored is the number of nodes that must evaluate to an error
	// value in the step's pass.
	Errored *int `yaml:"errored,omitempty"`
}

// Assertion validates final state.
type Assertion struct {
	// Type is one of: cell, aggregate, audit_chain, pass_count.
	Type string `yaml:"type"`

	Sheet string `yaml:"sheet,omitempty"`
	Row   int64  `yaml:"row,omitempty"`
	Col   string `yaml:"col,omitempty"`
	Name  string `yaml:"name,omitempty"`

	// Value is the expected display value (cell/aggregate).
	Value string `yaml:"value,omitempty"`

	// Error is the expected error code of an error-valued cell.
	Error string `yaml:"error,omitempty"`

	// Stale asserts the staleness flag (cell/aggregate).
	Stale *bool `yaml:"stale,omitempty"`

	// Count is the expected number of committed passes (pass_count).
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertCell       = "cell"
	AssertAggregate  = "aggregate"
	AssertAuditChain = "audit_chain"
	AssertPassCount  = "pass_count"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Workbook == "" {
		return fmt.Errorf("workbook definition is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	if s.Sheet == "" {
		return fmt.Errorf("steps[%d]: sheet is required", index)
	}
	switch s.Op {
	case "edit":
		if s.Row <= 0 || s.Col == "" {
			return fmt.Errorf("steps[%d]: edit needs row and col", index)
		}
	case "insert_row":
	case "delete_row", "hard_delete_row":
		if s.Row <= 0 {
			return fmt.Errorf("steps[%d]: %s needs row", index, s.Op)
		}
	case "set_formula":
		if s.Col == "" || s.Src == "" {
			return fmt.Errorf("steps[%d]: set_formula needs col and src", index)
		}
	case "set_aggregate":
		if s.Name == "" || s.Src == "" {
			return fmt.Errorf("steps[%d]: set_aggregate needs name and src", index)
		}
	case "remove_formula":
		if s.Col == "" {
			return fmt.Errorf("steps[%d]: remove_formula needs col", index)
		}
	case "recalc":
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}

	if s.Trigger != "" {
		if _, err := sheet.ParseTrigger(s.Trigger); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	}
	if s.Role != "" && s.Role != "user" && s.Role != "superadmin" {
		return fmt.Errorf("steps[%d]: unknown role %q", index, s.Role)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertCell:
		if a.Sheet == "" || a.Row <= 0 || a.Col == "" {
			return fmt.Errorf("assertions[%d]: cell needs sheet, row, and col", index)
		}
	case AssertAggregate:
		if a.Sheet == "" || a.Name == "" {
			return fmt.Errorf("assertions[%d]: aggregate needs sheet and name", index)
		}
	case AssertAuditChain:
	case AssertPassCount:
		if a.Count <= 0 {
			return fmt.Errorf("assertions[%d]: pass_count needs a positive count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
