package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/cascadehq/cascade/internal/value"
)

// TraceSnapshot is the shape serialized for golden comparison: the
// scenario name plus its full trace, in canonical JSON so identical
// runs produce identical bytes.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap flattens the snapshot into the map/slice forms that
// value.MarshalCanonical accepts. Zero-valued optional fields are
// omitted, matching the struct's JSON tags.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		eventMap := map[string]any{
			"op":      event.Op,
			"sheet":   event.Sheet,
			"outcome": event.Outcome,
		}
		if event.Target != "" {
			eventMap["target"] = event.Target
		}
		if event.Token != "" {
			eventMap["token"] = event.Token
		}
		if event.Seq != 0 {
			eventMap["seq"] = event.Seq
		}
		if event.Nodes != 0 {
			eventMap["nodes"] = event.Nodes
		}
		if event.Evaluated != 0 {
			eventMap["evaluated"] = event.Evaluated
		}
		if event.Errored != 0 {
			eventMap["errored"] = event.Errored
		}
		if event.Code != "" {
			eventMap["code"] = event.Code
		}
		traceList[i] = eventMap
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an already-obtained result's trace against the
// named golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	traceJSON, err := value.MarshalCanonical(snapshot.toCanonicalMap())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
