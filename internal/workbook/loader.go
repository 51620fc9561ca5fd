package workbook

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/sheet"
)

// Load reads every CUE file in a directory, unifies them, and builds
// the workbook model plus its dependency graph. Formula registration
// happens here so a cyclic or dangling definition is rejected before
// anything touches storage.
func Load(dir string) (*sheet.Workbook, *graph.Graph, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("workbook definition: %w", err)
	}
	if !info.IsDir() {
		return nil, nil, fmt.Errorf("workbook definition: %s is not a directory", dir)
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, nil, fmt.Errorf("workbook definition: no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, nil, fmt.Errorf("workbook definition: %w", formatCUEError(inst.Err))
	}

	v := cuecontext.New().BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, nil, fmt.Errorf("workbook definition: %w", formatCUEError(err))
	}
	return build(v)
}

// LoadSource builds a workbook from inline CUE source. Used by tests
// and the scenario harness.
func LoadSource(src string) (*sheet.Workbook, *graph.Graph, error) {
	v := cuecontext.New().CompileString(src)
	if err := v.Err(); err != nil {
		return nil, nil, fmt.Errorf("workbook definition: %w", formatCUEError(err))
	}
	return build(v)
}

func build(v cue.Value) (*sheet.Workbook, *graph.Graph, error) {
	wb, err := compileWorkbook(v)
	if err != nil {
		return nil, nil, err
	}
	g, err := Register(wb)
	if err != nil {
		return nil, nil, err
	}
	return wb, g, nil
}
