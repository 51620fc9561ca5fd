package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadPartialFileOverridesOnlyNamedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cascade.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[eval]
timeout = "2s"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, cfg.Eval.Timeout.Duration)
	require.Equal(t, Default().Eval.StepBudget, cfg.Eval.StepBudget)
	require.Equal(t, Default().Database.Path, cfg.Database.Path)
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cascade.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[eval]
step_budget = -5
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "step_budget")
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cascade.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[eval]
timeout = "soon"
`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestBudgetConversion(t *testing.T) {
	cfg := Default()
	cfg.Eval.StepBudget = 500
	cfg.Eval.Timeout = Duration{time.Second}

	b := cfg.Budget()
	require.Equal(t, 500, b.MaxSteps)
	require.Equal(t, time.Second, b.Timeout)
}
