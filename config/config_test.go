package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDocumentedConstants(t *testing.T) {
	cfg := Default()
	require.Equal(t, DefaultMaxSteps, cfg.MaxSteps)
	require.Equal(t, DefaultToolTimeout, cfg.ToolTimeout)
	require.Equal(t, DefaultMaxToolRetryAttempts, cfg.MaxToolRetryAttempts)
	require.Equal(t, DefaultParallelBranchTimeout, cfg.ParallelBranchTimeout)
}

func TestLoadYAMLOverridesOnlySpecifiedFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte("maxSteps: 10\ntoolTimeout: 5s\n"), 0o644))

	cfg, err := LoadYAML(path)
	require.NoError(t, err)
	require.Equal(t, 10, cfg.MaxSteps)
	require.Equal(t, 5*time.Second, cfg.ToolTimeout)
	require.Equal(t, DefaultMaxToolRetryAttempts, cfg.MaxToolRetryAttempts)
	require.Equal(t, DefaultParallelBranchTimeout, cfg.ParallelBranchTimeout)
}

func TestLoadYAMLMissingFileReturnsError(t *testing.T) {
	_, err := LoadYAML(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
