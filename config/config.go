// Package config loads the process-level defaults a host applies when it
// wires up an engine: max reasoning steps, tool timeout/retry budgets, and
// parallel branch timeout (spec.md §3's RuntimeConfig). Grounded on the
// teacher's runtime/agent/runtime/types.go PolicyOverrides/WorkflowOptions
// shape (optional per-run overrides layered on registration-time
// defaults), scaled down to the process-wide knobs this module's
// cmd/agentrund bootstrap actually needs — there is no per-run policy
// override surface here since this module has no durable workflow
// registration step to override.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Process-wide defaults for RuntimeConfig. Only DefaultMaxSteps matches the
// value the owning package falls back to (agentloop.DefaultMaxSteps); tool
// invocation on its own makes one attempt with no timeout, and a Parallel
// has no branch deadline unless BranchTimeout is set. RuntimeConfig only
// carries the starting point a host applies before any Runnable-specific
// override takes precedence.
const (
	DefaultMaxSteps              = 25
	DefaultToolTimeout           = 30 * time.Second
	DefaultMaxToolRetryAttempts  = 3
	DefaultParallelBranchTimeout = 2 * time.Minute
)

// RuntimeConfig carries the process-level defaults a host applies across
// every Runnable it executes, unless a more specific Runnable/tool
// registration overrides them.
type RuntimeConfig struct {
	MaxSteps              int           `yaml:"maxSteps"`
	ToolTimeout           time.Duration `yaml:"toolTimeout"`
	MaxToolRetryAttempts  int           `yaml:"maxToolRetryAttempts"`
	ParallelBranchTimeout time.Duration `yaml:"parallelBranchTimeout"`
}

// Default returns a RuntimeConfig populated with this module's documented
// defaults.
func Default() RuntimeConfig {
	return RuntimeConfig{
		MaxSteps:              DefaultMaxSteps,
		ToolTimeout:           DefaultToolTimeout,
		MaxToolRetryAttempts:  DefaultMaxToolRetryAttempts,
		ParallelBranchTimeout: DefaultParallelBranchTimeout,
	}
}

// LoadYAML reads a RuntimeConfig from a YAML file at path, starting from
// Default() so a config file only needs to specify the fields it wants to
// override.
func LoadYAML(path string) (RuntimeConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RuntimeConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return RuntimeConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
