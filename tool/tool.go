// Package tool implements the tool execution lifecycle — resolve, validate,
// prepare, execute, finalize, with timeout/retry/error-recovery and the
// yield protocol — spec.md §4.4 describes. Composition-time tool metadata
// (name, schemas) lives on runnable.ToolRef; this package owns the
// execution-time behavior a Registry binds to that metadata, mirroring the
// teacher's split between runtime/agent/tools.ToolSpec (metadata, generated)
// and the ActivityToolExecutor contract that actually runs a call
// (runtime/agent/runtime/types.go).
package tool

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/windrose/agentkit/errorpolicy"
	"github.com/windrose/agentkit/runnable"
)

// OutcomeKind discriminates what an Executor produced.
type OutcomeKind string

// Recognized outcome kinds.
const (
	OutcomeValue    OutcomeKind = "value"
	OutcomeYield    OutcomeKind = "yield"
	OutcomeTransfer OutcomeKind = "transfer"
)

// Outcome is what an Executor returns for one call.
type Outcome struct {
	Kind OutcomeKind

	// Value holds the JSON-encoded result when Kind is OutcomeValue.
	Value json.RawMessage

	// PreparedArgs holds the JSON-encoded arguments the tool finished
	// preparing before pausing, when Kind is OutcomeYield.
	PreparedArgs json.RawMessage

	// Transfer names the Runnable to hand execution off to, when Kind is
	// OutcomeTransfer.
	Transfer runnable.Runnable
}

// Value builds a value Outcome.
func Value(v json.RawMessage) Outcome { return Outcome{Kind: OutcomeValue, Value: v} }

// Yield builds a yield Outcome.
func Yield(preparedArgs json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeYield, PreparedArgs: preparedArgs}
}

// TransferTo builds a transfer Outcome.
func TransferTo(target runnable.Runnable) Outcome {
	return Outcome{Kind: OutcomeTransfer, Transfer: target}
}

// Registered binds a runnable.ToolRef's composition-time metadata to its
// execution-time behavior.
type Registered struct {
	Ref         runnable.ToolRef
	Executor    Executor
	Timeout     time.Duration
	MaxRetries  int
	ErrorPolicy errorpolicy.Handler
}

// Registry resolves tool names to their Registered execution binding.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Registered
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Registered)}
}

// Register adds or replaces a tool binding.
func (r *Registry) Register(reg Registered) error {
	if reg.Ref.Name == "" {
		return fmt.Errorf("tool: registered tool must have a name")
	}
	if reg.Executor == nil {
		return fmt.Errorf("tool %q: executor is required", reg.Ref.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[reg.Ref.Name] = reg
	return nil
}

// Lookup resolves name to its Registered binding.
func (r *Registry) Lookup(name string) (Registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg, ok
}
