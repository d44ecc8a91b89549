package runnable

import (
	"context"
	"time"

	"github.com/windrose/agentkit/event"
)

// Agent is a reasoning loop: render context, call the model, execute any
// requested tools, repeat until the model produces final text or a tool
// transfers/hands off control, or MaxSteps is reached (spec.md §4.2).
type Agent struct {
	Name         string
	Instructions string
	Model        ModelConfig
	Tools        []ToolRef
	Output       OutputConfig
	// MaxSteps bounds model-step iterations within a single invocation of
	// this Agent. Zero means agentloop.Config.DefaultMaxSteps applies, or
	// agentloop.DefaultMaxSteps when that is zero too.
	MaxSteps int
	// Hooks are agent-scoped middleware layered inside any engine-level
	// hooks (spec.md §4.7). Declared as `any` here to keep this package free
	// of a dependency on the middleware package's hook function types;
	// agentloop type-asserts to middleware.Set when present.
	Hooks any
}

func (a *Agent) RunnableName() string                 { return a.Name }
func (a *Agent) InvocationKind() event.InvocationKind { return event.InvocationAgent }

// Step is a single deterministic unit of work: a Go function given access to
// the session and returning either a value, an error, or a delegate
// Runnable to transfer execution to (spec.md §3.4, §4.3).
type Step struct {
	Name string
	// Run is supplied by the caller; agentloop/runner never invoke it
	// directly with a concrete context type from this package, keeping the
	// same arena-style decoupling used for Runner. env is expected to be a
	// *steprun.Context from the runner/steprun package, passed as `any` to
	// avoid an import cycle (runner/steprun already depends on runnable).
	Run func(ctx context.Context, env any) (Outcome, error)
}

func (s *Step) RunnableName() string                 { return s.Name }
func (s *Step) InvocationKind() event.InvocationKind { return event.InvocationStep }

// Sequence runs its Children in order, each as its own nested invocation,
// stopping at the first non-completed Outcome (yield, error, abort,
// transfer) and otherwise propagating the last child's FinalOutput
// (spec.md §4.3).
type Sequence struct {
	Name     string
	Children []Runnable
}

func (s *Sequence) RunnableName() string                 { return s.Name }
func (s *Sequence) InvocationKind() event.InvocationKind { return event.InvocationSequence }

// MergeFunc combines the per-branch Outcomes of a Parallel into one. The
// default (nil) merge keeps every branch's FinalOutput in Parallel.Children
// (declaration) order as a []any.
type MergeFunc func(branchOutcomes []Outcome) (any, error)

// Parallel runs its Children concurrently, each against an isolated clone of
// the session, merging branch ledgers back in declaration order once every
// branch reaches a terminal or yielded state (spec.md §4.5).
type Parallel struct {
	Name     string
	Children []Runnable
	Merge    MergeFunc
	// FailFast aborts sibling branches as soon as one errors, rather than
	// waiting for every branch to finish.
	FailFast bool
	// BranchTimeout, when positive, bounds each branch with its own derived
	// cancellation deadline instead of only the parent's cancel token.
	// Zero means no per-branch deadline.
	BranchTimeout time.Duration
	// MinSuccessful, when positive, tolerates up to len(Children)-MinSuccessful
	// branch failures: the Parallel still completes as long as at least
	// this many branches reach outcome=completed. Zero (the default) means
	// every branch must complete for the Parallel to complete.
	MinSuccessful int
}

func (p *Parallel) RunnableName() string                 { return p.Name }
func (p *Parallel) InvocationKind() event.InvocationKind { return event.InvocationParallel }

// UntilFunc inspects accumulated Loop iteration outcomes to decide whether
// to keep iterating. Returning true stops the loop (condition satisfied).
type UntilFunc func(iteration int, last Outcome) (bool, error)

// Loop runs Body repeatedly, up to MaxIterations times or until Until
// reports satisfied, optionally yielding between iterations for host review
// (spec.md §4.3, §4.5).
type Loop struct {
	Name             string
	Body             Runnable
	MaxIterations    int
	Until            UntilFunc
	YieldBetweenIter bool
}

func (l *Loop) RunnableName() string                 { return l.Name }
func (l *Loop) InvocationKind() event.InvocationKind { return event.InvocationLoop }
