package corun

import (
	"context"
	"fmt"
	"runtime/debug"
	"runtime/trace"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/webriots/coro"
)

const (
	traceTaskType   = "corun-loop"
	traceRegionType = "corun-coroutine"
	traceCategory   = "corun"
)

// State is the lifecycle state of a Coroutine.
type State int

const (
	// StatePending means the coroutine sits in the run queue.
	StatePending State = iota
	// StateRunning means the coroutine body is executing.
	StateRunning
	// StateSuspended means the coroutine waits for the condition
	// described by its Reason.
	StateSuspended
	// StateCompleted means the body returned without error.
	StateCompleted
	// StateFailed means the body returned an error or panicked.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ReasonKind tells what a suspended coroutine waits for.
type ReasonKind int

const (
	// ReasonNone is the Reason of a coroutine that is not suspended.
	ReasonNone ReasonKind = iota
	// ReasonTime means the coroutine sleeps until Reason.Deadline.
	ReasonTime
	// ReasonReadable means the coroutine waits for Reason.FD to be
	// readable.
	ReasonReadable
	// ReasonWritable means the coroutine waits for Reason.FD to be
	// writable.
	ReasonWritable
	// ReasonSelectable means the coroutine waits in Select on
	// Reason.Sources.
	ReasonSelectable
	// ReasonChildrenDrained means the coroutine waits for a nested Run
	// to drain.
	ReasonChildrenDrained
)

func (k ReasonKind) String() string {
	switch k {
	case ReasonNone:
		return "none"
	case ReasonTime:
		return "time"
	case ReasonReadable:
		return "readable"
	case ReasonWritable:
		return "writable"
	case ReasonSelectable:
		return "selectable"
	case ReasonChildrenDrained:
		return "children-drained"
	}
	return fmt.Sprintf("ReasonKind(%d)", int(k))
}

// Reason describes why a coroutine is suspended. Only the fields
// relevant to Kind are set.
type Reason struct {
	Kind     ReasonKind
	Deadline time.Time
	FD       int
	Sources  []Selectable
}

// Coroutine is a suspendable unit of work scheduled by a Loop. A
// Coroutine is itself Selectable: it stops blocking once it has
// completed or failed.
type Coroutine struct {
	id      uuid.UUID
	ctx     context.Context
	fn      func(context.Context) (any, error)
	loop    *Loop
	scope   *scope
	parent  *Coroutine
	resume  func(struct{}) (struct{}, bool)
	suspend func() struct{}

	state    State
	reason   Reason
	wakeErr  error
	timer    *timer
	waits    []*SelectManager
	done     SelectManager
	value    any
	err      error
	observed bool
}

func newCoroutine(
	ctx context.Context,
	l *Loop,
	s *scope,
	parent *Coroutine,
	fn func(context.Context) (any, error),
) *Coroutine {
	co := &Coroutine{
		id:     uuid.New(),
		fn:     fn,
		loop:   l,
		scope:  s,
		parent: parent,
	}

	co.ctx = withCoroutine(ctx, co)

	co.resume, _ = coro.New(
		func(_ func(struct{}) struct{}, suspend func() struct{}) (z struct{}) {
			region := trace.StartRegion(co.ctx, traceRegionType)
			defer region.End()

			co.suspend = suspend
			co.value, co.err = co.call()

			return
		},
	)

	return co
}

// call runs the body, turning a panic into a PanicError.
func (co *Coroutine) call() (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &PanicError{Value: p, Stack: debug.Stack()}
		}
	}()
	return co.fn(co.ctx)
}

// park suspends the coroutine until the loop makes it ready again.
// The caller must have registered the coroutine somewhere that will
// wake it. The returned error is the one passed to Loop.ready.
func (co *Coroutine) park(r Reason) error {
	co.state = StateSuspended
	co.reason = r
	co.wakeErr = nil
	co.Logf("SUSPEND %v", r.Kind)
	co.suspend()
	return co.wakeErr
}

// waitOn parks the coroutine on a single Selectable.
func (co *Coroutine) waitOn(src Selectable) error {
	src.SelectManager().add(co)
	return co.park(Reason{Kind: ReasonSelectable, Sources: []Selectable{src}})
}

// withdraw removes the coroutine from the timer set and from every
// SelectManager it registered with.
func (co *Coroutine) withdraw() {
	if co.timer != nil {
		co.loop.timers.remove(co.timer)
		co.timer = nil
	}
	for _, m := range co.waits {
		m.remove(co)
	}
	clear(co.waits)
	co.waits = co.waits[:0]
}

// ID returns the identity of the coroutine.
func (co *Coroutine) ID() uuid.UUID {
	return co.id
}

// State returns the lifecycle state of the coroutine.
func (co *Coroutine) State() State {
	return co.state
}

// Reason returns why the coroutine is suspended. The zero Reason is
// returned for coroutines that are not suspended.
func (co *Coroutine) Reason() Reason {
	return co.reason
}

// Loop returns the loop scheduling the coroutine.
func (co *Coroutine) Loop() *Loop {
	return co.loop
}

// Done reports whether the coroutine has completed or failed.
func (co *Coroutine) Done() bool {
	return co.state == StateCompleted || co.state == StateFailed
}

// Err returns the failure of a finished coroutine without marking it
// observed.
func (co *Coroutine) Err() error {
	return co.err
}

// Await suspends until the coroutine finishes and returns its result.
// Awaiting a coroutine marks its failure as observed, so the
// enclosing Run does not return it a second time.
func (co *Coroutine) Await(ctx context.Context) (any, error) {
	co.observed = true
	for !co.Done() {
		if _, err := Select(ctx, co); err != nil {
			return nil, err
		}
	}
	return co.value, co.err
}

// SelectWillBlock implements Selectable.
func (co *Coroutine) SelectWillBlock() bool {
	return !co.Done()
}

// SelectManager implements Selectable.
func (co *Coroutine) SelectManager() *SelectManager {
	return &co.done
}

// Log writes msg, prefixed with the coroutine's path from its root, to
// the execution trace when tracing is enabled.
func (co *Coroutine) Log(msg string) {
	if trace.IsEnabled() {
		var sb strings.Builder
		coroutinePath(&sb, co)
		sb.WriteRune(' ')
		sb.WriteString(msg)
		trace.Log(co.ctx, traceCategory, sb.String())
	}
}

// Logf is like Log with fmt.Sprintf formatting.
func (co *Coroutine) Logf(format string, args ...any) {
	if trace.IsEnabled() {
		var sb strings.Builder
		coroutinePath(&sb, co)
		sb.WriteRune(' ')
		fmt.Fprintf(&sb, format, args...)
		trace.Log(co.ctx, traceCategory, sb.String())
	}
}

func coroutinePath(sb *strings.Builder, co *Coroutine) {
	if co == nil {
		return
	}
	coroutinePath(sb, co.parent)
	sb.WriteString(co.id.String()[:8])
	sb.WriteRune('|')
}
