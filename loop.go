package corun

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"runtime/trace"
	"slices"
	"time"

	"github.com/gammazero/deque"
	"golang.org/x/sys/unix"
)

// Loop is the scheduler shared by a Run and every Run nested inside
// it. It is owned by the goroutine that called the outermost Run; its
// structures are only touched by that goroutine and by the coroutines
// it resumes, one at a time, so they need no locking.
type Loop struct {
	noCopy  noCopy
	ctx     context.Context
	log     *slog.Logger
	poller  Poller
	runq    deque.Deque[*Coroutine]
	timers  timerHeap
	fds     map[fdKey]*SelectManager
	pollfds []PollFD
	current *Coroutine
	seq     uint64
	live    int
}

type fdKey struct {
	fd  int
	dir Direction
}

// Stats is a snapshot of a Loop's bookkeeping.
type Stats struct {
	// Queued is the length of the run queue.
	Queued int
	// Timers is the number of pending sleeps and Timers.
	Timers int
	// Polling is the number of coroutines waiting on descriptors.
	Polling int
	// Live is the number of coroutines that have not finished.
	Live int
}

func newLoop(o *options) *Loop {
	return &Loop{
		log:    o.logger,
		poller: o.poller,
		fds:    make(map[fdKey]*SelectManager),
	}
}

// scope is the failure-aggregation unit of one Run invocation.
type scope struct {
	loop   *Loop
	root   *Coroutine
	waiter *Coroutine
	live   int
	failed []*Coroutine
	fatal  error
}

func (s *scope) finished(co *Coroutine) {
	if co.err != nil {
		s.failed = append(s.failed, co)
	}
	s.live--
	if s.live == 0 && s.waiter != nil {
		s.loop.ready(s.waiter, nil)
	}
}

// err returns the failures of the scope in the order they happened.
// Failures of coroutines that were awaited have been observed by
// their awaiter and are left out.
func (s *scope) err() error {
	var errs []error
	if s.fatal != nil {
		errs = append(errs, s.fatal)
	}
	for _, co := range s.failed {
		if co == s.root || !co.observed {
			errs = append(errs, co.err)
		}
	}

	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}

	for _, err := range errs[1:] {
		s.loop.log.Warn("additional coroutine failure", slog.Any("error", err))
	}
	return errors.Join(errs...)
}

// main drives a fresh loop until the scope of its root drains.
func (l *Loop) main(ctx context.Context, fn func(context.Context) (any, error)) *scope {
	var task *trace.Task

	ctx, task = trace.NewTask(ctx, traceTaskType)
	defer task.End()

	l.ctx = ctx
	s := &scope{loop: l}
	s.root = l.spawn(ctx, s, nil, fn)
	l.runq.PushBack(s.root)

	trace.Log(ctx, traceCategory, "LOOP")
	l.log.Debug("loop started")

	if err := l.drive(s); err != nil {
		l.log.Error("loop stopped", slog.Any("error", err), slog.Int("live", l.live))
		s.fatal = err
	}

	trace.Log(ctx, traceCategory, "LOOP DONE")
	l.log.Debug("loop drained")
	return s
}

// nest runs fn as the root of a new scope on l, suspending the
// current coroutine until that scope drains. Sibling coroutines keep
// running meanwhile.
func (l *Loop) nest(ctx context.Context, fn func(context.Context) (any, error)) (*scope, error) {
	caller := l.current
	s := &scope{loop: l, waiter: caller}
	s.root = l.spawn(ctx, s, caller, fn)
	l.runq.PushBack(s.root)

	caller.Log("NEST")
	if err := caller.park(Reason{Kind: ReasonChildrenDrained}); err != nil {
		return nil, err
	}
	return s, nil
}

func (l *Loop) spawn(
	ctx context.Context,
	s *scope,
	parent *Coroutine,
	fn func(context.Context) (any, error),
) *Coroutine {
	co := newCoroutine(ctx, l, s, parent, fn)
	s.live++
	l.live++
	co.Log("GO")
	return co
}

// start runs a new coroutine of caller up to its first suspension,
// then gives control back to caller.
func (l *Loop) start(co, caller *Coroutine) {
	l.step(co)
	l.current = caller
}

func (l *Loop) drive(s *scope) error {
	for s.live > 0 {
		// Coroutines queued during this pass run on the next one, after
		// the poll phase had a chance to wake I/O waiters.
		for n := l.runq.Len(); n > 0; n-- {
			l.step(l.runq.PopFront())
		}
		if s.live == 0 {
			break
		}
		if err := l.poll(); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) step(co *Coroutine) {
	l.current = co
	co.state = StateRunning
	co.Log("RUN")

	_, alive := co.resume(struct{}{})

	l.current = nil
	if !alive {
		l.finish(co)
	}
}

func (l *Loop) finish(co *Coroutine) {
	co.state = StateCompleted
	if co.err != nil {
		co.state = StateFailed
		co.Logf("FAILED %v", co.err)
	}
	co.reason = Reason{}
	l.live--
	co.done.Notify()
	co.scope.finished(co)
}

// ready moves a suspended coroutine back to the run queue, dropping
// every other registration it holds. err is returned from the suspend
// point the coroutine is parked in.
func (l *Loop) ready(co *Coroutine, err error) {
	if co.state != StateSuspended {
		return
	}
	co.withdraw()
	co.wakeErr = err
	co.state = StatePending
	co.reason = Reason{}
	l.runq.PushBack(co)
}

func (l *Loop) yield(co *Coroutine) {
	co.state = StatePending
	l.runq.PushBack(co)
	co.Log("YIELD")
	co.suspend()
}

func (l *Loop) sleep(co *Coroutine, d time.Duration) error {
	t := &timer{deadline: time.Now().Add(d), seq: l.nextSeq(), co: co}
	l.timers.add(t)
	co.timer = t
	return co.park(Reason{Kind: ReasonTime, Deadline: t.deadline})
}

func (l *Loop) await(co *Coroutine, fd int, dir Direction) error {
	kind := ReasonReadable
	if dir == Write {
		kind = ReasonWritable
	}
	l.manager(fd, dir).add(co)
	return co.park(Reason{Kind: kind, FD: fd})
}

func (l *Loop) manager(fd int, dir Direction) *SelectManager {
	key := fdKey{fd: fd, dir: dir}
	m, ok := l.fds[key]
	if !ok {
		m = new(SelectManager)
		l.fds[key] = m
	}
	return m
}

func (l *Loop) nextSeq() uint64 {
	l.seq++
	return l.seq
}

// poll waits for descriptors and timers. It only blocks when the run
// queue is empty, and then no longer than the nearest timer deadline.
func (l *Loop) poll() error {
	timeout := time.Duration(-1)
	if l.runq.Len() > 0 {
		timeout = 0
	} else if next, ok := l.timers.next(); ok {
		timeout = max(0, time.Until(next))
	}

	l.pollfds = l.pollfds[:0]
	for key, m := range l.fds {
		if m.Len() == 0 {
			delete(l.fds, key)
			continue
		}
		l.pollfds = append(l.pollfds, PollFD{FD: key.fd, Dir: key.dir})
	}

	if timeout < 0 && len(l.pollfds) == 0 {
		return usage("Run", ErrDeadlock)
	}

	slices.SortFunc(l.pollfds, func(a, b PollFD) int {
		if c := cmp.Compare(a.FD, b.FD); c != 0 {
			return c
		}
		return cmp.Compare(a.Dir, b.Dir)
	})

	if err := l.poller.Poll(l.pollfds, timeout); err != nil {
		if errors.Is(err, unix.EINTR) {
			return nil
		}
		return &IOError{Op: "poll", Err: err}
	}

	l.timers.expire(time.Now(), func(t *timer) {
		if t.sig != nil {
			t.sig.Set()
			return
		}
		t.co.timer = nil
		l.ready(t.co, nil)
	})

	for _, pfd := range l.pollfds {
		if pfd.Ready {
			if m, ok := l.fds[fdKey{fd: pfd.FD, dir: pfd.Dir}]; ok {
				m.Notify()
			}
		}
	}
	return nil
}

// FD returns the Selectable for a descriptor direction on l.
func (l *Loop) FD(fd int, dir Direction) Selectable {
	return fdSource{loop: l, fd: fd, dir: dir}
}

// Invalidate wakes every coroutine waiting on fd with ErrDisconnected.
// Call it before closing a descriptor other coroutines may wait on.
func (l *Loop) Invalidate(fd int) {
	for _, dir := range []Direction{Read, Write} {
		key := fdKey{fd: fd, dir: dir}
		if m, ok := l.fds[key]; ok {
			delete(l.fds, key)
			m.notify(ErrDisconnected)
		}
	}
}

// Stats returns a snapshot of the loop's bookkeeping.
func (l *Loop) Stats() Stats {
	st := Stats{
		Queued: l.runq.Len(),
		Timers: l.timers.Len(),
		Live:   l.live,
	}
	for _, m := range l.fds {
		st.Polling += m.Len()
	}
	return st
}
