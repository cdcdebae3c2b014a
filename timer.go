package corun

import (
	"container/heap"
	"context"
	"time"
)

// timer is an entry of the loop's timer heap. Exactly one of co and
// sig is set: a sleeping coroutine, or the Signal of a Timer.
type timer struct {
	deadline time.Time
	seq      uint64
	index    int
	co       *Coroutine
	sig      *Signal
}

// timerHeap orders timers by deadline, then by insertion order so
// that timers with equal deadlines fire FIFO.
type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if c := h[i].deadline.Compare(h[j].deadline); c != 0 {
		return c < 0
	}
	return h[i].seq < h[j].seq
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h *timerHeap) add(t *timer) {
	heap.Push(h, t)
}

func (h *timerHeap) remove(t *timer) {
	if t.index >= 0 && t.index < len(*h) && (*h)[t.index] == t {
		heap.Remove(h, t.index)
	}
}

// next returns the nearest deadline.
func (h timerHeap) next() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	return h[0].deadline, true
}

// expire pops every timer whose deadline is not after now, in firing
// order.
func (h *timerHeap) expire(now time.Time, fn func(*timer)) {
	for len(*h) > 0 && !(*h)[0].deadline.After(now) {
		fn(heap.Pop(h).(*timer))
	}
}

// Timer is a Selectable that becomes ready once its deadline passes.
// It does not keep a Run scope alive: a Run whose coroutines have all
// finished returns even while Timers are pending.
type Timer struct {
	Signal
	loop *Loop
	t    *timer
}

// After returns a Timer that fires after d on the loop found in ctx.
func After(ctx context.Context, d time.Duration) (*Timer, error) {
	l, ok := LoopFromContext(ctx)
	if !ok {
		return nil, usage("After", ErrNotInCoroutine)
	}
	tm := &Timer{loop: l}
	tm.t = &timer{deadline: time.Now().Add(d), seq: l.nextSeq(), sig: &tm.Signal}
	l.timers.add(tm.t)
	return tm, nil
}

// Deadline returns the time the timer fires at.
func (tm *Timer) Deadline() time.Time {
	return tm.t.deadline
}

// Stop prevents the timer from firing. It reports whether the timer
// was still pending.
func (tm *Timer) Stop() bool {
	if tm.t.index < 0 {
		return false
	}
	tm.loop.timers.remove(tm.t)
	tm.t.index = -1
	return true
}
