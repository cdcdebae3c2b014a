// Package corun provides a cooperative coroutine runtime. Many
// coroutines are multiplexed over the goroutine that calls the
// outermost Run, and a coroutine only gives up control at an explicit
// suspend point: Sleep, Readable, Writable, Select (and everything
// built on it) or Yield.
//
// Key components:
//
//   - Coroutine: a suspendable unit of work with an identity, a
//     state, a suspend reason and a result slot. Coroutines are
//     stackful; their bodies are ordinary Go functions.
//
//   - Loop: the scheduler. It owns the run queue, the timer heap and
//     the readiness set, and drives them until the scope of the Run
//     that created it has drained. Nested calls to Run share the
//     enclosing Loop.
//
//   - Selectable/SelectManager: the capability any event source
//     implements to take part in Select. Coroutines, Signals, Timers,
//     WaitGroups, Mutexes, Semaphores and descriptors are all
//     Selectable.
//
//   - Synchronization primitives: WaitGroup, Mutex, Semaphore, Group
//     and Flight.
//
// Failures are never dropped. An error returned (or a panic raised)
// by a coroutine started with Go that nobody awaited is returned from
// the nearest enclosing Run once its scope drains, even when the root
// body of that Run returned normally.
package corun
