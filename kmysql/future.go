package kmysql

import "sync"

// future is a single-shot awaitable value, fulfilled exactly once by an
// external writer and observed by exactly one reader at a time. It
// realizes the promise-handle utility the streaming query state machine
// uses for its waitReady/waitNext/waitClose rendezvous points: at most one
// waiter of a given kind is outstanding, and the waiter is cleared before
// fulfillment completes.
type future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
}

// newFuture returns an unfulfilled future.
func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

// fulfill resolves the future with val. Only the first call has any
// effect; later calls are no-ops, mirroring the "waiter is cleared before
// fulfillment" invariant — a future fulfilled twice must not overwrite an
// already-observed value.
func (f *future[T]) fulfill(val T) {
	f.once.Do(func() {
		f.val = val
		close(f.done)
	})
}

// wait blocks until fulfill is called, or ctx/cancel-chan-style cancellation
// is expressed by the caller selecting on done() directly. wait itself never
// takes a context because not every waiter kind needs one (waitClose, for
// instance, races a terminal transition rather than external cancellation).
func (f *future[T]) wait() T {
	<-f.done
	return f.val
}

// isDone returns the channel that closes when the future is fulfilled, for
// callers that need to select against it alongside a context or timer.
func (f *future[T]) isDone() <-chan struct{} {
	return f.done
}
