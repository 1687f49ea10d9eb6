package chip

import "sync/atomic"

type job struct {
	fn   func() Status
	last bool
}

// Worker completes issued operations in order on its own goroutine and
// reports each result through the session's CompletionFunc. At most one
// operation is in flight.
type Worker struct {
	done     CompletionFunc
	arg      any
	jobs     chan job
	inflight atomic.Bool
	closed   atomic.Bool
}

func NewWorker(done CompletionFunc, arg any) *Worker {
	w := &Worker{
		done: done,
		arg:  arg,
		jobs: make(chan job, 1),
	}
	go w.run()
	return w
}

func (w *Worker) run() {
	for j := range w.jobs {
		st := j.fn()
		w.inflight.Store(false)
		w.done(w.arg, st)
		if j.last {
			return
		}
	}
}

// Issue queues fn and returns without waiting for it.
func (w *Worker) Issue(fn func() Status) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if !w.inflight.CompareAndSwap(false, true) {
		return ErrBusy
	}
	w.jobs <- job{fn: fn}
	return nil
}

// Shutdown queues fn as the final operation. Later calls fail with ErrClosed.
func (w *Worker) Shutdown(fn func() Status) error {
	if !w.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	w.inflight.Store(true)
	w.jobs <- job{fn: fn, last: true}
	return nil
}

// Closed reports whether Shutdown was called.
func (w *Worker) Closed() bool {
	return w.closed.Load()
}
