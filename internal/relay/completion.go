package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/apdurelay/internal/chip"
)

var (
	ErrCompletionTimeout = errors.New("relay: transport completion timed out")
	// ErrCompletionOutstanding is returned by Arm while an abandoned
	// operation has not completed yet.
	ErrCompletionOutstanding = errors.New("relay: abandoned transport operation still outstanding")
)

// Completion turns callback-completed transport operations into blocking
// calls. Arm before issuing, Wait after. Notify is the CompletionFunc handed
// to the transport and never blocks.
//
// A Wait that gives up leaves its operation abandoned. The abandoned
// operation's completion is absorbed without delivery, and Arm fails until
// it arrives, so no result is ever handed to a later operation.
type Completion struct {
	mu        sync.Mutex
	armed     bool
	abandoned bool
	status    chip.Status
	done      chan chip.Status

	spurious atomic.Uint64
	late     atomic.Uint64
	timeout  time.Duration
}

// NewCompletion returns a synchronizer. A zero timeout waits forever.
func NewCompletion(timeout time.Duration) *Completion {
	return &Completion{
		done:    make(chan chip.Status, 1),
		status:  chip.StatusSuccess,
		timeout: timeout,
	}
}

// Arm marks an operation as pending and discards any stale delivery.
func (c *Completion) Arm() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.abandoned {
		return ErrCompletionOutstanding
	}
	select {
	case <-c.done:
	default:
	}
	c.armed = true
	c.status = chip.StatusPending
	return nil
}

// Notify records the terminal status of the armed operation. Only the first
// terminal status per Arm is accepted; later or unarmed calls are counted as
// spurious and dropped. The completion of an abandoned operation clears it
// and is counted as late.
func (c *Completion) Notify(_ any, st chip.Status) {
	if st == chip.StatusPending {
		c.spurious.Add(1)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.abandoned:
		c.abandoned = false
		c.status = st
		c.late.Add(1)
	case c.armed:
		c.armed = false
		c.status = st
		// the slot is drained in Arm, so this never falls through
		select {
		case c.done <- st:
		default:
			c.spurious.Add(1)
		}
	default:
		c.spurious.Add(1)
	}
}

// Wait suspends until the armed operation completes. When ctx ends or the
// timeout expires first, the operation is abandoned.
func (c *Completion) Wait(ctx context.Context) (chip.Status, error) {
	var expired <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		expired = timer.C
	}
	var err error
	select {
	case st := <-c.done:
		return st, nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-expired:
		err = ErrCompletionTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case st := <-c.done:
		// completed while giving up
		return st, nil
	default:
	}
	if c.armed {
		c.armed = false
		c.abandoned = true
	}
	return chip.StatusPending, err
}

// Status returns the last stored status; StatusPending while armed or
// abandoned.
func (c *Completion) Status() chip.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Outstanding reports whether an abandoned operation has yet to complete.
func (c *Completion) Outstanding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abandoned
}

// Spurious returns how many callbacks were dropped.
func (c *Completion) Spurious() uint64 {
	return c.spurious.Load()
}

// Late returns how many abandoned operations completed after their wait.
func (c *Completion) Late() uint64 {
	return c.late.Load()
}
