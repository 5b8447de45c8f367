package barrier

import (
	"context"
	"sync"
	"time"

	"github.com/llamasoft/gorace/internal/types"
)

// Barrier is an N-party one-shot synchronization point.
//
// Used two ways: as a counting barrier (workers Arrive, the driver
// AwaitFull), and as a gate (the driver Open, workers AwaitOpen).
// The ready and received barriers count; the release barrier gates.
// Transitions are monotonic: once full, open, or aborted, a barrier
// never goes back.
type Barrier struct {
	capacity int

	mu       sync.Mutex
	arrived  int
	aborted  int
	abortErr error

	full   chan struct{}
	opened chan struct{}

	fullClosed bool
	openClosed bool
}

// New creates a barrier for the given party count.
func New(capacity int) *Barrier {
	return &Barrier{
		capacity: capacity,
		full:     make(chan struct{}),
		opened:   make(chan struct{}),
	}
}

// Arrive registers one party. When the last party arrives the barrier
// becomes full; waiters in AwaitFull unblock.
func (b *Barrier) Arrive() {
	b.arrive(nil)
}

// ArriveAborted registers one party in the error state. Aborted
// arrivals count toward fullness so peers are never stranded.
func (b *Barrier) ArriveAborted(err error) {
	b.arrive(err)
}

func (b *Barrier) arrive(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.arrived++
	if err != nil {
		b.aborted++
		if b.abortErr == nil {
			b.abortErr = err
		}
	}
	if b.arrived >= b.capacity && !b.fullClosed {
		b.fullClosed = true
		close(b.full)
	}
}

// AwaitFull blocks until every party has arrived, the context is
// cancelled, or the timeout elapses.
func (b *Barrier) AwaitFull(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-b.full:
		return nil
	case <-ctx.Done():
		return types.WrapError(types.KindBarrierTimeout, ctx.Err())
	case <-timer.C:
		b.mu.Lock()
		pending := b.capacity - b.arrived
		b.mu.Unlock()
		return types.Errorf(types.KindBarrierTimeout,
			"barrier not full after %s: %d of %d parties missing", timeout, pending, b.capacity)
	}
}

// Open releases every waiter in AwaitOpen. Only the driver calls this,
// and the open event is a single channel close visible to all waiters
// at once.
func (b *Barrier) Open() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.openClosed {
		b.openClosed = true
		close(b.opened)
	}
}

// AwaitOpen blocks until the barrier is opened or aborted. Waiters of
// an aborted barrier receive the abort reason.
func (b *Barrier) AwaitOpen(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-b.opened:
		return b.Err()
	case <-ctx.Done():
		return types.WrapError(types.KindBarrierTimeout, ctx.Err())
	case <-timer.C:
		return types.Errorf(types.KindBarrierTimeout, "barrier not opened after %s", timeout)
	}
}

// Abort marks the barrier failed and unblocks everything: waiters of
// AwaitFull and AwaitOpen all return, and AwaitOpen reports err.
func (b *Barrier) Abort(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.abortErr == nil {
		b.abortErr = err
	}
	if !b.fullClosed {
		b.fullClosed = true
		close(b.full)
	}
	if !b.openClosed {
		b.openClosed = true
		close(b.opened)
	}
}

// Err returns the abort reason, if any.
func (b *Barrier) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.abortErr
}

// Arrived returns how many parties have arrived so far.
func (b *Barrier) Arrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}

// Aborted returns how many arrivals carried the error state.
func (b *Barrier) Aborted() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.aborted
}
