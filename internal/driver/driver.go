package driver

import (
	"context"
	"time"

	"github.com/llamasoft/gorace/internal/barrier"
	"github.com/llamasoft/gorace/internal/resolver"
	"github.com/llamasoft/gorace/internal/types"
	"github.com/llamasoft/gorace/internal/worker"
)

// Driver creates the workers, hands out their work queues, and walks
// every queue position through the three-phase barrier protocol.
type Driver struct {
	res *resolver.Resolver
}

// New creates a driver with the system resolver.
func New() *Driver {
	return NewWithResolver(resolver.New())
}

// NewWithResolver creates a driver with a custom resolver, used by
// tests to inject address sets.
func NewWithResolver(res *resolver.Resolver) *Driver {
	return &Driver{res: res}
}

// ProcessRequest broadcasts a single request to every worker.
func (d *Driver) ProcessRequest(ctx context.Context, req *types.Request, workerCount int, params types.RaceParams) ([]worker.Result, error) {
	return d.Process(ctx, types.SingleRequest(req), workerCount, params)
}

// Process runs the race: every worker receives a copy of the work
// queue and is driven position by position. Each worker always yields
// a Result; the returned error is non-nil only for global failures
// (invalid configuration, barrier timeout, cancellation).
func (d *Driver) Process(ctx context.Context, work []types.WorkItem, workerCount int, params types.RaceParams) ([]worker.Result, error) {
	if workerCount < 1 {
		return nil, types.Errorf(types.KindConfiguration, "worker count must be at least 1, got %d", workerCount)
	}
	params.Normalize()
	err := params.Validate()
	if err == nil {
		err = types.ValidateQueue(work)
	}
	if err != nil {
		// Rejected before any worker starts; each lane still reports why.
		results := make([]worker.Result, workerCount)
		for i := range results {
			results[i] = worker.Result{ThreadNum: i, Err: err}
		}
		return results, err
	}

	if params.ConnectMode == types.ConnectSame && !params.FakeSend {
		d.pinHosts(ctx, work)
	}

	completed := make(chan int, workerCount)
	workers := make([]*worker.Worker, workerCount)
	for i := range workers {
		workers[i] = worker.New(i, workerCount, work, params, d.res, completed)
		go workers[i].Run(ctx)
	}

	globalErr := d.drive(ctx, workers, params, completed)

	for _, w := range workers {
		w.Finish()
	}

	results := make([]worker.Result, workerCount)
	for i, w := range workers {
		results[i] = w.Result()
		if results[i].Err == nil && globalErr != nil {
			results[i].Err = globalErr
		}
	}
	return results, globalErr
}

// drive runs the per-position orchestration loop until every worker's
// queue is exhausted or a global failure aborts the run.
func (d *Driver) drive(ctx context.Context, workers []*worker.Worker, params types.RaceParams, completed <-chan int) error {
	for position := 0; ; position++ {
		// Callbacks may have extended some queues; recheck every round
		// and pre-arrive the lanes that have nothing left.
		active := 0
		for _, w := range workers {
			if w.Pending() > 0 {
				active++
			}
		}
		if active == 0 {
			return nil
		}

		set := barrier.NewSet(position, len(workers))
		for _, w := range workers {
			if w.Pending() > 0 {
				w.Begin(set)
			} else {
				set.Prearrive()
			}
		}

		if err := set.Ready.AwaitFull(ctx, params.BarrierTimeout); err != nil {
			d.abort(set, err, active, completed, params)
			return err
		}

		// Optional settle pause: the ready arrivals mean the bytes were
		// handed to the kernel, not that they reached the server.
		if params.ReleaseDelay > 0 {
			select {
			case <-time.After(params.ReleaseDelay):
			case <-ctx.Done():
				err := types.WrapError(types.KindBarrierTimeout, ctx.Err())
				d.abort(set, err, active, completed, params)
				return err
			}
		}

		// The single store every waiter observes at once.
		set.Release.Open()

		if err := set.Received.AwaitFull(ctx, params.BarrierTimeout); err != nil {
			d.abort(set, err, active, completed, params)
			return err
		}

		if err := d.awaitCompletions(ctx, active, completed, params.BarrierTimeout); err != nil {
			set.Abort(err)
			return err
		}
	}
}

// abort fails the whole barrier set and gives in-flight workers a
// bounded chance to wind down their positions.
func (d *Driver) abort(set *barrier.Set, cause error, active int, completed <-chan int, params types.RaceParams) {
	set.Abort(cause)
	_ = d.awaitCompletions(context.Background(), active, completed, params.Send.Timeout+time.Second)
}

// awaitCompletions collects one position-finished signal per active
// worker.
func (d *Driver) awaitCompletions(ctx context.Context, active int, completed <-chan int, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for i := 0; i < active; i++ {
		select {
		case <-completed:
		case <-ctx.Done():
			return types.WrapError(types.KindBarrierTimeout, ctx.Err())
		case <-timer.C:
			return types.Errorf(types.KindBarrierTimeout,
				"%d workers did not finish their position within %s", active-i, timeout)
		}
	}
	return nil
}

// pinHosts resolves each unique request host once and injects the
// first address, so every connection in the run dials the same peer.
// Best effort: a lookup failure here simply surfaces later as a
// per-worker resolution failure.
func (d *Driver) pinHosts(ctx context.Context, work []types.WorkItem) {
	pinned := make(map[string]bool)
	for _, item := range work {
		if item.Request == nil {
			continue
		}
		target, err := types.ParseTarget(item.Request.URL)
		if err != nil || pinned[target.Host] {
			continue
		}
		pinned[target.Host] = true

		addrs, err := d.res.Resolve(ctx, target.Host)
		if err != nil || len(addrs) == 0 {
			continue
		}
		d.res.Pin(target.Host, addrs[0])
	}
}
