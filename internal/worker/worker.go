package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/llamasoft/gorace/internal/barrier"
	"github.com/llamasoft/gorace/internal/cookies"
	"github.com/llamasoft/gorace/internal/eval"
	"github.com/llamasoft/gorace/internal/oneshot"
	"github.com/llamasoft/gorace/internal/pool"
	"github.com/llamasoft/gorace/internal/resolver"
	"github.com/llamasoft/gorace/internal/types"
)

// Result is what one worker hands back after a run: the per-position
// response records plus the abort reason if the run died globally.
type Result struct {
	ThreadNum int
	Responses []*types.Response
	Err       error
}

// Worker drives one lane of the race: it owns a cookie jar and an
// ordered work queue, and processes one queue position each time the
// driver hands it a barrier set.
type Worker struct {
	threadNum   int
	workerCount int
	params      types.RaceParams

	jar  *cookies.Jar
	pool *pool.Pool
	eval *eval.Evaluator

	mu        sync.Mutex
	queue     []types.WorkItem
	responses []*types.Response
	position  int
	fatal     error

	positions chan *barrier.Set
	completed chan<- int
}

// New creates a worker with its own copy of the work queue. Each
// finished position is announced on completed with the worker's
// thread number.
func New(threadNum, workerCount int, queue []types.WorkItem, params types.RaceParams, res *resolver.Resolver, completed chan<- int) *Worker {
	w := &Worker{
		threadNum:   threadNum,
		workerCount: workerCount,
		params:      params,
		jar:         cookies.NewJar(),
		pool:        pool.New(threadNum, workerCount, params, res),
		queue:       cloneQueue(queue),
		positions:   make(chan *barrier.Set, 1),
		completed:   completed,
	}
	w.eval = eval.New(w)
	return w
}

func cloneQueue(queue []types.WorkItem) []types.WorkItem {
	out := make([]types.WorkItem, len(queue))
	for i, item := range queue {
		if item.Request != nil {
			out[i] = types.RequestItem(item.Request.Clone())
		} else {
			out[i] = item
		}
	}
	return out
}

// Run processes barrier sets until the driver closes the position
// channel. It runs on its own goroutine, one per worker.
func (w *Worker) Run(ctx context.Context) {
	for set := range w.positions {
		w.step(ctx, set)
		w.completed <- w.threadNum
	}
}

// Begin hands the worker the barrier set for its next position.
func (w *Worker) Begin(set *barrier.Set) {
	w.positions <- set
}

// Finish tells the worker no more positions are coming.
func (w *Worker) Finish() {
	close(w.positions)
}

// Pending returns how many queue items remain.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue) - w.position
}

// Result snapshots the worker's outcome.
func (w *Worker) Result() Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	responses := make([]*types.Response, len(w.responses))
	copy(responses, w.responses)
	return Result{ThreadNum: w.threadNum, Responses: responses, Err: w.fatal}
}

// step processes the work item at the current position.
func (w *Worker) step(ctx context.Context, set *barrier.Set) {
	w.mu.Lock()
	item := w.queue[w.position]
	w.mu.Unlock()

	if item.Callback != nil {
		w.runCallback(ctx, set, item.Callback)
	} else {
		w.runRequest(ctx, set, item.Request)
	}

	w.mu.Lock()
	w.position++
	w.mu.Unlock()
}

// runCallback participates in the barriers without racing, then
// invokes the user hook with this worker as its handle.
func (w *Worker) runCallback(ctx context.Context, set *barrier.Set, cb types.Callback) {
	set.Ready.Arrive()
	openErr := set.Release.AwaitOpen(ctx, w.params.BarrierTimeout)
	set.Received.Arrive()

	if openErr != nil {
		w.noteAbort(openErr)
		w.record(w.failedResponse(set.Position, openErr))
		return
	}

	if err := invokeCallback(cb, w); err != nil {
		w.record(w.failedResponse(set.Position, types.WrapError(types.KindCallback, err)))
	}
}

// invokeCallback shields the worker from panicking user code.
func invokeCallback(cb types.Callback, t types.Thread) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return cb(t)
}

// runRequest performs one raced exchange.
func (w *Worker) runRequest(ctx context.Context, set *barrier.Set, req *types.Request) {
	req = req.Clone()

	if w.params.DoEval {
		expanded, err := w.eval.ExpandRequest(req)
		if err != nil {
			w.abortPosition(set, types.WrapError(types.KindCallback, err))
			return
		}
		req = expanded
	}

	w.jar.Apply(req)

	target, err := types.ParseTarget(req.URL)
	if err != nil {
		w.abortPosition(set, err)
		return
	}

	if w.params.FakeSend {
		w.runFakeSend(ctx, set, req)
	} else {
		w.runWireSend(ctx, set, req, target)
	}

	// Outgoing Cookie entries are not otherwise remembered; without
	// this, only Set-Cookie values would survive to the next position.
	if w.params.SaveSentCookies {
		if header := req.Headers.Get("Cookie"); header != "" {
			w.jar.MergeCookieHeader(target.Host, header)
		}
	}
}

func (w *Worker) runWireSend(ctx context.Context, set *barrier.Set, req *types.Request, target *types.Target) {
	conn := w.pool.Get(target, set)
	defer w.pool.Put(conn)

	resp, err := conn.Do(ctx, req)
	if err != nil {
		conn.AbortRemaining(err)
		w.noteAbort(err)
		failed := w.failedResponse(set.Position, err)
		failed.Method = req.Method
		failed.URL = req.URL
		failed.Timing = conn.Timing()
		failed.RemoteAddr = conn.RemoteAddr()
		w.record(failed)
		return
	}

	resp.Position = set.Position
	resp.ThreadNum = w.threadNum
	resp.Method = req.Method
	resp.URL = req.URL
	w.record(resp)
	w.jar.MergeSetCookie(target.Host, resp.Headers.Values("Set-Cookie"))
}

// runFakeSend serializes without touching the network but still keeps
// pace with the barriers so real peers are not disturbed.
func (w *Worker) runFakeSend(ctx context.Context, set *barrier.Set, req *types.Request) {
	set.Ready.Arrive()
	openErr := set.Release.AwaitOpen(ctx, w.params.BarrierTimeout)
	set.Received.Arrive()

	if openErr != nil {
		w.noteAbort(openErr)
		w.record(w.failedResponse(set.Position, openErr))
		return
	}

	resp, err := oneshot.Fake(req)
	if err != nil {
		w.record(w.failedResponse(set.Position, err))
		return
	}
	resp.Position = set.Position
	resp.ThreadNum = w.threadNum
	resp.Method = req.Method
	resp.URL = req.URL
	w.record(resp)
}

// abortPosition records a pre-send failure and arrives aborted so
// peers are not stranded waiting on this worker.
func (w *Worker) abortPosition(set *barrier.Set, err error) {
	set.Ready.ArriveAborted(err)
	set.Received.ArriveAborted(err)
	w.record(w.failedResponse(set.Position, err))
}

// noteAbort remembers a global abort reason (barrier timeout or
// driver shutdown) as the worker's fatal error.
func (w *Worker) noteAbort(err error) {
	if types.KindOf(err) != types.KindBarrierTimeout {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fatal == nil {
		w.fatal = err
	}
}

func (w *Worker) failedResponse(position int, err error) *types.Response {
	return &types.Response{
		Position:  position,
		ThreadNum: w.threadNum,
		Err:       types.WrapError(types.KindTransport, err),
	}
}

func (w *Worker) record(resp *types.Response) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.responses = append(w.responses, resp)
}
