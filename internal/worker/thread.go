package worker

import "github.com/llamasoft/gorace/internal/types"

// The Worker is the handle callbacks and the evaluator see; the
// methods below implement types.Thread.

// ThreadNum returns the worker identity, 0..N-1.
func (w *Worker) ThreadNum() int { return w.threadNum }

// Position returns the current work-queue index.
func (w *Worker) Position() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.position
}

// Responses returns the records collected so far.
func (w *Worker) Responses() []*types.Response {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]*types.Response, len(w.responses))
	copy(out, w.responses)
	return out
}

// Append adds items to this worker's own queue. Callbacks use it to
// extend their lane; other workers' queues are not reachable.
func (w *Worker) Append(items ...types.WorkItem) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = append(w.queue, items...)
}

// SetCookie stores a cookie in the worker's jar.
func (w *Worker) SetCookie(host, name, value string) {
	w.jar.Set(host, "/", name, value)
}

// GetCookie reads a cookie from the worker's jar.
func (w *Worker) GetCookie(host, name string) (string, bool) {
	return w.jar.Get(host, name)
}

var _ types.Thread = (*Worker)(nil)
