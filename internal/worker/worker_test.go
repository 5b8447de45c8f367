package worker

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/llamasoft/gorace/internal/barrier"
	"github.com/llamasoft/gorace/internal/resolver"
	"github.com/llamasoft/gorace/internal/types"
)

func testParams() types.RaceParams {
	params := types.DefaultParams()
	params.BarrierTimeout = 2 * time.Second
	params.ReleaseDelay = 0
	return params
}

// driveOnePosition pushes a barrier set through a solo worker and
// waits for the position to finish.
func driveOnePosition(t *testing.T, w *Worker, completed <-chan int) *barrier.Set {
	t.Helper()

	set := barrier.NewSet(w.Position(), 1)
	w.Begin(set)

	ctx := context.Background()
	if err := set.Ready.AwaitFull(ctx, 2*time.Second); err != nil {
		t.Fatalf("ready barrier: %v", err)
	}
	set.Release.Open()
	if err := set.Received.AwaitFull(ctx, 2*time.Second); err != nil {
		t.Fatalf("received barrier: %v", err)
	}

	select {
	case <-completed:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not complete the position")
	}
	return set
}

func TestWorker_CallbackAppendsToOwnQueue(t *testing.T) {
	url := "http://example.test/"
	cb := func(th types.Thread) error {
		th.Append(types.RequestItem(&types.Request{Method: "GET", URL: url}))
		return nil
	}

	completed := make(chan int, 1)
	w := New(0, 1, []types.WorkItem{types.CallbackItem(cb)}, testParams(), resolver.New(), completed)
	go w.Run(context.Background())
	defer w.Finish()

	if w.Pending() != 1 {
		t.Fatalf("pending %d before start", w.Pending())
	}

	driveOnePosition(t, w, completed)

	// The callback consumed its position and appended one request.
	if w.Pending() != 1 {
		t.Errorf("pending %d after callback, expected the appended item", w.Pending())
	}
	if len(w.Result().Responses) != 0 {
		t.Error("successful callback must not record a response")
	}
}

func TestWorker_CallbackPanicIsContained(t *testing.T) {
	cb := func(th types.Thread) error {
		panic("user code exploded")
	}

	completed := make(chan int, 1)
	w := New(0, 1, []types.WorkItem{types.CallbackItem(cb)}, testParams(), resolver.New(), completed)
	go w.Run(context.Background())
	defer w.Finish()

	driveOnePosition(t, w, completed)

	res := w.Result()
	if len(res.Responses) != 1 {
		t.Fatalf("expected a failure record, got %d responses", len(res.Responses))
	}
	resp := res.Responses[0]
	if resp.Err == nil || resp.Err.Kind != types.KindCallback {
		t.Errorf("expected callback failure, got %v", resp.Err)
	}
	if !strings.Contains(resp.Err.Error(), "panic") {
		t.Errorf("panic detail lost: %v", resp.Err)
	}
}

func TestWorker_FakeSendRecordsWire(t *testing.T) {
	params := testParams()
	params.FakeSend = true

	queue := []types.WorkItem{types.RequestItem(&types.Request{
		Method: "POST",
		URL:    "http://example.test/submit",
		Body:   []byte("data"),
	})}

	completed := make(chan int, 1)
	w := New(3, 4, queue, params, resolver.New(), completed)
	go w.Run(context.Background())
	defer w.Finish()

	driveOnePosition(t, w, completed)

	res := w.Result()
	if len(res.Responses) != 1 {
		t.Fatalf("expected 1 response, got %d", len(res.Responses))
	}
	resp := res.Responses[0]
	if resp.ThreadNum != 3 || resp.Position != 0 {
		t.Errorf("identity not stamped: thread %d position %d", resp.ThreadNum, resp.Position)
	}
	if !strings.HasPrefix(string(resp.Wire), "POST /submit HTTP/1.1\r\n") {
		t.Errorf("wire bytes missing or wrong: %q", resp.Wire)
	}
}

func TestWorker_EvalFailureArrivesAborted(t *testing.T) {
	params := testParams()
	params.DoEval = true

	queue := []types.WorkItem{types.RequestItem(&types.Request{
		Method: "GET",
		URL:    "http://example.test/",
		Body:   []byte("<<<not_a_function()>>>"),
	})}

	completed := make(chan int, 1)
	w := New(0, 1, queue, params, resolver.New(), completed)
	go w.Run(context.Background())
	defer w.Finish()

	set := barrier.NewSet(0, 1)
	w.Begin(set)

	ctx := context.Background()
	// The aborted arrival still fills both counting barriers.
	if err := set.Ready.AwaitFull(ctx, 2*time.Second); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if err := set.Received.AwaitFull(ctx, 2*time.Second); err != nil {
		t.Fatalf("received: %v", err)
	}
	<-completed

	resp := w.Result().Responses[0]
	if resp.Err == nil || resp.Err.Kind != types.KindCallback {
		t.Errorf("expected callback-kind failure for bad expression, got %v", resp.Err)
	}
	if set.Ready.Aborted() != 1 {
		t.Error("ready barrier should record an aborted arrival")
	}
}

func TestWorker_ThreadInterfaceCookies(t *testing.T) {
	completed := make(chan int, 1)
	w := New(0, 1, []types.WorkItem{}, testParams(), resolver.New(), completed)

	w.SetCookie("example.test", "k", "v")
	if value, ok := w.GetCookie("example.test", "k"); !ok || value != "v" {
		t.Errorf("cookie round-trip failed: %q %v", value, ok)
	}
	if _, ok := w.GetCookie("other.test", "k"); ok {
		t.Error("cookie leaked across hosts")
	}
}

func TestWorker_QueueCloningIsolatesWorkers(t *testing.T) {
	req := &types.Request{Method: "GET", URL: "http://example.test/", Headers: types.Headers{{Name: "A", Value: "1"}}}
	queue := []types.WorkItem{types.RequestItem(req)}

	completed := make(chan int, 2)
	w0 := New(0, 2, queue, testParams(), resolver.New(), completed)
	_ = New(1, 2, queue, testParams(), resolver.New(), completed)

	// Mutating one worker's copy must not touch the shared original.
	w0.mu.Lock()
	w0.queue[0].Request.Headers.Set("A", "mutated")
	w0.mu.Unlock()

	if req.Headers.Get("A") != "1" {
		t.Error("worker queue clone leaked into the source request")
	}
}
