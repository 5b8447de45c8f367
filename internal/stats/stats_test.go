package stats

import (
	"testing"
	"time"

	"github.com/llamasoft/gorace/internal/types"
	"github.com/llamasoft/gorace/internal/worker"
)

func resp(pos, thread int, status int, release, firstByte time.Time) *types.Response {
	return &types.Response{
		Position:   pos,
		ThreadNum:  thread,
		StatusCode: status,
		Timing:     types.Timing{Release: release, FirstByte: firstByte},
	}
}

func TestCompute_SpreadAndCounts(t *testing.T) {
	base := time.Now()

	results := []worker.Result{
		{ThreadNum: 0, Responses: []*types.Response{
			resp(0, 0, 200, base, base.Add(10*time.Millisecond)),
		}},
		{ThreadNum: 1, Responses: []*types.Response{
			resp(0, 1, 200, base.Add(2*time.Millisecond), base.Add(14*time.Millisecond)),
		}},
		{ThreadNum: 2, Responses: []*types.Response{
			resp(0, 2, 409, base.Add(1*time.Millisecond), base.Add(30*time.Millisecond)),
		}},
	}

	s := Compute(results)

	if s.WorkerCount != 3 {
		t.Errorf("worker count %d", s.WorkerCount)
	}
	if s.SuccessCount != 3 || s.ErrorCount != 0 {
		t.Errorf("success %d, errors %d", s.SuccessCount, s.ErrorCount)
	}
	if len(s.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(s.Positions))
	}

	ps := s.Positions[0]
	if ps.Spread != 2*time.Millisecond {
		t.Errorf("release spread %s", ps.Spread)
	}
	if ps.FirstByteSpread != 20*time.Millisecond {
		t.Errorf("first-byte spread %s", ps.FirstByteSpread)
	}
	if ps.StatusCounts[200] != 2 || ps.StatusCounts[409] != 1 {
		t.Errorf("status counts %v", ps.StatusCounts)
	}
}

func TestCompute_ErrorsTallied(t *testing.T) {
	results := []worker.Result{
		{ThreadNum: 0, Responses: []*types.Response{
			{Position: 0, Err: types.Errorf(types.KindTransport, "refused")},
		}},
		{ThreadNum: 1, Responses: []*types.Response{
			{Position: 0, Err: types.Errorf(types.KindProtocol, "truncated")},
		}},
	}

	s := Compute(results)
	if s.ErrorCount != 2 || s.SuccessCount != 0 {
		t.Errorf("success %d, errors %d", s.SuccessCount, s.ErrorCount)
	}
	ps := s.Positions[0]
	if ps.ErrorCounts[types.KindTransport] != 1 || ps.ErrorCounts[types.KindProtocol] != 1 {
		t.Errorf("error counts %v", ps.ErrorCounts)
	}
}

func TestSummary_Percentiles(t *testing.T) {
	base := time.Now()
	var results []worker.Result
	for i := 0; i < 10; i++ {
		results = append(results, worker.Result{
			ThreadNum: i,
			Responses: []*types.Response{
				resp(0, i, 200, base, base.Add(time.Duration(i+1)*10*time.Millisecond)),
			},
		})
	}

	s := Compute(results)
	if s.Min() != 10 {
		t.Errorf("min %d", s.Min())
	}
	if s.Max() != 100 {
		t.Errorf("max %d", s.Max())
	}
	if p := s.P50(); p < 40 || p > 60 {
		t.Errorf("p50 %d", p)
	}
	if avg := s.AvgDurationMs(); avg < 50 || avg > 60 {
		t.Errorf("avg %f", avg)
	}
}

func TestSummary_EmptyRun(t *testing.T) {
	s := Compute(nil)
	if s.Min() != 0 || s.Max() != 0 || s.P99() != 0 || s.AvgDurationMs() != 0 {
		t.Error("empty run must summarize to zeros")
	}
}
