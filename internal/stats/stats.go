// Package stats summarizes a run: how tightly the raced requests
// landed, response latencies, and status/error tallies.
package stats

import (
	"sort"
	"time"

	"github.com/llamasoft/gorace/internal/types"
	"github.com/llamasoft/gorace/internal/worker"
)

// PositionSummary aggregates one synchronized queue position across
// all workers.
type PositionSummary struct {
	Position int
	// Spread is the window between the earliest and latest release
	// across workers, the client-side view of coincidence.
	Spread time.Duration
	// FirstByteSpread is the window between the earliest and latest
	// response start.
	FirstByteSpread time.Duration
	StatusCounts    map[int]int
	ErrorCounts     map[types.ErrorKind]int
}

// Summary aggregates a whole run.
type Summary struct {
	WorkerCount  int
	Positions    []PositionSummary
	SuccessCount int
	ErrorCount   int

	durationsMs []int64
	totalMs     int64
	minMs       int64
	maxMs       int64
}

// Compute builds the summary from worker results.
func Compute(results []worker.Result) *Summary {
	s := &Summary{
		WorkerCount: len(results),
		minMs:       -1,
		maxMs:       -1,
	}

	byPosition := make(map[int][]*types.Response)
	for _, res := range results {
		for _, resp := range res.Responses {
			byPosition[resp.Position] = append(byPosition[resp.Position], resp)

			if resp.Err != nil {
				s.ErrorCount++
				continue
			}
			s.SuccessCount++
			s.addDuration(resp.Timing)
		}
	}

	positions := make([]int, 0, len(byPosition))
	for pos := range byPosition {
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	for _, pos := range positions {
		s.Positions = append(s.Positions, summarizePosition(pos, byPosition[pos]))
	}
	return s
}

func (s *Summary) addDuration(tm types.Timing) {
	if tm.Release.IsZero() || tm.FirstByte.IsZero() {
		return
	}
	ms := tm.FirstByte.Sub(tm.Release).Milliseconds()
	s.durationsMs = append(s.durationsMs, ms)
	s.totalMs += ms
	if s.minMs == -1 || ms < s.minMs {
		s.minMs = ms
	}
	if s.maxMs == -1 || ms > s.maxMs {
		s.maxMs = ms
	}
}

func summarizePosition(pos int, responses []*types.Response) PositionSummary {
	ps := PositionSummary{
		Position:     pos,
		StatusCounts: make(map[int]int),
		ErrorCounts:  make(map[types.ErrorKind]int),
	}

	var minRelease, maxRelease, minFirst, maxFirst time.Time
	for _, resp := range responses {
		if resp.Err != nil {
			ps.ErrorCounts[resp.Err.Kind]++
			continue
		}
		ps.StatusCounts[resp.StatusCode]++

		tm := resp.Timing
		if !tm.Release.IsZero() {
			if minRelease.IsZero() || tm.Release.Before(minRelease) {
				minRelease = tm.Release
			}
			if maxRelease.IsZero() || tm.Release.After(maxRelease) {
				maxRelease = tm.Release
			}
		}
		if !tm.FirstByte.IsZero() {
			if minFirst.IsZero() || tm.FirstByte.Before(minFirst) {
				minFirst = tm.FirstByte
			}
			if maxFirst.IsZero() || tm.FirstByte.After(maxFirst) {
				maxFirst = tm.FirstByte
			}
		}
	}

	if !minRelease.IsZero() {
		ps.Spread = maxRelease.Sub(minRelease)
	}
	if !minFirst.IsZero() {
		ps.FirstByteSpread = maxFirst.Sub(minFirst)
	}
	return ps
}

// AvgDurationMs returns the mean release-to-first-byte latency.
func (s *Summary) AvgDurationMs() float64 {
	if len(s.durationsMs) == 0 {
		return 0
	}
	return float64(s.totalMs) / float64(len(s.durationsMs))
}

// Min returns the minimum latency in milliseconds, or 0.
func (s *Summary) Min() int64 {
	if s.minMs == -1 {
		return 0
	}
	return s.minMs
}

// Max returns the maximum latency in milliseconds, or 0.
func (s *Summary) Max() int64 {
	if s.maxMs == -1 {
		return 0
	}
	return s.maxMs
}

// P50 returns the median latency in milliseconds.
func (s *Summary) P50() int64 { return s.percentile(0.50) }

// P95 returns the 95th percentile latency in milliseconds.
func (s *Summary) P95() int64 { return s.percentile(0.95) }

// P99 returns the 99th percentile latency in milliseconds.
func (s *Summary) P99() int64 { return s.percentile(0.99) }

func (s *Summary) percentile(p float64) int64 {
	if len(s.durationsMs) == 0 {
		return 0
	}
	sorted := make([]int64, len(s.durationsMs))
	copy(sorted, s.durationsMs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}
