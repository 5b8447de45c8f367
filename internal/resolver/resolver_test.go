package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/llamasoft/gorace/internal/types"
)

func fixedLookup(addrs ...string) LookupFunc {
	return func(ctx context.Context, host string) ([]string, error) {
		return addrs, nil
	}
}

func TestResolve_CachesResults(t *testing.T) {
	calls := 0
	r := NewWithLookup(func(ctx context.Context, host string) ([]string, error) {
		calls++
		return []string{"10.0.0.1"}, nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(ctx, "example.test"); err != nil {
			t.Fatalf("resolve: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("expected 1 lookup, got %d", calls)
	}
}

func TestResolve_IPLiteralSkipsLookup(t *testing.T) {
	r := NewWithLookup(func(ctx context.Context, host string) ([]string, error) {
		t.Fatal("lookup should not run for IP literals")
		return nil, nil
	})

	addrs, err := r.Resolve(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != "127.0.0.1" {
		t.Errorf("unexpected addrs %v", addrs)
	}
}

func TestAddrs_SameModeIsStableAcrossWorkers(t *testing.T) {
	r := NewWithLookup(fixedLookup("10.0.0.1", "10.0.0.2", "10.0.0.3"))
	ctx := context.Background()

	var first string
	for worker := 0; worker < 5; worker++ {
		addrs, err := r.Addrs(ctx, "example.test", types.ConnectSame, worker, 5)
		if err != nil {
			t.Fatalf("worker %d: %v", worker, err)
		}
		if worker == 0 {
			first = addrs[0]
		} else if addrs[0] != first {
			t.Errorf("worker %d got %s, worker 0 got %s", worker, addrs[0], first)
		}
	}
}

func TestAddrs_PinOverridesEverything(t *testing.T) {
	r := NewWithLookup(fixedLookup("10.0.0.1", "10.0.0.2"))
	r.Pin("example.test", "10.0.0.2")

	addrs, err := r.Addrs(context.Background(), "example.test", types.ConnectSame, 3, 4)
	if err != nil {
		t.Fatalf("addrs: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != "10.0.0.2" {
		t.Errorf("expected pinned 10.0.0.2, got %v", addrs)
	}
}

func TestAddrs_DifferentModeDistinctFirstChoices(t *testing.T) {
	r := NewWithLookup(fixedLookup("10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4"))
	ctx := context.Background()

	seen := make(map[string]int)
	for worker := 0; worker < 4; worker++ {
		addrs, err := r.Addrs(ctx, "example.test", types.ConnectDifferent, worker, 4)
		if err != nil {
			t.Fatalf("worker %d: %v", worker, err)
		}
		seen[addrs[0]]++
		if len(addrs) != 4 {
			t.Errorf("worker %d: expected full fallback list, got %v", worker, addrs)
		}
	}
	if len(seen) != 4 {
		t.Errorf("expected 4 distinct first choices, got %v", seen)
	}
}

func TestAddrs_DifferentModeInsufficientAddresses(t *testing.T) {
	r := NewWithLookup(fixedLookup("10.0.0.1", "10.0.0.2"))

	_, err := r.Addrs(context.Background(), "example.test", types.ConnectDifferent, 0, 3)
	if err == nil {
		t.Fatal("expected failure with 2 addresses for 3 workers")
	}
	if !errors.Is(err, types.ErrInsufficientAddresses) {
		t.Errorf("expected ErrInsufficientAddresses, got %v", err)
	}
	if kind := types.KindOf(err); kind != types.KindResolution {
		t.Errorf("expected resolution kind, got %s", kind)
	}
}

func TestAddrs_RandomModeKeepsAllCandidates(t *testing.T) {
	r := NewWithLookup(fixedLookup("10.0.0.1", "10.0.0.2", "10.0.0.3"))

	addrs, err := r.Addrs(context.Background(), "example.test", types.ConnectRandom, 0, 1)
	if err != nil {
		t.Fatalf("addrs: %v", err)
	}
	if len(addrs) != 3 {
		t.Fatalf("expected 3 candidates, got %v", addrs)
	}
	seen := map[string]bool{}
	for _, a := range addrs {
		seen[a] = true
	}
	if len(seen) != 3 {
		t.Errorf("shuffle lost candidates: %v", addrs)
	}
}

func TestAddrs_NormalModeBypassesCache(t *testing.T) {
	calls := 0
	r := NewWithLookup(func(ctx context.Context, host string) ([]string, error) {
		calls++
		return []string{"10.0.0.1"}, nil
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := r.Addrs(ctx, "example.test", types.ConnectNormal, 0, 1); err != nil {
			t.Fatalf("addrs: %v", err)
		}
	}
	if calls != 3 {
		t.Errorf("normal mode should look up every time, got %d calls", calls)
	}
}
