// Package resolver provides cached hostname resolution and the
// connect-mode address selection policies.
//
// Results are cached for a short window so that every worker in a run
// sees the same addresses in the same order; without the cache,
// concurrent lookups can return shuffled orderings and defeat the
// "same" and "different" policies.
package resolver

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/llamasoft/gorace/internal/types"
)

// CacheExpiry is how long a lookup result stays pinned for reuse.
const CacheExpiry = 10 * time.Second

// LookupFunc resolves a hostname to addresses. Swappable in tests.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

type cacheEntry struct {
	addrs   []string
	fetched time.Time
}

// Resolver caches lookups and applies connect-mode selection.
type Resolver struct {
	mu     sync.Mutex
	cache  map[string]cacheEntry
	pins   map[string]string
	lookup LookupFunc
	rng    *rand.Rand
}

// New creates a resolver backed by the system resolver.
func New() *Resolver {
	return NewWithLookup(func(ctx context.Context, host string) ([]string, error) {
		return net.DefaultResolver.LookupHost(ctx, host)
	})
}

// NewWithLookup creates a resolver with a custom lookup function.
func NewWithLookup(lookup LookupFunc) *Resolver {
	return &Resolver{
		cache:  make(map[string]cacheEntry),
		pins:   make(map[string]string),
		lookup: lookup,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Pin forces every subsequent selection for host to one address.
// The driver uses this for connect mode "same": it resolves once and
// injects the choice so all workers dial the identical peer.
func (r *Resolver) Pin(host, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pins[host] = addr
}

// Resolve returns the cached (or freshly fetched) address list for a
// host, in a stable order.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]string, error) {
	// IP literals skip resolution entirely.
	if ip := net.ParseIP(host); ip != nil {
		return []string{host}, nil
	}

	r.mu.Lock()
	entry, ok := r.cache[host]
	r.mu.Unlock()
	if ok && time.Since(entry.fetched) < CacheExpiry {
		return entry.addrs, nil
	}

	addrs, err := r.lookup(ctx, host)
	if err != nil {
		return nil, types.Errorf(types.KindResolution, "lookup %s: %v", host, err)
	}
	if len(addrs) == 0 {
		return nil, types.Errorf(types.KindResolution, "lookup %s: no addresses", host)
	}

	r.mu.Lock()
	r.cache[host] = cacheEntry{addrs: addrs, fetched: time.Now()}
	r.mu.Unlock()
	return addrs, nil
}

// Addrs returns the candidate addresses for one connection, ordered
// by preference according to the connect mode. The dialer tries them
// in order until one connects.
func (r *Resolver) Addrs(ctx context.Context, host string, mode types.ConnectMode, workerID, workerCount int) ([]string, error) {
	r.mu.Lock()
	pinned, isPinned := r.pins[host]
	r.mu.Unlock()
	if isPinned {
		return []string{pinned}, nil
	}

	if mode == types.ConnectNormal {
		// Fresh lookup each time, no cache, whatever order comes back.
		if ip := net.ParseIP(host); ip != nil {
			return []string{host}, nil
		}
		addrs, err := r.lookup(ctx, host)
		if err != nil {
			return nil, types.Errorf(types.KindResolution, "lookup %s: %v", host, err)
		}
		return addrs, nil
	}

	addrs, err := r.Resolve(ctx, host)
	if err != nil {
		return nil, err
	}

	switch mode {
	case types.ConnectSame:
		// Cached order is already constant across workers.
		return addrs, nil

	case types.ConnectDifferent:
		if len(addrs) < workerCount {
			return nil, types.WrapError(types.KindResolution,
				fmt.Errorf("%w: host %s has %d addresses for %d workers",
					types.ErrInsufficientAddresses, host, len(addrs), workerCount))
		}
		// Rotate so each worker's first choice is distinct.
		shift := workerID % len(addrs)
		rotated := make([]string, 0, len(addrs))
		rotated = append(rotated, addrs[shift:]...)
		rotated = append(rotated, addrs[:shift]...)
		return rotated, nil

	case types.ConnectRandom:
		shuffled := append([]string(nil), addrs...)
		r.mu.Lock()
		r.rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		r.mu.Unlock()
		return shuffled, nil
	}

	return nil, types.Errorf(types.KindConfiguration, "unrecognized connect mode %q", mode)
}
