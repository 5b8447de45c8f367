// Package pool hands out connections keyed by (scheme, host, port)
// and funnels the race parameters and the current barrier set into
// each one.
//
// Keep-alive is deliberately disabled: a reused socket may hold
// unread bytes from the previous exchange, which would corrupt the
// withhold protocol. Every Get returns a fresh connection; Put tears
// it down. The pool still exists as the routing point so per-position
// barrier rebinding has a single seam.
package pool

import (
	"github.com/llamasoft/gorace/internal/barrier"
	"github.com/llamasoft/gorace/internal/raceconn"
	"github.com/llamasoft/gorace/internal/resolver"
	"github.com/llamasoft/gorace/internal/types"
)

// Pool creates connections for one worker.
type Pool struct {
	workerID    int
	workerCount int
	params      types.RaceParams
	res         *resolver.Resolver
}

// New creates the worker's pool.
func New(workerID, workerCount int, params types.RaceParams, res *resolver.Resolver) *Pool {
	return &Pool{
		workerID:    workerID,
		workerCount: workerCount,
		params:      params,
		res:         res,
	}
}

// Get returns a fresh connection for the target, bound to the barrier
// set of the current queue position.
func (p *Pool) Get(target *types.Target, set *barrier.Set) *raceconn.Conn {
	conn := raceconn.New(p.workerID, p.workerCount, p.params, p.res)
	conn.BindBarriers(set)
	return conn
}

// Put returns a connection after its exchange. With keep-alive off it
// is simply closed.
func (p *Pool) Put(conn *raceconn.Conn) {
	_ = conn.Close()
}
