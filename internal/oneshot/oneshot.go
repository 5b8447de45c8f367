// Package oneshot performs plain, unsynchronized exchanges with the
// same wire framing as the raced path. It backs the fake-send mode
// (serialize only, no network) and serves as the reference
// implementation that raced byte streams are compared against.
package oneshot

import (
	"context"

	"github.com/llamasoft/gorace/internal/barrier"
	"github.com/llamasoft/gorace/internal/raceconn"
	"github.com/llamasoft/gorace/internal/resolver"
	"github.com/llamasoft/gorace/internal/types"
)

// Fake serializes a request without sending it. The response record
// carries the exact wire bytes in Wire and no status.
func Fake(req *types.Request) (*types.Response, error) {
	payload, err := raceconn.Serialize(req)
	if err != nil {
		return nil, err
	}
	return &types.Response{Wire: payload}, nil
}

// Send performs a single-shot exchange: the connection machinery is
// reused with a pre-opened solo barrier set, so nothing is withheld
// and the bytes on the wire are identical to a raced send's
// pre-release plus post-release concatenation.
func Send(ctx context.Context, req *types.Request, params types.RaceParams) (*types.Response, error) {
	params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, err
	}

	set := barrier.NewSet(0, 1)
	set.Release.Open()

	conn := raceconn.New(0, 1, params, resolver.New())
	conn.BindBarriers(set)
	defer conn.Close()

	resp, err := conn.Do(ctx, req)
	if err != nil {
		conn.AbortRemaining(err)
		return nil, err
	}
	return resp, nil
}
