// Package local connects the ranks of a run inside one process.
//
// Each rank runs on its own goroutine and talks to the coordinator over
// channels. Every message is deep-copied on send, so ranks never share the
// memory of a shard, a centroid set or an aggregate.
package local

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mawngo/kclust/internal/kmeans"
)

// Group is a set of in-process ranks.
type Group struct {
	size   int
	ctx    context.Context
	cancel context.CancelCauseFunc
	down   []chan any // coordinator to rank r
	up     []chan any // rank r to coordinator
}

// NewGroup creates a group of size ranks.
func NewGroup(size int) (*Group, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: group of %d ranks", kmeans.ErrInvalidConfig, size)
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	g := &Group{
		size:   size,
		ctx:    ctx,
		cancel: cancel,
		down:   make([]chan any, size),
		up:     make([]chan any, size),
	}
	for r := 1; r < size; r++ {
		g.down[r] = make(chan any, 1)
		g.up[r] = make(chan any, 1)
	}
	return g, nil
}

// Size returns the number of ranks.
func (g *Group) Size() int { return g.size }

// Comm returns the endpoint of rank.
func (g *Group) Comm(rank int) *Comm {
	return &Comm{g: g, rank: rank}
}

// Err returns the abort cause, or nil while the group is healthy.
func (g *Group) Err() error {
	return context.Cause(g.ctx)
}

// Run starts fn once per rank and waits for all of them. When a rank fails
// the whole group is aborted and the abort cause is returned.
func (g *Group) Run(ctx context.Context, fn func(ctx context.Context, comm *Comm) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	for r := range g.size {
		comm := g.Comm(r)
		eg.Go(func() error {
			err := fn(ctx, comm)
			if err != nil {
				comm.Abort(err)
			}
			return err
		})
	}
	err := eg.Wait()
	if cause := g.Err(); cause != nil {
		return cause
	}
	return err
}

// Comm is the kmeans.Collective of one rank of a Group.
type Comm struct {
	g    *Group
	rank int
}

var _ kmeans.Collective = (*Comm)(nil)

type scatterMsg struct {
	plan  kmeans.Plan
	shard kmeans.Shard
}

func (c *Comm) Rank() int { return c.rank }

func (c *Comm) Size() int { return c.g.size }

func (c *Comm) send(ctx context.Context, ch chan any, msg any) error {
	if err := c.g.Err(); err != nil {
		return err
	}
	select {
	case ch <- msg:
		return nil
	case <-c.g.ctx.Done():
		return context.Cause(c.g.ctx)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Comm) recv(ctx context.Context, ch chan any) (any, error) {
	if err := c.g.Err(); err != nil {
		return nil, err
	}
	select {
	case msg := <-ch:
		return msg, nil
	case <-c.g.ctx.Done():
		return nil, context.Cause(c.g.ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Comm) Scatter(ctx context.Context, plan kmeans.Plan, shards []kmeans.Shard) (kmeans.Plan, kmeans.Shard, error) {
	if c.rank != 0 {
		msg, err := c.recv(ctx, c.g.down[c.rank])
		if err != nil {
			return kmeans.Plan{}, kmeans.Shard{}, err
		}
		m, ok := msg.(scatterMsg)
		if !ok {
			return kmeans.Plan{}, kmeans.Shard{}, fmt.Errorf("rank %d: unexpected %T during scatter", c.rank, msg)
		}
		return m.plan, m.shard, nil
	}

	if len(shards) != c.g.size {
		return kmeans.Plan{}, kmeans.Shard{}, fmt.Errorf("%w: %d shards for %d ranks", kmeans.ErrShapeMismatch, len(shards), c.g.size)
	}
	for r := 1; r < c.g.size; r++ {
		if err := c.send(ctx, c.g.down[r], scatterMsg{plan: plan, shard: shards[r].Clone()}); err != nil {
			return kmeans.Plan{}, kmeans.Shard{}, err
		}
	}
	return plan, shards[0].Clone(), nil
}

func (c *Comm) Broadcast(ctx context.Context, cs kmeans.Centroids) (kmeans.Centroids, error) {
	if c.rank != 0 {
		msg, err := c.recv(ctx, c.g.down[c.rank])
		if err != nil {
			return kmeans.Centroids{}, err
		}
		m, ok := msg.(kmeans.Centroids)
		if !ok {
			return kmeans.Centroids{}, fmt.Errorf("rank %d: unexpected %T during broadcast", c.rank, msg)
		}
		return m, nil
	}

	if cs.IsZero() {
		return kmeans.Centroids{}, fmt.Errorf("%w: broadcasting empty centroids", kmeans.ErrShapeMismatch)
	}
	for r := 1; r < c.g.size; r++ {
		if err := c.send(ctx, c.g.down[r], cs.Clone()); err != nil {
			return kmeans.Centroids{}, err
		}
	}
	return cs, nil
}

func (c *Comm) Reduce(ctx context.Context, a kmeans.Aggregate) (kmeans.Aggregate, error) {
	if c.rank != 0 {
		return kmeans.Aggregate{}, c.send(ctx, c.g.up[c.rank], a.Clone())
	}

	parts := make([]kmeans.Aggregate, 0, c.g.size)
	parts = append(parts, a)
	for r := 1; r < c.g.size; r++ {
		msg, err := c.recv(ctx, c.g.up[r])
		if err != nil {
			return kmeans.Aggregate{}, err
		}
		m, ok := msg.(kmeans.Aggregate)
		if !ok {
			return kmeans.Aggregate{}, fmt.Errorf("rank 0: unexpected %T from rank %d during reduce", msg, r)
		}
		parts = append(parts, m)
	}
	return kmeans.Reduce(parts...)
}

func (c *Comm) Abort(err error) {
	c.g.cancel(kmeans.Aborted(c.rank, err))
}
