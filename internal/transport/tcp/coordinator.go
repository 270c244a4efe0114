package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mawngo/kclust/internal/kmeans"
)

// Coordinator is the rank 0 end of a TCP group.
type Coordinator struct {
	*node
}

var _ kmeans.Collective = (*Coordinator)(nil)

// Listen opens addr and waits for size-1 workers to join.
func Listen(ctx context.Context, addr string, size int, opts ...Option) (*Coordinator, error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return Accept(ctx, ln, size, opts...)
}

// Accept waits on ln for size-1 workers to join, assigning ranks in arrival
// order. ln is closed once the group is complete or on failure.
func Accept(ctx context.Context, ln net.Listener, size int, opts ...Option) (*Coordinator, error) {
	defer ln.Close()
	if size < 1 {
		return nil, fmt.Errorf("%w: group of %d ranks", kmeans.ErrInvalidConfig, size)
	}
	o := newOptions(opts)
	c := &Coordinator{node: newNode(0, size, o)}
	c.session = uuid.NewString()
	c.peers = make([]*peer, size)

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	o.logger.Info("Waiting for workers", "addr", ln.Addr().String(), "workers", size-1, "session", c.session)
	for r := 1; r < size; r++ {
		conn, err := ln.Accept()
		if err != nil {
			c.closeConns()
			if ctx.Err() != nil {
				err = errors.Join(ctx.Err(), err)
			}
			return nil, fmt.Errorf("accept rank %d: %w", r, err)
		}
		p := newPeer(r, conn)
		if err := c.handshake(p); err != nil {
			_ = conn.Close()
			o.logger.Warn("Rejected worker", "remote", conn.RemoteAddr().String(), "err", err)
			r--
			continue
		}
		c.peers[r] = p
		o.logger.Info("Worker joined", "rank", r, "remote", conn.RemoteAddr().String())
	}
	c.start()
	return c, nil
}

func (c *Coordinator) handshake(p *peer) error {
	_ = p.conn.SetDeadline(time.Now().Add(c.opts.handshakeTimeout))
	defer p.conn.SetDeadline(time.Time{})

	f, err := p.read()
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if f.Type != FrameHello {
		return fmt.Errorf("expected hello, got %s", f.Type)
	}
	var hello helloMsg
	if err := f.decode(&hello); err != nil {
		return err
	}
	if hello.Version != protocolVersion {
		return fmt.Errorf("protocol version %d, want %d", hello.Version, protocolVersion)
	}

	welcome, err := newFrame(FrameWelcome, 0, CompressionNone, welcomeMsg{
		Version:     protocolVersion,
		Session:     c.session,
		Rank:        p.rank,
		Size:        c.size,
		Compression: c.opts.compression,
	})
	if err != nil {
		return err
	}
	return p.write(welcome)
}

// each runs fn for every worker in parallel.
func (c *Coordinator) each(ctx context.Context, fn func(ctx context.Context, p *peer) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range c.peers[1:] {
		g.Go(func() error {
			return fn(ctx, p)
		})
	}
	return g.Wait()
}

func (c *Coordinator) Scatter(ctx context.Context, plan kmeans.Plan, shards []kmeans.Shard) (kmeans.Plan, kmeans.Shard, error) {
	if len(shards) != c.size {
		return kmeans.Plan{}, kmeans.Shard{}, fmt.Errorf("%w: %d shards for %d ranks", kmeans.ErrShapeMismatch, len(shards), c.size)
	}
	err := c.each(ctx, func(ctx context.Context, p *peer) error {
		s := shards[p.rank]
		f, err := newFrame(FrameScatter, 0, c.opts.compression, scatterMsg{
			RunID:      plan.RunID,
			K:          plan.K,
			Dim:        plan.Dim,
			Iterations: plan.Iterations,
			Offset:     s.Offset,
			Coords:     s.Coords,
		})
		if err != nil {
			return err
		}
		return c.send(ctx, p, f)
	})
	if err != nil {
		return kmeans.Plan{}, kmeans.Shard{}, err
	}
	return plan, shards[0].Clone(), nil
}

func (c *Coordinator) Broadcast(ctx context.Context, cs kmeans.Centroids) (kmeans.Centroids, error) {
	if cs.IsZero() {
		return kmeans.Centroids{}, fmt.Errorf("%w: broadcasting empty centroids", kmeans.ErrShapeMismatch)
	}
	f, err := newFrame(FrameBroadcast, 0, c.opts.compression, encodeCentroids(cs))
	if err != nil {
		return kmeans.Centroids{}, err
	}
	err = c.each(ctx, func(ctx context.Context, p *peer) error {
		return c.send(ctx, p, f)
	})
	if err != nil {
		return kmeans.Centroids{}, err
	}
	return cs, nil
}

// Reduce gathers every worker aggregate and sums them in rank order.
func (c *Coordinator) Reduce(ctx context.Context, a kmeans.Aggregate) (kmeans.Aggregate, error) {
	parts := make([]kmeans.Aggregate, c.size)
	parts[0] = a
	err := c.each(ctx, func(ctx context.Context, p *peer) error {
		f, err := c.recv(ctx, p, FrameReduce)
		if err != nil {
			return err
		}
		parts[p.rank], err = decodeAggregate(f)
		return err
	})
	if err != nil {
		return kmeans.Aggregate{}, err
	}
	return kmeans.Reduce(parts...)
}

// Abort notifies every worker and fails all pending collectives.
func (c *Coordinator) Abort(err error) {
	c.shutdown(0, err, nil)
}
