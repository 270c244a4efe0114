package kmeans

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Loader produces the global dataset. It is only invoked on the coordinator.
type Loader func(ctx context.Context) (Dataset, error)

// Controller drives one rank through a run: scatter, initial broadcast, then
// a fixed number of assign, aggregate, reduce, update and broadcast rounds.
type Controller struct {
	comm  Collective
	opts  options
	state State
}

// NewController creates a controller for the rank behind comm.
func NewController(comm Collective, options ...Option) *Controller {
	o := defaultOptions()
	for i := range options {
		options[i](&o)
	}
	return &Controller{comm: comm, opts: o}
}

// State returns the state the rank is currently in.
func (c *Controller) State() State { return c.state }

func (c *Controller) transition(s State) {
	c.state = s
	if c.opts.onState != nil {
		c.opts.onState(c.comm.Rank(), s)
	}
}

// fail aborts the collective unless the error already is an abort, so that
// no rank is left blocked in a collective.
func (c *Controller) fail(err error) error {
	state := c.state
	c.transition(StateAborted)
	if !errors.Is(err, ErrAborted) {
		c.comm.Abort(err)
	}
	var re *RankError
	if errors.As(err, &re) {
		return err
	}
	return &RankError{Rank: c.comm.Rank(), State: state, cause: err}
}

// Run executes the whole run on this rank. load is only called on rank 0.
func (c *Controller) Run(ctx context.Context, load Loader) (*Result, error) {
	rank := c.comm.Rank()
	log := c.opts.logger.With(slog.Int("rank", rank))
	c.transition(StateInit)

	var (
		plan    Plan
		shards  []Shard
		initial Centroids
	)
	if rank == 0 {
		now := time.Now()
		var err error
		plan, shards, initial, err = c.prepare(ctx, load)
		if err != nil {
			return nil, c.fail(err)
		}
		log.Info("Initialized",
			slog.String("run", plan.RunID),
			slog.Int("k", plan.K),
			slog.Int("dim", plan.Dim),
			slog.Int("workers", c.comm.Size()),
			slog.Int("shard", shards[0].Len()),
			slog.Duration("took", time.Since(now)))
	}

	plan, shard, err := c.comm.Scatter(ctx, plan, shards)
	if err != nil {
		return nil, c.fail(err)
	}
	shards = nil
	c.opts.recorder.ObserveShard(rank, shard.Len())

	centroids, err := c.comm.Broadcast(ctx, initial)
	if err != nil {
		return nil, c.fail(err)
	}
	if centroids.k != plan.K || centroids.dim != plan.Dim || shard.Dim != plan.Dim {
		return nil, c.fail(fmt.Errorf("%w: plan %dx%d, centroids %dx%d, shard dimension %d",
			ErrShapeMismatch, plan.K, plan.Dim, centroids.k, centroids.dim, shard.Dim))
	}
	assignment, err := allocInt32(shard.Len())
	if err != nil {
		return nil, c.fail(err)
	}
	c.transition(StateSeeded)
	log.Debug("Seeded", slog.String("run", plan.RunID), slog.Int("points", shard.Len()))

	res := &Result{RunID: plan.RunID, Rank: rank}
	now := time.Now()
	for round := 1; round <= plan.Iterations; round++ {
		if rank == 0 {
			log.Info("Iteration", slog.Int("round", round))
		}
		var stats *RoundStats
		centroids, stats, err = c.round(ctx, round, shard, centroids, assignment)
		if err != nil {
			return nil, c.fail(err)
		}
		res.Rounds = round
		if stats != nil {
			res.History = append(res.History, *stats)
			c.opts.recorder.ObserveRound(*stats)
			for _, fn := range c.opts.onRound {
				fn(*stats)
			}
		}
	}
	res.Centroids = centroids
	c.transition(StateDone)
	if rank == 0 {
		log.Info("Clustering completed",
			slog.String("run", plan.RunID),
			slog.Int("rounds", res.Rounds),
			slog.Float64("objective", res.Objective()),
			slog.Duration("took", time.Since(now)))
	}
	return res, nil
}

func (c *Controller) prepare(ctx context.Context, load Loader) (Plan, []Shard, Centroids, error) {
	if load == nil {
		return Plan{}, nil, Centroids{}, fmt.Errorf("%w: coordinator has no loader", ErrInvalidConfig)
	}
	if c.opts.iterations < 0 {
		return Plan{}, nil, Centroids{}, fmt.Errorf("%w: %d iterations", ErrInvalidConfig, c.opts.iterations)
	}
	ds, err := load(ctx)
	if err != nil {
		return Plan{}, nil, Centroids{}, err
	}

	var initial Centroids
	if len(c.opts.seedIndices) > 0 {
		initial, err = SeedIndices(ds, c.opts.seedIndices)
	} else {
		initial, err = Seed(ds, c.opts.k, c.opts.seed)
	}
	if err != nil {
		return Plan{}, nil, Centroids{}, err
	}

	shards, err := Partition(ds, c.comm.Size(), c.opts.remainder)
	if err != nil {
		return Plan{}, nil, Centroids{}, err
	}

	runID := c.opts.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	plan := Plan{
		RunID:      runID,
		K:          initial.k,
		Dim:        ds.dim,
		Iterations: c.opts.iterations,
	}
	return plan, shards, initial, nil
}

// round runs one synchronization round. Only the coordinator gets stats back.
func (c *Controller) round(ctx context.Context, round int, shard Shard, centroids Centroids, assignment []int32) (Centroids, *RoundStats, error) {
	rank := c.comm.Rank()
	ctx, span := c.opts.tracer.Start(ctx, "kclust.round",
		trace.WithAttributes(
			attribute.Int("kclust.round", round),
			attribute.Int("kclust.rank", rank),
			attribute.Int("kclust.points", shard.Len()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	next, stats, err := c.step(ctx, round, shard, centroids, assignment)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Centroids{}, nil, err
	}
	if stats != nil {
		span.SetAttributes(
			attribute.Float64("kclust.objective", stats.Objective),
			attribute.Int64("kclust.empty_clusters", int64(stats.Empty.GetCardinality())),
		)
	}
	span.SetStatus(codes.Ok, "")
	return next, stats, nil
}

func (c *Controller) step(ctx context.Context, round int, shard Shard, centroids Centroids, assignment []int32) (Centroids, *RoundStats, error) {
	rank := c.comm.Rank()
	start := time.Now()
	phase := func(s State) func() {
		c.transition(s)
		t := time.Now()
		return func() { c.opts.recorder.ObservePhase(rank, s, time.Since(t)) }
	}

	done := phase(StateAssigning)
	assignment, err := Assign(shard, centroids, assignment, c.opts.kernelConcurrency)
	if err != nil {
		return Centroids{}, nil, err
	}
	done()

	done = phase(StateAggregating)
	local, err := Accumulate(shard, assignment, centroids)
	if err != nil {
		return Centroids{}, nil, err
	}
	done()

	done = phase(StateReducing)
	global, err := c.comm.Reduce(ctx, local)
	if err != nil {
		return Centroids{}, nil, err
	}
	done()

	var next Centroids
	if rank == 0 {
		done = phase(StateUpdating)
		if next, err = Update(centroids, global); err != nil {
			return Centroids{}, nil, err
		}
		done()
	}

	done = phase(StateBroadcasting)
	next, err = c.comm.Broadcast(ctx, next)
	if err != nil {
		return Centroids{}, nil, err
	}
	done()

	if rank != 0 {
		return next, nil, nil
	}
	stats := newRoundStats(round, global, time.Since(start))
	stats.Shift = centroids.Shift(next)
	c.opts.logger.Debug("Round completed",
		slog.Int("round", round),
		slog.Float64("objective", stats.Objective),
		slog.Float64("shift", stats.Shift),
		slog.Uint64("empty", stats.Empty.GetCardinality()),
		slog.Duration("took", stats.Duration))
	return next, &stats, nil
}
