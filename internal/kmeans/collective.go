package kmeans

import (
	"context"
)

// Plan is the run header the coordinator scatters together with the shards.
type Plan struct {
	RunID      string
	K          int
	Dim        int
	Iterations int
}

// Collective connects the ranks of one run. Rank 0 is the coordinator.
//
// Every method is a full barrier for its participants and must be called by
// every rank in the same order. Arguments that only the coordinator supplies
// are ignored on the other ranks.
type Collective interface {
	// Rank returns this participant's rank in [0, Size).
	Rank() int
	// Size returns the number of participants.
	Size() int
	// Scatter hands shard r to rank r. Only rank 0 supplies plan and shards.
	Scatter(ctx context.Context, plan Plan, shards []Shard) (Plan, Shard, error)
	// Broadcast replicates the coordinator's centroids to every rank.
	Broadcast(ctx context.Context, c Centroids) (Centroids, error)
	// Reduce sums every rank's aggregate in rank order. Only rank 0 receives
	// the result; the other ranks get the zero Aggregate.
	Reduce(ctx context.Context, a Aggregate) (Aggregate, error)
	// Abort stops every participant. Pending and future collectives on every
	// rank return an error matching ErrAborted.
	Abort(err error)
}
