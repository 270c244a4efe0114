package kmeans

import (
	"fmt"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
)

// State is a step of the iteration controller.
type State int

const (
	StateInit State = iota
	StateSeeded
	StateAssigning
	StateAggregating
	StateReducing
	StateUpdating
	StateBroadcasting
	StateDone
	StateAborted
)

var stateNames = [...]string{
	StateInit:         "init",
	StateSeeded:       "seeded",
	StateAssigning:    "assigning",
	StateAggregating:  "aggregating",
	StateReducing:     "reducing",
	StateUpdating:     "updating",
	StateBroadcasting: "broadcasting",
	StateDone:         "done",
	StateAborted:      "aborted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// RoundStats describes one completed round as seen by the coordinator.
type RoundStats struct {
	Round int
	// Objective is the sum of squared distances of every point to the
	// centroid it was assigned to in this round.
	Objective float64
	Counts    []int64
	// Empty holds the clusters that received no point and kept their centroid.
	Empty *roaring.Bitmap
	// Shift is the largest distance a centroid moved during the round.
	Shift    float64
	Duration time.Duration
}

func newRoundStats(round int, g Aggregate, took time.Duration) RoundStats {
	empty := roaring.New()
	for i, n := range g.Counts {
		if n == 0 {
			empty.Add(uint32(i))
		}
	}
	return RoundStats{
		Round:     round,
		Objective: g.SSE,
		Counts:    append([]int64(nil), g.Counts...),
		Empty:     empty,
		Duration:  took,
	}
}

// Result is what a rank holds once the controller reaches StateDone.
type Result struct {
	RunID     string
	Rank      int
	Centroids Centroids
	Rounds    int
	// History is only populated on the coordinator.
	History []RoundStats
}

// Objective returns the objective of the last round, or zero when unknown.
func (r *Result) Objective() float64 {
	if len(r.History) == 0 {
		return 0
	}
	return r.History[len(r.History)-1].Objective
}
