// Package serial is a single-process k-means used as a reference for the
// distributed engine.
//
// Run follows the same rules as the engine: nearest centroid by squared
// distance with ties going to the lowest index, a fixed number of rounds, and
// empty clusters keeping their previous centroid.
package serial

import (
	"fmt"

	"github.com/muesli/clusters"
	mkmeans "github.com/muesli/kmeans"

	"github.com/mawngo/kclust/internal/kmeans"
)

// Result of a serial run.
type Result struct {
	Centroids kmeans.Centroids
	// Objectives holds the sum of squared distances of every round, measured
	// against the centroids the round started with.
	Objectives []float64
	Counts     []int64
}

// Objective returns the objective of the last round.
func (r Result) Objective() float64 {
	if len(r.Objectives) == 0 {
		return 0
	}
	return r.Objectives[len(r.Objectives)-1]
}

func observations(ds kmeans.Dataset) clusters.Observations {
	obs := make(clusters.Observations, ds.Len())
	for i := range obs {
		obs[i] = clusters.Coordinates(ds.Point(i))
	}
	return obs
}

func centroidsOf(cc clusters.Clusters, dim int) (kmeans.Centroids, error) {
	coords := make([]float64, 0, len(cc)*dim)
	for _, c := range cc {
		coords = append(coords, c.Center...)
	}
	return kmeans.NewCentroids(len(cc), dim, coords)
}

// Run performs iterations rounds starting from init.
func Run(ds kmeans.Dataset, init kmeans.Centroids, iterations int) (Result, error) {
	if init.Dim() != ds.Dim() {
		return Result{}, fmt.Errorf("%w: centroids of dimension %d for points of dimension %d", kmeans.ErrShapeMismatch, init.Dim(), ds.Dim())
	}
	obs := observations(ds)
	cc := make(clusters.Clusters, init.K())
	for i := range cc {
		cc[i].Center = init.At(i)
	}

	res := Result{Counts: make([]int64, init.K())}
	for range iterations {
		cc.Reset()
		var sse float64
		for _, o := range obs {
			n := cc.Nearest(o)
			sse += o.Distance(cc[n].Center)
			cc[n].Append(o)
		}
		// Recenter leaves clusters without observations where they are.
		cc.Recenter()
		res.Objectives = append(res.Objectives, sse)
	}
	for i, c := range cc {
		res.Counts[i] = int64(len(c.Observations))
	}

	var err error
	res.Centroids, err = centroidsOf(cc, ds.Dim())
	if err != nil {
		return Result{}, err
	}
	if iterations == 0 {
		res.Centroids = init
	}
	return res, nil
}

// Train seeds k centroids from ds the way the engine does and runs iterations rounds.
func Train(ds kmeans.Dataset, k, iterations int, seed int64) (Result, error) {
	init, err := kmeans.Seed(ds, k, seed)
	if err != nil {
		return Result{}, err
	}
	return Run(ds, init, iterations)
}

// Baseline clusters ds with github.com/muesli/kmeans, which seeds randomly and
// iterates until assignments settle. Its centroids are not comparable with
// Run, only its objective is.
func Baseline(ds kmeans.Dataset, k int) (Result, error) {
	if k < 1 || k > ds.Len() {
		return Result{}, fmt.Errorf("%w: %d clusters for %d points", kmeans.ErrInsufficientData, k, ds.Len())
	}
	obs := observations(ds)
	cc, err := mkmeans.New().Partition(obs, k)
	if err != nil {
		return Result{}, err
	}

	res := Result{Counts: make([]int64, len(cc))}
	var sse float64
	for i, c := range cc {
		res.Counts[i] = int64(len(c.Observations))
		for _, o := range c.Observations {
			sse += o.Distance(c.Center)
		}
	}
	res.Objectives = []float64{sse}
	res.Centroids, err = centroidsOf(cc, ds.Dim())
	if err != nil {
		return Result{}, err
	}
	return res, nil
}
