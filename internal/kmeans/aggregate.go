package kmeans

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Aggregate holds per-cluster coordinate sums and point counts, plus the sum
// of squared distances of the contributing points to their assigned centroid.
// A worker produces one per round; the coordinator merges them into the
// global aggregate.
type Aggregate struct {
	K      int
	Dim    int
	Sums   []float64 // K*Dim, row-major
	Counts []int64
	SSE    float64
}

// NewAggregate returns the zero aggregate for k clusters of dimension dim.
func NewAggregate(k, dim int) (Aggregate, error) {
	n, err := mulSize(k, dim)
	if err != nil {
		return Aggregate{}, err
	}
	sums, err := allocFloat64(n)
	if err != nil {
		return Aggregate{}, err
	}
	return Aggregate{K: k, Dim: dim, Sums: sums, Counts: make([]int64, k)}, nil
}

// Sum returns a read-only view of the coordinate sum of cluster i.
func (a Aggregate) Sum(i int) []float64 {
	return a.Sums[i*a.Dim : (i+1)*a.Dim : (i+1)*a.Dim]
}

// Total returns the number of points folded into the aggregate.
func (a Aggregate) Total() int64 {
	var n int64
	for _, c := range a.Counts {
		n += c
	}
	return n
}

// Clone returns a deep copy.
func (a Aggregate) Clone() Aggregate {
	a.Sums = append([]float64(nil), a.Sums...)
	a.Counts = append([]int64(nil), a.Counts...)
	return a
}

func (a Aggregate) check() error {
	if a.K < 1 || a.Dim < 1 || len(a.Sums) != a.K*a.Dim || len(a.Counts) != a.K {
		return fmt.Errorf("%w: aggregate %dx%d with %d sums and %d counts", ErrShapeMismatch, a.K, a.Dim, len(a.Sums), len(a.Counts))
	}
	return nil
}

// Merge adds o into a element-wise.
func (a *Aggregate) Merge(o Aggregate) error {
	if err := o.check(); err != nil {
		return err
	}
	if a.K != o.K || a.Dim != o.Dim {
		return fmt.Errorf("%w: merging %dx%d into %dx%d", ErrShapeMismatch, o.K, o.Dim, a.K, a.Dim)
	}
	floats.Add(a.Sums, o.Sums)
	for i, c := range o.Counts {
		a.Counts[i] += c
	}
	a.SSE += o.SSE
	return nil
}

// Reduce merges aggs in the given order into a new aggregate. Floating point
// sums depend on that order, so callers that need reproducible results must
// always pass the parts in the same order.
func Reduce(aggs ...Aggregate) (Aggregate, error) {
	if len(aggs) == 0 {
		return Aggregate{}, fmt.Errorf("%w: nothing to reduce", ErrShapeMismatch)
	}
	if err := aggs[0].check(); err != nil {
		return Aggregate{}, err
	}
	out := aggs[0].Clone()
	for _, a := range aggs[1:] {
		if err := out.Merge(a); err != nil {
			return Aggregate{}, err
		}
	}
	return out, nil
}

// Accumulate folds the shard points into the buckets of their assigned clusters.
func Accumulate(s Shard, assignment []int32, c Centroids) (Aggregate, error) {
	if s.Dim != c.dim {
		return Aggregate{}, fmt.Errorf("%w: shard dimension %d, centroid dimension %d", ErrShapeMismatch, s.Dim, c.dim)
	}
	if len(assignment) != s.Len() {
		return Aggregate{}, fmt.Errorf("%w: %d assignments for %d points", ErrShapeMismatch, len(assignment), s.Len())
	}
	agg, err := NewAggregate(c.k, c.dim)
	if err != nil {
		return Aggregate{}, err
	}
	for i, cl := range assignment {
		if cl < 0 || int(cl) >= c.k {
			return Aggregate{}, fmt.Errorf("%w: point %d assigned to cluster %d of %d", ErrShapeMismatch, i, cl, c.k)
		}
		p := s.Point(i)
		floats.Add(agg.Sum(int(cl)), p)
		agg.Counts[cl]++
		agg.SSE += sqdist(p, c.row(int(cl)))
	}
	return agg, nil
}

// Update returns the centroids for the next round: each cluster with at least
// one point moves to the mean of its points, every other cluster keeps its
// previous position.
func Update(prev Centroids, global Aggregate) (Centroids, error) {
	if err := global.check(); err != nil {
		return Centroids{}, err
	}
	if prev.k != global.K || prev.dim != global.Dim {
		return Centroids{}, fmt.Errorf("%w: %dx%d aggregate for %dx%d centroids", ErrShapeMismatch, global.K, global.Dim, prev.k, prev.dim)
	}
	next := Centroids{k: prev.k, dim: prev.dim, coords: prev.Coords()}
	for i, n := range global.Counts {
		if n <= 0 {
			continue
		}
		dst, sum := next.row(i), global.Sum(i)
		count := float64(n)
		for d := range dst {
			dst[d] = sum[d] / count
		}
	}
	return next, nil
}
