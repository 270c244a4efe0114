package kmeans

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Centroids is an immutable set of k centroids of the same dimension.
// Every round produces a new value; workers only ever receive copies.
type Centroids struct {
	k      int
	dim    int
	coords []float64
}

// NewCentroids copies coords into a new Centroids value.
func NewCentroids(k, dim int, coords []float64) (Centroids, error) {
	if k < 1 || dim < 1 {
		return Centroids{}, fmt.Errorf("%w: %d centroids of dimension %d", ErrInvalidConfig, k, dim)
	}
	n, err := mulSize(k, dim)
	if err != nil {
		return Centroids{}, err
	}
	if len(coords) != n {
		return Centroids{}, fmt.Errorf("%w: %d coordinates for %dx%d centroids", ErrShapeMismatch, len(coords), k, dim)
	}
	buf, err := allocFloat64(n)
	if err != nil {
		return Centroids{}, err
	}
	copy(buf, coords)
	return Centroids{k: k, dim: dim, coords: buf}, nil
}

// K returns the number of centroids.
func (c Centroids) K() int { return c.k }

// Dim returns the centroid dimension.
func (c Centroids) Dim() int { return c.dim }

// IsZero reports whether c holds no centroids.
func (c Centroids) IsZero() bool { return c.k == 0 }

// At returns a copy of centroid i.
func (c Centroids) At(i int) []float64 {
	return append([]float64(nil), c.row(i)...)
}

// Coords returns a copy of the flat row-major coordinates.
func (c Centroids) Coords() []float64 {
	return append([]float64(nil), c.coords...)
}

// Clone returns a copy that shares no memory with c.
func (c Centroids) Clone() Centroids {
	c.coords = c.Coords()
	return c
}

// Equal reports whether both values hold exactly the same coordinates.
func (c Centroids) Equal(o Centroids) bool {
	return c.k == o.k && c.dim == o.dim && floats.Same(c.coords, o.coords)
}

// Shift returns the largest distance any centroid moved between c and next.
func (c Centroids) Shift(next Centroids) float64 {
	var m float64
	for i := range min(c.k, next.k) {
		m = max(m, EuclideanDistance(c.row(i), next.row(i)))
	}
	return m
}

func (c Centroids) row(i int) []float64 {
	return c.coords[i*c.dim : (i+1)*c.dim : (i+1)*c.dim]
}

// Seed picks k initial centroids from d using a pseudo-random index sequence
// derived from seed. Indices are drawn independently, so the same point may
// be chosen more than once.
func Seed(d Dataset, k int, seed int64) (Centroids, error) {
	if k < 1 {
		return Centroids{}, fmt.Errorf("%w: %d clusters", ErrInvalidConfig, k)
	}
	if d.Len() < k {
		return Centroids{}, fmt.Errorf("%w: %d points for %d clusters", ErrInsufficientData, d.Len(), k)
	}

	rnd := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducibility, not security
	idx := make([]int, k)
	for i := range idx {
		idx[i] = rnd.Intn(d.Len())
	}
	return SeedIndices(d, idx)
}

// SeedIndices builds centroids from the points at the given global indices.
func SeedIndices(d Dataset, idx []int) (Centroids, error) {
	if len(idx) == 0 {
		return Centroids{}, fmt.Errorf("%w: no centroid indices", ErrInvalidConfig)
	}
	if d.Len() < len(idx) {
		return Centroids{}, fmt.Errorf("%w: %d points for %d clusters", ErrInsufficientData, d.Len(), len(idx))
	}
	n, err := mulSize(len(idx), d.dim)
	if err != nil {
		return Centroids{}, err
	}
	buf, err := allocFloat64(n)
	if err != nil {
		return Centroids{}, err
	}
	for i, j := range idx {
		if j < 0 || j >= d.Len() {
			return Centroids{}, fmt.Errorf("%w: centroid index %d out of range [0, %d)", ErrInvalidConfig, j, d.Len())
		}
		copy(buf[i*d.dim:], d.Point(j))
	}
	return Centroids{k: len(idx), dim: d.dim, coords: buf}, nil
}
