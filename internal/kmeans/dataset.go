package kmeans

import (
	"fmt"
)

// Dataset is an immutable set of points stored row-major in one flat buffer.
type Dataset struct {
	dim    int
	coords []float64
}

// NewDataset wraps coords as points of dimension dim. The slice is owned by the
// Dataset afterwards and must not be modified by the caller.
func NewDataset(dim int, coords []float64) (Dataset, error) {
	if dim < 1 {
		return Dataset{}, fmt.Errorf("%w: dimension %d", ErrInvalidConfig, dim)
	}
	if len(coords)%dim != 0 {
		return Dataset{}, fmt.Errorf("%w: %d coordinates is not a multiple of dimension %d", ErrShapeMismatch, len(coords), dim)
	}
	return Dataset{dim: dim, coords: coords}, nil
}

// DatasetFromRows copies rows into a new Dataset.
func DatasetFromRows(rows [][]float64) (Dataset, error) {
	if len(rows) == 0 {
		return Dataset{}, fmt.Errorf("%w: no rows", ErrInsufficientData)
	}
	dim := len(rows[0])
	n, err := mulSize(len(rows), dim)
	if err != nil {
		return Dataset{}, err
	}
	coords, err := allocFloat64(n)
	if err != nil {
		return Dataset{}, err
	}
	for i, row := range rows {
		if len(row) != dim {
			return Dataset{}, fmt.Errorf("%w: row %d has %d coordinates, expected %d", ErrShapeMismatch, i, len(row), dim)
		}
		copy(coords[i*dim:], row)
	}
	return NewDataset(dim, coords)
}

// Len returns the number of points.
func (d Dataset) Len() int {
	if d.dim == 0 {
		return 0
	}
	return len(d.coords) / d.dim
}

// Dim returns the dimensionality of every point.
func (d Dataset) Dim() int { return d.dim }

// Point returns a read-only view of point i.
func (d Dataset) Point(i int) []float64 {
	return d.coords[i*d.dim : (i+1)*d.dim : (i+1)*d.dim]
}

// Shard is the contiguous run of points owned by a single worker.
type Shard struct {
	Rank   int
	Offset int // global index of the first point
	Dim    int
	Coords []float64
}

// Len returns the number of points in the shard.
func (s Shard) Len() int {
	if s.Dim == 0 {
		return 0
	}
	return len(s.Coords) / s.Dim
}

// Point returns a read-only view of shard-local point i.
func (s Shard) Point(i int) []float64 {
	return s.Coords[i*s.Dim : (i+1)*s.Dim : (i+1)*s.Dim]
}

// Clone returns a deep copy of the shard.
func (s Shard) Clone() Shard {
	s.Coords = append([]float64(nil), s.Coords...)
	return s
}

// RemainderPolicy decides what happens to the N mod W points left over when
// the dataset does not divide evenly across workers.
type RemainderPolicy int

const (
	// RemainderDrop leaves the trailing N mod W points out of every shard.
	RemainderDrop RemainderPolicy = iota
	// RemainderLast appends the trailing points to the last shard.
	RemainderLast
)

func (p RemainderPolicy) String() string {
	switch p {
	case RemainderDrop:
		return "drop"
	case RemainderLast:
		return "last"
	default:
		return fmt.Sprintf("RemainderPolicy(%d)", int(p))
	}
}

// ParseRemainderPolicy parses the textual form produced by String.
func ParseRemainderPolicy(s string) (RemainderPolicy, error) {
	switch s {
	case "", "drop":
		return RemainderDrop, nil
	case "last":
		return RemainderLast, nil
	default:
		return 0, fmt.Errorf("%w: unknown remainder policy %q", ErrInvalidConfig, s)
	}
}

// Partition splits the dataset into workers contiguous shards of N/workers points.
// Shards alias the dataset buffer; transports copy them when they are sent.
func Partition(d Dataset, workers int, policy RemainderPolicy) ([]Shard, error) {
	n := d.Len()
	if workers < 1 {
		return nil, fmt.Errorf("%w: %d workers", ErrInvalidConfig, workers)
	}
	if n < workers {
		return nil, fmt.Errorf("%w: %d points for %d workers", ErrInsufficientData, n, workers)
	}

	size := n / workers
	shards := make([]Shard, workers)
	for r := range shards {
		start := r * size
		end := start + size
		if r == workers-1 && policy == RemainderLast {
			end = n
		}
		shards[r] = Shard{
			Rank:   r,
			Offset: start,
			Dim:    d.dim,
			Coords: d.coords[start*d.dim : end*d.dim : end*d.dim],
		}
	}
	return shards, nil
}
