package kmeans

import (
	"errors"
	"fmt"
)

var (
	// ErrAllocation is returned when a shard, assignment or aggregate buffer cannot be allocated.
	ErrAllocation = errors.New("kclust: allocation failure")
	// ErrInputRead is returned when the input cannot be opened or a record fails to parse.
	ErrInputRead = errors.New("kclust: input read failure")
	// ErrInsufficientData is returned when there are fewer points than requested clusters.
	ErrInsufficientData = errors.New("kclust: insufficient points")
	// ErrAborted is returned by every collective once any participant aborted the run.
	ErrAborted = errors.New("kclust: run aborted")
	// ErrShapeMismatch is returned when centroids, aggregates or shards disagree on K or D.
	ErrShapeMismatch = errors.New("kclust: shape mismatch")
	// ErrInvalidConfig is returned for out of range run parameters.
	ErrInvalidConfig = errors.New("kclust: invalid configuration")
)

// RankError records the rank and the controller state in which a run failed.
//
// The original error can be accessed via errors.Unwrap.
type RankError struct {
	Rank  int
	State State
	cause error
}

func (e *RankError) Error() string {
	return fmt.Sprintf("rank %d: %s: %v", e.Rank, e.State, e.cause)
}

func (e *RankError) Unwrap() error { return e.cause }

// Aborted wraps the cause of an abort so that it matches ErrAborted.
func Aborted(rank int, cause error) error {
	if cause == nil {
		cause = errors.New("unknown cause")
	}
	if errors.Is(cause, ErrAborted) {
		return cause
	}
	return fmt.Errorf("%w by rank %d: %w", ErrAborted, rank, cause)
}

func allocFloat64(n int) (buf []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("%w: %d float64 values: %v", ErrAllocation, n, r)
		}
	}()
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrAllocation, n)
	}
	return make([]float64, n), nil
}

func allocInt32(n int) (buf []int32, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("%w: %d int32 values: %v", ErrAllocation, n, r)
		}
	}()
	if n < 0 {
		return nil, fmt.Errorf("%w: negative length %d", ErrAllocation, n)
	}
	return make([]int32, n), nil
}

// mulSize multiplies two buffer dimensions, reporting overflow as an allocation failure.
func mulSize(a, b int) (int, error) {
	if a < 0 || b < 0 {
		return 0, fmt.Errorf("%w: negative size %dx%d", ErrAllocation, a, b)
	}
	if a != 0 && b > int(^uint(0)>>1)/a {
		return 0, fmt.Errorf("%w: size %dx%d overflows", ErrAllocation, a, b)
	}
	return a * b, nil
}
