package kmeans

import (
	"math"
)

// DistanceFunc represents a function for measuring distance between n-dimensional vectors.
type DistanceFunc func([]float64, []float64) float64

var (
	// EuclideanDistance is the distance used to define nearest centroids.
	EuclideanDistance DistanceFunc = func(a, b []float64) float64 {
		return math.Sqrt(EuclideanDistanceSquared(a, b))
	}

	// EuclideanDistanceSquared orders points exactly like EuclideanDistance and
	// is what the assignment kernel compares.
	EuclideanDistanceSquared DistanceFunc = sqdist
)
