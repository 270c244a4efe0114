package kmeans

import (
	"fmt"
)

// minKernelBlock is the smallest number of points worth handing to a goroutine.
const minKernelBlock = 4096

// Assign writes the index of the nearest centroid of every shard point into out
// and returns it. out is reused when it has room for the shard; otherwise a new
// buffer is allocated. Ties go to the lowest centroid index.
//
// concurrency > 1 splits the shard into contiguous blocks scanned by separate
// goroutines; the result does not depend on it.
func Assign(s Shard, c Centroids, out []int32, concurrency int) ([]int32, error) {
	if s.Dim != c.dim {
		return nil, fmt.Errorf("%w: shard dimension %d, centroid dimension %d", ErrShapeMismatch, s.Dim, c.dim)
	}
	n := s.Len()
	if cap(out) < n {
		var err error
		if out, err = allocInt32(n); err != nil {
			return nil, err
		}
	}
	out = out[:n]

	blocks := max(1, min(concurrency, n/minKernelBlock))
	if blocks == 1 {
		assignBlock(s.Coords, c, out)
		return out, nil
	}

	size := (n + blocks - 1) / blocks
	ch := make(chan struct{}, blocks)
	for num := range blocks {
		start := min(n, num*size)
		end := min(n, start+size)
		go func() {
			defer func() {
				ch <- struct{}{}
			}()
			assignBlock(s.Coords[start*s.Dim:end*s.Dim], c, out[start:end])
		}()
	}
	for range blocks {
		<-ch
	}
	return out, nil
}

// assignBlock is the hot loop: flat point and centroid buffers, squared distances.
func assignBlock(coords []float64, c Centroids, out []int32) {
	dim, k := c.dim, c.k
	cs := c.coords
	for i := range out {
		p := coords[i*dim : (i+1)*dim : (i+1)*dim]

		best := int32(0)
		m := sqdist(p, cs[:dim])
		for j := 1; j < k; j++ {
			if d := sqdist(p, cs[j*dim:(j+1)*dim]); d < m {
				m = d
				best = int32(j)
			}
		}
		out[i] = best
	}
}

func sqdist(a, b []float64) float64 {
	b = b[:len(a)]
	var s float64
	for i := range a {
		t := a[i] - b[i]
		s += t * t
	}
	return s
}

// Nearest returns the index of the centroid closest to p.
func (c Centroids) Nearest(p []float64) int {
	best := 0
	m := sqdist(p, c.row(0))
	for j := 1; j < c.k; j++ {
		if d := sqdist(p, c.row(j)); d < m {
			m = d
			best = j
		}
	}
	return best
}
