package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strconv"

	"github.com/mawngo/kclust/internal/kmeans"
)

// maxPrealloc caps the buffer reserved up front, so that a bogus record count
// does not allocate before any data was read.
const maxPrealloc = 1 << 24

// ReadPoints reads n records of dim whitespace-separated floats from r.
// With n == 0 every record up to EOF is read. Line breaks are not
// significant, only the number of values is.
func ReadPoints(r io.Reader, n, dim int) (kmeans.Dataset, error) {
	if dim < 1 || n < 0 {
		return kmeans.Dataset{}, fmt.Errorf("%w: %d points of dimension %d", kmeans.ErrInvalidConfig, n, dim)
	}
	want := n * dim
	if n != 0 && want/n != dim {
		return kmeans.Dataset{}, fmt.Errorf("%w: %d points of dimension %d overflows", kmeans.ErrAllocation, n, dim)
	}

	coords := make([]float64, 0, min(want, maxPrealloc))
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	sc.Split(bufio.ScanWords)
	for n == 0 || len(coords) < want {
		if !sc.Scan() {
			break
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			var ne *strconv.NumError
			if errors.As(err, &ne) {
				err = ne.Err
			}
			return kmeans.Dataset{}, fmt.Errorf("%w: record %d: value %q: %w", kmeans.ErrInputRead, len(coords)/dim, sc.Text(), err)
		}
		coords = append(coords, v)
	}
	if err := sc.Err(); err != nil {
		return kmeans.Dataset{}, fmt.Errorf("%w: %w", kmeans.ErrInputRead, err)
	}

	switch {
	case n > 0 && len(coords) < want:
		return kmeans.Dataset{}, fmt.Errorf("%w: found %d of %d points", kmeans.ErrInputRead, len(coords)/dim, n)
	case len(coords)%dim != 0:
		return kmeans.Dataset{}, fmt.Errorf("%w: last record has %d of %d values", kmeans.ErrInputRead, len(coords)%dim, dim)
	}
	return kmeans.NewDataset(dim, coords)
}

// Generate writes n records of dim values drawn uniformly from [0, 9) with six
// decimals, one record per line.
func Generate(w io.Writer, n, dim int, seed int64) error {
	if n < 0 || dim < 1 {
		return fmt.Errorf("%w: %d points of dimension %d", kmeans.ErrInvalidConfig, n, dim)
	}
	rnd := rand.New(rand.NewSource(seed))
	bw := bufio.NewWriterSize(w, 64<<10)
	buf := make([]byte, 0, 16*dim)
	for range n {
		buf = buf[:0]
		for d := range dim {
			if d > 0 {
				buf = append(buf, ' ')
			}
			buf = strconv.AppendFloat(buf, rnd.Float64()*9, 'f', 6, 64)
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}
