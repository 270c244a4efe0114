// Package output writes the final centroids of a run.
package output

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	gojson "github.com/goccy/go-json"

	"github.com/mawngo/kclust/internal/kmeans"
)

// Format of the centroid file.
type Format string

const (
	// FormatText writes one centroid per line, coordinates separated by spaces.
	FormatText Format = "text"
	// FormatJSON writes a Report.
	FormatJSON Format = "json"
)

// ParseFormat accepts "text" (also the empty string) and "json".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown output format %q", kmeans.ErrInvalidConfig, s)
	}
}

// Report is the JSON form of a run result.
type Report struct {
	RunID     string      `json:"run_id"`
	K         int         `json:"k"`
	Dim       int         `json:"dim"`
	Rounds    int         `json:"rounds"`
	Objective float64     `json:"objective"`
	Shift     float64     `json:"shift"`
	Counts    []int64     `json:"counts,omitempty"`
	Empty     []uint32    `json:"empty,omitempty"`
	Centroids [][]float64 `json:"centroids"`
}

// NewReport summarizes a coordinator result.
func NewReport(res *kmeans.Result) Report {
	cs := res.Centroids
	r := Report{
		RunID:     res.RunID,
		K:         cs.K(),
		Dim:       cs.Dim(),
		Rounds:    res.Rounds,
		Objective: res.Objective(),
		Centroids: make([][]float64, cs.K()),
	}
	for i := range r.Centroids {
		r.Centroids[i] = cs.At(i)
	}
	if n := len(res.History); n > 0 {
		last := res.History[n-1]
		r.Counts = last.Counts
		r.Shift = last.Shift
		if last.Empty != nil {
			r.Empty = last.Empty.ToArray()
		}
	}
	return r
}

// Write writes the result to w in the given format.
func Write(w io.Writer, res *kmeans.Result, f Format) error {
	switch f {
	case FormatJSON:
		enc := gojson.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(NewReport(res))
	case FormatText, "":
		return WriteText(w, res.Centroids)
	default:
		return fmt.Errorf("%w: unknown output format %q", kmeans.ErrInvalidConfig, f)
	}
}

// WriteText writes one centroid per line.
func WriteText(w io.Writer, cs kmeans.Centroids) error {
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 24*cs.Dim())
	for i := range cs.K() {
		buf = buf[:0]
		for d, v := range cs.At(i) {
			if d > 0 {
				buf = append(buf, ' ')
			}
			buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes the result to path, or to stdout when path is "" or "-".
func WriteFile(path string, res *kmeans.Result, f Format) (err error) {
	if path == "" || path == "-" {
		return Write(os.Stdout, res, f)
	}
	o, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := o.Close(); err == nil {
			err = cerr
		}
	}()
	return Write(o, res, f)
}
