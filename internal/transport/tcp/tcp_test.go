package tcp

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/mawngo/kclust/internal/kmeans"
	"github.com/mawngo/kclust/internal/transport/local"
)

var quietLogger = slog.New(slog.DiscardHandler)

func newGroup(t *testing.T, size int, opts ...Option) []kmeans.Collective {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger)}, opts...)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var (
		coord *Coordinator
		g     errgroup.Group
	)
	g.Go(func() error {
		c, err := Accept(ctx, ln, size, opts...)
		coord = c
		return err
	})
	workers := make([]*Worker, 0, size-1)
	for range size - 1 {
		w, err := Dial(ctx, addr, opts...)
		require.NoError(t, err)
		workers = append(workers, w)
	}
	require.NoError(t, g.Wait())

	comms := []kmeans.Collective{coord}
	t.Cleanup(func() { _ = coord.Close() })
	for i, w := range workers {
		require.Equal(t, i+1, w.Rank())
		require.Equal(t, size, w.Size())
		require.Equal(t, coord.Session(), w.Session())
		comms = append(comms, w)
		t.Cleanup(func() { _ = w.Close() })
	}
	return comms
}

func dataset(t *testing.T, n, dim int) kmeans.Dataset {
	t.Helper()
	rnd := rand.New(rand.NewSource(7))
	coords := make([]float64, n*dim)
	for i := range coords {
		coords[i] = float64(i/dim%5)*10 + rnd.Float64()
	}
	ds, err := kmeans.NewDataset(dim, coords)
	require.NoError(t, err)
	return ds
}

func runAll(comms []kmeans.Collective, load kmeans.Loader, opts ...kmeans.Option) ([]*kmeans.Result, []error) {
	opts = append([]kmeans.Option{kmeans.WithLogger(quietLogger)}, opts...)
	results := make([]*kmeans.Result, len(comms))
	errs := make([]error, len(comms))
	var wg sync.WaitGroup
	for r, comm := range comms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[r], errs[r] = kmeans.NewController(comm, opts...).Run(context.Background(), load)
		}()
	}
	wg.Wait()
	return results, errs
}

func TestGroup_MatchesLocalRun(t *testing.T) {
	ds := dataset(t, 2000, 3)
	load := func(context.Context) (kmeans.Dataset, error) { return ds, nil }
	opts := []kmeans.Option{kmeans.WithClusters(5), kmeans.WithIterations(6), kmeans.WithSeed(3)}

	g, err := local.NewGroup(3)
	require.NoError(t, err)
	var want *kmeans.Result
	err = g.Run(context.Background(), func(ctx context.Context, comm *local.Comm) error {
		res, err := kmeans.NewController(comm, append(opts, kmeans.WithLogger(quietLogger))...).Run(ctx, load)
		if comm.Rank() == 0 {
			want = res
		}
		return err
	})
	require.NoError(t, err)

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			comms := newGroup(t, 3, WithCompression(c))
			results, errs := runAll(comms, load, opts...)
			for r := range comms {
				require.NoError(t, errs[r], "rank %d", r)
				assert.True(t, want.Centroids.Equal(results[r].Centroids), "rank %d diverged", r)
				assert.Equal(t, results[0].RunID, results[r].RunID)
			}
			assert.Equal(t, want.Objective(), results[0].Objective())
		})
	}
}

func TestGroup_LoadFailureReachesWorkers(t *testing.T) {
	comms := newGroup(t, 3)
	boom := errors.Join(kmeans.ErrInputRead, errors.New("points.txt: no such file"))

	_, errs := runAll(comms, func(context.Context) (kmeans.Dataset, error) {
		return kmeans.Dataset{}, boom
	})
	assert.ErrorIs(t, errs[0], kmeans.ErrInputRead)
	for r := 1; r < len(comms); r++ {
		assert.ErrorIs(t, errs[r], kmeans.ErrAborted, "rank %d", r)
		assert.ErrorIs(t, errs[r], kmeans.ErrInputRead, "rank %d", r)
		assert.ErrorContains(t, errs[r], "no such file")
	}
}

func TestGroup_WorkerAbortIsRelayed(t *testing.T) {
	comms := newGroup(t, 3)
	boom := errors.Join(kmeans.ErrShapeMismatch, errors.New("boom"))

	var wg sync.WaitGroup
	var reduceErr, broadcastErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, reduceErr = comms[0].Reduce(context.Background(), kmeans.Aggregate{})
	}()
	go func() {
		defer wg.Done()
		_, broadcastErr = comms[1].Broadcast(context.Background(), kmeans.Centroids{})
	}()
	comms[2].Abort(boom)
	wg.Wait()

	for _, err := range []error{reduceErr, broadcastErr} {
		assert.ErrorIs(t, err, kmeans.ErrAborted)
		assert.ErrorIs(t, err, kmeans.ErrShapeMismatch)
		assert.ErrorContains(t, err, "by rank 2")
	}
}

func TestGroup_ScatterNeedsOneShardPerRank(t *testing.T) {
	comms := newGroup(t, 2)
	_, _, err := comms[0].Scatter(context.Background(), kmeans.Plan{}, nil)
	assert.ErrorIs(t, err, kmeans.ErrShapeMismatch)
}

func TestDial_GivesUpWithContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = Dial(ctx, addr, WithLogger(quietLogger), WithRetryInterval(20*time.Millisecond))
	assert.Error(t, err)
}

func TestAccept_Cancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = Accept(ctx, ln, 2, WithLogger(quietLogger))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCompression(t *testing.T) {
	compressible := bytes.Repeat([]byte("kclust centroid "), 4096)
	random := make([]byte, 4096)
	_, _ = rand.New(rand.NewSource(1)).Read(random)

	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			out, used, err := compress(compressible, c)
			require.NoError(t, err)
			assert.Equal(t, c, used)
			if c != CompressionNone {
				assert.Less(t, len(out), len(compressible))
			}
			back, err := decompress(out, used)
			require.NoError(t, err)
			assert.Equal(t, compressible, back)

			out, used, err = compress(random, c)
			require.NoError(t, err)
			assert.Equal(t, CompressionNone, used, "incompressible data is sent as is")
			assert.Equal(t, random, out)
		})
	}
}

func TestDecompress_Truncated(t *testing.T) {
	out, used, err := compress(bytes.Repeat([]byte{1, 2, 3, 4}, 1024), CompressionZSTD)
	require.NoError(t, err)
	_, err = decompress(out[:len(out)-4], used)
	assert.Error(t, err)
	_, err = decompress([]byte{1}, CompressionLZ4)
	assert.Error(t, err)
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("gzip")
	assert.Error(t, err)
}

func TestAbortFrame_KeepsErrorKind(t *testing.T) {
	f := abortFrame(3, errors.Join(kmeans.ErrInsufficientData, errors.New("4 points for 5 clusters")))
	cause := f.abortCause()
	assert.ErrorIs(t, cause, kmeans.ErrInsufficientData)
	assert.Contains(t, cause.Error(), "4 points for 5 clusters")
	assert.Equal(t, 3, f.Rank)

	unknown := abortFrame(1, errors.New("disk on fire")).abortCause()
	assert.NotErrorIs(t, unknown, kmeans.ErrInputRead)
	assert.Equal(t, "disk on fire", unknown.Error())
}
