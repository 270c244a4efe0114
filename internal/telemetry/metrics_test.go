package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mawngo/kclust/internal/kmeans"
)

func TestMetrics_ObserveRound(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveShard(0, 500)
	m.ObserveShard(1, 500)
	m.ObservePhase(0, kmeans.StateAssigning, 10*time.Millisecond)
	m.ObserveRound(kmeans.RoundStats{
		Round:     1,
		Objective: 12.5,
		Counts:    []int64{600, 0, 400},
		Empty:     roaring.BitmapOf(1),
		Shift:     0.25,
		Duration:  20 * time.Millisecond,
	})

	assert.Equal(t, 500.0, testutil.ToFloat64(m.shardPoints.WithLabelValues("1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rounds))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.objective))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.emptyClusters))
	assert.Equal(t, 0.25, testutil.ToFloat64(m.shift))
	assert.Equal(t, 400.0, testutil.ToFloat64(m.clusterPoints.WithLabelValues("2")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.phaseSeconds))
}

func TestNew_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.ObserveRound(kmeans.RoundStats{Round: 1, Objective: 3})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, ln, reg, slog.New(slog.DiscardHandler))
	}()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "kclust_objective 3"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
