// Package telemetry exports run measurements to Prometheus.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mawngo/kclust/internal/kmeans"
)

// Metrics implements kmeans.Recorder.
type Metrics struct {
	shardPoints   *prometheus.GaugeVec
	phaseSeconds  *prometheus.HistogramVec
	rounds        prometheus.Counter
	roundSeconds  prometheus.Histogram
	objective     prometheus.Gauge
	emptyClusters prometheus.Gauge
	shift         prometheus.Gauge
	clusterPoints *prometheus.GaugeVec
}

var _ kmeans.Recorder = (*Metrics)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		shardPoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kclust_shard_points",
			Help: "Number of points held by each rank",
		}, []string{"rank"}),
		phaseSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kclust_phase_duration_seconds",
			Help:    "Duration of each step of a round",
			Buckets: prometheus.DefBuckets,
		}, []string{"rank", "phase"}),
		rounds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kclust_rounds_total",
			Help: "Rounds completed by the coordinator",
		}),
		roundSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kclust_round_duration_seconds",
			Help:    "Duration of a whole round seen by the coordinator",
			Buckets: prometheus.DefBuckets,
		}),
		objective: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kclust_objective",
			Help: "Sum of squared distances of the last round",
		}),
		emptyClusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kclust_empty_clusters",
			Help: "Clusters that received no point in the last round",
		}),
		shift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "kclust_centroid_shift",
			Help: "Largest distance a centroid moved in the last round",
		}),
		clusterPoints: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "kclust_cluster_points",
			Help: "Points assigned to each cluster in the last round",
		}, []string{"cluster"}),
	}
	for _, c := range []prometheus.Collector{
		m.shardPoints, m.phaseSeconds, m.rounds, m.roundSeconds,
		m.objective, m.emptyClusters, m.shift, m.clusterPoints,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveShard(rank, points int) {
	m.shardPoints.WithLabelValues(strconv.Itoa(rank)).Set(float64(points))
}

func (m *Metrics) ObservePhase(rank int, state kmeans.State, took time.Duration) {
	m.phaseSeconds.WithLabelValues(strconv.Itoa(rank), state.String()).Observe(took.Seconds())
}

func (m *Metrics) ObserveRound(s kmeans.RoundStats) {
	m.rounds.Inc()
	m.roundSeconds.Observe(s.Duration.Seconds())
	m.objective.Set(s.Objective)
	m.shift.Set(s.Shift)
	if s.Empty != nil {
		m.emptyClusters.Set(float64(s.Empty.GetCardinality()))
	}
	for i, n := range s.Counts {
		m.clusterPoints.WithLabelValues(strconv.Itoa(i)).Set(float64(n))
	}
}

// Serve exposes the gatherer on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln, g, logger)
}

func serve(ctx context.Context, ln net.Listener, g prometheus.Gatherer, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	})
	defer stop()

	logger.Info("Serving metrics", slog.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
