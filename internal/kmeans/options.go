package kmeans

import (
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for round tracing.
const tracerName = "github.com/mawngo/kclust/internal/kmeans"

// Recorder receives measurements from the controller. Implementations must be
// safe for concurrent use when several ranks share one process.
type Recorder interface {
	// ObserveShard is called once per rank after the scatter.
	ObserveShard(rank, points int)
	// ObservePhase is called for every timed step of a round.
	ObservePhase(rank int, state State, took time.Duration)
	// ObserveRound is called on the coordinator after each round.
	ObserveRound(stats RoundStats)
}

type nopRecorder struct{}

func (nopRecorder) ObserveShard(int, int)                  {}
func (nopRecorder) ObservePhase(int, State, time.Duration) {}
func (nopRecorder) ObserveRound(RoundStats)                {}

type options struct {
	k                 int
	iterations        int
	seed              int64
	seedIndices       []int
	remainder         RemainderPolicy
	kernelConcurrency int
	runID             string
	logger            *slog.Logger
	tracer            trace.Tracer
	recorder          Recorder
	onState           func(rank int, s State)
	onRound           []func(RoundStats)
}

// Option configures a Controller.
type Option func(*options)

func defaultOptions() options {
	return options{
		k:                 50,
		iterations:        16,
		remainder:         RemainderDrop,
		kernelConcurrency: runtime.NumCPU(),
		logger:            slog.Default(),
		tracer:            otel.Tracer(tracerName),
		recorder:          nopRecorder{},
	}
}

// WithClusters sets the number of clusters. Only read on the coordinator.
func WithClusters(k int) Option {
	return func(o *options) {
		o.k = k
	}
}

// WithIterations sets the fixed number of rounds. Only read on the coordinator.
func WithIterations(n int) Option {
	return func(o *options) {
		o.iterations = n
	}
}

// WithSeed sets the seed of the initial centroid sampling.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// WithSeedIndices uses the points at the given global indices as initial
// centroids instead of sampling them. The number of clusters becomes len(idx).
func WithSeedIndices(idx ...int) Option {
	return func(o *options) {
		o.seedIndices = append([]int(nil), idx...)
	}
}

// WithRemainder sets how points left over by the even split are handled.
func WithRemainder(p RemainderPolicy) Option {
	return func(o *options) {
		o.remainder = p
	}
}

// WithKernelConcurrency bounds the goroutines one rank uses for assignment.
func WithKernelConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.kernelConcurrency = n
		}
	}
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(o *options) {
		o.runID = id
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer sets the tracer used for round spans. The global provider is used by default.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		if t != nil {
			o.tracer = t
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithStateObserver is called on every state transition of the rank.
func WithStateObserver(fn func(rank int, s State)) Option {
	return func(o *options) {
		o.onState = fn
	}
}

// WithRoundHook is called on the coordinator after every round. Hooks may be
// used to implement early stopping outside the controller by cancelling the
// run context.
func WithRoundHook(fn func(RoundStats)) Option {
	return func(o *options) {
		o.onRound = append(o.onRound, fn)
	}
}
