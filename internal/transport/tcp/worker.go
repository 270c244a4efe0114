package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/mawngo/kclust/internal/kmeans"
)

// Worker is the end of a TCP group held by a rank other than 0.
type Worker struct {
	*node
}

var _ kmeans.Collective = (*Worker)(nil)

// Dial connects to the coordinator at addr, retrying until ctx is done, and
// completes the handshake. The rank and group size come from the coordinator.
func Dial(ctx context.Context, addr string, opts ...Option) (*Worker, error) {
	o := newOptions(opts)
	limiter := rate.NewLimiter(rate.Every(o.retryInterval), 1)

	var (
		d       net.Dialer
		conn    net.Conn
		lastErr error
	)
	for attempt := 1; ; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("dial %s: %w", addr, errors.Join(err, lastErr))
		}
		c, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn = c
			break
		}
		lastErr = err
		o.logger.Debug("Coordinator not reachable", "addr", addr, "attempt", attempt, "err", err)
	}

	p := newPeer(0, conn)
	welcome, err := hello(p, o)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake with %s: %w", addr, err)
	}
	if welcome.Rank < 1 || welcome.Rank >= welcome.Size {
		_ = conn.Close()
		return nil, fmt.Errorf("handshake with %s: rank %d out of range for %d ranks", addr, welcome.Rank, welcome.Size)
	}

	o.compression = welcome.Compression
	w := &Worker{node: newNode(welcome.Rank, welcome.Size, o)}
	w.session = welcome.Session
	w.peers = []*peer{p}
	w.start()
	o.logger.Info("Joined group", "rank", w.rank, "size", w.size, "session", w.session, "compression", o.compression.String())
	return w, nil
}

func hello(p *peer, o options) (welcomeMsg, error) {
	_ = p.conn.SetDeadline(time.Now().Add(o.handshakeTimeout))
	defer p.conn.SetDeadline(time.Time{})

	host, _ := os.Hostname()
	f, err := newFrame(FrameHello, -1, CompressionNone, helloMsg{Version: protocolVersion, Host: host})
	if err != nil {
		return welcomeMsg{}, err
	}
	if err := p.write(f); err != nil {
		return welcomeMsg{}, err
	}
	f, err = p.read()
	if err != nil {
		return welcomeMsg{}, fmt.Errorf("read welcome: %w", err)
	}
	if f.Type != FrameWelcome {
		return welcomeMsg{}, fmt.Errorf("expected welcome, got %s", f.Type)
	}
	var m welcomeMsg
	if err := f.decode(&m); err != nil {
		return welcomeMsg{}, err
	}
	if m.Version != protocolVersion {
		return welcomeMsg{}, fmt.Errorf("protocol version %d, want %d", m.Version, protocolVersion)
	}
	return m, nil
}

func (w *Worker) coordinator() *peer { return w.peers[0] }

func (w *Worker) Scatter(ctx context.Context, _ kmeans.Plan, _ []kmeans.Shard) (kmeans.Plan, kmeans.Shard, error) {
	f, err := w.recv(ctx, w.coordinator(), FrameScatter)
	if err != nil {
		return kmeans.Plan{}, kmeans.Shard{}, err
	}
	var m scatterMsg
	if err := f.decode(&m); err != nil {
		return kmeans.Plan{}, kmeans.Shard{}, err
	}
	if m.Dim < 1 || len(m.Coords)%m.Dim != 0 {
		return kmeans.Plan{}, kmeans.Shard{}, fmt.Errorf("%w: shard of %d values with dimension %d", kmeans.ErrShapeMismatch, len(m.Coords), m.Dim)
	}
	plan := kmeans.Plan{RunID: m.RunID, K: m.K, Dim: m.Dim, Iterations: m.Iterations}
	shard := kmeans.Shard{Rank: w.rank, Offset: m.Offset, Dim: m.Dim, Coords: m.Coords}
	return plan, shard, nil
}

func (w *Worker) Broadcast(ctx context.Context, _ kmeans.Centroids) (kmeans.Centroids, error) {
	f, err := w.recv(ctx, w.coordinator(), FrameBroadcast)
	if err != nil {
		return kmeans.Centroids{}, err
	}
	return decodeCentroids(f)
}

// Reduce sends the local aggregate to the coordinator and returns a zero Aggregate.
func (w *Worker) Reduce(ctx context.Context, a kmeans.Aggregate) (kmeans.Aggregate, error) {
	f, err := newFrame(FrameReduce, w.rank, w.opts.compression, aggregateMsg{
		K:      a.K,
		Dim:    a.Dim,
		Sums:   a.Sums,
		Counts: a.Counts,
		SSE:    a.SSE,
	})
	if err != nil {
		return kmeans.Aggregate{}, err
	}
	return kmeans.Aggregate{}, w.send(ctx, w.coordinator(), f)
}

// Abort notifies the coordinator, which relays the abort to the other workers.
func (w *Worker) Abort(err error) {
	w.shutdown(w.rank, err, nil)
}
