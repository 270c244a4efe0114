// Package tcp connects the ranks of a run over TCP.
//
// Rank 0 runs a Coordinator that accepts one connection per worker; every
// other rank runs a Worker that dials it. Messages travel as msgpack frames
// whose payload is optionally compressed with LZ4 or zstd. An abort raised
// on any rank is sent to the coordinator, which relays it to every other
// worker before closing the connections.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mawngo/kclust/internal/kmeans"
)

var errClosed = errors.New("tcp: transport closed")

// peer is one connection, seen from either end.
type peer struct {
	rank  int
	conn  net.Conn
	bw    *bufio.Writer
	enc   *msgpack.Encoder
	dec   *msgpack.Decoder
	wmu   sync.Mutex
	inbox chan *Frame
}

func newPeer(rank int, conn net.Conn) *peer {
	bw := bufio.NewWriterSize(conn, 64<<10)
	return &peer{
		rank:  rank,
		conn:  conn,
		bw:    bw,
		enc:   msgpack.NewEncoder(bw),
		dec:   msgpack.NewDecoder(bufio.NewReaderSize(conn, 64<<10)),
		inbox: make(chan *Frame, 4),
	}
}

func (p *peer) write(f *Frame) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if err := p.enc.Encode(f); err != nil {
		return err
	}
	return p.bw.Flush()
}

func (p *peer) read() (*Frame, error) {
	var f Frame
	if err := p.dec.Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

// node holds the state shared by both ends of the transport.
type node struct {
	rank    int
	size    int
	session string
	opts    options

	ctx    context.Context
	cancel context.CancelCauseFunc
	closed atomic.Bool
	once   sync.Once
	wg     sync.WaitGroup

	// peers is indexed by rank on the coordinator. A worker only has the
	// coordinator, at index 0.
	peers []*peer
}

func newNode(rank, size int, opts options) *node {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &node{rank: rank, size: size, opts: opts, ctx: ctx, cancel: cancel}
}

func (n *node) Rank() int { return n.rank }

func (n *node) Size() int { return n.size }

// Session returns the id the coordinator assigned to this group.
func (n *node) Session() string { return n.session }

// Err returns the abort cause, or nil while the group is healthy.
func (n *node) Err() error {
	if n.closed.Load() {
		return nil
	}
	return context.Cause(n.ctx)
}

func (n *node) start() {
	for _, p := range n.peers {
		if p == nil {
			continue
		}
		n.wg.Add(1)
		go n.readLoop(p)
	}
}

func (n *node) readLoop(p *peer) {
	defer n.wg.Done()
	for {
		f, err := p.read()
		if err != nil {
			if !n.closed.Load() && n.ctx.Err() == nil {
				n.opts.logger.Debug("Connection lost", "rank", n.rank, "peer", p.rank, "err", err)
			}
			close(p.inbox)
			return
		}
		if f.Type == FrameAbort {
			n.shutdown(f.Rank, f.abortCause(), p)
			return
		}
		select {
		case p.inbox <- f:
		case <-n.ctx.Done():
			return
		}
	}
}

// shutdown aborts the group once: it forwards the abort to every peer except
// skip, cancels pending collectives and closes the connections.
func (n *node) shutdown(origin int, cause error, skip *peer) {
	n.once.Do(func() {
		if n.closed.Load() {
			return
		}
		f := abortFrame(origin, cause)
		for _, p := range n.peers {
			if p == nil || p == skip {
				continue
			}
			_ = p.conn.SetWriteDeadline(time.Now().Add(n.opts.abortTimeout))
			if err := p.write(f); err != nil {
				n.opts.logger.Debug("Cannot relay abort", "rank", n.rank, "peer", p.rank, "err", err)
			}
		}
		n.cancel(kmeans.Aborted(origin, cause))
		n.closeConns()
		n.opts.logger.Warn("Run aborted", "rank", n.rank, "origin", origin, "err", cause)
	})
}

func (n *node) closeConns() {
	for _, p := range n.peers {
		if p != nil {
			_ = p.conn.Close()
		}
	}
}

// Close releases the connections. It does not notify the other ranks.
func (n *node) Close() error {
	if n.closed.Swap(true) {
		return nil
	}
	n.cancel(errClosed)
	n.closeConns()
	n.wg.Wait()
	return nil
}

func (n *node) send(ctx context.Context, p *peer, f *Frame) error {
	if err := context.Cause(n.ctx); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = p.conn.SetWriteDeadline(deadline)
	} else {
		_ = p.conn.SetWriteDeadline(time.Time{})
	}
	if err := p.write(f); err != nil {
		if cause := context.Cause(n.ctx); cause != nil {
			return cause
		}
		return fmt.Errorf("send %s to rank %d: %w", f.Type, p.rank, err)
	}
	return nil
}

func (n *node) recv(ctx context.Context, p *peer, want FrameType) (*Frame, error) {
	if err := context.Cause(n.ctx); err != nil {
		return nil, err
	}
	select {
	case f, ok := <-p.inbox:
		if !ok {
			if cause := context.Cause(n.ctx); cause != nil {
				return nil, cause
			}
			return nil, fmt.Errorf("rank %d disconnected while waiting for %s", p.rank, want)
		}
		if f.Type != want {
			return nil, fmt.Errorf("rank %d sent %s, expected %s", p.rank, f.Type, want)
		}
		return f, nil
	case <-n.ctx.Done():
		return nil, context.Cause(n.ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func encodeCentroids(cs kmeans.Centroids) centroidsMsg {
	return centroidsMsg{K: cs.K(), Dim: cs.Dim(), Coords: cs.Coords()}
}

func decodeCentroids(f *Frame) (kmeans.Centroids, error) {
	var m centroidsMsg
	if err := f.decode(&m); err != nil {
		return kmeans.Centroids{}, err
	}
	return kmeans.NewCentroids(m.K, m.Dim, m.Coords)
}

func decodeAggregate(f *Frame) (kmeans.Aggregate, error) {
	var m aggregateMsg
	if err := f.decode(&m); err != nil {
		return kmeans.Aggregate{}, err
	}
	return kmeans.Aggregate{K: m.K, Dim: m.Dim, Sums: m.Sums, Counts: m.Counts, SSE: m.SSE}, nil
}
