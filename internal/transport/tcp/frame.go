package tcp

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mawngo/kclust/internal/kmeans"
)

// protocolVersion is bumped on every incompatible frame or message change.
const protocolVersion = 1

// FrameType identifies the frame category.
type FrameType uint8

const (
	FrameHello FrameType = iota + 1
	FrameWelcome
	FrameScatter
	FrameBroadcast
	FrameReduce
	FrameAbort
)

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameWelcome:
		return "welcome"
	case FrameScatter:
		return "scatter"
	case FrameBroadcast:
		return "broadcast"
	case FrameReduce:
		return "reduce"
	case FrameAbort:
		return "abort"
	default:
		return fmt.Sprintf("FrameType(%d)", uint8(t))
	}
}

// Frame is the envelope of every message exchanged between ranks.
type Frame struct {
	Type FrameType `msgpack:"t"`
	// Rank is the sender, or the originating rank of a relayed abort.
	Rank        int         `msgpack:"r"`
	Compression Compression `msgpack:"c,omitempty"`
	// Payload is the msgpack encoded message, compressed as Compression says.
	Payload []byte `msgpack:"p,omitempty"`
	// Error and Code describe the cause of an abort frame.
	Error string `msgpack:"e,omitempty"`
	Code  uint8  `msgpack:"k,omitempty"`
}

type helloMsg struct {
	Version int    `msgpack:"v"`
	Host    string `msgpack:"h,omitempty"`
}

type welcomeMsg struct {
	Version     int         `msgpack:"v"`
	Session     string      `msgpack:"s"`
	Rank        int         `msgpack:"r"`
	Size        int         `msgpack:"n"`
	Compression Compression `msgpack:"c"`
}

type scatterMsg struct {
	RunID      string    `msgpack:"id"`
	K          int       `msgpack:"k"`
	Dim        int       `msgpack:"d"`
	Iterations int       `msgpack:"it"`
	Offset     int       `msgpack:"o"`
	Coords     []float64 `msgpack:"x"`
}

type centroidsMsg struct {
	K      int       `msgpack:"k"`
	Dim    int       `msgpack:"d"`
	Coords []float64 `msgpack:"x"`
}

type aggregateMsg struct {
	K      int       `msgpack:"k"`
	Dim    int       `msgpack:"d"`
	Sums   []float64 `msgpack:"s"`
	Counts []int64   `msgpack:"n"`
	SSE    float64   `msgpack:"e"`
}

// newFrame encodes msg as the payload of a frame of type t.
func newFrame(t FrameType, rank int, c Compression, msg any) (*Frame, error) {
	raw, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t, err)
	}
	payload, used, err := compress(raw, c)
	if err != nil {
		return nil, fmt.Errorf("compress %s: %w", t, err)
	}
	return &Frame{Type: t, Rank: rank, Compression: used, Payload: payload}, nil
}

// decode unpacks the payload of f into v.
func (f *Frame) decode(v any) error {
	raw, err := decompress(f.Payload, f.Compression)
	if err != nil {
		return fmt.Errorf("decompress %s: %w", f.Type, err)
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", f.Type, err)
	}
	return nil
}

// errorKinds lists the errors that keep their identity across the wire.
// The index is the frame Code; zero means unknown.
var errorKinds = []error{
	nil,
	kmeans.ErrAllocation,
	kmeans.ErrInputRead,
	kmeans.ErrInsufficientData,
	kmeans.ErrShapeMismatch,
	kmeans.ErrInvalidConfig,
}

func errorCode(err error) uint8 {
	for i, kind := range errorKinds[1:] {
		if errors.Is(err, kind) {
			return uint8(i + 1)
		}
	}
	return 0
}

// remoteError is an error received from another rank.
type remoteError struct {
	msg  string
	kind error
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.kind }

func abortFrame(origin int, cause error) *Frame {
	return &Frame{Type: FrameAbort, Rank: origin, Error: cause.Error(), Code: errorCode(cause)}
}

func (f *Frame) abortCause() error {
	var kind error
	if int(f.Code) < len(errorKinds) {
		kind = errorKinds[f.Code]
	}
	return &remoteError{msg: f.Error, kind: kind}
}
