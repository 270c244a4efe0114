package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how frame payloads are compressed on the wire.
type Compression uint8

const (
	// CompressionNone sends payloads as encoded.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 blocks (fast, modest ratio).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses zstd (slower, better ratio on large shards).
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

// ParseCompression parses the names produced by String.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Compressed payloads carry an 8 byte header: [uncompressed uint32][compressed uint32].
const headerSize = 8

// compress returns the payload to send and the compression actually applied.
// Payloads that do not shrink by at least 10% are sent uncompressed.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	if c == CompressionNone || len(data) == 0 || len(data) > math.MaxUint32 {
		return data, CompressionNone, nil
	}

	var body []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, 0, err
		}
		body = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		body = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, 0, fmt.Errorf("unknown compression %d", c)
	}

	if len(body) == 0 || float64(len(body)) > float64(len(data))*0.9 {
		return data, CompressionNone, nil
	}
	out := make([]byte, headerSize+len(body))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(body)))
	copy(out[headerSize:], body)
	return out, c, nil
}

func decompress(data []byte, c Compression) ([]byte, error) {
	if c == CompressionNone {
		return data, nil
	}
	if len(data) < headerSize {
		return nil, errors.New("compressed payload too small for header")
	}
	size := binary.LittleEndian.Uint32(data[0:])
	n := binary.LittleEndian.Uint32(data[4:])
	if uint64(len(data)) < uint64(headerSize)+uint64(n) {
		return nil, errors.New("compressed payload truncated")
	}
	body := data[headerSize : headerSize+n]

	switch c {
	case CompressionLZ4:
		out := make([]byte, size)
		got, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, err
		}
		if uint32(got) != size {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, err
		}
		if uint32(len(out)) != size {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
}
