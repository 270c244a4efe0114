package tcp

import (
	"log/slog"
	"time"
)

type options struct {
	compression      Compression
	logger           *slog.Logger
	handshakeTimeout time.Duration
	retryInterval    time.Duration
	abortTimeout     time.Duration
}

func newOptions(opts []Option) options {
	o := options{
		compression:      CompressionNone,
		logger:           slog.Default(),
		handshakeTimeout: 10 * time.Second,
		retryInterval:    500 * time.Millisecond,
		abortTimeout:     time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a Coordinator or a Worker.
type Option func(*options)

// WithCompression sets the payload compression announced by the coordinator.
// Workers adopt whatever the coordinator announces.
func WithCompression(c Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHandshakeTimeout bounds the hello/welcome exchange of each connection.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		o.handshakeTimeout = d
	}
}

// WithRetryInterval sets how often a worker retries dialing the coordinator.
func WithRetryInterval(d time.Duration) Option {
	return func(o *options) {
		o.retryInterval = d
	}
}
