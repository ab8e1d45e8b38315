package session

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/strand-protocol/tensorbridge/pkg/logging"
	"github.com/strand-protocol/tensorbridge/pkg/observability"
)

const (
	// DefaultShutdownTimeout bounds how long Stop waits for in-flight frames
	// before cancelling the stream.
	DefaultShutdownTimeout = 5 * time.Second

	// DefaultMaxMessageSize is the largest encoded frame accepted or sent.
	DefaultMaxMessageSize = 64 << 20

	tracerName = "github.com/strand-protocol/tensorbridge/pkg/session"
)

// Option configures a Server or Client.
type Option func(*options)

type options struct {
	logger          *zap.Logger
	metrics         *observability.Metrics
	tracerProvider  trace.TracerProvider
	shutdownTimeout time.Duration
	maxMessageSize  int
	maxBuffers      int
	maxBytes        uint64
	waitForReady    bool
}

func defaultOptions() options {
	return options{
		logger:          zap.NewNop(),
		shutdownTimeout: DefaultShutdownTimeout,
		maxMessageSize:  DefaultMaxMessageSize,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	return o
}

// WithLogger sets the logger. Nil means no logging.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = logging.OrNop(l) }
}

// WithMetrics records frame traffic into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithShutdownTimeout configures how long Stop waits before forcing the
// stream closed.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithMaxMessageSize sets the gRPC message size limit in both directions.
func WithMaxMessageSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxMessageSize = n
		}
	}
}

// WithQueueLimits bounds the client transfer queue. Zero means unlimited.
func WithQueueLimits(maxBuffers int, maxBytes uint64) Option {
	return func(o *options) {
		o.maxBuffers = maxBuffers
		o.maxBytes = maxBytes
	}
}

// WithWaitForReady makes the client stream wait for the peer to come up
// instead of failing on the first unavailable connection.
func WithWaitForReady(wait bool) Option {
	return func(o *options) { o.waitForReady = wait }
}
