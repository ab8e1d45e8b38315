package bridge

import (
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/strand-protocol/tensorbridge/pkg/logging"
	"github.com/strand-protocol/tensorbridge/pkg/observability"
	"github.com/strand-protocol/tensorbridge/pkg/session"
)

// Option configures a Bridge.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	session []session.Option
}

func buildOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) sessionOptions() []session.Option {
	return append([]session.Option{session.WithLogger(o.logger)}, o.session...)
}

// WithLogger sets the logger for the bridge and its session. Nil means no
// logging.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = logging.OrNop(l) }
}

// WithMetrics records session traffic into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.session = append(o.session, session.WithMetrics(m)) }
}

// WithShutdownTimeout bounds how long Stop waits for in-flight frames.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) { o.session = append(o.session, session.WithShutdownTimeout(d)) }
}

// WithMaxMessageSize sets the largest encoded frame.
func WithMaxMessageSize(n int) Option {
	return func(o *options) { o.session = append(o.session, session.WithMaxMessageSize(n)) }
}

// WithQueueLimits bounds the client transfer queue. Zero means unlimited.
func WithQueueLimits(maxBuffers int, maxBytes uint64) Option {
	return func(o *options) { o.session = append(o.session, session.WithQueueLimits(maxBuffers, maxBytes)) }
}

// WithWaitForReady makes the client wait for the peer instead of failing
// fast.
func WithWaitForReady(wait bool) Option {
	return func(o *options) { o.session = append(o.session, session.WithWaitForReady(wait)) }
}

// WithTracerProvider sets the provider for the session's stream spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.session = append(o.session, session.WithTracerProvider(tp)) }
}
