package runtime

import (
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/drblury/ipcflow/internal/runtime/logging"
	metricspkg "github.com/drblury/ipcflow/internal/runtime/metrics"
	"github.com/drblury/ipcflow/internal/runtime/transcoder"
)

// Option customises a Server or a Client. Options that only apply to one
// role are ignored by the other.
type Option func(*options)

type options struct {
	logger         loggingpkg.ServiceLogger
	transcoder     transcoder.Transcoder
	metrics        *metricspkg.Metrics
	tracerProvider trace.TracerProvider
	retry          backoff.BackOff
}

func newOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	o.logger = loggingpkg.OrNop(o.logger)
	if o.transcoder == nil {
		o.transcoder = transcoder.Default()
	}
	return o
}

// WithLogger routes lifecycle and failure logs to log.
func WithLogger(log loggingpkg.ServiceLogger) Option {
	return func(o *options) { o.logger = log }
}

// WithTranscoder replaces the default JSON transcoder.
func WithTranscoder(tc transcoder.Transcoder) Option {
	return func(o *options) { o.transcoder = tc }
}

// WithMetrics records connection and traffic statistics in m.
func WithMetrics(m *metricspkg.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider sets the provider used for send and broadcast spans.
// The global provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithRetryBackOff replaces the constant RetryDelay policy used between
// attempts to establish a connection. Client only.
func WithRetryBackOff(b backoff.BackOff) Option {
	return func(o *options) { o.retry = b }
}
