package memvault

import (
	"log/slog"
	"time"

	"github.com/hupe1980/memvault/codec"
)

type options struct {
	codec                codec.Codec
	compressionThreshold int
	purgeRetention       time.Duration
	metricsCollector     MetricsCollector
	logger               *Logger
}

// Option configures Store construction.
type Option func(*options)

// WithCodec configures the content compression codec. If nil is
// passed, codec.Default (zlib) is used. Changing the codec of an
// existing database is a breaking change: previously compressed rows
// will no longer decode.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithCompressionThreshold sets the content size in bytes above which
// payloads are compressed. Non-positive selects the default (1024).
func WithCompressionThreshold(threshold int) Option {
	return func(o *options) {
		o.compressionThreshold = threshold
	}
}

// WithPurgeRetention sets the default retention window used by
// PurgeDeleted when the caller passes a zero age. Default 30 days.
func WithPurgeRetention(d time.Duration) Option {
	return func(o *options) {
		o.purgeRetention = d
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets
// it. Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	opts := options{
		purgeRetention: 30 * 24 * time.Hour,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.metricsCollector == nil {
		opts.metricsCollector = NoopMetricsCollector{}
	}
	if opts.logger == nil {
		opts.logger = NoopLogger()
	}
	return opts
}
