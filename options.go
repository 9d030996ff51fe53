package ledgerann

import (
	"github.com/s9swata/ledgerann/codec"
	"github.com/s9swata/ledgerann/hnsw"
)

// Option configures an Index.
type Option func(*options)

type options struct {
	codec        codec.Codec
	logger       *Logger
	metrics      MetricsCollector
	engineOptFns []func(o *hnsw.Options)
}

func applyOptions(optFns []Option) options {
	opts := options{
		codec:   codec.Default,
		logger:  NoopLogger(),
		metrics: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// WithCodec sets the codec used to serialize payloads into the store.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithLogger sets the logger. Logging is off by default.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics collector. Collection is off by
// default.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithEngineOptions forwards options to the underlying HNSW engine.
func WithEngineOptions(fns ...func(o *hnsw.Options)) Option {
	return func(o *options) {
		o.engineOptFns = append(o.engineOptFns, fns...)
	}
}
