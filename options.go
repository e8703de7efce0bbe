package speechunit

import (
	"net/http"

	"github.com/hupe1980/speechunit/blobstore"
	"github.com/hupe1980/speechunit/feature"
	"github.com/hupe1980/speechunit/metrics"
)

type options struct {
	logger     *Logger
	metrics    metrics.Collector
	source     feature.Source
	sourceName string
	mirror     blobstore.Store
	httpClient *http.Client
}

// Option configures a Pipeline.
type Option func(*options)

// WithLogger sets the structured logger. Defaults to NoopLogger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the collector shared by training and quantization.
func WithMetrics(c metrics.Collector) Option {
	return func(o *options) {
		if c != nil {
			o.metrics = c
		}
	}
}

// WithSource replaces the configured feature source. name is recorded in
// checkpoints and namespaces the feature cache.
func WithSource(src feature.Source, name string) Option {
	return func(o *options) {
		o.source = src
		o.sourceName = name
	}
}

// WithMirror replaces the configured checkpoint mirror.
func WithMirror(store blobstore.Store) Option {
	return func(o *options) { o.mirror = store }
}

// WithHTTPClient sets the client used by the remote feature source.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}
