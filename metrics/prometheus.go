package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus exports run metrics through prometheus/client_golang.
type Prometheus struct {
	reg *prometheus.Registry

	iterLatency   prometheus.Histogram
	iterations    prometheus.Counter
	items         prometheus.Gauge
	lastDiff      prometheus.Gauge
	emptyClusters prometheus.Gauge
	checkpoints   *prometheus.CounterVec
	ckptBytes     prometheus.Counter
	extractions   *prometheus.CounterVec
	extractTime   prometheus.Histogram
	frames        prometheus.Counter
	quantized     *prometheus.CounterVec
	tokens        prometheus.Counter
}

// NewPrometheus creates a collector registered on its own registry under namespace.
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "speechunit"
	}
	p := &Prometheus{
		reg: prometheus.NewRegistry(),
		iterLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kmeans_iteration_seconds",
			Help:      "Wall time of one full k-means pass.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kmeans_iterations_total",
			Help:      "Completed k-means passes.",
		}),
		items: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kmeans_items",
			Help:      "Points assigned in the last pass.",
		}),
		lastDiff: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kmeans_last_diff",
			Help:      "Largest centroid movement in the last pass.",
		}),
		emptyClusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kmeans_empty_clusters",
			Help:      "Clusters without points in the last pass.",
		}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Checkpoint saves by result.",
		}, []string{"result"}),
		ckptBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_bytes_total",
			Help:      "Bytes written to checkpoints.",
		}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Feature source calls by result.",
		}, []string{"result"}),
		extractTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extraction_seconds",
			Help:      "Feature source latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extracted_frames_total",
			Help:      "Frames produced by the feature source.",
		}),
		quantized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quantized_files_total",
			Help:      "Quantized files by backend and result.",
		}, []string{"backend", "result"}),
		tokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quantized_tokens_total",
			Help:      "Unit tokens emitted.",
		}),
	}

	p.reg.MustRegister(
		p.iterLatency, p.iterations, p.items, p.lastDiff, p.emptyClusters,
		p.checkpoints, p.ckptBytes, p.extractions, p.extractTime, p.frames,
		p.quantized, p.tokens,
	)
	return p
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.reg }

// Handler returns an HTTP handler serving the registry.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is canceled.
func (p *Prometheus) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", p.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RecordIteration implements Collector.
func (p *Prometheus) RecordIteration(_ int, duration time.Duration, items int64, lastDiff float64, empty int) {
	p.iterations.Inc()
	p.iterLatency.Observe(duration.Seconds())
	p.items.Set(float64(items))
	p.lastDiff.Set(lastDiff)
	p.emptyClusters.Set(float64(empty))
}

// RecordCheckpoint implements Collector.
func (p *Prometheus) RecordCheckpoint(_ time.Duration, bytes int, err error) {
	if err != nil {
		p.checkpoints.WithLabelValues("error").Inc()
		return
	}
	p.checkpoints.WithLabelValues("ok").Inc()
	p.ckptBytes.Add(float64(bytes))
}

// RecordExtraction implements Collector.
func (p *Prometheus) RecordExtraction(duration time.Duration, frames int, err error) {
	p.extractTime.Observe(duration.Seconds())
	if err != nil {
		p.extractions.WithLabelValues("error").Inc()
		return
	}
	p.extractions.WithLabelValues("ok").Inc()
	p.frames.Add(float64(frames))
}

// RecordQuantize implements Collector.
func (p *Prometheus) RecordQuantize(_ time.Duration, tokens int, backend string, err error) {
	if err != nil {
		p.quantized.WithLabelValues(backend, "error").Inc()
		return
	}
	p.quantized.WithLabelValues(backend, "ok").Inc()
	p.tokens.Add(float64(tokens))
}
