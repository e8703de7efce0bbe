package quantize

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/speechunit/checkpoint"
	"github.com/hupe1980/speechunit/codebook"
	"github.com/hupe1980/speechunit/feature"
	"github.com/hupe1980/speechunit/metrics"
	"github.com/hupe1980/speechunit/resource"
)

type options struct {
	hostThreshold int
	resources     *resource.Controller
	metrics       metrics.Collector
	logger        *slog.Logger
	backend       *codebook.Backend
}

// Option configures a Quantizer.
type Option func(*options)

// WithHostThreshold sets the point count above which assignment always runs on
// the host backend. 0 disables the threshold.
func WithHostThreshold(n int) Option {
	return func(o *options) { o.hostThreshold = n }
}

// WithResources bounds the scratch memory of the accelerated backend.
func WithResources(rc *resource.Controller) Option {
	return func(o *options) { o.resources = rc }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(o *options) {
		if c != nil {
			o.metrics = c
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithBackend forces an assignment backend for every file.
func WithBackend(b codebook.Backend) Option {
	return func(o *options) { o.backend = &b }
}

// Quantizer assigns embeddings to a frozen codebook. It is safe for
// concurrent use.
type Quantizer struct {
	assigner *codebook.Assigner
	src      feature.Source
	opts     options
}

// New returns a quantizer for cb that embeds files with src.
func New(cb *codebook.Codebook, src feature.Source, optFns ...Option) *Quantizer {
	opts := options{
		hostThreshold: codebook.DefaultHostThreshold,
		metrics:       metrics.Noop{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Quantizer{assigner: codebook.NewAssigner(cb), src: src, opts: opts}
}

// Load reads the codebook from a checkpoint file and returns a quantizer for it.
func Load(path string, src feature.Source, optFns ...Option) (*Quantizer, *checkpoint.Checkpoint, error) {
	ck, err := checkpoint.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return New(ck.Codebook, src, optFns...), ck, nil
}

// Codebook returns the frozen codebook.
func (q *Quantizer) Codebook() *codebook.Codebook { return q.assigner.Codebook() }

// QuantizeFile embeds the file at path and returns its quantized line
// (without the ID prefix).
func (q *Quantizer) QuantizeFile(ctx context.Context, path string) (string, error) {
	start := time.Now()
	rows, dim, err := feature.EmbedFile(ctx, q.src, feature.FileID(path), path)
	if err != nil {
		q.opts.metrics.RecordQuantize(time.Since(start), 0, "", err)
		return "", err
	}

	tokens, groups, backend, err := q.Assign(rows, dim)
	if err != nil {
		q.opts.metrics.RecordQuantize(time.Since(start), 0, backend.String(), err)
		return "", err
	}
	q.opts.metrics.RecordQuantize(time.Since(start), len(tokens), backend.String(), nil)
	return FormatLine(tokens, groups), nil
}

// Assign maps rows of dimension dim to centroid indexes, dim/D per row.
// It returns the indexes, the group count and the backend that computed them.
func (q *Quantizer) Assign(rows []float32, dim int) ([]int32, int, codebook.Backend, error) {
	cb := q.assigner.Codebook()
	groups, err := cb.Groups(dim)
	if err != nil {
		return nil, 0, codebook.Host, err
	}
	if len(rows)%dim != 0 {
		return nil, 0, codebook.Host, &codebook.DimensionMismatchError{Expected: dim, Actual: len(rows)}
	}

	n := len(rows) / cb.Dim()
	backend, release := q.backend(n)
	defer release()

	if backend == codebook.Host && q.opts.logger != nil && n > q.opts.hostThreshold && q.opts.hostThreshold > 0 {
		q.opts.logger.Debug("large input, assigning on host", "points", n)
	}
	tokens, err := q.assigner.Assign(rows, nil, backend)
	if err != nil {
		return nil, 0, backend, err
	}
	return tokens, groups, backend, nil
}

func (q *Quantizer) backend(n int) (codebook.Backend, func()) {
	if q.opts.backend != nil {
		return *q.opts.backend, func() {}
	}
	return q.assigner.Choose(n, 1, q.opts.hostThreshold, q.opts.resources)
}

// FormatLine joins tokens into frames of groups indexes: groups with "-",
// frames with ",".
func FormatLine(tokens []int32, groups int) string {
	var sb strings.Builder
	sb.Grow(len(tokens) * 4)
	for i, tok := range tokens {
		if i > 0 {
			if i%groups == 0 {
				sb.WriteByte(',')
			} else {
				sb.WriteByte('-')
			}
		}
		sb.WriteString(strconv.Itoa(int(tok)))
	}
	return sb.String()
}

// ParseLine splits an output line into its ID and per-frame group indexes.
func ParseLine(line string) (string, [][]int, error) {
	id, body, ok := strings.Cut(strings.TrimRight(line, "\r\n"), "\t")
	if !ok {
		return "", nil, fmt.Errorf("quantize: line has no tab separator")
	}
	if body == "" {
		return id, nil, nil
	}
	var frames [][]int
	for _, frame := range strings.Split(body, ",") {
		parts := strings.Split(frame, "-")
		idx := make([]int, len(parts))
		for i, p := range parts {
			v, err := strconv.Atoi(p)
			if err != nil {
				return "", nil, fmt.Errorf("quantize: bad token %q: %w", p, err)
			}
			idx[i] = v
		}
		frames = append(frames, idx)
	}
	return id, frames, nil
}
