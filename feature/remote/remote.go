package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/speechunit/codec"
	"github.com/hupe1980/speechunit/feature"
)

// Family names an encoder family hosted by the service.
type Family string

const (
	FamilyXLSR    Family = "xlsr"
	FamilyS3PRL   Family = "s3prl"
	FamilyWhisper Family = "whisper"
)

// ParseFamily validates a family name.
func ParseFamily(s string) (Family, error) {
	switch f := Family(strings.ToLower(s)); f {
	case FamilyXLSR, FamilyS3PRL, FamilyWhisper:
		return f, nil
	default:
		return "", fmt.Errorf("remote: unknown encoder family %q", s)
	}
}

// whisperFramesPerSecond is the whisper encoder frame rate.
const whisperFramesPerSecond = 50

// WhisperFrames returns the number of valid whisper rows for an input of
// samples 16 kHz samples.
func WhisperFrames(samples int) int {
	return int(float64(samples) / feature.SampleRate * whisperFramesPerSecond)
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	Codec      codec.Codec
	// RequestsPerSecond paces calls to the service. 0 disables pacing.
	RequestsPerSecond float64
	Burst             int
}

// Client is a feature.Source that delegates to an embedding service.
type Client struct {
	endpoint string
	family   Family
	layer    int
	opts     Options
	limiter  *rate.Limiter
}

// New returns a client for endpoint serving family at layer.
func New(endpoint string, family Family, layer int, optFns ...func(*Options)) (*Client, error) {
	if _, err := ParseFamily(string(family)); err != nil {
		return nil, err
	}
	opts := Options{
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		Codec:      codec.Default,
		Burst:      1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	c := &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		family:   family,
		layer:    layer,
		opts:     opts,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), max(opts.Burst, 1))
	}
	return c, nil
}

// Family returns the encoder family.
func (c *Client) Family() Family { return c.family }

// Layer returns the requested encoder layer.
func (c *Client) Layer() int { return c.layer }

type requestItem struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

type embedRequest struct {
	Family Family        `json:"family"`
	Layer  int           `json:"layer"`
	Items  []requestItem `json:"items"`
}

type responseItem struct {
	ID      string    `json:"id"`
	Samples int       `json:"samples"`
	Data    []float32 `json:"data"`
	Error   string    `json:"error,omitempty"`
}

type embedResponse struct {
	Dim   int            `json:"dim"`
	Items []responseItem `json:"items"`
}

// Embed requests embeddings for every item of b.
func (c *Client) Embed(ctx context.Context, b feature.Batch) (*feature.Tensor, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req := embedRequest{Family: c.family, Layer: c.layer, Items: make([]requestItem, b.Len())}
	for i := range b.Paths {
		req.Items[i] = requestItem{ID: b.IDs[i], Path: b.Paths[i]}
	}
	body, err := c.opts.Codec.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, c.batchError(b, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.batchError(b, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.batchError(b, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(raw)))
	}

	var out embedResponse
	if err := c.opts.Codec.Unmarshal(raw, &out); err != nil {
		return nil, c.batchError(b, fmt.Errorf("decode response: %w", err))
	}
	if out.Dim < 1 || len(out.Items) != b.Len() {
		return nil, c.batchError(b, fmt.Errorf("response has dim %d and %d items for %d inputs", out.Dim, len(out.Items), b.Len()))
	}

	t := feature.NewTensor(out.Dim)
	for i, item := range out.Items {
		if item.Error != "" {
			return nil, &feature.ExtractionError{ID: b.IDs[i], Path: b.Paths[i], Err: fmt.Errorf("service: %s", item.Error)}
		}
		data := item.Data
		if c.family == FamilyWhisper {
			data = data[:min(len(data), WhisperFrames(item.Samples)*out.Dim)]
		}
		if err := t.Append(data); err != nil {
			return nil, &feature.ExtractionError{ID: b.IDs[i], Path: b.Paths[i], Err: err}
		}
	}
	return t, nil
}

func (c *Client) batchError(b feature.Batch, err error) error {
	if b.Len() == 1 {
		return &feature.ExtractionError{ID: b.IDs[0], Path: b.Paths[0], Err: err}
	}
	return &feature.ExtractionError{Err: fmt.Errorf("%s layer %d, %d files: %w", c.family, c.layer, b.Len(), err)}
}
