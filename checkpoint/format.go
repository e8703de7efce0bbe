package checkpoint

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/hupe1980/speechunit/codebook"
	"github.com/hupe1980/speechunit/codec"
	"github.com/hupe1980/speechunit/internal/blockcodec"
	"github.com/hupe1980/speechunit/internal/conv"
	ihash "github.com/hupe1980/speechunit/internal/hash"
)

const (
	// Magic identifies checkpoint files (ASCII: "SUC1").
	Magic uint32 = 0x53554331
	// Version is the current file format version.
	Version uint16 = 1
	// HeaderSize is the fixed header length in bytes.
	HeaderSize = 64

	maxMetaLen = 1 << 20
)

// Meta is free-form run information stored next to the centroids.
type Meta struct {
	RunID     string    `json:"run_id"`
	Seed      int64     `json:"seed"`
	CreatedAt time.Time `json:"created_at"`
	Source    string    `json:"source,omitempty"`
	Layer     int       `json:"layer"`
}

// Checkpoint is a snapshot of training state after an iteration.
type Checkpoint struct {
	Codebook  *codebook.Codebook
	Iteration int
	LastDiff  float64
	NGroup    int
	Meta      Meta
}

// EncodeOptions controls how a checkpoint is serialized.
type EncodeOptions struct {
	Codec       codec.Codec
	Compression blockcodec.Type
}

// Marshal serializes ck.
func Marshal(ck *Checkpoint, opts EncodeOptions) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, ck, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes ck to w.
func Encode(w io.Writer, ck *Checkpoint, opts EncodeOptions) error {
	if ck == nil || ck.Codebook == nil {
		return fmt.Errorf("checkpoint: nil codebook")
	}
	c := opts.Codec
	if c == nil {
		c = codec.Default
	}
	codecID, err := codec.IDOf(c)
	if err != nil {
		return err
	}

	meta, err := c.Marshal(ck.Meta)
	if err != nil {
		return fmt.Errorf("checkpoint: encode metadata: %w", err)
	}

	data := ck.Codebook.Data()
	raw := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
	}
	payload, err := blockcodec.Encode(raw, opts.Compression)
	if err != nil {
		return fmt.Errorf("checkpoint: compress payload: %w", err)
	}

	var hdr [HeaderSize]byte
	le := binary.LittleEndian
	le.PutUint32(hdr[0:], Magic)
	le.PutUint16(hdr[4:], Version)
	hdr[6] = byte(codecID)
	hdr[7] = byte(opts.Compression)
	fields := []struct {
		off  int
		name string
		v    int
	}{
		{8, "k", ck.Codebook.K()},
		{12, "dim", ck.Codebook.Dim()},
		{16, "iteration", ck.Iteration},
		{20, "n_group", max(ck.NGroup, 1)},
		{32, "metadata length", len(meta)},
		{36, "payload length", len(payload)},
	}
	for _, f := range fields {
		v, err := conv.IntToUint32(f.name, f.v)
		if err != nil {
			return fmt.Errorf("checkpoint: %w", err)
		}
		le.PutUint32(hdr[f.off:], v)
	}
	le.PutUint64(hdr[24:], math.Float64bits(ck.LastDiff))
	le.PutUint32(hdr[40:], ihash.Sections(meta, payload))
	le.PutUint32(hdr[60:], ihash.CRC32C(hdr[:60]))

	for _, part := range [][]byte{hdr[:], meta, payload} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

// Unmarshal decodes a checkpoint from data.
func Unmarshal(data []byte) (*Checkpoint, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a checkpoint from r. Malformed input yields a *CorruptError.
func Decode(r io.Reader) (*Checkpoint, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, corrupt(errTruncated)
	}
	le := binary.LittleEndian
	if le.Uint32(hdr[0:]) != Magic {
		return nil, corrupt(errBadMagic)
	}
	if ihash.CRC32C(hdr[:60]) != le.Uint32(hdr[60:]) {
		return nil, corrupt(fmt.Errorf("header %w", errChecksum))
	}
	if v := le.Uint16(hdr[4:]); v != Version {
		return nil, corrupt(fmt.Errorf("%w: %d", errBadVersion, v))
	}

	c, ok := codec.ByID(codec.ID(hdr[6]))
	if !ok {
		return nil, corrupt(fmt.Errorf("unknown metadata codec %d", hdr[6]))
	}
	compression := blockcodec.Type(hdr[7])
	k, err := conv.Uint32ToInt("k", le.Uint32(hdr[8:]))
	if err != nil {
		return nil, corrupt(err)
	}
	dim, err := conv.Uint32ToInt("dim", le.Uint32(hdr[12:]))
	if err != nil {
		return nil, corrupt(err)
	}
	metaLen := le.Uint32(hdr[32:])
	payloadLen := le.Uint32(hdr[36:])

	if metaLen > maxMetaLen || k < 1 || dim < 1 {
		return nil, corrupt(fmt.Errorf("implausible header: k=%d dim=%d meta=%d", k, dim, metaLen))
	}

	meta := make([]byte, metaLen)
	if _, err := io.ReadFull(r, meta); err != nil {
		return nil, corrupt(errTruncated)
	}
	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, corrupt(errTruncated)
	}

	if ihash.Sections(meta, payload) != le.Uint32(hdr[40:]) {
		return nil, corrupt(fmt.Errorf("body %w", errChecksum))
	}

	ck := &Checkpoint{
		Iteration: int(le.Uint32(hdr[16:])),
		NGroup:    int(le.Uint32(hdr[20:])),
		LastDiff:  math.Float64frombits(le.Uint64(hdr[24:])),
	}
	if err := c.Unmarshal(meta, &ck.Meta); err != nil {
		return nil, corrupt(fmt.Errorf("metadata: %w", err))
	}

	raw, err := blockcodec.Decode(payload, compression)
	if err != nil {
		return nil, corrupt(fmt.Errorf("payload: %w", err))
	}
	if len(raw) != 4*k*dim {
		return nil, corrupt(fmt.Errorf("payload has %d bytes, want %d", len(raw), 4*k*dim))
	}
	values := make([]float32, k*dim)
	for i := range values {
		values[i] = math.Float32frombits(le.Uint32(raw[4*i:]))
	}
	cb, err := codebook.FromData(k, dim, values)
	if err != nil {
		return nil, corrupt(err)
	}
	ck.Codebook = cb
	return ck, nil
}

func corrupt(err error) error {
	return &CorruptError{Err: err}
}
