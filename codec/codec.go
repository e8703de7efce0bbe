// Package codec centralizes JSON encoding of checkpoint metadata and argument
// snapshots.
//
// Checkpoints record the codec name in their header, so files written with one
// codec remain readable after the default changes.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// ID is the one-byte codec identifier stored in binary headers.
type ID uint8

const (
	IDJSON   ID = 1
	IDGoJSON ID = 2
)

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// ByID returns a built-in codec by its header identifier.
func ByID(id ID) (Codec, bool) {
	switch id {
	case IDJSON:
		return JSON{}, true
	case IDGoJSON:
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// IDOf returns the header identifier of a built-in codec.
func IDOf(c Codec) (ID, error) {
	switch c.Name() {
	case "json":
		return IDJSON, nil
	case "go-json":
		return IDGoJSON, nil
	default:
		return 0, fmt.Errorf("codec %q has no header id", c.Name())
	}
}

// MarshalIndent encodes v with c and indents the result for human readers.
func MarshalIndent(c Codec, v any) ([]byte, error) {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec %s marshal failed: %w", c.Name(), err)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, b, "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
