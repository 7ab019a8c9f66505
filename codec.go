package tablesession

import (
	"bytes"
	"encoding/gob"
	"time"
)

// Payload is the session state handed to the store. Only OriginalMaxAge is
// read by the store itself; everything else is opaque.
type Payload struct {
	// OriginalMaxAge is the lifetime the session asked for, typically the
	// cookie max age. Zero defers to the store default.
	OriginalMaxAge time.Duration

	CreatedAt time.Time
	Values    map[string]any
}

// Codec serializes payloads to and from the bytes kept in Record.Data.
type Codec interface {
	// Encode encodes the payload into a byte slice.
	Encode(p Payload) ([]byte, error)

	// Decode decodes a byte slice produced by Encode.
	Decode(data []byte) (Payload, error)
}

// Ensure GobCodec implements Codec.
var _ Codec = GobCodec{}

// GobCodec is a Codec implementation using Go's encoding/gob. Concrete
// types stored in Values other than the predeclared ones must be registered
// with gob.Register.
type GobCodec struct{}

// Encode serializes the payload using gob encoding.
func (GobCodec) Encode(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes the payload using gob decoding.
func (GobCodec) Decode(data []byte) (Payload, error) {
	var p Payload
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&p)
	return p, err
}
