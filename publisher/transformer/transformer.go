// Package transformer provides implementations of the publisher.Transformer
// interface for the formats a sink can be configured with.
package transformer

import (
	"encoding/json"
	"fmt"

	"github.com/maxpert/ripple/encoding"
	"github.com/maxpert/ripple/publisher"
)

func init() {
	publisher.RegisterTransformer("msgpack", func() publisher.Transformer {
		return NewMsgpackTransformer()
	})
	publisher.RegisterTransformer("json", func() publisher.Transformer {
		return NewJSONTransformer()
	})
}

// MsgpackTransformer encodes records with the shared msgpack encoding, so
// entity fields are keyed by their column names.
type MsgpackTransformer struct{}

// NewMsgpackTransformer creates a msgpack transformer
func NewMsgpackTransformer() *MsgpackTransformer {
	return &MsgpackTransformer{}
}

// Transform encodes rec as msgpack
func (m *MsgpackTransformer) Transform(rec publisher.Record) ([]byte, error) {
	data, err := encoding.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal msgpack: %w", err)
	}
	return data, nil
}

// Tombstone returns nil, the delete marker for compacted topics
func (m *MsgpackTransformer) Tombstone(string) []byte {
	return nil
}

// JSONTransformer encodes records as JSON objects
type JSONTransformer struct{}

// NewJSONTransformer creates a JSON transformer
func NewJSONTransformer() *JSONTransformer {
	return &JSONTransformer{}
}

// Transform encodes rec as JSON
func (j *JSONTransformer) Transform(rec publisher.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// Tombstone returns nil, the delete marker for compacted topics
func (j *JSONTransformer) Tombstone(string) []byte {
	return nil
}
