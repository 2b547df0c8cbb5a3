// Package encoding provides centralized serialization for change payloads.
// ALL msgpack operations MUST go through this package so that entity structs
// encode with the same field names as their table columns.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
//
// Struct tags: the `db` tag used by the entity package is also the msgpack
// field name. Fields tagged `db:"-"` are skipped.
package encoding

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// StructTag is the struct tag shared with the entity mapper
const StructTag = "db"

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag(StructTag)
	enc.UseCompactInts(true)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data using loose interface decoding.
// When decoding into interface{}, strings stay Go strings instead of []byte,
// which keeps decoded rows comparable with values read back from SQLite.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag(StructTag)
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
