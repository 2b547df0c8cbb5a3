package publisher

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdTransformer compresses the output of another transformer
type zstdTransformer struct {
	inner       Transformer
	level       zstd.EncoderLevel
	encoderPool sync.Pool
}

// Compressed wraps t so payloads are zstd compressed. Tombstones stay nil.
func Compressed(t Transformer) Transformer {
	return &zstdTransformer{inner: t, level: zstd.SpeedFastest}
}

func (z *zstdTransformer) Transform(rec Record) ([]byte, error) {
	data, err := z.inner.Transform(rec)
	if err != nil {
		return nil, err
	}

	enc, ok := z.encoderPool.Get().(*zstd.Encoder)
	if !ok {
		enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(z.level))
		if err != nil {
			return nil, err
		}
	}
	defer z.encoderPool.Put(enc)

	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (z *zstdTransformer) Tombstone(key string) []byte {
	return z.inner.Tombstone(key)
}

var decoderPool sync.Pool

// Decompress reverses Compressed for consumers of zstd sinks
func Decompress(data []byte) ([]byte, error) {
	dec, ok := decoderPool.Get().(*zstd.Decoder)
	if !ok {
		var err error
		dec, err = zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
	}
	defer decoderPool.Put(dec)

	return dec.DecodeAll(data, nil)
}
