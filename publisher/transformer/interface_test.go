package transformer

import (
	"encoding/json"
	"testing"

	"github.com/maxpert/ripple/change"
	"github.com/maxpert/ripple/encoding"
	"github.com/maxpert/ripple/hlc"
	"github.com/maxpert/ripple/publisher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ publisher.Transformer = (*MsgpackTransformer)(nil)
	_ publisher.Transformer = (*JSONTransformer)(nil)
)

type user struct {
	ID   int64  `db:"_id,pk" json:"id"`
	Name string `db:"name" json:"name"`
}

func testRecord(t *testing.T) publisher.Record {
	t.Helper()
	ev, err := change.NewUpdate(&user{ID: 7, Name: "Alice"}, change.WithTable("users"), change.WithID(7))
	require.NoError(t, err)
	return publisher.NewRecord(ev, hlc.Timestamp{WallMS: 1700000000000, Logical: 1, NodeID: 42})
}

func TestMsgpackTransform(t *testing.T) {
	data, err := NewMsgpackTransformer().Transform(testRecord(t))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, encoding.Unmarshal(data, &decoded))

	assert.Equal(t, "update", decoded["kind"])
	assert.Equal(t, "users", decoded["table"])
	assert.EqualValues(t, 7, decoded["id"])
	assert.EqualValues(t, 42, decoded["node"])
	assert.EqualValues(t, 1700000000000, decoded["ts"])
	assert.NotZero(t, decoded["seq"])
	assert.Equal(t, "*transformer.user", decoded["type"])

	entity, ok := decoded["entity"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", entity["name"])
}

func TestJSONTransform(t *testing.T) {
	data, err := NewJSONTransformer().Transform(testRecord(t))
	require.NoError(t, err)

	var decoded struct {
		Kind   string `json:"kind"`
		Table  string `json:"table"`
		ID     int64  `json:"id"`
		Node   uint64 `json:"node"`
		Entity user   `json:"entity"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "update", decoded.Kind)
	assert.Equal(t, "users", decoded.Table)
	assert.Equal(t, int64(7), decoded.ID)
	assert.Equal(t, uint64(42), decoded.Node)
	assert.Equal(t, user{ID: 7, Name: "Alice"}, decoded.Entity)
}

func TestCompressedRoundTrip(t *testing.T) {
	plain, err := NewJSONTransformer().Transform(testRecord(t))
	require.NoError(t, err)

	compressed, err := publisher.Compressed(NewJSONTransformer()).Transform(testRecord(t))
	require.NoError(t, err)
	assert.NotEqual(t, plain, compressed)

	restored, err := publisher.Decompress(compressed)
	require.NoError(t, err)
	assert.JSONEq(t, string(plain), string(restored))
}

func TestTombstonesAreNil(t *testing.T) {
	assert.Nil(t, NewMsgpackTransformer().Tombstone("1"))
	assert.Nil(t, NewJSONTransformer().Tombstone("1"))
	assert.Nil(t, publisher.Compressed(NewMsgpackTransformer()).Tombstone("1"))
}
