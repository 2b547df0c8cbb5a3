package publisher

// Record is the payload published for a single change event
type Record struct {
	Kind   string `db:"kind" json:"kind"`     // insert, update or delete
	Table  string `db:"table" json:"table"`   // Source table
	ID     int64  `db:"id" json:"id"`         // Row identifier
	Type   string `db:"type" json:"type"`     // Go type of the entity
	Entity any    `db:"entity" json:"entity"` // Entity as stored
	Node   uint64 `db:"node" json:"node"`     // Originating node
	TS     int64  `db:"ts" json:"ts"`         // Event time (unix ms)
	Seq    uint64 `db:"seq" json:"seq"`       // HLC sequence, unique per node
}

// Message is an encoded record ready for a sink
type Message struct {
	Topic string
	Key   string
	Value []byte
}

// Sink represents a destination for change events (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends a message to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer converts records to sink-specific formats
type Transformer interface {
	// Transform converts a record to bytes for publishing
	Transform(rec Record) ([]byte, error)
	// Tombstone creates a tombstone/delete marker for the given key
	Tombstone(key string) []byte
}
