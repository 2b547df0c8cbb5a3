// Package publisher forwards change events from a store's hub to external
// systems (NATS JetStream, Kafka).
//
// # Architecture
//
// Each configured sink gets three pieces:
//
// 1. Forwarder: a hub observer that filters, encodes and enqueues events
// 2. Queue: a bounded in-memory buffer between the publishing goroutine and the sink
// 3. Worker: drains the queue into the Sink with exponential backoff retry
//
// Events are encoded on the publishing goroutine so the payload reflects the
// entity as it was when the mutation happened. Enqueueing never blocks; when a
// queue is full the event is dropped and counted in forward_dropped_total.
// Nothing is persisted, so events pending in a queue are lost on shutdown.
//
// # Payloads
//
// Every message carries a Record:
//
//	{kind, table, id, type, entity, node, ts}
//
// encoded by the Transformer registered for the sink's format ("msgpack" or
// "json"), optionally compressed with zstd. The topic is {prefix}.{table} and
// the key is the row id. Delete events are followed by a tombstone (nil value)
// on the same key so compacted topics forget the row.
//
// # Filters
//
// Table globs and kinds narrow what a sink receives:
//
//	filter, err := NewFilter(
//		[]string{"users", "orders*"}, // table patterns
//		[]string{"insert", "delete"}, // kinds
//	)
//
// Example usage:
//
//	reg, err := NewRegistry(RegistryConfig{
//		Hub:         store.Hub(),
//		NodeID:      cfg.Config.NodeID,
//		SinkConfigs: cfg.Config.Sinks,
//	})
//	if err != nil {
//		return err
//	}
//	if err := reg.Start(); err != nil {
//		return err
//	}
//	defer reg.Stop()
package publisher
