package publisher

import (
	"fmt"

	"github.com/maxpert/ripple/change"
	"github.com/maxpert/ripple/hlc"
)

// NewRecord converts a change event to its published form, stamped with ts
func NewRecord(ev change.Event, ts hlc.Timestamp) Record {
	id, _ := ev.ID()
	typ := ""
	if t := ev.EntityType(); t != nil {
		typ = t.String()
	}

	return Record{
		Kind:   ev.Kind().String(),
		Table:  ev.Table(),
		ID:     id,
		Type:   typ,
		Entity: ev.Entity(),
		Node:   ts.NodeID,
		TS:     ts.WallMS,
		Seq:    ts.Seq(),
	}
}

// buildTopic builds the topic name for a table
func buildTopic(prefix, table string) string {
	if prefix == "" {
		return table
	}
	return fmt.Sprintf("%s.%s", prefix, table)
}
