package publisher

import (
	"fmt"

	"github.com/gobwas/glob"
	"github.com/maxpert/ripple/change"
	"github.com/maxpert/ripple/notify"
)

// NewFilter builds the hub filter for a sink
// Empty patterns match everything
func NewFilter(tablePatterns, kinds []string) (notify.Filter, error) {
	filter := notify.Filter{
		Tables: make([]string, 0, len(tablePatterns)),
	}

	// Compile table patterns up front so config errors surface before Start
	for _, pattern := range tablePatterns {
		if _, err := glob.Compile(pattern); err != nil {
			return notify.Filter{}, fmt.Errorf("invalid table pattern %q: %w", pattern, err)
		}
		filter.Tables = append(filter.Tables, pattern)
	}

	parsed := make([]change.Kind, 0, len(kinds))
	for _, name := range kinds {
		k, err := change.ParseKind(name)
		if err != nil {
			return notify.Filter{}, err
		}
		parsed = append(parsed, k)
	}
	filter.Kinds = change.KindsOf(parsed...)

	return filter, nil
}
