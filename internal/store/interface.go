package store

import (
	"context"
	"encoding/json"
)

// Filter is one equality predicate on a column.
type Filter struct {
	Column string
	Value  string
}

// Query describes one range-limited read against a table. Offset and
// Limit are ignored when Unpaginated is set. Select defaults to "*"
// and may name embedded relations.
type Query struct {
	Table       string
	Select      string
	Filters     []Filter
	OrderBy     string
	Descending  bool
	Offset      int
	Limit       int
	Unpaginated bool
}

// StoreInterface is the remote row store consumed by the engine.
// Count runs the same filter predicate as Select but without a row
// range; the store does not return an exact count alongside a ranged
// result, so the two are separate round trips.
type StoreInterface interface {
	Select(ctx context.Context, q Query) ([]json.RawMessage, error)
	Count(ctx context.Context, q Query) (int, error)
	Update(ctx context.Context, table, idColumn, id string, fields map[string]interface{}) (json.RawMessage, error)
	Invoke(ctx context.Context, procedure string, args map[string]interface{}) (json.RawMessage, error)
}
