package realtime

import "encoding/json"

// Event is one change notification from the feed. The payload is kept
// opaque: the engine reconciles by refetching, never by patching state
// from the event body.
type Event struct {
	Type    string          // "INSERT", "UPDATE" or "DELETE"
	Table   string
	Payload json.RawMessage
}

// Handler receives feed events. It is called from the feed's read
// loop and must not block.
type Handler func(Event)

// Options scope a subscription to one table slice.
type Options struct {
	Channel string // unique channel name, one per filter generation
	Schema  string
	Table   string
	Filter  string // e.g. "project_id=eq.<id>"
}

// Subscription is one live channel. Close tears it down; a feed client
// never keeps two subscriptions for the same consumer alive at once.
type Subscription interface {
	Close() error
}

// FeedInterface is the push-based change-feed consumed by the engine.
type FeedInterface interface {
	Subscribe(opts Options, handler Handler) (Subscription, error)
}
