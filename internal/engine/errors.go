package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLinkedTarget means a mention has no linked response row to
	// store the favorite flag on.
	ErrNoLinkedTarget = errors.New("mention has no linked response target")

	// ErrToggleInFlight means a favorite toggle for the same mention
	// has not resolved yet.
	ErrToggleInFlight = errors.New("favorite toggle already in flight")

	// ErrUnknownMention means the mention id is not in the committed
	// record set.
	ErrUnknownMention = errors.New("unknown mention")
)

// LoadError is a transport or query failure during a fetch cycle. It is
// surfaced as a user-visible error state and never retried
// automatically; retries are reserved for the empty-page anomaly.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load mentions: %v", e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// MutationError is a failed persisted write for a favorite toggle. The
// optimistic local flip has already been rolled back when it is
// returned.
type MutationError struct {
	MentionID string
	Err       error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("failed to persist favorite for mention %s: %v", e.MentionID, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}
