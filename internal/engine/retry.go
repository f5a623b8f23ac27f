package engine

// RetryAction is the follow-up a committed fetch cycle requires.
type RetryAction int

const (
	// RetryNone: nothing to do, state is Idle.
	RetryNone RetryAction = iota
	// RetryResetPage: jump back to page 1 and refetch immediately;
	// does not consume a retry attempt.
	RetryResetPage
	// RetryAfterDelay: refetch page 1 after the fixed delay; one
	// attempt has been consumed.
	RetryAfterDelay
	// RetryGiveUp: the attempt budget is exhausted; the coordinator
	// has already reset itself so a later user action retries fresh.
	RetryGiveUp
)

type retryState int

const (
	retryIdle retryState = iota
	retryRetrying
)

// RetryCoordinator reconciles the empty-page anomaly: a page-ranged
// fetch returning zero rows while the independent count is positive.
// The common cause is a stale page pointer into a now-shorter result
// set, which is healed by jumping to page 1 without spending an
// attempt; a genuinely inconsistent count gets a bounded number of
// delayed refetches.
type RetryCoordinator struct {
	state       retryState
	attempts    int
	maxAttempts int
}

// NewRetryCoordinator creates an idle coordinator with the given
// attempt budget.
func NewRetryCoordinator(maxAttempts int) *RetryCoordinator {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	return &RetryCoordinator{maxAttempts: maxAttempts}
}

// Evaluate inspects a committed cycle and decides the follow-up.
// Any cycle with rows (or a zero count, which is a legitimately empty
// view) resets the coordinator to Idle.
func (r *RetryCoordinator) Evaluate(rowCount, totalCount, currentPage int) RetryAction {
	if rowCount > 0 || totalCount == 0 {
		r.Reset()
		return RetryNone
	}

	if currentPage > 1 {
		r.state = retryRetrying
		return RetryResetPage
	}

	if r.attempts >= r.maxAttempts {
		// Exhausted. Back to Idle with a zeroed budget rather than a
		// permanent failure state.
		r.Reset()
		return RetryGiveUp
	}

	r.attempts++
	r.state = retryRetrying
	return RetryAfterDelay
}

// Reset returns to Idle with a full attempt budget. Called on any
// non-empty cycle and on every tab/page filter change.
func (r *RetryCoordinator) Reset() {
	r.state = retryIdle
	r.attempts = 0
}

// Attempts reports how many attempts the current anomaly has consumed.
func (r *RetryCoordinator) Attempts() int {
	return r.attempts
}

// Retrying reports whether an anomaly is being reconciled.
func (r *RetryCoordinator) Retrying() bool {
	return r.state == retryRetrying
}
