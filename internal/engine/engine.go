package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creatorhq/mentions-sync/internal/config"
	"github.com/creatorhq/mentions-sync/internal/mapper"
	"github.com/creatorhq/mentions-sync/internal/models"
	"github.com/creatorhq/mentions-sync/internal/notify"
	"github.com/creatorhq/mentions-sync/internal/query"
	"github.com/creatorhq/mentions-sync/internal/realtime"
	"github.com/creatorhq/mentions-sync/internal/stats"
	"github.com/creatorhq/mentions-sync/internal/store"
	"github.com/sirupsen/logrus"
)

// responsesTable is where the favorite flag physically lives, reached
// from a mention through its linked response row.
const responsesTable = "responses"

// favoriteFallbackProc is the alternate write path used when the
// post-write verification read disagrees with the primary update.
const favoriteFallbackProc = "set_response_favorite"

// Engine keeps the local mention view synchronized against the remote
// row store and the change-feed. Committed state has a single writer
// (the fetch cycle commit); the favorite toggle is the only other
// writer and only to one record's favorite flag, always superseded by
// the next full commit.
type Engine struct {
	cfg      *config.Config
	store    store.StoreInterface
	feed     realtime.FeedInterface
	notifier notify.NotifierInterface

	// token is the monotonically increasing request token. A cycle
	// whose token is no longer the latest at commit time is discarded:
	// last issued wins, regardless of completion order.
	token atomic.Uint64

	mu          sync.Mutex
	tab         models.Tab
	timeframe   models.Timeframe
	loading     bool
	lastErr     error
	records     []models.Mention
	stats       models.Stats
	performance []models.PerformanceBucket
	pagination  *Pagination
	retry       *RetryCoordinator
	inflight    map[string]struct{}
	sub         realtime.Subscription
}

// PaginationSnapshot is the pagination slice of a state snapshot.
type PaginationSnapshot struct {
	CurrentPage  int `json:"current_page"`
	TotalPages   int `json:"total_pages"`
	TotalItems   int `json:"total_items"`
	ItemsPerPage int `json:"items_per_page"`
}

// Snapshot is the engine surface handed to the UI and the HTTP layer.
// EmptyMessage carries the contextual per-tab empty-state text when
// the view has no records and no error.
type Snapshot struct {
	Loading      bool                       `json:"loading"`
	Error        string                     `json:"error,omitempty"`
	EmptyMessage string                     `json:"empty_message,omitempty"`
	Tab          models.Tab                 `json:"tab"`
	Timeframe    models.Timeframe           `json:"timeframe"`
	Records      []models.Mention           `json:"records"`
	Stats        models.Stats               `json:"stats"`
	Performance  []models.PerformanceBucket `json:"performance"`
	Pagination   PaginationSnapshot         `json:"pagination"`
}

// New creates an engine. feed and notifier may be nil; the engine then
// runs without push-based resync or failure notices.
func New(cfg *config.Config, st store.StoreInterface, feed realtime.FeedInterface, notifier notify.NotifierInterface) *Engine {
	return &Engine{
		cfg:        cfg,
		store:      st,
		feed:       feed,
		notifier:   notifier,
		tab:        models.TabPosted,
		timeframe:  models.Timeframe(cfg.Timeframe),
		pagination: NewPagination(cfg.ItemsPerPage),
		retry:      NewRetryCoordinator(cfg.MaxRetries),
		inflight:   make(map[string]struct{}),
	}
}

// Start runs the initial fetch cycle and establishes the change-feed
// subscription.
func (e *Engine) Start(ctx context.Context) error {
	e.resubscribe()
	return e.Refresh(ctx)
}

// Close tears down the change-feed subscription.
func (e *Engine) Close() {
	e.mu.Lock()
	sub := e.sub
	e.sub = nil
	e.mu.Unlock()

	if sub != nil {
		if err := sub.Close(); err != nil {
			logrus.Errorf("Failed to close change-feed subscription: %v", err)
		}
	}
}

// Snapshot returns a copy of the committed state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	errMsg := ""
	if e.lastErr != nil {
		errMsg = e.lastErr.Error()
	}

	records := make([]models.Mention, len(e.records))
	copy(records, e.records)
	performance := make([]models.PerformanceBucket, len(e.performance))
	copy(performance, e.performance)

	empty := ""
	if len(e.records) == 0 && e.lastErr == nil && !e.loading && !e.retry.Retrying() {
		empty = emptyMessage(e.tab)
	}

	return Snapshot{
		Loading:      e.loading,
		Error:        errMsg,
		EmptyMessage: empty,
		Tab:          e.tab,
		Timeframe:    e.timeframe,
		Records:      records,
		Stats:        e.stats,
		Performance:  performance,
		Pagination: PaginationSnapshot{
			CurrentPage:  e.pagination.CurrentPage(),
			TotalPages:   e.pagination.TotalPages(),
			TotalItems:   e.pagination.TotalItems(),
			ItemsPerPage: e.pagination.ItemsPerPage(),
		},
	}
}

// SetTab switches the active tab, resets the page and retry budget,
// resubscribes the feed and refetches.
func (e *Engine) SetTab(ctx context.Context, tab models.Tab) error {
	if !tab.Valid() {
		return fmt.Errorf("unknown tab %q", tab)
	}

	e.mu.Lock()
	if e.tab == tab {
		e.mu.Unlock()
		return nil
	}
	e.tab = tab
	e.pagination.GoToPage(1)
	e.retry.Reset()
	e.mu.Unlock()

	e.resubscribe()
	return e.Refresh(ctx)
}

// SetTimeframe switches the stats window, resubscribes and refetches.
func (e *Engine) SetTimeframe(ctx context.Context, tf models.Timeframe) error {
	e.mu.Lock()
	if e.timeframe == tf {
		e.mu.Unlock()
		return nil
	}
	e.timeframe = tf
	e.mu.Unlock()

	e.resubscribe()
	return e.Refresh(ctx)
}

// GoToPage jumps to page n (clamped) and refetches.
func (e *Engine) GoToPage(ctx context.Context, n int) error {
	return e.changePage(ctx, func(p *Pagination) { p.GoToPage(n) })
}

// NextPage advances one page; a no-op on the last page.
func (e *Engine) NextPage(ctx context.Context) error {
	return e.changePage(ctx, func(p *Pagination) { p.Next() })
}

// PrevPage goes back one page; a no-op on page 1.
func (e *Engine) PrevPage(ctx context.Context) error {
	return e.changePage(ctx, func(p *Pagination) { p.Prev() })
}

func (e *Engine) changePage(ctx context.Context, move func(*Pagination)) error {
	e.mu.Lock()
	before := e.pagination.CurrentPage()
	move(e.pagination)
	changed := e.pagination.CurrentPage() != before
	if changed {
		e.retry.Reset()
	}
	e.mu.Unlock()

	if !changed {
		return nil
	}

	e.resubscribe()
	return e.Refresh(ctx)
}

// Refresh issues a new fetch cycle with a fresh request token.
func (e *Engine) Refresh(ctx context.Context) error {
	return e.runCycle(ctx, e.token.Add(1))
}

// runCycle runs one read cycle end-to-end: build the query, fetch the
// page and the independent count, map, aggregate, then commit unless a
// newer cycle superseded this one in the meantime.
func (e *Engine) runCycle(ctx context.Context, token uint64) error {
	e.mu.Lock()
	params := query.Params{
		ProjectID: e.cfg.ProjectID,
		Tab:       e.tab,
		Page:      e.pagination.CurrentPage(),
		PageSize:  e.pagination.ItemsPerPage(),
	}
	tf := e.timeframe
	if token == e.token.Load() {
		e.loading = true
	}
	e.mu.Unlock()

	q, ok := query.Build(params)
	if !ok {
		// No project selected; nothing to fetch.
		e.mu.Lock()
		e.loading = false
		e.mu.Unlock()
		return nil
	}

	rows, err := e.store.Select(ctx, q)
	if err != nil {
		return e.failCycle(token, err)
	}

	page := mapper.MapAll(rows)

	var total int
	if q.Unpaginated {
		// Favorites: the whole set came back, paginate client-side.
		total = len(page)
		page = slicePage(page, params.Page, params.PageSize)
	} else {
		total, err = e.store.Count(ctx, q)
		if err != nil {
			return e.failCycle(token, err)
		}
	}

	all, err := e.fetchAllForStats(ctx, params.ProjectID)
	if err != nil {
		return e.failCycle(token, err)
	}

	aggregated := stats.Aggregate(all)
	now := time.Now()
	windowStart := now.AddDate(0, 0, -(tf.Days() - 1))
	performance := stats.AggregatePerformance(all, windowStart, now)

	e.mu.Lock()
	if token != e.token.Load() {
		// A newer cycle superseded this one; discard silently.
		e.mu.Unlock()
		logrus.Debugf("Discarding stale fetch cycle (token %d)", token)
		return nil
	}

	e.records = page
	e.pagination.SetTotalItems(total)
	e.stats = aggregated
	e.performance = performance
	e.loading = false
	e.lastErr = nil

	// Evaluate against the page the query was issued for, not the
	// possibly clamped current page: a count that shrank below the
	// issued page must reset to page 1 without consuming an attempt.
	action := e.retry.Evaluate(len(page), total, params.Page)
	attempts := e.retry.Attempts()
	e.mu.Unlock()

	switch action {
	case RetryResetPage:
		logrus.Infof("Empty page with %d total items, jumping back to page 1", total)
		e.mu.Lock()
		e.pagination.GoToPage(1)
		e.mu.Unlock()
		return e.runCycle(ctx, e.token.Add(1))
	case RetryAfterDelay:
		logrus.Infof("Empty page anomaly on page 1 (%d total items), retry %d/%d in %v",
			total, attempts, e.cfg.MaxRetries, e.cfg.RetryDelay)
		time.AfterFunc(e.cfg.RetryDelay, func() {
			if err := e.Refresh(context.Background()); err != nil {
				logrus.Errorf("Delayed refetch failed: %v", err)
			}
		})
	case RetryGiveUp:
		logrus.Warnf("Giving up on empty page anomaly after %d attempts, showing empty view", e.cfg.MaxRetries)
	}

	return nil
}

// fetchAllForStats runs the unpaginated all-mentions query feeding the
// stats pass.
func (e *Engine) fetchAllForStats(ctx context.Context, projectID string) ([]models.Mention, error) {
	q, ok := query.BuildStats(projectID)
	if !ok {
		return nil, nil
	}

	rows, err := e.store.Select(ctx, q)
	if err != nil {
		return nil, err
	}

	return mapper.MapAll(rows), nil
}

// failCycle records a load error unless the cycle is already stale.
func (e *Engine) failCycle(token uint64, err error) error {
	loadErr := &LoadError{Err: err}

	e.mu.Lock()
	stale := token != e.token.Load()
	if !stale {
		e.loading = false
		e.lastErr = loadErr
	}
	e.mu.Unlock()

	if stale {
		logrus.Debugf("Ignoring failure of stale fetch cycle (token %d): %v", token, err)
		return nil
	}

	logrus.Errorf("Fetch cycle failed: %v", err)
	e.alert("Mentions sync load failure", loadErr.Error())
	return loadErr
}

// ToggleFavorite flips a mention's favorite flag optimistically, then
// persists it on the linked response row, verifies the write, and rolls
// the local flip back when persistence fails. A toggle in flight for a
// mention blocks re-entry for that mention until it resolves; a hard
// timeout clears the marker even if a response is lost.
func (e *Engine) ToggleFavorite(ctx context.Context, id string) error {
	e.mu.Lock()
	idx := e.findLocked(id)
	if idx < 0 {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownMention, id)
	}
	if _, busy := e.inflight[id]; busy {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrToggleInFlight, id)
	}
	e.inflight[id] = struct{}{}

	prev := e.records[idx].Favorite
	next := !prev
	targetID := e.records[idx].Response.TargetID
	e.records[idx].Favorite = next
	e.mu.Unlock()

	timeout := time.AfterFunc(e.cfg.ToggleTimeout, func() {
		e.mu.Lock()
		if _, still := e.inflight[id]; still {
			delete(e.inflight, id)
			logrus.Warnf("Favorite toggle for mention %s timed out, clearing in-flight marker", id)
		}
		e.mu.Unlock()
	})

	settle := func() {
		timeout.Stop()
		e.mu.Lock()
		delete(e.inflight, id)
		e.mu.Unlock()
	}

	rollback := func() {
		e.mu.Lock()
		if i := e.findLocked(id); i >= 0 {
			e.records[i].Favorite = prev
		}
		e.mu.Unlock()
	}

	if targetID == "" {
		rollback()
		settle()
		return fmt.Errorf("%w: mention %s", ErrNoLinkedTarget, id)
	}

	_, err := e.store.Update(ctx, responsesTable, "id", targetID, map[string]interface{}{
		"is_favorite": next,
	})
	if err != nil {
		rollback()
		settle()
		mutErr := &MutationError{MentionID: id, Err: err}
		logrus.Errorf("Favorite toggle rolled back: %v", mutErr)
		e.alert("Favorite toggle failed", mutErr.Error())
		return mutErr
	}

	// The write nominally succeeded; verify it landed. A mismatch gets
	// one alternate write path and is otherwise left to the next
	// refetch to reconcile. The UI is not rolled back here.
	e.verifyFavorite(ctx, id, targetID, next)

	settle()
	return nil
}

func (e *Engine) verifyFavorite(ctx context.Context, id, targetID string, want bool) {
	rows, err := e.store.Select(ctx, store.Query{
		Table:       responsesTable,
		Filters:     []store.Filter{{Column: "id", Value: targetID}},
		Unpaginated: true,
	})
	if err != nil {
		logrus.Errorf("Favorite verification read failed for mention %s: %v", id, err)
		return
	}
	if len(rows) == 0 {
		logrus.Warnf("Favorite verification found no response row %s", targetID)
		return
	}

	var row struct {
		IsFavorite bool `json:"is_favorite"`
	}
	if err := json.Unmarshal(rows[0], &row); err != nil {
		logrus.Errorf("Favorite verification row for %s is undecodable: %v", targetID, err)
		return
	}

	if row.IsFavorite == want {
		return
	}

	logrus.Warnf("Favorite verification mismatch for mention %s (want %v), trying fallback procedure", id, want)
	if _, err := e.store.Invoke(ctx, favoriteFallbackProc, map[string]interface{}{
		"response_id": targetID,
		"favorite":    want,
	}); err != nil {
		logrus.Errorf("Favorite fallback procedure failed for mention %s: %v", id, err)
	}
}

// resubscribe tears down the current change-feed subscription and
// establishes a new one scoped to the current filter generation. The
// old channel is always closed before the new one is joined.
func (e *Engine) resubscribe() {
	if e.feed == nil || e.cfg.ProjectID == "" {
		return
	}

	e.mu.Lock()
	old := e.sub
	e.sub = nil
	channel := fmt.Sprintf("mentions:%s:%s:p%d:%s", e.cfg.ProjectID, e.tab, e.pagination.CurrentPage(), e.timeframe)
	e.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			logrus.Errorf("Failed to close superseded subscription: %v", err)
		}
	}

	sub, err := e.feed.Subscribe(realtime.Options{
		Channel: channel,
		Schema:  e.cfg.StoreSchema,
		Table:   "comments",
		Filter:  "project_id=eq." + e.cfg.ProjectID,
	}, func(ev realtime.Event) {
		logrus.Debugf("Change-feed event %s on %s, refetching", ev.Type, ev.Table)
		go func() {
			if err := e.Refresh(context.Background()); err != nil {
				logrus.Errorf("Change-feed triggered refetch failed: %v", err)
			}
		}()
	})
	if err != nil {
		logrus.Errorf("Failed to subscribe to change-feed: %v", err)
		return
	}

	e.mu.Lock()
	e.sub = sub
	e.mu.Unlock()
}

// alert sends a failure notice without blocking the caller.
func (e *Engine) alert(subject, body string) {
	if e.notifier == nil {
		return
	}
	go func() {
		if err := e.notifier.SendAlert(subject, body); err != nil {
			logrus.Errorf("Failed to send alert %q: %v", subject, err)
		}
	}()
}

// findLocked returns the index of a mention in the committed records.
// Caller holds e.mu.
func (e *Engine) findLocked(id string) int {
	for i := range e.records {
		if e.records[i].ID == id {
			return i
		}
	}
	return -1
}

// slicePage applies client-side pagination over a full result set.
func slicePage(records []models.Mention, page, pageSize int) []models.Mention {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start > len(records) {
		start = len(records)
	}
	end := start + pageSize
	if end > len(records) {
		end = len(records)
	}
	return records[start:end]
}

// emptyMessage picks the empty-state text shown when a tab settles with
// no records and no error.
func emptyMessage(tab models.Tab) string {
	switch tab {
	case models.TabScheduled:
		return "No scheduled responses yet"
	case models.TabPosted:
		return "No posted responses yet"
	case models.TabFavorites:
		return "No favorites yet"
	default:
		return "No mentions yet"
	}
}
