package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/creatorhq/mentions-sync/internal/config"
	"github.com/creatorhq/mentions-sync/internal/mapper"
	"github.com/creatorhq/mentions-sync/internal/models"
	"github.com/creatorhq/mentions-sync/internal/query"
	"github.com/creatorhq/mentions-sync/internal/realtime"
	"github.com/creatorhq/mentions-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeStore scripts store behavior per query. The row slices a call
// returns depend on the query's range, which is why this is a
// scriptable fake rather than an argument-matched mock.
type fakeStore struct {
	selectFn func(q store.Query) ([]json.RawMessage, error)
	countFn  func(q store.Query) (int, error)
	updateFn func(table, idColumn, id string, fields map[string]interface{}) (json.RawMessage, error)
	invokeFn func(procedure string, args map[string]interface{}) (json.RawMessage, error)
}

func (f *fakeStore) Select(ctx context.Context, q store.Query) ([]json.RawMessage, error) {
	if f.selectFn == nil {
		return nil, nil
	}
	return f.selectFn(q)
}

func (f *fakeStore) Count(ctx context.Context, q store.Query) (int, error) {
	if f.countFn == nil {
		return 0, nil
	}
	return f.countFn(q)
}

func (f *fakeStore) Update(ctx context.Context, table, idColumn, id string, fields map[string]interface{}) (json.RawMessage, error) {
	if f.updateFn == nil {
		return json.RawMessage(`{}`), nil
	}
	return f.updateFn(table, idColumn, id, fields)
}

func (f *fakeStore) Invoke(ctx context.Context, procedure string, args map[string]interface{}) (json.RawMessage, error) {
	if f.invokeFn == nil {
		return nil, nil
	}
	return f.invokeFn(procedure, args)
}

// MockNotifier is a mock implementation of the notifier interface
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendAlert(subject, body string) error {
	args := m.Called(subject, body)
	return args.Error(0)
}

// fakeFeed records subscriptions handed to the engine.
type fakeFeed struct {
	mu      sync.Mutex
	subs    []*fakeSub
	handler realtime.Handler
}

type fakeSub struct {
	closed atomic.Bool
}

func (s *fakeSub) Close() error {
	s.closed.Store(true)
	return nil
}

func (f *fakeFeed) Subscribe(opts realtime.Options, handler realtime.Handler) (realtime.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub := &fakeSub{}
	f.subs = append(f.subs, sub)
	f.handler = handler
	return sub, nil
}

func (f *fakeFeed) emit(ev realtime.Event) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

func testConfig() *config.Config {
	return &config.Config{
		ProjectID:     "p1",
		ItemsPerPage:  5,
		Timeframe:     "7d",
		MaxRetries:    3,
		RetryDelay:    5 * time.Millisecond,
		ToggleTimeout: time.Second,
	}
}

// rawRow builds a store row for the mentions view.
func rawRow(id, status, responseID string, favorite bool) json.RawMessage {
	row := mapper.Row{
		ID:                 id,
		PostStatus:         status,
		ResponseID:         responseID,
		IsFavorite:         favorite,
		CommentAuthor:      "viewer-" + id,
		CommentPublishedAt: "2024-03-05T10:00:00Z",
	}
	if status == "posted" {
		row.PostedAt = "2024-03-06T09:00:00Z"
	}
	data, err := json.Marshal(row)
	if err != nil {
		panic(err)
	}
	return data
}

func postedRows(n int) []json.RawMessage {
	rows := make([]json.RawMessage, n)
	for i := range rows {
		rows[i] = rawRow(fmt.Sprintf("m%d", i+1), "posted", fmt.Sprintf("r%d", i+1), false)
	}
	return rows
}

// isStatsQuery spots the unpaginated all-mentions query feeding the
// stats pass.
func isStatsQuery(q store.Query) bool {
	return q.Table == query.Table && q.Unpaginated && len(q.Filters) == 1
}

func sliceByRange(rows []json.RawMessage, q store.Query) []json.RawMessage {
	start := q.Offset
	if start > len(rows) {
		start = len(rows)
	}
	end := start + q.Limit
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

func TestEngine_RefreshCommitsPageAndStats(t *testing.T) {
	all := postedRows(12)

	st := &fakeStore{
		selectFn: func(q store.Query) ([]json.RawMessage, error) {
			if isStatsQuery(q) {
				return all, nil
			}
			return sliceByRange(all, q), nil
		},
		countFn: func(q store.Query) (int, error) { return 12, nil },
	}

	eng := New(testConfig(), st, nil, nil)
	require.NoError(t, eng.Refresh(context.Background()))

	snap := eng.Snapshot()
	assert.False(t, snap.Loading)
	assert.Empty(t, snap.Error)
	assert.Len(t, snap.Records, 5)
	assert.Equal(t, 1, snap.Pagination.CurrentPage)
	assert.Equal(t, 12, snap.Pagination.TotalItems)
	assert.Equal(t, 3, snap.Pagination.TotalPages)

	assert.Equal(t, 12, snap.Stats.TotalMentions)
	assert.Equal(t, 12, snap.Stats.RespondedMentions)
	assert.Len(t, snap.Performance, 7)
}

func TestEngine_PostedPageThreeHasTwoRecords(t *testing.T) {
	all := postedRows(12)

	st := &fakeStore{
		selectFn: func(q store.Query) ([]json.RawMessage, error) {
			if isStatsQuery(q) {
				return all, nil
			}
			return sliceByRange(all, q), nil
		},
		countFn: func(q store.Query) (int, error) { return 12, nil },
	}

	eng := New(testConfig(), st, nil, nil)
	require.NoError(t, eng.Refresh(context.Background()))
	require.NoError(t, eng.GoToPage(context.Background(), 3))

	snap := eng.Snapshot()
	assert.Equal(t, 3, snap.Pagination.CurrentPage)
	assert.Len(t, snap.Records, 2)
	assert.Equal(t, "m11", snap.Records[0].ID)
	assert.Equal(t, "m12", snap.Records[1].ID)
}

func TestEngine_FavoritesPaginateClientSide(t *testing.T) {
	favorites := make([]json.RawMessage, 7)
	for i := range favorites {
		favorites[i] = rawRow(fmt.Sprintf("f%d", i+1), "posted", fmt.Sprintf("r%d", i+1), true)
	}

	var countCalls atomic.Int32
	st := &fakeStore{
		selectFn: func(q store.Query) ([]json.RawMessage, error) {
			if isStatsQuery(q) {
				return favorites, nil
			}
			// The favorites page query asks for the whole set.
			assert.True(t, q.Unpaginated)
			return favorites, nil
		},
		countFn: func(q store.Query) (int, error) {
			countCalls.Add(1)
			return 0, nil
		},
	}

	eng := New(testConfig(), st, nil, nil)
	require.NoError(t, eng.SetTab(context.Background(), models.TabFavorites))

	snap := eng.Snapshot()
	assert.Len(t, snap.Records, 5)
	assert.Equal(t, 7, snap.Pagination.TotalItems)
	assert.Equal(t, 2, snap.Pagination.TotalPages)

	require.NoError(t, eng.GoToPage(context.Background(), 2))
	snap = eng.Snapshot()
	assert.Len(t, snap.Records, 2)
	assert.Equal(t, "f6", snap.Records[0].ID)

	// No independent count round trip on the favorites tab.
	assert.Equal(t, int32(0), countCalls.Load())
}

func TestEngine_StaleCycleIsDiscarded(t *testing.T) {
	oldRows := []json.RawMessage{rawRow("old", "posted", "r-old", false)}
	newRows := []json.RawMessage{rawRow("new", "posted", "r-new", false)}

	firstStarted := make(chan struct{})
	release := make(chan struct{})
	var pageSelects atomic.Int32

	st := &fakeStore{
		selectFn: func(q store.Query) ([]json.RawMessage, error) {
			if isStatsQuery(q) {
				return nil, nil
			}
			if pageSelects.Add(1) == 1 {
				close(firstStarted)
				<-release // the superseding cycle finishes while this one hangs
				return oldRows, nil
			}
			return newRows, nil
		},
		countFn: func(q store.Query) (int, error) { return 1, nil },
	}

	eng := New(testConfig(), st, nil, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, eng.Refresh(context.Background()))
	}()

	<-firstStarted
	require.NoError(t, eng.Refresh(context.Background()))

	close(release)
	wg.Wait()

	// The slower, superseded cycle must not have overwritten the
	// committed state.
	snap := eng.Snapshot()
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "new", snap.Records[0].ID)
}

func TestEngine_EmptyLaterPageJumpsToPageOne(t *testing.T) {
	all := postedRows(7)

	st := &fakeStore{
		selectFn: func(q store.Query) ([]json.RawMessage, error) {
			if isStatsQuery(q) {
				return all, nil
			}
			// Later pages are anomalously empty despite the count.
			if q.Offset > 0 {
				return nil, nil
			}
			return sliceByRange(all, q), nil
		},
		countFn: func(q store.Query) (int, error) { return 7, nil },
	}

	eng := New(testConfig(), st, nil, nil)
	require.NoError(t, eng.Refresh(context.Background()))
	require.NoError(t, eng.GoToPage(context.Background(), 2))

	snap := eng.Snapshot()
	assert.Equal(t, 1, snap.Pagination.CurrentPage)
	assert.Len(t, snap.Records, 5)
	assert.Empty(t, snap.Error)
}

func TestEngine_ShrunkenCountResetsWithoutConsumingAttempt(t *testing.T) {
	var mu sync.Mutex
	all := postedRows(7)
	swap := func(rows []json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		all = rows
	}

	var pageSelects atomic.Int32
	st := &fakeStore{
		selectFn: func(q store.Query) ([]json.RawMessage, error) {
			mu.Lock()
			rows := all
			mu.Unlock()
			if isStatsQuery(q) {
				return rows, nil
			}
			pageSelects.Add(1)
			return sliceByRange(rows, q), nil
		},
		countFn: func(q store.Query) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			return len(all), nil
		},
	}

	eng := New(testConfig(), st, nil, nil)
	require.NoError(t, eng.Refresh(context.Background()))
	require.NoError(t, eng.GoToPage(context.Background(), 2))
	pageSelects.Store(0)

	// The result set shrinks below page 2 between fetches.
	swap(postedRows(3))
	require.NoError(t, eng.Refresh(context.Background()))

	// The now-empty page heals synchronously: back on page 1 with the
	// surviving records, no delayed retry pending.
	snap := eng.Snapshot()
	assert.Equal(t, 1, snap.Pagination.CurrentPage)
	assert.Len(t, snap.Records, 3)
	assert.Empty(t, snap.Error)
	assert.Equal(t, int32(2), pageSelects.Load())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), pageSelects.Load())
}

func TestEngine_PendingRetryKeepsEmptyStateInternal(t *testing.T) {
	st := &fakeStore{
		selectFn: func(q store.Query) ([]json.RawMessage, error) {
			if isStatsQuery(q) {
				return nil, nil
			}
			return nil, nil // zero-row anomaly
		},
		countFn: func(q store.Query) (int, error) { return 7, nil },
	}

	cfg := testConfig()
	cfg.RetryDelay = 250 * time.Millisecond
	eng := New(cfg, st, nil, nil)
	require.NoError(t, eng.Refresh(context.Background()))

	// A delayed refetch is pending; the view shows neither an error nor
	// the empty-state message yet.
	snap := eng.Snapshot()
	assert.Empty(t, snap.Records)
	assert.Empty(t, snap.Error)
	assert.Empty(t, snap.EmptyMessage)
}

func TestEngine_PageOneAnomalyRetriesBounded(t *testing.T) {
	var pageSelects atomic.Int32

	st := &fakeStore{
		selectFn: func(q store.Query) ([]json.RawMessage, error) {
			if isStatsQuery(q) {
				return nil, nil
			}
			pageSelects.Add(1)
			return nil, nil // stable zero-row anomaly
		},
		countFn: func(q store.Query) (int, error) { return 7, nil },
	}

	cfg := testConfig()
	cfg.MaxRetries = 2
	eng := New(cfg, st, nil, nil)
	require.NoError(t, eng.Refresh(context.Background()))

	// Initial cycle plus exactly MaxRetries delayed refetches.
	assert.Eventually(t, func() bool {
		return pageSelects.Load() == 3
	}, time.Second, 5*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), pageSelects.Load())

	// Gave up: empty view with its tab message, not an error state.
	snap := eng.Snapshot()
	assert.Empty(t, snap.Error)
	assert.Empty(t, snap.Records)
	assert.Equal(t, "No posted responses yet", snap.EmptyMessage)
}

func TestEngine_RefreshFailureSurfacesLoadError(t *testing.T) {
	broken := errors.New("connection refused")
	failing := true

	all := postedRows(2)
	st := &fakeStore{
		selectFn: func(q store.Query) ([]json.RawMessage, error) {
			if failing {
				return nil, broken
			}
			if isStatsQuery(q) {
				return all, nil
			}
			return sliceByRange(all, q), nil
		},
		countFn: func(q store.Query) (int, error) { return 2, nil },
	}

	eng := New(testConfig(), st, nil, nil)

	err := eng.Refresh(context.Background())
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.ErrorIs(t, err, broken)

	snap := eng.Snapshot()
	assert.NotEmpty(t, snap.Error)

	// A later successful cycle clears the error state.
	failing = false
	require.NoError(t, eng.Refresh(context.Background()))
	assert.Empty(t, eng.Snapshot().Error)
}

func TestEngine_NoProjectIsNoOp(t *testing.T) {
	var selects atomic.Int32
	st := &fakeStore{
		selectFn: func(q store.Query) ([]json.RawMessage, error) {
			selects.Add(1)
			return nil, nil
		},
	}

	cfg := testConfig()
	cfg.ProjectID = ""
	eng := New(cfg, st, nil, nil)

	require.NoError(t, eng.Refresh(context.Background()))
	assert.Equal(t, int32(0), selects.Load())
	assert.False(t, eng.Snapshot().Loading)
}

// seedOneMention commits a single posted mention so toggle tests have a
// record to work on.
func seedOneMention(t *testing.T, st *fakeStore, responseID string) *Engine {
	t.Helper()

	row := rawRow("m42", "posted", responseID, false)
	base := st.selectFn
	st.selectFn = func(q store.Query) ([]json.RawMessage, error) {
		if q.Table == responsesTable && base != nil {
			return base(q)
		}
		return []json.RawMessage{row}, nil
	}
	if st.countFn == nil {
		st.countFn = func(q store.Query) (int, error) { return 1, nil }
	}

	eng := New(testConfig(), st, nil, nil)
	require.NoError(t, eng.Refresh(context.Background()))
	require.Len(t, eng.Snapshot().Records, 1)
	require.False(t, eng.Snapshot().Records[0].Favorite)
	return eng
}

func TestEngine_ToggleFavorite_PersistsAndVerifies(t *testing.T) {
	var updates atomic.Int32
	var invokes atomic.Int32

	st := &fakeStore{
		selectFn: func(q store.Query) ([]json.RawMessage, error) {
			// Verification read of the linked response row.
			return []json.RawMessage{json.RawMessage(`{"id":"r42","is_favorite":true}`)}, nil
		},
		updateFn: func(table, idColumn, id string, fields map[string]interface{}) (json.RawMessage, error) {
			updates.Add(1)
			assert.Equal(t, responsesTable, table)
			assert.Equal(t, "r42", id)
			assert.Equal(t, true, fields["is_favorite"])
			return json.RawMessage(`{"id":"r42","is_favorite":true}`), nil
		},
		invokeFn: func(procedure string, args map[string]interface{}) (json.RawMessage, error) {
			invokes.Add(1)
			return nil, nil
		},
	}

	eng := seedOneMention(t, st, "r42")
	require.NoError(t, eng.ToggleFavorite(context.Background(), "m42"))

	assert.True(t, eng.Snapshot().Records[0].Favorite)
	assert.Equal(t, int32(1), updates.Load())
	assert.Equal(t, int32(0), invokes.Load())
}

func TestEngine_ToggleFavorite_NoLinkedTarget(t *testing.T) {
	eng := seedOneMention(t, &fakeStore{}, "")

	err := eng.ToggleFavorite(context.Background(), "m42")
	assert.ErrorIs(t, err, ErrNoLinkedTarget)
	assert.False(t, eng.Snapshot().Records[0].Favorite)
}

func TestEngine_ToggleFavorite_WriteFailureRollsBack(t *testing.T) {
	st := &fakeStore{
		updateFn: func(table, idColumn, id string, fields map[string]interface{}) (json.RawMessage, error) {
			return nil, errors.New("write denied")
		},
	}

	eng := seedOneMention(t, st, "r42")

	err := eng.ToggleFavorite(context.Background(), "m42")
	var mutErr *MutationError
	require.ErrorAs(t, err, &mutErr)
	assert.Equal(t, "m42", mutErr.MentionID)

	// The optimistic flip is restored to the pre-toggle value exactly.
	assert.False(t, eng.Snapshot().Records[0].Favorite)
}

func TestEngine_ToggleFavorite_WriteFailureNotifies(t *testing.T) {
	st := &fakeStore{
		updateFn: func(table, idColumn, id string, fields map[string]interface{}) (json.RawMessage, error) {
			return nil, errors.New("write denied")
		},
	}

	notifier := &MockNotifier{}
	alerted := make(chan struct{}, 1)
	notifier.On("SendAlert", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		alerted <- struct{}{}
	}).Return(nil)

	row := rawRow("m42", "posted", "r42", false)
	st.selectFn = func(q store.Query) ([]json.RawMessage, error) {
		return []json.RawMessage{row}, nil
	}
	st.countFn = func(q store.Query) (int, error) { return 1, nil }

	eng := New(testConfig(), st, nil, notifier)
	require.NoError(t, eng.Refresh(context.Background()))

	assert.Error(t, eng.ToggleFavorite(context.Background(), "m42"))

	select {
	case <-alerted:
	case <-time.After(time.Second):
		t.Fatal("expected a mutation failure alert")
	}
}

func TestEngine_ToggleFavorite_VerificationMismatchTriesFallback(t *testing.T) {
	var invokes atomic.Int32

	st := &fakeStore{
		selectFn: func(q store.Query) ([]json.RawMessage, error) {
			// Verified value disagrees with the write.
			return []json.RawMessage{json.RawMessage(`{"id":"r42","is_favorite":false}`)}, nil
		},
		updateFn: func(table, idColumn, id string, fields map[string]interface{}) (json.RawMessage, error) {
			return json.RawMessage(`{"id":"r42","is_favorite":false}`), nil
		},
		invokeFn: func(procedure string, args map[string]interface{}) (json.RawMessage, error) {
			invokes.Add(1)
			assert.Equal(t, favoriteFallbackProc, procedure)
			assert.Equal(t, "r42", args["response_id"])
			assert.Equal(t, true, args["favorite"])
			return nil, nil
		},
	}

	eng := seedOneMention(t, st, "r42")

	// Mismatch after a nominally successful write is not an error and
	// the optimistic value stays; the next refetch reconciles.
	require.NoError(t, eng.ToggleFavorite(context.Background(), "m42"))
	assert.True(t, eng.Snapshot().Records[0].Favorite)
	assert.Equal(t, int32(1), invokes.Load())
}

func TestEngine_ToggleFavorite_ReentryBlockedWhileInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	st := &fakeStore{
		updateFn: func(table, idColumn, id string, fields map[string]interface{}) (json.RawMessage, error) {
			close(entered)
			<-release
			return json.RawMessage(`{"id":"r42","is_favorite":true}`), nil
		},
	}

	eng := seedOneMention(t, st, "r42")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, eng.ToggleFavorite(context.Background(), "m42"))
	}()

	<-entered
	err := eng.ToggleFavorite(context.Background(), "m42")
	assert.ErrorIs(t, err, ErrToggleInFlight)

	close(release)
	wg.Wait()

	// Resolved: a new toggle is allowed again (it will flip back).
	assert.True(t, eng.Snapshot().Records[0].Favorite)
}

func TestEngine_ToggleFavorite_UnknownMention(t *testing.T) {
	eng := seedOneMention(t, &fakeStore{}, "r42")

	err := eng.ToggleFavorite(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownMention)
}

func TestEngine_ChangeFeedEventTriggersRefetch(t *testing.T) {
	var pageSelects atomic.Int32
	all := postedRows(2)

	st := &fakeStore{
		selectFn: func(q store.Query) ([]json.RawMessage, error) {
			if isStatsQuery(q) {
				return all, nil
			}
			pageSelects.Add(1)
			return sliceByRange(all, q), nil
		},
		countFn: func(q store.Query) (int, error) { return 2, nil },
	}

	feed := &fakeFeed{}
	eng := New(testConfig(), st, feed, nil)
	require.NoError(t, eng.Start(context.Background()))
	defer eng.Close()

	require.Equal(t, int32(1), pageSelects.Load())

	feed.emit(realtime.Event{Type: "INSERT", Table: "comments"})

	assert.Eventually(t, func() bool {
		return pageSelects.Load() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestEngine_FilterChangeResubscribes(t *testing.T) {
	all := postedRows(12)
	st := &fakeStore{
		selectFn: func(q store.Query) ([]json.RawMessage, error) {
			if isStatsQuery(q) {
				return all, nil
			}
			if q.Unpaginated {
				return all, nil
			}
			return sliceByRange(all, q), nil
		},
		countFn: func(q store.Query) (int, error) { return 12, nil },
	}

	feed := &fakeFeed{}
	eng := New(testConfig(), st, feed, nil)
	require.NoError(t, eng.Start(context.Background()))
	defer eng.Close()

	require.Len(t, feed.subs, 1)

	require.NoError(t, eng.SetTab(context.Background(), models.TabScheduled))

	// The superseded subscription is torn down before the next one is
	// established; exactly one is live.
	require.Len(t, feed.subs, 2)
	assert.True(t, feed.subs[0].closed.Load())
	assert.False(t, feed.subs[1].closed.Load())
}
