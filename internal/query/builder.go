package query

import (
	"github.com/creatorhq/mentions-sync/internal/models"
	"github.com/creatorhq/mentions-sync/internal/store"
)

// Table is the joined mentions view the engine reads from.
const Table = "mentions"

// Params identify one page of one tab for one project.
type Params struct {
	ProjectID string
	Tab       models.Tab
	Page      int
	PageSize  int
}

// Build constructs the store query for the given tab and page. The
// second return value is false when no fetch should be issued at all
// (no project selected yet).
//
// The favorites tab requests the entire favorite set unpaginated; the
// caller slices the page out client-side so that ordering by the
// joined comment timestamp stays consistent with the count.
func Build(p Params) (store.Query, bool) {
	if p.ProjectID == "" {
		return store.Query{}, false
	}

	page := p.Page
	if page < 1 {
		page = 1
	}

	q := store.Query{
		Table:   Table,
		Select:  "*,video:videos(*)",
		Filters: []store.Filter{{Column: "project_id", Value: p.ProjectID}},
		Offset:  (page - 1) * p.PageSize,
		Limit:   p.PageSize,
	}

	switch p.Tab {
	case models.TabScheduled:
		q.Filters = append(q.Filters, store.Filter{Column: "post_status", Value: "pending"})
		q.OrderBy = "scheduled_for"
		q.Descending = false
	case models.TabPosted:
		q.Filters = append(q.Filters, store.Filter{Column: "post_status", Value: "posted"})
		q.OrderBy = "posted_at"
		q.Descending = true
	case models.TabFavorites:
		q.Filters = append(q.Filters, store.Filter{Column: "is_favorite", Value: "true"})
		q.OrderBy = "comment_published_at"
		q.Descending = true
		q.Unpaginated = true
		q.Offset = 0
		q.Limit = 0
	default:
		// all: no extra filter, newest comments first. Only used for
		// aggregate statistics, never the primary paginated view.
		q.OrderBy = "comment_published_at"
		q.Descending = true
	}

	return q, true
}

// BuildStats constructs the unpaginated all-mentions query feeding the
// stats aggregation pass.
func BuildStats(projectID string) (store.Query, bool) {
	q, ok := Build(Params{ProjectID: projectID, Tab: models.TabAll, Page: 1, PageSize: 1})
	if !ok {
		return store.Query{}, false
	}

	q.Unpaginated = true
	q.Offset = 0
	q.Limit = 0
	return q, true
}
