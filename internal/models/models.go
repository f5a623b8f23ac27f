package models

import "time"

// Tab selects which subset of mentions is active in the paginated view.
type Tab string

const (
	TabAll       Tab = "all"
	TabScheduled Tab = "scheduled"
	TabPosted    Tab = "posted"
	TabFavorites Tab = "favorites"
)

// Valid reports whether t is one of the known tabs.
func (t Tab) Valid() bool {
	switch t {
	case TabAll, TabScheduled, TabPosted, TabFavorites:
		return true
	}
	return false
}

// ResponseStatus is the lifecycle state of a drafted response.
type ResponseStatus string

const (
	StatusPosted    ResponseStatus = "posted"
	StatusScheduled ResponseStatus = "scheduled"
	StatusDraft     ResponseStatus = "draft"
	StatusNew       ResponseStatus = "new"
)

// Video is a denormalized snapshot of the video a comment was left on.
// Read-only from the engine's perspective.
type Video struct {
	ID           string `json:"id"`
	ExternalID   string `json:"external_id"`
	ThumbnailURL string `json:"thumbnail_url"`
	Title        string `json:"title"`
	ViewCount    int64  `json:"view_count"`
	LikeCount    int64  `json:"like_count"`
	Channel      string `json:"channel"`
}

// Comment is the inbound comment half of a mention.
type Comment struct {
	Author      string `json:"author"`
	PublishedAt string `json:"published_at"` // raw value from the store
	Published   string `json:"published"`    // normalized display form
	Text        string `json:"text"`
	LikeCount   int    `json:"like_count"`
	Rationale   string `json:"rationale,omitempty"`
}

// Response is the drafted/scheduled/posted reply half of a mention.
// The favorite flag is physically stored on this row, reached from the
// mention by TargetID.
type Response struct {
	TargetID    string         `json:"target_id"`
	Text        string         `json:"text"`
	PublishedAt string         `json:"published_at,omitempty"` // raw, empty when not yet posted
	Published   string         `json:"published,omitempty"`    // normalized display form
	Status      ResponseStatus `json:"status"`
	Rationale   string         `json:"rationale,omitempty"`
}

// Mention is one comment/response pair tied to a video, the primary
// record type of the engine. Favorite is the only field the engine
// mutates; everything else is replaced wholesale on each fetch cycle.
type Mention struct {
	ID        string   `json:"id"`
	Video     Video    `json:"video"`
	Category  string   `json:"category"` // derived from the upstream classification code
	Score     float64  `json:"score"`    // quality/priority score in [0,100]
	Comment   Comment  `json:"comment"`
	Response  Response `json:"response"`
	Favorite  bool     `json:"favorite"`
	Responded bool     `json:"responded"` // derived presence-of-response indicator
}

// Stats is the aggregate summary over a record set. Trend deltas stay
// zero until a real historical baseline is wired in.
type Stats struct {
	TotalMentions     int     `json:"total_mentions"`
	RespondedMentions int     `json:"responded_mentions"`
	PendingResponses  int     `json:"pending_responses"`
	ResponseRate      float64 `json:"response_rate"` // percent
	TotalTrend        float64 `json:"total_trend"`
	RespondedTrend    float64 `json:"responded_trend"`
	PendingTrend      float64 `json:"pending_trend"`
	ResponseRateTrend float64 `json:"response_rate_trend"`
}

// PerformanceBucket is the per-day activity rollup in the active window.
type PerformanceBucket struct {
	Day           time.Time `json:"day"`
	MentionCount  int       `json:"mention_count"`
	ResponseCount int       `json:"response_count"`
	LEDCount      int       `json:"led_count"`
	BrandCount    int       `json:"brand_count"`
}

// Timeframe is the active stats window.
type Timeframe string

const (
	Timeframe7d  Timeframe = "7d"
	Timeframe30d Timeframe = "30d"
	Timeframe90d Timeframe = "90d"
)

// Days returns the window length, defaulting to 30 days for unknown values.
func (t Timeframe) Days() int {
	switch t {
	case Timeframe7d:
		return 7
	case Timeframe90d:
		return 90
	default:
		return 30
	}
}
