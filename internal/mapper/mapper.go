package mapper

import (
	"encoding/json"

	"github.com/creatorhq/mentions-sync/internal/models"
	"github.com/sirupsen/logrus"
)

// Row is the strict shape a raw store row is decoded into. Everything
// downstream of the mapper operates on models.Mention only.
type Row struct {
	ID                 string  `json:"id"`
	ClassificationCode int     `json:"classification_code"`
	Score              float64 `json:"score"`

	CommentAuthor      string `json:"comment_author"`
	CommentPublishedAt string `json:"comment_published_at"`
	CommentText        string `json:"comment_text"`
	CommentLikeCount   int    `json:"comment_like_count"`
	CommentRationale   string `json:"comment_rationale"`

	ResponseID        string `json:"response_id"`
	ResponseText      string `json:"response_text"`
	PostStatus        string `json:"post_status"`
	PostedAt          string `json:"posted_at"`
	ScheduledFor      string `json:"scheduled_for"`
	IsFavorite        bool   `json:"is_favorite"`
	ResponseRationale string `json:"response_rationale"`

	Video struct {
		ID           string `json:"id"`
		ExternalID   string `json:"external_id"`
		ThumbnailURL string `json:"thumbnail_url"`
		Title        string `json:"title"`
		ViewCount    int64  `json:"view_count"`
		LikeCount    int64  `json:"like_count"`
		Channel      string `json:"channel"`
	} `json:"video"`
}

// MapAll decodes and maps raw rows, skipping rows that fail to decode.
func MapAll(raws []json.RawMessage) []models.Mention {
	mentions := make([]models.Mention, 0, len(raws))

	for _, raw := range raws {
		var row Row
		if err := json.Unmarshal(raw, &row); err != nil {
			logrus.Debugf("Skipping undecodable mention row: %v", err)
			continue
		}
		mentions = append(mentions, Map(row))
	}

	return mentions
}

// Map transforms one decoded row into the canonical Mention shape.
// Missing fields come through as zero values; mapping never fails.
func Map(row Row) models.Mention {
	score := row.Score
	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}

	return models.Mention{
		ID: row.ID,
		Video: models.Video{
			ID:           row.Video.ID,
			ExternalID:   row.Video.ExternalID,
			ThumbnailURL: row.Video.ThumbnailURL,
			Title:        row.Video.Title,
			ViewCount:    row.Video.ViewCount,
			LikeCount:    row.Video.LikeCount,
			Channel:      row.Video.Channel,
		},
		Category: categoryLabel(row.ClassificationCode),
		Score:    score,
		Comment: models.Comment{
			Author:      row.CommentAuthor,
			PublishedAt: row.CommentPublishedAt,
			Published:   NormalizeDate(row.CommentPublishedAt),
			Text:        row.CommentText,
			LikeCount:   row.CommentLikeCount,
			Rationale:   row.CommentRationale,
		},
		Response: models.Response{
			TargetID:    row.ResponseID,
			Text:        row.ResponseText,
			PublishedAt: row.PostedAt,
			Published:   normalizeOptional(row.PostedAt),
			Status:      responseStatus(row),
			Rationale:   row.ResponseRationale,
		},
		Favorite:  row.IsFavorite,
		Responded: row.PostedAt != "",
	}
}

func normalizeOptional(raw string) string {
	if raw == "" {
		return ""
	}
	return NormalizeDate(raw)
}

// categoryLabel maps the upstream numeric classification code to its
// display label.
func categoryLabel(code int) string {
	switch code {
	case 1:
		return "LED"
	case 2:
		return "BRAND"
	default:
		return "Other"
	}
}

// responseStatus derives the response lifecycle state from the row.
func responseStatus(row Row) models.ResponseStatus {
	switch row.PostStatus {
	case "posted":
		return models.StatusPosted
	case "pending":
		if row.ScheduledFor != "" {
			return models.StatusScheduled
		}
		return models.StatusDraft
	default:
		return models.StatusNew
	}
}
