package stats

import (
	"time"

	"github.com/creatorhq/mentions-sync/internal/mapper"
	"github.com/creatorhq/mentions-sync/internal/models"
)

// Aggregate derives the summary counts for a record set. Safe on an
// empty set; the response rate is 0 when there are no records.
//
// TODO: trend deltas stay zero until a historical baseline query exists
// to compare against.
func Aggregate(records []models.Mention) models.Stats {
	total := len(records)

	responded := 0
	for _, m := range records {
		if m.Responded {
			responded++
		}
	}

	rate := 0.0
	if total > 0 {
		rate = float64(responded) / float64(total) * 100
	}

	return models.Stats{
		TotalMentions:     total,
		RespondedMentions: responded,
		PendingResponses:  total - responded,
		ResponseRate:      rate,
	}
}

// AggregatePerformance buckets records by comment day over the
// inclusive [windowStart, windowEnd] window, in the caller's calendar.
// Every day in the window gets a bucket, in chronological order, even
// when no record falls on it. Records outside the window are dropped;
// records without a parsable comment date bucket to now.
func AggregatePerformance(records []models.Mention, windowStart, windowEnd time.Time) []models.PerformanceBucket {
	start := truncateToDay(windowStart)
	end := truncateToDay(windowEnd)
	if end.Before(start) {
		return []models.PerformanceBucket{}
	}

	var buckets []models.PerformanceBucket
	index := make(map[time.Time]int)

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		index[day] = len(buckets)
		buckets = append(buckets, models.PerformanceBucket{Day: day})
	}

	for _, m := range records {
		at, ok := mapper.ParseDate(m.Comment.PublishedAt)
		if !ok {
			at = time.Now()
		}

		i, inWindow := index[truncateToDay(at.In(windowStart.Location()))]
		if !inWindow {
			continue
		}

		buckets[i].MentionCount++
		if m.Responded {
			buckets[i].ResponseCount++
		}
		switch m.Category {
		case "LED":
			buckets[i].LEDCount++
		case "BRAND":
			buckets[i].BrandCount++
		}
	}

	return buckets
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
