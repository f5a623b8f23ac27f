package mapper

import (
	"strconv"
	"strings"
	"time"
)

// displayLayout is the canonical display form for record dates.
const displayLayout = "Jan 2, 2006"

// dateLayouts are the raw formats seen in store rows, tried in order.
// displayLayout is first so normalization is idempotent.
var dateLayouts = []string{
	displayLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
}

// NormalizeDate parses a heterogeneous date representation into the
// canonical display format. Unparsable input is returned unchanged;
// record display beats hard failure on upstream data quality issues.
func NormalizeDate(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return raw
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(displayLayout)
		}
	}

	// Unix seconds show up from older export jobs.
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC().Format(displayLayout)
	}

	return raw
}

// ParseDate returns the parsed time for a raw date string and whether
// parsing succeeded. Used for time-bucketed aggregation.
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}

	return time.Time{}, false
}
