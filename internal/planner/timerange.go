package planner

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeRange is a half-open [Since, Until) window. Zero bounds are open.
type TimeRange struct {
	Since time.Time `json:"since,omitempty"`
	Until time.Time `json:"until,omitempty"`
}

// IsZero reports whether the range is unbounded on both sides
func (r TimeRange) IsZero() bool {
	return r.Since.IsZero() && r.Until.IsZero()
}

// String renders the range for logs and plan explanations
func (r TimeRange) String() string {
	switch {
	case r.IsZero():
		return "any time"
	case r.Until.IsZero():
		return "since " + r.Since.Format("2006-01-02")
	case r.Since.IsZero():
		return "before " + r.Until.Format("2006-01-02")
	default:
		return r.Since.Format("2006-01-02") + " to " + r.Until.Format("2006-01-02")
	}
}

var (
	reLastN    = regexp.MustCompile(`\b(?:last|past|previous)\s+(\d{1,4})\s+(day|week|month|year)s?\b`)
	reLastUnit = regexp.MustCompile(`\b(?:last|past|previous)\s+(day|week|month|year)\b`)
	reThis     = regexp.MustCompile(`\bthis\s+(week|month|year)\b`)
	reSince    = regexp.MustCompile(`\bsince\s+((?:19|20)\d{2})(?:-(\d{1,2}))?(?:-(\d{1,2}))?\b`)
	reIn       = regexp.MustCompile(`\bin\s+((?:19|20)\d{2})\b`)
	reBefore   = regexp.MustCompile(`\bbefore\s+((?:19|20)\d{2})(?:-(\d{1,2}))?(?:-(\d{1,2}))?\b`)
)

// ParseTimeRange extracts a time window from a question relative to now.
// Unrecognized text yields the zero range.
func ParseTimeRange(question string, now time.Time) TimeRange {
	q := strings.ToLower(question)
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var r TimeRange

	switch {
	case reLastN.MatchString(q):
		m := reLastN.FindStringSubmatch(q)
		n, _ := strconv.Atoi(m[1])
		if n > 0 {
			r.Since = subtract(today, n, m[2])
		}
	case reLastUnit.MatchString(q):
		m := reLastUnit.FindStringSubmatch(q)
		r.Since = subtract(today, 1, m[1])
	case reThis.MatchString(q):
		m := reThis.FindStringSubmatch(q)
		switch m[1] {
		case "week":
			offset := (int(today.Weekday()) + 6) % 7 // weeks start on Monday
			r.Since = today.AddDate(0, 0, -offset)
		case "month":
			r.Since = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		case "year":
			r.Since = time.Date(today.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
		}
	case reIn.MatchString(q):
		m := reIn.FindStringSubmatch(q)
		year, _ := strconv.Atoi(m[1])
		r.Since = time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
		r.Until = time.Date(year+1, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	if m := reSince.FindStringSubmatch(q); m != nil {
		if t, ok := parseDate(m[1:]); ok {
			r.Since = t
		}
	}
	if m := reBefore.FindStringSubmatch(q); m != nil {
		if t, ok := parseDate(m[1:]); ok {
			r.Until = t
		}
	}

	if !r.Since.IsZero() && !r.Until.IsZero() && !r.Since.Before(r.Until) {
		// contradictory bounds carry no usable constraint
		return TimeRange{}
	}
	return r
}

func subtract(from time.Time, n int, unit string) time.Time {
	switch unit {
	case "day":
		return from.AddDate(0, 0, -n)
	case "week":
		return from.AddDate(0, 0, -7*n)
	case "month":
		return from.AddDate(0, -n, 0)
	default:
		return from.AddDate(-n, 0, 0)
	}
}

// parseDate reads year, optional month and optional day captures
func parseDate(parts []string) (time.Time, bool) {
	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 1970 || year > 9999 {
		return time.Time{}, false
	}
	month, day := 1, 1
	if len(parts) > 1 && parts[1] != "" {
		month, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 && parts[2] != "" {
		day, _ = strconv.Atoi(parts[2])
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}
