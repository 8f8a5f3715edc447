package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kaban-dev/kaban/pkg/kabanerr"
)

// ParseDate interprets s as either an ISO-8601 date/datetime or an
// expression in the relative mini-language (GLOSSARY "Relative date"):
// "1h"/"1d"/"1w"/"Nm" (hours/days/weeks/months), "today"/"tomorrow"/
// "yesterday", "in N days", and weekday names optionally prefixed with
// "next"/"last". now anchors relative expressions.
//
// This is a standalone state machine rather than a general date library:
// the grammar is small and closed. Neither the scoring framework nor the
// Markdown parser calls it; the Markdown codec accepts only YYYY-MM-DD
// (see ValidateDateLine).
func ParseDate(s string, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return time.Time{}, kabanerr.New(kabanerr.Validation, "date must not be empty").WithField("date")
	}

	if t, ok := parseISO(trimmed); ok {
		return t, nil
	}
	if t, ok := parseKeyword(trimmed, now); ok {
		return t, nil
	}
	if t, ok := parseOffset(trimmed, now); ok {
		return t, nil
	}
	if t, ok := parseInNDays(trimmed, now); ok {
		return t, nil
	}
	if t, ok := parseWeekday(trimmed, now); ok {
		return t, nil
	}
	return time.Time{}, kabanerr.Newf(kabanerr.Validation, "unrecognized date expression %q", s).WithField("date")
}

// parseISO accepts "2006-01-02", time.RFC3339, and a zone-less
// "2006-01-02T15:04:05" datetime (read as UTC).
func parseISO(s string) (time.Time, bool) {
	layouts := []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseKeyword(s string, now time.Time) (time.Time, bool) {
	today := truncateToDay(now)
	switch strings.ToLower(s) {
	case "today":
		return today, true
	case "tomorrow":
		return today.AddDate(0, 0, 1), true
	case "yesterday":
		return today.AddDate(0, 0, -1), true
	default:
		return time.Time{}, false
	}
}

// parseOffset accepts "Nh", "Nd", "Nw", "Nm" where N is a positive integer:
// hours, days, weeks, months added to now.
func parseOffset(s string, now time.Time) (time.Time, bool) {
	if len(s) < 2 {
		return time.Time{}, false
	}
	unit := s[len(s)-1]
	numPart := s[:len(s)-1]
	n, err := strconv.Atoi(numPart)
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	switch unit {
	case 'h':
		return now.Add(time.Duration(n) * time.Hour), true
	case 'd':
		return truncateToDay(now).AddDate(0, 0, n), true
	case 'w':
		return truncateToDay(now).AddDate(0, 0, 7*n), true
	case 'm':
		return truncateToDay(now).AddDate(0, n, 0), true
	default:
		return time.Time{}, false
	}
}

// parseInNDays accepts "in N days" / "in N weeks" / "in N months".
func parseInNDays(s string, now time.Time) (time.Time, bool) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 3 || fields[0] != "in" {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return time.Time{}, false
	}
	today := truncateToDay(now)
	switch trimPlural(fields[2]) {
	case "day":
		return today.AddDate(0, 0, n), true
	case "week":
		return today.AddDate(0, 0, 7*n), true
	case "month":
		return today.AddDate(0, n, 0), true
	default:
		return time.Time{}, false
	}
}

func trimPlural(s string) string {
	return strings.TrimSuffix(s, "s")
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// parseWeekday accepts "monday", "next monday", "last friday".
func parseWeekday(s string, now time.Time) (time.Time, bool) {
	fields := strings.Fields(strings.ToLower(s))
	var direction, dayName string
	switch len(fields) {
	case 1:
		dayName = fields[0]
		direction = "next"
	case 2:
		direction, dayName = fields[0], fields[1]
		if direction != "next" && direction != "last" {
			return time.Time{}, false
		}
	default:
		return time.Time{}, false
	}

	target, ok := weekdayNames[dayName]
	if !ok {
		return time.Time{}, false
	}

	today := truncateToDay(now)
	delta := int(target - today.Weekday())
	if direction == "next" {
		if delta <= 0 {
			delta += 7
		}
	} else {
		if delta >= 0 {
			delta -= 7
		}
	}
	return today.AddDate(0, 0, delta), true
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.UTC().Location())
}

// FormatDate renders t as the "YYYY-MM-DD" form used by the Markdown codec.
func FormatDate(t time.Time) string {
	return t.Format("2006-01-02")
}

// ValidateDateLine reports a non-fatal parse error for a Markdown "@ date"
// line whose value does not match YYYY-MM-DD, tagged with lineNo.
func ValidateDateLine(raw string, lineNo int) (time.Time, error) {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("line %d: invalid date %q: %w", lineNo, raw, err)
	}
	return t, nil
}
