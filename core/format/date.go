package format

import (
	"strings"
	"time"
)

var flexibleDateLayouts = []string{
	"2006-01-02 15:04",
	"2006-1-2 15:04",
	"2006-01-02",
	"2006-1-2",
	"02.01.2006 15:04",
	"2.1.2006 15:04",
	"02.01.2006",
	"2.1.2006",
}

// ParseFlexibleDate tries the date formats users type in chat and returns the time in loc.
// Date-only input resolves to the end of that day, and dateOnly reports it.
func ParseFlexibleDate(input string, loc *time.Location) (t time.Time, dateOnly bool, ok bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return time.Time{}, false, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range flexibleDateLayouts {
		parsed, err := time.ParseInLocation(layout, s, loc)
		if err != nil {
			continue
		}
		if !strings.Contains(layout, "15:04") {
			return EndOfDay(parsed), true, true
		}
		return parsed, false, true
	}
	return time.Time{}, false, false
}

// EndOfDay returns 23:59 of t's calendar day in t's location.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 0, 0, t.Location())
}

// HumanDate renders t as "21.10.2026", adding the clock when it is not the end of day.
func HumanDate(t time.Time) string {
	if t.IsZero() {
		return "—"
	}
	if t.Hour() == 23 && t.Minute() == 59 {
		return t.Format("02.01.2006")
	}
	return t.Format("02.01.2006 15:04")
}
