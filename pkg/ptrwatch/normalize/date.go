package normalize

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// MinYear is the earliest transaction year accepted as plausible.
const MinYear = 1990

type datePattern struct {
	re             *regexp.Regexp
	year, mon, day int // submatch indexes
	shortYear      bool
}

var datePatterns = []datePattern{
	{re: regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`), year: 3, mon: 1, day: 2},
	{re: regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{2})\b`), year: 3, mon: 1, day: 2, shortYear: true},
	{re: regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`), year: 1, mon: 2, day: 3},
	{re: regexp.MustCompile(`\b(\d{1,2})-(\d{1,2})-(\d{4})\b`), year: 3, mon: 1, day: 2},
}

var reParenthetical = regexp.MustCompile(`\([^)]*\)`)

// ParseDate recovers a calendar date from free text. It tries the
// explicit numeric layouts first and then a permissive parser. The
// zero time means no date could be recovered.
func ParseDate(raw string) time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}
	}
	for _, p := range datePatterns {
		m := p.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		y, _ := strconv.Atoi(m[p.year])
		mo, _ := strconv.Atoi(m[p.mon])
		d, _ := strconv.Atoi(m[p.day])
		if p.shortYear {
			if y < 50 {
				y += 2000
			} else {
				y += 1900
			}
		}
		if t, ok := calendarDate(y, mo, d); ok {
			return t
		}
	}

	stripped := strings.TrimSpace(reParenthetical.ReplaceAllString(s, " "))
	if stripped == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseAny(stripped)
	if err != nil {
		return time.Time{}
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// calendarDate rejects values time.Date would silently roll over.
func calendarDate(y, m, d int) (time.Time, bool) {
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

// ReasonableDate reports whether t falls between MinYear and next year.
func ReasonableDate(t, now time.Time) bool {
	if t.IsZero() {
		return false
	}
	return t.Year() >= MinYear && t.Year() <= now.Year()+1
}
