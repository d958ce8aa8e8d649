package parsing

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

const monthNames = `(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?`

// Tried in order; the first candidate that forms a real calendar date wins.
var (
	isoDateRe      = regexp.MustCompile(`\b(\d{4})-(\d{1,2})-(\d{1,2})\b`)
	slashDateRe    = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{2,4})\b`)
	dashDateRe     = regexp.MustCompile(`\b(\d{1,2})-(\d{1,2})-(\d{2,4})\b`)
	dayMonthDateRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s+` + monthNames + `,?\s+(\d{2,4})\b`)
	monthDayDateRe = regexp.MustCompile(`(?i)\b` + monthNames + `\s+(\d{1,2}),?\s+(\d{2,4})\b`)
	timeRe         = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})(?::(\d{2}))?(?:\s*([AP])\.?M\.?)?`)
)

// NormalizeDate finds the first valid date in s and returns it as YYYY-MM-DD.
// Numeric dates are read day-first unless monthFirst is set; when the preferred
// order does not form a valid date the other order is tried.
func NormalizeDate(s string, monthFirst bool) (string, bool) {
	for _, m := range isoDateRe.FindAllStringSubmatch(s, -1) {
		if d, ok := makeDate(m[1], m[2], m[3]); ok {
			return d, true
		}
	}

	for _, re := range []*regexp.Regexp{slashDateRe, dashDateRe} {
		for _, m := range re.FindAllStringSubmatch(s, -1) {
			first, second, year := m[1], m[2], m[3]
			day, month := first, second
			if monthFirst {
				day, month = second, first
			}
			if d, ok := makeDate(year, month, day); ok {
				return d, true
			}
			if d, ok := makeDate(year, day, month); ok {
				return d, true
			}
		}
	}

	for _, m := range dayMonthDateRe.FindAllStringSubmatch(s, -1) {
		if d, ok := makeTextDate(m[3], m[2], m[1]); ok {
			return d, true
		}
	}
	for _, m := range monthDayDateRe.FindAllStringSubmatch(s, -1) {
		if d, ok := makeTextDate(m[3], m[1], m[2]); ok {
			return d, true
		}
	}
	return "", false
}

func makeTextDate(year, monthName, day string) (string, bool) {
	month, ok := months[strings.ToLower(monthName[:3])]
	if !ok {
		return "", false
	}
	return makeDate(year, strconv.Itoa(int(month)), day)
}

func makeDate(year, month, day string) (string, bool) {
	y, err := strconv.Atoi(year)
	if err != nil {
		return "", false
	}
	if len(year) == 2 {
		y += 2000
	} else if len(year) != 4 {
		return "", false
	}
	m, err := strconv.Atoi(month)
	if err != nil || m < 1 || m > 12 {
		return "", false
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return "", false
	}

	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || int(t.Month()) != m {
		return "", false
	}
	return t.Format("2006-01-02"), true
}

// NormalizeTime finds the first valid clock time in s and returns it as HH:MM:SS
func NormalizeTime(s string) (string, bool) {
	for _, m := range timeRe.FindAllStringSubmatch(s, -1) {
		h, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		sec := 0
		if m[3] != "" {
			sec, _ = strconv.Atoi(m[3])
		}

		switch strings.ToUpper(m[4]) {
		case "A":
			if h < 1 || h > 12 {
				continue
			}
			if h == 12 {
				h = 0
			}
		case "P":
			if h < 1 || h > 12 {
				continue
			}
			if h != 12 {
				h += 12
			}
		}

		if h > 23 || minute > 59 || sec > 59 {
			continue
		}
		return fmt.Sprintf("%02d:%02d:%02d", h, minute, sec), true
	}
	return "", false
}
