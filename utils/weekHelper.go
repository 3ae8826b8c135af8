package utils

import (
	"strings"
	"time"
)

const IsoDateLayout = "2006-01-02"

// Accepted shapes for dates coming from forms, query strings and timestamp columns.
var dateInputLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	IsoDateLayout,
}

// WeekRange is a reporting week: Monday 00:00 through the Saturday 5 days later.
type WeekRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w WeekRange) StartIso() string { return IsoDate(w.Start) }
func (w WeekRange) EndIso() string   { return IsoDate(w.End) }
func (w WeekRange) Label() string    { return FormatRange(w.Start, w.End) }

// ParseDateInput parses s in loc. Values carrying an offset are converted into loc.
func ParseDateInput(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range dateInputLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), true
		}
	}
	return time.Time{}, false
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// MondayOf returns 00:00 on the Monday of the ISO week containing t, in t's location.
// Sunday belongs to the week of the Monday six days earlier.
func MondayOf(t time.Time) time.Time {
	day := startOfDay(t)
	back := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -back)
}

// MondayOfString is MondayOf for raw input; false when s does not parse.
func MondayOfString(s string, loc *time.Location) (time.Time, bool) {
	t, ok := ParseDateInput(s, loc)
	if !ok {
		return time.Time{}, false
	}
	return MondayOf(t), true
}

// NormalizeWeekAnchor maps a stored week anchor onto its canonical Monday.
// Older rows stored the Sunday before the week, so a Sunday moves forward one day;
// every other weekday snaps back to its Monday.
func NormalizeWeekAnchor(t time.Time) time.Time {
	day := startOfDay(t)
	if day.Weekday() == time.Sunday {
		return day.AddDate(0, 0, 1)
	}
	return MondayOf(day)
}

// AnchorFromStored reads a week anchor or timestamp column into loc. Values at exactly
// midnight UTC come from date columns and keep their calendar date; anything else is an
// instant and is converted into loc first.
func AnchorFromStored(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	u := t.UTC()
	if u.Hour() == 0 && u.Minute() == 0 && u.Second() == 0 && u.Nanosecond() == 0 {
		y, m, d := u.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
	return t.In(loc)
}

// DateColumn is the value written to a date column for t's calendar day.
func DateColumn(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NextWeek is the Monday after monday, counted in calendar days so DST never shifts it.
func NextWeek(monday time.Time) time.Time {
	return startOfDay(monday).AddDate(0, 0, 7)
}

func IsoDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(IsoDateLayout)
}

// WeekRangeOf builds the Monday..Saturday range for an already-normalized anchor.
func WeekRangeOf(anchor time.Time) WeekRange {
	start := NormalizeWeekAnchor(anchor)
	return WeekRange{Start: start, End: start.AddDate(0, 0, 5)}
}

// WeekRangeFromMondayIso resolves a stored anchor string into its week range.
func WeekRangeFromMondayIso(mondayIso string, loc *time.Location) (WeekRange, bool) {
	t, ok := ParseDateInput(mondayIso, loc)
	if !ok {
		return WeekRange{}, false
	}
	return WeekRangeOf(t), true
}

// LastNWeekIsos lists n week anchors ending at from's week, most recent first.
func LastNWeekIsos(n int, from time.Time) []string {
	if n <= 0 {
		return []string{}
	}
	monday := MondayOf(from)
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, IsoDate(monday.AddDate(0, 0, -7*i)))
	}
	return out
}

// civilDays counts calendar days from a to b ignoring DST shifts.
func civilDays(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// TotalWeeksSince counts the Mondays from start's week through today's week, both included.
// A start after today yields 0.
func TotalWeeksSince(start, today time.Time) int {
	if start.IsZero() || today.IsZero() {
		return 0
	}
	s := MondayOf(start)
	e := MondayOf(today.In(start.Location()))
	days := civilDays(s, e)
	if days < 0 {
		return 0
	}
	return days/7 + 1
}

// WeekHasEnded reports whether the week's Saturday is strictly before today's date.
func WeekHasEnded(w WeekRange, today time.Time) bool {
	return civilDays(w.End, today.In(w.End.Location())) > 0
}

// FormatRange renders "Jan 6 - Jan 11, 2025", repeating the year only when it changes.
func FormatRange(monday, saturday time.Time) string {
	if monday.IsZero() || saturday.IsZero() {
		return ""
	}
	if monday.Year() == saturday.Year() {
		return monday.Format("Jan 2") + " - " + saturday.Format("Jan 2, 2006")
	}
	return monday.Format("Jan 2, 2006") + " - " + saturday.Format("Jan 2, 2006")
}

// FormatVerbose renders "Monday, January 6, 2025".
func FormatVerbose(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("Monday, January 2, 2006")
}
