package labels

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeUnit is one of the five duration buckets a time label can use.
type TimeUnit string

const (
	UnitMinute TimeUnit = "minute"
	UnitHour   TimeUnit = "hour"
	UnitDay    TimeUnit = "day"
	UnitWeek   TimeUnit = "week"
	UnitMonth  TimeUnit = "month"
)

// ParsedTime is a duration collapsed to a single value and unit. It is
// derived from a label string on demand and never stored.
type ParsedTime struct {
	Value float64
	Unit  TimeUnit
}

// minutesPer converts a unit into its minute-equivalent, the common base used
// when a label carries multiple duration parts.
var minutesPer = map[TimeUnit]float64{
	UnitMinute: 1,
	UnitHour:   60,
	UnitDay:    24 * 60,
	UnitWeek:   7 * 24 * 60,
	UnitMonth:  30 * 24 * 60,
}

// unitRank orders units from finest to coarsest.
var unitRank = map[TimeUnit]int{
	UnitMinute: 0,
	UnitHour:   1,
	UnitDay:    2,
	UnitWeek:   3,
	UnitMonth:  4,
}

var unitAliases = map[string]TimeUnit{
	"m": UnitMinute, "min": UnitMinute, "mins": UnitMinute, "minute": UnitMinute, "minutes": UnitMinute,
	"h": UnitHour, "hr": UnitHour, "hrs": UnitHour, "hour": UnitHour, "hours": UnitHour,
	"d": UnitDay, "day": UnitDay, "days": UnitDay,
	"w": UnitWeek, "wk": UnitWeek, "wks": UnitWeek, "week": UnitWeek, "weeks": UnitWeek,
	"mo": UnitMonth, "mon": UnitMonth, "mons": UnitMonth, "month": UnitMonth, "months": UnitMonth,
}

var unitNames = map[TimeUnit]struct{ singular, plural string }{
	UnitMinute: {"Minute", "Minutes"},
	UnitHour:   {"Hour", "Hours"},
	UnitDay:    {"Day", "Days"},
	UnitWeek:   {"Week", "Weeks"},
	UnitMonth:  {"Month", "Months"},
}

var (
	timePrefix    = regexp.MustCompile(`(?i)^Time:\s*<?\s*(.+)$`)
	bareNumber    = regexp.MustCompile(`^\d+(\.\d+)?$`)
	durationToken = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([a-zA-Z]+)`)
)

// ParseTimeInput parses a human duration string such as "2h",
// "1 hour 30 minutes" or a bare number (interpreted as days). Multiple parts
// are summed via their minute-equivalents and reported in the coarsest unit
// present. Returns nil if the string has no recognizable duration; callers
// use nil to distinguish "not a time value" from a hard error.
func ParseTimeInput(input string) *ParsedTime {
	trimmed := strings.TrimSpace(input)
	if m := timePrefix.FindStringSubmatch(trimmed); m != nil {
		trimmed = strings.TrimSpace(m[1])
	}
	trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "<"))
	if trimmed == "" {
		return nil
	}

	if bareNumber.MatchString(trimmed) {
		v, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil
		}
		return &ParsedTime{Value: v, Unit: UnitDay}
	}

	var totalMinutes float64
	coarsest := TimeUnit("")
	matched := false
	for _, m := range durationToken.FindAllStringSubmatch(trimmed, -1) {
		unit, ok := unitAliases[strings.ToLower(m[2])]
		if !ok {
			continue
		}
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		matched = true
		totalMinutes += v * minutesPer[unit]
		if coarsest == "" || unitRank[unit] > unitRank[coarsest] {
			coarsest = unit
		}
	}
	if matched {
		return &ParsedTime{Value: totalMinutes / minutesPer[coarsest], Unit: coarsest}
	}

	// Last resort: the stdlib duration syntax ("90m", "1h30m") covers inputs
	// the token scan cannot, e.g. concatenated parts without spaces.
	if d, err := time.ParseDuration(strings.ToLower(trimmed)); err == nil && d > 0 {
		return fromMinutes(d.Minutes())
	}
	return nil
}

// ParseTimeLabel parses a "Time:" label. Returns nil for anything else.
func ParseTimeLabel(label string) *ParsedTime {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(label)), "time:") {
		return nil
	}
	return ParseTimeInput(label)
}

// IsTimeLabel reports whether the label parses as a time label.
func IsTimeLabel(label string) bool {
	return ParseTimeLabel(label) != nil
}

// Minutes returns the duration's minute-equivalent.
func (p ParsedTime) Minutes() float64 {
	return p.Value * minutesPer[p.Unit]
}

// fromMinutes picks the coarsest unit the duration divides into a value >= 1.
func fromMinutes(minutes float64) *ParsedTime {
	for _, unit := range []TimeUnit{UnitMonth, UnitWeek, UnitDay, UnitHour} {
		if minutes >= minutesPer[unit] {
			return &ParsedTime{Value: minutes / minutesPer[unit], Unit: unit}
		}
	}
	return &ParsedTime{Value: minutes, Unit: UnitMinute}
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 0, 64)
	}
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

// FormatDuration renders a parsed time as label text, e.g. "1.5 Hours".
func FormatDuration(p ParsedTime) string {
	names := unitNames[p.Unit]
	name := names.plural
	if p.Value == 1 {
		name = names.singular
	}
	return fmt.Sprintf("%s %s", formatNumber(p.Value), name)
}

// FormatTimeLabel renders the full label, e.g. "Time: 1.5 Hours".
func FormatTimeLabel(p ParsedTime) string {
	return "Time: " + FormatDuration(p)
}

// ClosestTimeLabel snaps a parsed duration to the nearest existing "Time:"
// label in the repository catalog, by minute-equivalent distance. An exact
// render of the input wins outright. Returns the formatted input when the
// catalog has no time labels to snap to.
func ClosestTimeLabel(p ParsedTime, catalog []string) string {
	exact := FormatTimeLabel(p)
	best := ""
	bestDiff := math.MaxFloat64
	for _, name := range catalog {
		parsed := ParseTimeLabel(name)
		if parsed == nil {
			continue
		}
		if strings.EqualFold(name, exact) {
			return name
		}
		diff := math.Abs(parsed.Minutes() - p.Minutes())
		if diff < bestDiff {
			best = name
			bestDiff = diff
		}
	}
	if best == "" {
		return exact
	}
	return best
}
