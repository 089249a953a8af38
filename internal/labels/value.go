package labels

// HoursEquivalent converts a parsed duration to the normalized scalar used by
// pricing. The mapping is monotonic in duration but intentionally sub-linear
// across unit buckets: long estimates should not price linearly.
func HoursEquivalent(p ParsedTime) float64 {
	n := p.Value
	switch p.Unit {
	case UnitMinute:
		return n * 0.002
	case UnitHour:
		return n * 0.125
	case UnitDay:
		return 1 + (n-1)*0.25
	case UnitWeek:
		return n + 1
	case UnitMonth:
		return 5 + (n-1)*8
	default:
		return 0
	}
}

// Value normalizes a label name to a scalar: the raw numeric token for a
// priority label, the hours-equivalent for a time label. The second return is
// false when the label belongs to neither family; a zero value with true is a
// valid result ("Priority: 0" prices to zero, it is not missing).
func Value(label string, priority *Pattern) (float64, bool) {
	if priority != nil {
		if v, ok := priority.Value(label); ok {
			return v, true
		}
	}
	parsed := ParseTimeLabel(label)
	if parsed == nil {
		return 0, false
	}
	return HoursEquivalent(*parsed), true
}
