package reconcile

import (
	"strings"

	"github.com/priceworks/bountybot/internal/config"
	"github.com/priceworks/bountybot/internal/gh"
	"github.com/priceworks/bountybot/internal/labels"
	"github.com/priceworks/bountybot/internal/pricing"
)

// Decision classifies which recognized label families an issue carries;
// it selects the reconciliation branch.
type Decision int

const (
	NoLabels Decision = iota
	TimeOnly
	PriorityOnly
	TimeAndPriority
)

func (d Decision) String() string {
	switch d {
	case NoLabels:
		return "no_labels"
	case TimeOnly:
		return "time_only"
	case PriorityOnly:
		return "priority_only"
	case TimeAndPriority:
		return "time_and_priority"
	default:
		return "unknown"
	}
}

// classification partitions an issue's labels into recognized families.
// Labels that look like family members but fail normalization land in
// invalid; anything else is passthrough and never touched.
type classification struct {
	time     []gh.Label
	priority []gh.Label
	invalid  []gh.Label
}

func (c classification) decision() Decision {
	switch {
	case len(c.time) > 0 && len(c.priority) > 0:
		return TimeAndPriority
	case len(c.time) > 0:
		return TimeOnly
	case len(c.priority) > 0:
		return PriorityOnly
	default:
		return NoLabels
	}
}

// hasTimePrefix and hasPriorityPrefix are the loose family checks used to
// tell "malformed member" from "unrelated label". Case-insensitive for
// compatibility with pre-existing repositories.
func hasTimePrefix(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "time:")
}

func hasPriorityPrefix(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), "priority:")
}

// ManagedLabel reports whether a label name belongs to one of the families
// the reconciler owns, or is the configured auto-labeling trigger. Label
// events for anything else are not the bot's business.
func ManagedLabel(name string, cfg *config.Config) bool {
	if name == "" {
		return false
	}
	if hasTimePrefix(name) || hasPriorityPrefix(name) || pricing.IsPriceLabel(name) {
		return true
	}
	return cfg.AutoLabeling.TriggerLabel != "" && strings.EqualFold(name, cfg.AutoLabeling.TriggerLabel)
}

// classify partitions the label set using the configured patterns.
func classify(issueLabels []gh.Label, cfg *config.Config) classification {
	var c classification
	for _, label := range issueLabels {
		switch {
		case cfg.PriorityPattern != nil && cfg.PriorityPattern.Match(label.Name):
			if _, ok := cfg.PriorityPattern.Value(label.Name); ok {
				c.priority = append(c.priority, label)
			} else {
				c.invalid = append(c.invalid, label)
			}
		case labels.ParseTimeLabel(label.Name) != nil:
			c.time = append(c.time, label)
		case hasTimePrefix(label.Name) || hasPriorityPrefix(label.Name):
			c.invalid = append(c.invalid, label)
		}
	}
	return c
}

// minByValue returns the member with the smallest normalized value.
// Ties keep the first occurrence in the label array.
func minByValue(members []gh.Label, priority *labels.Pattern) (gh.Label, bool) {
	best := gh.Label{}
	bestValue := 0.0
	found := false
	for _, label := range members {
		v, ok := labels.Value(label.Name, priority)
		if !ok {
			continue
		}
		if !found || v < bestValue {
			best = label
			bestValue = v
			found = true
		}
	}
	return best, found
}
