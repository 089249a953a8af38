// Package labels parses human-authored pricing labels into normalized
// numeric values.
//
// Three label families are recognized by prefix convention:
// - "Time: <duration>" (effort estimate)
// - "Priority: <n> (<name>)" (importance)
// - "Price: <amount> USD" (derived bounty)
//
// The configured label set is arbitrary text, so the concrete regex for a
// family is derived at config-load time from the configured label names
// rather than hardcoded. Everything in this package is a pure function.
package labels

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Spec is one configured label definition from the pricing config.
type Spec struct {
	Name             string `yaml:"name"`
	CollaboratorOnly bool   `yaml:"collaboratorOnly,omitempty"`
}

// ErrPatternExtraction indicates the configured label set is internally
// inconsistent and no single pattern can describe it. This is a configuration
// error: it aborts reconciliation for the repository entirely.
var ErrPatternExtraction = errors.New("cannot derive label pattern")

// Pattern matches one label family and extracts its numeric token.
type Pattern struct {
	re *regexp.Regexp
}

// numericToken splits a label name into the text before the first numeric
// token, the token itself, and the rest.
var numericToken = regexp.MustCompile(`^([\s\S]*?)(\d*\.?\d+)([\s\S]*)$`)

var anyNumber = regexp.MustCompile(`\d+(?:\.\d+)?`)

// DerivePattern builds the regex for a label family from its configured
// specs. The prefix before the numeric token must be identical (ignoring
// case) across all specs; the suffix is kept only when it is also identical,
// since configured labels commonly differ after the number
// ("Priority: 1 (Normal)" vs "Priority: 2 (Medium)").
func DerivePattern(specs []Spec) (*Pattern, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no labels configured", ErrPatternExtraction)
	}

	var prefix, suffix string
	sameSuffix := true
	for i, spec := range specs {
		m := numericToken.FindStringSubmatch(spec.Name)
		if m == nil {
			return nil, fmt.Errorf("%w: label %q has no numeric token", ErrPatternExtraction, spec.Name)
		}
		if i == 0 {
			prefix = m[1]
			suffix = m[3]
			continue
		}
		if !strings.EqualFold(m[1], prefix) {
			return nil, fmt.Errorf("%w: label %q does not share prefix %q", ErrPatternExtraction, spec.Name, prefix)
		}
		if !strings.EqualFold(m[3], suffix) {
			sameSuffix = false
		}
	}

	expr := "^" + regexp.QuoteMeta(prefix) + `(\d*\.?\d+)`
	if sameSuffix {
		expr += regexp.QuoteMeta(suffix) + "$"
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPatternExtraction, err)
	}
	return &Pattern{re: re}, nil
}

// Match reports whether the label belongs to this family.
func (p *Pattern) Match(label string) bool {
	return p.re.MatchString(label)
}

// Value extracts the numeric token from a matching label.
// The second return is false when the label does not belong to the family or
// the token is not a number.
func (p *Pattern) Value(label string) (float64, bool) {
	m := p.re.FindStringSubmatch(label)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// String returns the underlying expression, for logging.
func (p *Pattern) String() string {
	return p.re.String()
}

// PriorityOrder reports the direction of the configured priority scale:
// +1 when numeric values ascend through the configured order (lower number =
// more urgent, used as-is), -1 when they descend (the scalar is inverted
// against the highest configured value downstream).
func PriorityOrder(specs []Spec) (int, error) {
	pattern, err := DerivePattern(specs)
	if err != nil {
		return 0, err
	}

	order := 0
	prev := 0.0
	for i, spec := range specs {
		v, ok := pattern.Value(spec.Name)
		if !ok {
			return 0, fmt.Errorf("%w: label %q has no numeric value", ErrPatternExtraction, spec.Name)
		}
		if i > 0 {
			switch {
			case v > prev && order < 0, v < prev && order > 0:
				return 0, fmt.Errorf("%w: priority labels are not monotonically ordered", ErrPatternExtraction)
			case v > prev:
				order = 1
			case v < prev:
				order = -1
			}
		}
		prev = v
	}
	if order == 0 {
		// A single configured label (or all-equal values) reads ascending.
		order = 1
	}
	return order, nil
}

// MaxValue returns the highest numeric value among the configured specs.
// Used to invert priority scalars when the scale is descending.
func MaxValue(specs []Spec) float64 {
	max := 0.0
	for _, spec := range specs {
		m := anyNumber.FindString(spec.Name)
		if m == "" {
			continue
		}
		if v, err := strconv.ParseFloat(m, 64); err == nil && v > max {
			max = v
		}
	}
	return max
}
