package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerivePattern(t *testing.T) {
	tests := []struct {
		name    string
		specs   []Spec
		matches []string
		misses  []string
		wantErr bool
	}{
		{
			name:    "short priority labels",
			specs:   []Spec{{Name: "P0"}, {Name: "P1"}},
			matches: []string{"P0", "P1", "p2"},
			misses:  []string{"Priority: 1", "P high"},
		},
		{
			name:    "conventional priority labels",
			specs:   []Spec{{Name: "Priority: 1 (Normal)"}, {Name: "Priority: 2 (Medium)"}},
			matches: []string{"Priority: 1 (Normal)", "Priority: 0 (Regression)", "priority: 5 (Urgent)"},
			misses:  []string{"Priority: - (Regression)", "Time: 1 Hour"},
		},
		{
			name:    "descending lowercase labels",
			specs:   []Spec{{Name: "p2"}, {Name: "p1"}, {Name: "p0"}},
			matches: []string{"p0", "P1"},
			misses:  []string{"q1"},
		},
		{
			name:    "time labels with varying suffixes",
			specs:   []Spec{{Name: "Time: 1 Hour"}, {Name: "Time: 2 Hours"}},
			matches: []string{"Time: 1 Hour", "Time: 3 Hours", "Time: 1 Week"},
			misses:  []string{"Duration: 1 Hour"},
		},
		{
			name:    "mixed scaffolding fails",
			specs:   []Spec{{Name: "Prio: 1"}, {Name: "p2"}, {Name: "p high"}},
			wantErr: true,
		},
		{
			name:    "label without numeric token fails",
			specs:   []Spec{{Name: "Priority: high"}},
			wantErr: true,
		},
		{
			name:    "empty config fails",
			specs:   nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pattern, err := DerivePattern(tt.specs)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrPatternExtraction)
				return
			}
			require.NoError(t, err)
			for _, label := range tt.matches {
				assert.True(t, pattern.Match(label), "expected %q to match %s", label, pattern)
			}
			for _, label := range tt.misses {
				assert.False(t, pattern.Match(label), "expected %q to not match %s", label, pattern)
			}
		})
	}
}

func TestPatternValue(t *testing.T) {
	pattern, err := DerivePattern([]Spec{
		{Name: "Priority: 1 (Normal)"},
		{Name: "Priority: 2 (Medium)"},
	})
	require.NoError(t, err)

	v, ok := pattern.Value("Priority: 5 (Urgent)")
	require.True(t, ok)
	assert.Equal(t, 5.0, v)

	// Zero is a valid priority, not a missing one.
	v, ok = pattern.Value("Priority: 0 (Regression)")
	require.True(t, ok)
	assert.Equal(t, 0.0, v)

	_, ok = pattern.Value("Priority: - (Regression)")
	assert.False(t, ok)
}

func TestPriorityOrder(t *testing.T) {
	tests := []struct {
		name    string
		specs   []Spec
		want    int
		wantErr bool
	}{
		{
			name:  "ascending short labels",
			specs: []Spec{{Name: "P0"}, {Name: "P1"}},
			want:  1,
		},
		{
			name:  "ascending conventional labels",
			specs: []Spec{{Name: "Priority: 1 (Normal)"}, {Name: "Priority: 2 (Medium)"}},
			want:  1,
		},
		{
			name:  "descending labels",
			specs: []Spec{{Name: "p2"}, {Name: "p1"}, {Name: "p0"}},
			want:  -1,
		},
		{
			name:  "single label defaults to ascending",
			specs: []Spec{{Name: "Priority: 1 (Normal)"}},
			want:  1,
		},
		{
			name:    "inconsistent labels fail",
			specs:   []Spec{{Name: "Prio: 1"}, {Name: "p2"}, {Name: "p high"}},
			wantErr: true,
		},
		{
			name:    "non-monotonic ordering fails",
			specs:   []Spec{{Name: "p1"}, {Name: "p3"}, {Name: "p2"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PriorityOrder(tt.specs)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaxValue(t *testing.T) {
	specs := []Spec{
		{Name: "Priority: 1 (Normal)"},
		{Name: "Priority: 5 (Urgent)"},
		{Name: "Priority: 3 (High)"},
	}
	assert.Equal(t, 5.0, MaxValue(specs))
	assert.Equal(t, 0.0, MaxValue(nil))
}
