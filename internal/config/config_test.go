package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
labels:
  time:
    - name: "Time: <1 Hour"
    - name: "Time: <1 Day"
  priority:
    - name: "Priority: 1 (Normal)"
    - name: "Priority: 2 (Medium)"
`

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 1.0, cfg.BasePriceMultiplier, "multiplier defaults to 1")
	require.NotNil(t, cfg.TimePattern)
	require.NotNil(t, cfg.PriorityPattern)
	assert.True(t, cfg.PriorityPattern.Match("Priority: 2 (Medium)"))
	assert.False(t, cfg.AutoLabeling.Enabled)
}

func TestParseRejectsNonMonotonicPriorities(t *testing.T) {
	doc := `
labels:
  priority:
    - name: "Priority: 1 (Normal)"
    - name: "Priority: 3 (High)"
    - name: "Priority: 2 (Medium)"
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priority labels")
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("labels: ["))
	require.Error(t, err)
}

func TestEqualIgnoresFormatting(t *testing.T) {
	a, err := Parse([]byte(minimalYAML))
	require.NoError(t, err)
	b, err := Parse([]byte("# a comment\n" + minimalYAML))
	require.NoError(t, err)
	assert.True(t, Equal(a, b))

	c, err := Parse([]byte(minimalYAML + "basePriceMultiplier: 2\n"))
	require.NoError(t, err)
	assert.False(t, Equal(a, c))

	assert.False(t, Equal(a, nil))
	assert.True(t, Equal(nil, nil))
}

// mapContents serves file contents keyed by "owner/repo@ref:path".
type mapContents map[string][]byte

func (m mapContents) FileContent(_ context.Context, owner, repo, path, ref string) ([]byte, error) {
	key := fmt.Sprintf("%s/%s@%s:%s", owner, repo, ref, path)
	if data, ok := m[key]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("no content at %s: %w", key, fs.ErrNotExist)
}

func TestFetchPrefersDevConfig(t *testing.T) {
	dev := "basePriceMultiplier: 5\n" + minimalYAML
	f := &Fetcher{Contents: mapContents{
		"acme/rockets@:" + DevPath: []byte(dev),
		"acme/rockets@:" + Path:    []byte(minimalYAML),
	}}

	cfg, err := f.Fetch(context.Background(), "acme", "rockets", "")
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.BasePriceMultiplier)
}

func TestFetchFallsBackToOrgRepo(t *testing.T) {
	f := &Fetcher{Contents: mapContents{
		"acme/" + OrgRepo + "@:" + Path: []byte(minimalYAML),
	}}

	cfg, err := f.Fetch(context.Background(), "acme", "rockets", "somebranch")
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.BasePriceMultiplier)
}

func TestFetchNotFound(t *testing.T) {
	f := &Fetcher{Contents: mapContents{}}
	_, err := f.Fetch(context.Background(), "acme", "rockets", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchOrgRepoHasNoFallback(t *testing.T) {
	f := &Fetcher{Contents: mapContents{}}
	_, err := f.Fetch(context.Background(), "acme", OrgRepo, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

// failingContents simulates a GitHub outage: every read errors without
// wrapping fs.ErrNotExist.
type failingContents struct{ err error }

func (f failingContents) FileContent(context.Context, string, string, string, string) ([]byte, error) {
	return nil, f.err
}

func TestFetchTransportErrorIsNotNotFound(t *testing.T) {
	boom := errors.New("502 bad gateway")
	f := &Fetcher{Contents: failingContents{err: boom}}
	_, err := f.Fetch(context.Background(), "acme", "rockets", "")
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound, "an outage must not read as a missing config")
}
