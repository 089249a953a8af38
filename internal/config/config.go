// Package config loads and models the bot's pricing configuration.
//
// The configuration lives in the target repository (or the org-wide config
// repository) and is versioned by git ref: the propagator compares the
// effective configuration before and after a push. The core never writes it.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"reflect"

	"gopkg.in/yaml.v3"

	"github.com/priceworks/bountybot/internal/labels"
)

const (
	// Path is the repository-relative location of the pricing config.
	Path = ".github/.bountybot.yml"
	// DevPath is the development override the propagator also watches.
	DevPath = ".github/.bountybot.dev.yml"
	// OrgRepo is the repository holding the org-wide configuration;
	// pushes to it fan out to every repository in the org.
	OrgRepo = ".bountybot"
)

// AutoLabelingMode selects how much estimation runs without a human label.
type AutoLabelingMode string

const (
	// ModeFull estimates both time and priority on freshly opened issues.
	ModeFull AutoLabelingMode = "full"
	// ModePartial estimates only when the configured trigger label is set.
	ModePartial AutoLabelingMode = "partial"
)

// AutoLabeling controls AI estimation behavior.
type AutoLabeling struct {
	Enabled      bool             `yaml:"enabled"`
	Mode         AutoLabelingMode `yaml:"mode"`
	TriggerLabel string           `yaml:"triggerLabel"`
}

// GlobalConfigUpdate scopes org-wide propagation.
type GlobalConfigUpdate struct {
	ExcludeRepos []string `yaml:"excludeRepos"`
}

// LabelFamilies holds the configured time and priority label sets.
type LabelFamilies struct {
	Time     []labels.Spec `yaml:"time"`
	Priority []labels.Spec `yaml:"priority"`
}

// Config is the pricing configuration consumed by the reconciler.
type Config struct {
	BasePriceMultiplier              float64            `yaml:"basePriceMultiplier"`
	Labels                           LabelFamilies      `yaml:"labels"`
	AutoLabeling                     AutoLabeling       `yaml:"autoLabeling"`
	GlobalConfigUpdate               GlobalConfigUpdate `yaml:"globalConfigUpdate"`
	ShouldFundContributorClosedIssue bool               `yaml:"shouldFundContributorClosedIssue"`

	// Patterns are derived once per load. Derivation failure is a
	// configuration error surfaced at load time, not at reconciliation time.
	TimePattern     *labels.Pattern `yaml:"-"`
	PriorityPattern *labels.Pattern `yaml:"-"`
}

// ErrNotFound is returned when a repository has no pricing configuration.
var ErrNotFound = errors.New("pricing config not found")

// Parse unmarshals a raw config document and derives the label patterns.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing pricing config: %w", err)
	}
	if cfg.BasePriceMultiplier == 0 {
		cfg.BasePriceMultiplier = 1
	}
	var err error
	if len(cfg.Labels.Time) > 0 {
		if cfg.TimePattern, err = labels.DerivePattern(cfg.Labels.Time); err != nil {
			return nil, fmt.Errorf("time labels: %w", err)
		}
	}
	if len(cfg.Labels.Priority) > 0 {
		if cfg.PriorityPattern, err = labels.DerivePattern(cfg.Labels.Priority); err != nil {
			return nil, fmt.Errorf("priority labels: %w", err)
		}
		if _, err = labels.PriorityOrder(cfg.Labels.Priority); err != nil {
			return nil, fmt.Errorf("priority labels: %w", err)
		}
	}
	return &cfg, nil
}

// Equal compares the propagation-relevant subset of two configs
// structurally; document formatting and field order never matter.
func Equal(a, b *Config) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.BasePriceMultiplier == b.BasePriceMultiplier &&
		reflect.DeepEqual(a.Labels, b.Labels)
}

// ContentsGetter fetches one file from a repository, optionally pinned to a
// ref. Implemented by the GitHub client.
type ContentsGetter interface {
	FileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
}

// Fetcher loads a repository's effective configuration through the GitHub
// contents API.
type Fetcher struct {
	Contents ContentsGetter
}

// Fetch returns the effective config for owner/repo at ref (empty ref means
// the default branch): the dev config wins over the main config, and the
// org-wide config repository is the fallback when the repository has
// neither. Returns ErrNotFound when no config exists anywhere. A transport
// failure is returned as-is: a missing file and an unreachable API are
// different outcomes, only the former may fall through.
func (f *Fetcher) Fetch(ctx context.Context, owner, repo, ref string) (*Config, error) {
	for _, path := range []string{DevPath, Path} {
		data, err := f.Contents.FileContent(ctx, owner, repo, path, ref)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		return Parse(data)
	}
	if repo != OrgRepo {
		// Org-level fallback is read at its default branch: a repo-scoped
		// push ref means nothing in the config repository.
		for _, path := range []string{DevPath, Path} {
			data, err := f.Contents.FileContent(ctx, owner, OrgRepo, path, "")
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return nil, err
			}
			return Parse(data)
		}
	}
	return nil, fmt.Errorf("%s/%s: %w", owner, repo, ErrNotFound)
}
