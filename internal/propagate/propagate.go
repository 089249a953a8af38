// Package propagate applies configuration changes across repositories: a
// push touching the pricing config resynchronizes the pushed repository, and
// a push to the org-wide config repository fans out to every repository in
// the organization.
package propagate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/priceworks/bountybot/internal/config"
	"github.com/priceworks/bountybot/internal/gh"
	"github.com/priceworks/bountybot/internal/labels"
	"github.com/priceworks/bountybot/internal/pricing"
	"github.com/priceworks/bountybot/internal/reconcile"
)

// ZeroSHA is the all-zero commit hash GitHub sends for branch deletions.
const ZeroSHA = "0000000000000000000000000000000000000000"

// defaultConcurrency bounds how many repositories resynchronize at once
// during an org-wide fan-out.
const defaultConcurrency = 4

// RepoService is the GitHub surface the propagator needs beyond what the
// reconciler already holds. *gh.Client satisfies it.
type RepoService interface {
	ListOrgRepos(ctx context.Context, org string) ([]gh.Repo, error)
	ListOpenIssues(ctx context.Context, owner, repo string) ([]gh.Issue, error)
	ListRepoLabels(ctx context.Context, owner, repo string) ([]gh.Label, error)
	CreateLabel(ctx context.Context, owner, repo, name, color string) error
	UpdateLabelColor(ctx context.Context, owner, repo, name, color string) error
	FileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
}

// Push is the slice of a push delivery that propagation inspects.
type Push struct {
	Owner     string
	Repo      string
	Org       string
	Ref       string
	Before    string
	After     string
	Pusher    string
	Sender    string
	SenderBot bool
	Modified  []string // added + modified paths across all commits
}

// Propagator drives configuration resynchronization.
type Propagator struct {
	GH          RepoService
	Rec         *reconcile.Reconciler
	Concurrency int
	Log         *slog.Logger

	fetcher config.Fetcher
}

// New builds a propagator. A nil logger falls back to slog.Default.
func New(ghc RepoService, rec *reconcile.Reconciler, log *slog.Logger) *Propagator {
	if log == nil {
		log = slog.Default()
	}
	return &Propagator{
		GH:          ghc,
		Rec:         rec,
		Concurrency: defaultConcurrency,
		Log:         log,
		fetcher:     config.Fetcher{Contents: ghc},
	}
}

// HandlePush reacts to a push event. Only pushes that change the effective
// pricing configuration trigger work: branch deletions, pushes that do not
// touch a config path, and no-op edits (formatting, comments) are all
// skipped. The pusher and the sender must both hold admin or billing-manager
// standing.
func (p *Propagator) HandlePush(ctx context.Context, push Push) error {
	log := p.Log.With("repo", push.Owner+"/"+push.Repo, "ref", push.Ref)

	if push.Before == ZeroSHA || push.After == ZeroSHA {
		log.Debug("branch creation or deletion, skipping")
		return nil
	}
	if !touchesConfig(push.Modified) {
		log.Debug("push does not touch the pricing config, skipping")
		return nil
	}

	if err := p.authorizePush(ctx, push); err != nil {
		return err
	}

	cfg, changed, err := p.diffConfig(ctx, push)
	if err != nil {
		return fmt.Errorf("loading pushed config: %w", err)
	}
	if !changed {
		log.Info("config content unchanged, skipping propagation")
		return nil
	}

	if push.Repo == config.OrgRepo && push.Org != "" {
		return p.PropagateOrg(ctx, push.Org, cfg)
	}
	return p.ResyncRepo(ctx, push.Owner, push.Repo, cfg)
}

// authorizePush requires admin or billing-manager standing from both the
// pusher and the sender; they differ when a push is made on someone's
// behalf.
func (p *Propagator) authorizePush(ctx context.Context, push Push) error {
	ev := reconcile.Event{Owner: push.Owner, Repo: push.Repo, Org: push.Org}
	for _, user := range dedupe(push.Pusher, push.Sender) {
		allowed, err := p.Rec.IsAdminOrBillingManager(ctx, ev, user, push.SenderBot && user == push.Sender)
		if err != nil {
			return err
		}
		if !allowed {
			return &reconcile.PermissionError{User: user, Reason: "not allowed to change the pricing configuration"}
		}
	}
	return nil
}

// diffConfig loads the config at the pushed commit and compares it against
// the state before the push. A before state with no readable config (the
// push introduced the file) counts as changed.
func (p *Propagator) diffConfig(ctx context.Context, push Push) (*config.Config, bool, error) {
	after, err := p.fetcher.Fetch(ctx, push.Owner, push.Repo, push.After)
	if err != nil {
		return nil, false, err
	}
	before, err := p.fetcher.Fetch(ctx, push.Owner, push.Repo, push.Before)
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			return after, true, nil
		}
		return nil, false, err
	}
	return after, !config.Equal(before, after), nil
}

// PropagateOrg resynchronizes every repository in the organization with its
// effective configuration. Repositories with their own config keep it; the
// rest inherit the org-wide one. One repository failing does not stop the
// rest.
func (p *Propagator) PropagateOrg(ctx context.Context, org string, orgCfg *config.Config) error {
	repos, err := p.GH.ListOrgRepos(ctx, org)
	if err != nil {
		return err
	}

	concurrency := p.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var failed atomic.Int64
	for _, repo := range repos {
		if repo.Archived || repo.Disabled || repo.Name == config.OrgRepo {
			continue
		}
		if excluded(repo.Name, orgCfg) {
			p.Log.Info("repository excluded from propagation", "repo", repo.Name)
			continue
		}
		repo := repo
		g.Go(func() error {
			cfg, err := p.fetcher.Fetch(ctx, repo.Owner, repo.Name, "")
			if err != nil {
				if errors.Is(err, config.ErrNotFound) {
					cfg = orgCfg
				} else {
					p.Log.Error("loading repo config", "repo", repo.Name, "error", err)
					failed.Add(1)
					return nil
				}
			}
			if err := p.ResyncRepo(ctx, repo.Owner, repo.Name, cfg); err != nil {
				p.Log.Error("resynchronizing repository", "repo", repo.Name, "error", err)
				failed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("propagation failed for %d repositories in %s", n, org)
	}
	return nil
}

// ResyncRepo brings one repository in line with cfg: the label catalog gains
// any missing configured labels, price labels get the price color, and every
// open issue that already carries pricing labels is repriced.
func (p *Propagator) ResyncRepo(ctx context.Context, owner, repo string, cfg *config.Config) error {
	log := p.Log.With("repo", owner+"/"+repo)

	if err := p.SyncCatalog(ctx, owner, repo, cfg); err != nil {
		return err
	}

	issues, err := p.GH.ListOpenIssues(ctx, owner, repo)
	if err != nil {
		return err
	}
	var failed int
	for _, issue := range issues {
		if !carriesPricingLabels(issue, cfg) {
			continue
		}
		ev := reconcile.Event{
			Name:  "config.propagated",
			Owner: owner,
			Repo:  repo,
			Issue: issue,
		}
		if err := p.Rec.Reprice(ctx, ev, cfg); err != nil {
			log.Error("repricing issue", "issue", issue.Number, "error", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("repricing failed for %d issues in %s/%s", failed, owner, repo)
	}
	log.Info("repository resynchronized", "issues", len(issues))
	return nil
}

// SyncCatalog creates missing configured labels and repairs the color of
// existing price labels.
func (p *Propagator) SyncCatalog(ctx context.Context, owner, repo string, cfg *config.Config) error {
	catalog, err := p.GH.ListRepoLabels(ctx, owner, repo)
	if err != nil {
		return err
	}
	existing := make(map[string]gh.Label, len(catalog))
	for _, label := range catalog {
		existing[strings.ToLower(label.Name)] = label
	}

	for _, spec := range append(cfg.Labels.Time, cfg.Labels.Priority...) {
		if _, ok := existing[strings.ToLower(spec.Name)]; ok {
			continue
		}
		if err := p.GH.CreateLabel(ctx, owner, repo, spec.Name, reconcile.ColorDefault); err != nil {
			return err
		}
	}

	for _, label := range catalog {
		if pricing.IsPriceLabel(label.Name) && !strings.EqualFold(label.Color, reconcile.ColorPrice) {
			if err := p.GH.UpdateLabelColor(ctx, owner, repo, label.Name, reconcile.ColorPrice); err != nil {
				return err
			}
		}
	}
	return nil
}

// carriesPricingLabels reports whether the issue has any label the pricing
// engine owns. Issues without one are left alone during propagation so a
// fan-out never triggers mass AI estimation.
func carriesPricingLabels(issue gh.Issue, cfg *config.Config) bool {
	for _, label := range issue.Labels {
		if pricing.IsPriceLabel(label.Name) || labels.IsTimeLabel(label.Name) {
			return true
		}
		if strings.HasPrefix(strings.ToLower(label.Name), "priority:") {
			return true
		}
		if cfg.PriorityPattern != nil && cfg.PriorityPattern.Match(label.Name) {
			return true
		}
	}
	return false
}

func touchesConfig(paths []string) bool {
	for _, path := range paths {
		if path == config.Path || path == config.DevPath {
			return true
		}
	}
	return false
}

func excluded(name string, cfg *config.Config) bool {
	for _, pattern := range cfg.GlobalConfigUpdate.ExcludeRepos {
		if strings.EqualFold(pattern, name) {
			return true
		}
	}
	return false
}

func dedupe(users ...string) []string {
	var out []string
	seen := map[string]bool{}
	for _, user := range users {
		if user == "" || seen[user] {
			continue
		}
		seen[user] = true
		out = append(out, user)
	}
	return out
}
