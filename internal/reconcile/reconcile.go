// Package reconcile is the label-reconciliation and pricing-derivation
// engine. One call handles one issue event to completion: it re-derives
// everything from the issue's current label set, decides whether AI
// estimation is needed, removes non-canonical family members, and applies
// the derived price label.
//
// GitHub label state is the single source of truth. Running reconciliation
// twice with no intervening human edit issues zero additional mutating
// calls, which is what stands in for locking.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/priceworks/bountybot/internal/config"
	"github.com/priceworks/bountybot/internal/estimate"
	"github.com/priceworks/bountybot/internal/gh"
	"github.com/priceworks/bountybot/internal/labels"
	"github.com/priceworks/bountybot/internal/pricing"
)

// Label catalog colors, matching the convention pre-existing repositories
// already use.
const (
	ColorDefault = "ededed"
	ColorPrice   = "1f883d"
)

// IssueService is the GitHub surface the reconciler mutates through.
// *gh.Client satisfies it.
type IssueService interface {
	AddLabels(ctx context.Context, owner, repo string, number int, names []string) error
	RemoveLabel(ctx context.Context, owner, repo string, number int, name string) error
	CreateLabel(ctx context.Context, owner, repo, name, color string) error
	ListRepoLabels(ctx context.Context, owner, repo string) ([]gh.Label, error)
	ListLabeledEvents(ctx context.Context, owner, repo string, number int) ([]gh.LabelEvent, error)
	ListComments(ctx context.Context, owner, repo string, number int) ([]gh.Comment, error)
	PostComment(ctx context.Context, owner, repo string, number int, body string) error
	CollaboratorPermission(ctx context.Context, owner, repo, user string) (string, error)
	OrgRole(ctx context.Context, org, user string) (string, bool, error)
}

// Estimator is the AI estimation surface. *estimate.Client satisfies it.
type Estimator interface {
	EstimatePriorityTime(ctx context.Context, title, body string) (*estimate.Estimate, error)
	EstimateDuration(ctx context.Context, title, body string, timeLabels, recentComments []string) (string, error)
}

// Event is the per-invocation view of a webhook delivery, already reduced to
// what reconciliation needs.
type Event struct {
	Name      string // e.g. "issues.labeled"
	Owner     string
	Repo      string
	Org       string // empty outside organizations
	Issue     gh.Issue
	Label     string // the label added/removed, for label events
	Sender    string
	SenderBot bool
}

// Reconciler drives the per-issue state machine.
type Reconciler struct {
	GH  IssueService
	Est Estimator
	Log *slog.Logger
}

// New builds a reconciler. A nil logger falls back to slog.Default.
func New(ghc IssueService, est Estimator, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{GH: ghc, Est: est, Log: log}
}

// Reconcile runs the full state machine for one issue event:
//
//	Start -> ClearPriceLabels -> ClassifyLabels ->
//	{EstimateWithAI | UseExistingLabels} -> RemoveNonCanonical ->
//	ComputeAndApplyPrice -> End
//
// with an Abort exit (missing owner, permission denied, validation failure)
// that performs no further mutation beyond what already executed.
func (r *Reconciler) Reconcile(ctx context.Context, ev Event, cfg *config.Config) error {
	if ev.Owner == "" || ev.Issue.Number == 0 {
		return ErrNotFound
	}
	log := r.Log.With("repo", ev.Owner+"/"+ev.Repo, "issue", ev.Issue.Number)

	if IsParentIssue(ev.Issue.Body) {
		log.Info("parent issue, stripping pricing labels")
		return r.handleParentIssue(ctx, ev)
	}

	if err := r.gateLabelAccess(ctx, ev, cfg, log); err != nil {
		return err
	}

	// A price label applied by hand is an explicit override: keep only the
	// smallest price label and do not recompute anything away.
	if pricing.IsPriceLabel(ev.Label) && !ev.SenderBot {
		return r.keepSmallestPrice(ctx, ev, log)
	}

	return r.setPrice(ctx, ev, cfg, log)
}

// Reprice re-derives the price for one issue outside any webhook delivery,
// used when a configuration change fans out across repositories. No
// permission gate runs and no comments are posted; the event name keeps it
// off the human-feedback branches.
func (r *Reconciler) Reprice(ctx context.Context, ev Event, cfg *config.Config) error {
	if ev.Owner == "" || ev.Issue.Number == 0 {
		return ErrNotFound
	}
	log := r.Log.With("repo", ev.Owner+"/"+ev.Repo, "issue", ev.Issue.Number)
	if IsParentIssue(ev.Issue.Body) {
		if err := r.handleParentIssue(ctx, ev); err != nil && !errors.Is(err, ErrNoParentLabels) {
			return err
		}
		return nil
	}
	return r.setPrice(ctx, ev, cfg, log)
}

// setPrice is the post-gate pricing pass, also used by the propagator when
// it reprices every open issue in a repository.
func (r *Reconciler) setPrice(ctx context.Context, ev Event, cfg *config.Config, log *slog.Logger) error {
	c := classify(ev.Issue.Labels, cfg)
	decision := c.decision()
	log.Info("classified labels", "decision", decision.String(),
		"time", len(c.time), "priority", len(c.priority), "invalid", len(c.invalid))

	// A family label that fails the configured pattern is rejected
	// explicitly, never silently replaced by an AI guess.
	if len(c.invalid) > 0 {
		return r.rejectInvalid(ctx, ev, c, log)
	}

	switch decision {
	case TimeAndPriority:
		return r.priceFromExisting(ctx, ev, cfg, c, log)
	case TimeOnly, PriorityOnly:
		if r.autoEstimationActive(ev, cfg) {
			return r.priceWithEstimation(ctx, ev, cfg, c, log)
		}
		return r.clearPriceAndReport(ctx, ev, log)
	default:
		if cfg.AutoLabeling.Enabled && cfg.AutoLabeling.Mode == config.ModeFull {
			return r.priceWithEstimation(ctx, ev, cfg, c, log)
		}
		log.Info("no recognized labels and full auto estimation is off, skipping")
		return r.clearPriceLabels(ctx, ev)
	}
}

// autoEstimationActive reports whether this event may call AI to fill a
// missing family: full mode always may, partial mode only when the issue
// carries the configured trigger label.
func (r *Reconciler) autoEstimationActive(ev Event, cfg *config.Config) bool {
	if !cfg.AutoLabeling.Enabled {
		return false
	}
	if cfg.AutoLabeling.Mode == config.ModeFull {
		return true
	}
	for _, label := range ev.Issue.Labels {
		if strings.EqualFold(label.Name, cfg.AutoLabeling.TriggerLabel) {
			return true
		}
	}
	return false
}

// priceFromExisting handles the both-families-present branch: AI is never
// consulted, the canonical member of each family is the minimum normalized
// value, and every other member is removed.
func (r *Reconciler) priceFromExisting(ctx context.Context, ev Event, cfg *config.Config, c classification, log *slog.Logger) error {
	minTime, ok := minByValue(c.time, cfg.PriorityPattern)
	if !ok {
		return fmt.Errorf("no usable time label on %s/%s#%d", ev.Owner, ev.Repo, ev.Issue.Number)
	}
	minPriority, ok := minByValue(c.priority, cfg.PriorityPattern)
	if !ok {
		return fmt.Errorf("no usable priority label on %s/%s#%d", ev.Owner, ev.Repo, ev.Issue.Number)
	}

	for _, label := range c.time {
		if label.Name != minTime.Name {
			if err := r.GH.RemoveLabel(ctx, ev.Owner, ev.Repo, ev.Issue.Number, label.Name); err != nil {
				return err
			}
		}
	}
	for _, label := range c.priority {
		if label.Name != minPriority.Name {
			if err := r.GH.RemoveLabel(ctx, ev.Owner, ev.Repo, ev.Issue.Number, label.Name); err != nil {
				return err
			}
		}
	}

	priceLabel, err := r.priceLabelFor(minTime.Name, minPriority.Name, cfg)
	if err != nil {
		return err
	}
	log.Info("derived price", "time", minTime.Name, "priority", minPriority.Name, "price", priceLabel)
	return r.applyPriceLabel(ctx, ev, priceLabel)
}

// priceWithEstimation fills missing families from the AI estimator, then
// prices. Any validation failure aborts with no mutation.
func (r *Reconciler) priceWithEstimation(ctx context.Context, ev Event, cfg *config.Config, c classification, log *slog.Logger) error {
	if r.Est == nil {
		return fmt.Errorf("%w: estimator not configured", estimate.ErrUpstream)
	}
	est, err := r.Est.EstimatePriorityTime(ctx, ev.Issue.Title, ev.Issue.Body)
	if err != nil {
		return err
	}

	// Validate before any mutation: the time string must parse, the
	// priority string must be one of the configured priority labels.
	estTime := labels.ParseTimeInput(est.Time)
	if estTime == nil {
		return &ValidationError{Field: "time", Value: est.Time}
	}
	if !r.configuredPriority(est.Priority, cfg) {
		return &ValidationError{Field: "priority", Value: est.Priority}
	}

	timeName := labels.FormatTimeLabel(*estTime)
	priorityName := est.Priority
	if min, ok := minByValue(c.time, cfg.PriorityPattern); ok {
		timeName = min.Name
	}
	if min, ok := minByValue(c.priority, cfg.PriorityPattern); ok {
		priorityName = min.Name
	}

	// The family that was already present may still hold duplicates; the
	// canonical member is the minimum, everything else goes.
	for _, label := range c.time {
		if label.Name != timeName {
			if err := r.GH.RemoveLabel(ctx, ev.Owner, ev.Repo, ev.Issue.Number, label.Name); err != nil {
				return err
			}
		}
	}
	for _, label := range c.priority {
		if label.Name != priorityName {
			if err := r.GH.RemoveLabel(ctx, ev.Owner, ev.Repo, ev.Issue.Number, label.Name); err != nil {
				return err
			}
		}
	}

	var toAdd []string
	if len(c.time) == 0 {
		if err := r.GH.CreateLabel(ctx, ev.Owner, ev.Repo, timeName, ColorDefault); err != nil {
			return err
		}
		toAdd = append(toAdd, timeName)
	}
	if len(c.priority) == 0 {
		if err := r.GH.CreateLabel(ctx, ev.Owner, ev.Repo, priorityName, ColorDefault); err != nil {
			return err
		}
		toAdd = append(toAdd, priorityName)
	}
	if err := r.GH.AddLabels(ctx, ev.Owner, ev.Repo, ev.Issue.Number, toAdd); err != nil {
		return err
	}
	log.Info("estimation filled missing labels", "time", timeName, "priority", priorityName)

	priceLabel, err := r.priceLabelFor(timeName, priorityName, cfg)
	if err != nil {
		return err
	}
	return r.applyPriceLabel(ctx, ev, priceLabel)
}

func (r *Reconciler) configuredPriority(name string, cfg *config.Config) bool {
	for _, spec := range cfg.Labels.Priority {
		if strings.EqualFold(spec.Name, name) {
			return true
		}
	}
	return false
}

// priceLabelFor derives the price label text from canonical time and
// priority label names.
func (r *Reconciler) priceLabelFor(timeName, priorityName string, cfg *config.Config) (string, error) {
	parsed := labels.ParseTimeLabel(timeName)
	if parsed == nil {
		return "", fmt.Errorf("time label %q does not parse", timeName)
	}
	priorityValue, ok := labels.Value(priorityName, cfg.PriorityPattern)
	if !ok {
		return "", fmt.Errorf("priority label %q has no value", priorityName)
	}
	d, err := pricing.PriceFromSpecs(cfg.BasePriceMultiplier, labels.HoursEquivalent(*parsed), priorityValue, cfg.Labels.Priority)
	if err != nil {
		return "", err
	}
	return pricing.FormatLabel(d), nil
}

// applyPriceLabel converges the issue onto exactly one price label. It diffs
// against the current label set, so a second run with unchanged inputs makes
// no mutating calls.
func (r *Reconciler) applyPriceLabel(ctx context.Context, ev Event, target string) error {
	present := false
	for _, label := range ev.Issue.Labels {
		if !pricing.IsPriceLabel(label.Name) {
			continue
		}
		if label.Name == target {
			present = true
			continue
		}
		if err := r.GH.RemoveLabel(ctx, ev.Owner, ev.Repo, ev.Issue.Number, label.Name); err != nil {
			return err
		}
	}
	if present {
		return nil
	}
	if err := r.ensureCatalogLabel(ctx, ev, target, ColorPrice); err != nil {
		return err
	}
	return r.GH.AddLabels(ctx, ev.Owner, ev.Repo, ev.Issue.Number, []string{target})
}

func (r *Reconciler) ensureCatalogLabel(ctx context.Context, ev Event, name, color string) error {
	catalog, err := r.GH.ListRepoLabels(ctx, ev.Owner, ev.Repo)
	if err != nil {
		return err
	}
	for _, label := range catalog {
		if strings.EqualFold(label.Name, name) {
			return nil
		}
	}
	return r.GH.CreateLabel(ctx, ev.Owner, ev.Repo, name, color)
}

// clearPriceLabels removes all price labels from the issue.
func (r *Reconciler) clearPriceLabels(ctx context.Context, ev Event) error {
	for _, label := range ev.Issue.Labels {
		if pricing.IsPriceLabel(label.Name) {
			if err := r.GH.RemoveLabel(ctx, ev.Owner, ev.Repo, ev.Issue.Number, label.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// clearPriceAndReport handles "one family present, no estimation allowed":
// the price cannot be determined, so any stale price labels are cleared and
// an explicit human label event gets one explanatory comment.
func (r *Reconciler) clearPriceAndReport(ctx context.Context, ev Event, log *slog.Logger) error {
	log.Warn("no recognized label pair to price this task")
	if ev.Name == "issues.labeled" && !ev.SenderBot {
		msg := "No recognized labels were found to set the price of this task. Both a `Time:` and a `Priority:` label are required."
		if err := r.GH.PostComment(ctx, ev.Owner, ev.Repo, ev.Issue.Number, msg); err != nil {
			return err
		}
	}
	return r.clearPriceLabels(ctx, ev)
}

// rejectInvalid handles family labels that fail the configured pattern:
// a distinct branch from "label absent" so malformed values are surfaced
// instead of silently falling through to AI.
func (r *Reconciler) rejectInvalid(ctx context.Context, ev Event, c classification, log *slog.Logger) error {
	names := make([]string, len(c.invalid))
	for i, label := range c.invalid {
		names[i] = label.Name
	}
	log.Warn("labels fail the configured pattern", "labels", names)
	if ev.Name == "issues.labeled" && !ev.SenderBot {
		msg := fmt.Sprintf("The label(s) %s do not match the configured pricing labels and cannot be priced. Fix or remove them to continue.",
			"`"+strings.Join(names, "`, `")+"`")
		if err := r.GH.PostComment(ctx, ev.Owner, ev.Repo, ev.Issue.Number, msg); err != nil {
			return err
		}
	}
	return r.clearPriceLabels(ctx, ev)
}

// keepSmallestPrice implements the manual price override: keep only the
// smallest existing price label, remove the rest, recompute nothing.
func (r *Reconciler) keepSmallestPrice(ctx context.Context, ev Event, log *slog.Logger) error {
	var smallest string
	for _, label := range ev.Issue.Labels {
		amount, ok := pricing.ParseLabel(label.Name)
		if !ok {
			continue
		}
		if smallest == "" {
			smallest = label.Name
			continue
		}
		best, _ := pricing.ParseLabel(smallest)
		if amount.LessThan(best) {
			smallest = label.Name
		}
	}
	if smallest == "" {
		return nil
	}
	log.Info("manual price override, keeping smallest price label", "label", smallest)
	for _, label := range ev.Issue.Labels {
		if pricing.IsPriceLabel(label.Name) && label.Name != smallest {
			if err := r.GH.RemoveLabel(ctx, ev.Owner, ev.Repo, ev.Issue.Number, label.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// IsUpstream reports whether err came from GitHub or the estimation service.
func IsUpstream(err error) bool {
	return errors.Is(err, estimate.ErrUpstream)
}
