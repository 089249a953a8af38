package reconcile

import (
	"context"
	"log/slog"
	"strings"

	"github.com/priceworks/bountybot/internal/config"
	"github.com/priceworks/bountybot/internal/labels"
	"github.com/priceworks/bountybot/internal/pricing"
)

// Rank orders how much a user is trusted with time-label changes:
// contributor < author < collaborator < admin.
type Rank int

const (
	RankContributor Rank = iota
	RankAuthor
	RankCollaborator
	RankAdmin
)

func (r Rank) String() string {
	switch r {
	case RankAdmin:
		return "admin"
	case RankCollaborator:
		return "collaborator"
	case RankAuthor:
		return "author"
	default:
		return "contributor"
	}
}

// Role values GitHub reports for repo permission and org membership.
// Anything outside these sets is a contributor (external user).
var (
	adminRoles        = []string{"admin", "owner", "billing_manager"}
	collaboratorRoles = []string{"write", "member", "collaborator", "maintain"}
)

func roleIn(role string, set []string) bool {
	role = strings.ToLower(role)
	for _, candidate := range set {
		if role == candidate {
			return true
		}
	}
	return false
}

// IsAdminOrBillingManager reports whether the user holds admin repository
// permission or an admin/billing-manager org role. Bots count as admins:
// the bot's own reapplications must never be reverted. The propagator uses
// the same check on the pusher and sender of configuration pushes.
func (r *Reconciler) IsAdminOrBillingManager(ctx context.Context, ev Event, user string, userIsBot bool) (bool, error) {
	if userIsBot {
		return true, nil
	}
	if user == "" {
		return false, nil
	}
	perm, err := r.GH.CollaboratorPermission(ctx, ev.Owner, ev.Repo, user)
	if err == nil && roleIn(perm, adminRoles) {
		return true, nil
	}
	if ev.Org != "" {
		role, member, roleErr := r.GH.OrgRole(ctx, ev.Org, user)
		if roleErr != nil {
			return false, roleErr
		}
		if member && roleIn(role, adminRoles) {
			return true, nil
		}
		return false, nil
	}
	return false, err
}

// rankOf resolves a user's trust rank for time-label changes.
func (r *Reconciler) rankOf(ctx context.Context, ev Event, user string) Rank {
	if user == "" {
		return RankContributor
	}
	if perm, err := r.GH.CollaboratorPermission(ctx, ev.Owner, ev.Repo, user); err == nil {
		if roleIn(perm, adminRoles) {
			return RankAdmin
		}
		if roleIn(perm, collaboratorRoles) {
			return RankCollaborator
		}
	}
	if ev.Org != "" {
		if role, member, err := r.GH.OrgRole(ctx, ev.Org, user); err == nil && member {
			if roleIn(role, adminRoles) {
				return RankAdmin
			}
			return RankCollaborator
		}
	}
	if user == ev.Issue.Author {
		return RankAuthor
	}
	return RankContributor
}

// gateLabelAccess enforces the permission check on label events before any
// mutation. A denied non-bot sender has the just-added label reverted and
// receives exactly one explanatory comment.
func (r *Reconciler) gateLabelAccess(ctx context.Context, ev Event, cfg *config.Config, log *slog.Logger) error {
	if ev.Name != "issues.labeled" && ev.Name != "issues.unlabeled" {
		return nil
	}
	if ev.Label == "" {
		log.Debug("label event carries no label name")
		return ErrNotFound
	}
	if cfg.ShouldFundContributorClosedIssue {
		log.Info("fund-contributor-closed-issue policy allows all label changes")
		return nil
	}
	if ev.SenderBot {
		return nil
	}
	if !r.isManagedLabel(ev.Label, cfg) {
		// Custom labels are none of our business.
		return nil
	}

	allowed, err := r.IsAdminOrBillingManager(ctx, ev, ev.Sender, ev.SenderBot)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}

	if ev.Name == "issues.labeled" {
		if err := r.GH.RemoveLabel(ctx, ev.Owner, ev.Repo, ev.Issue.Number, ev.Label); err != nil {
			return err
		}
		if err := r.GH.PostComment(ctx, ev.Owner, ev.Repo, ev.Issue.Number, "You are not allowed to set labels."); err != nil {
			return err
		}
	}
	return &PermissionError{User: ev.Sender, Reason: "not allowed to change pricing labels"}
}

// isManagedLabel reports whether the label belongs to one of the families
// the bot owns, or is the auto-labeling trigger.
func (r *Reconciler) isManagedLabel(name string, cfg *config.Config) bool {
	if pricing.IsPriceLabel(name) || hasTimePrefix(name) || hasPriorityPrefix(name) {
		return true
	}
	if cfg.TimePattern != nil && cfg.TimePattern.Match(name) {
		return true
	}
	if cfg.PriorityPattern != nil && cfg.PriorityPattern.Match(name) {
		return true
	}
	if labels.IsTimeLabel(name) {
		return true
	}
	if cfg.AutoLabeling.Enabled && strings.EqualFold(name, cfg.AutoLabeling.TriggerLabel) {
		return true
	}
	return false
}
