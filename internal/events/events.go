// Package events turns parsed GitHub webhook deliveries into calls on the
// reconciler and the propagator. It owns the event-shape concerns: which
// deliveries matter, payload conversion, and which outcomes are reported
// back to GitHub as delivery failures versus handled and logged.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/go-github/v39/github"

	"github.com/priceworks/bountybot/internal/config"
	"github.com/priceworks/bountybot/internal/gh"
	"github.com/priceworks/bountybot/internal/pricing"
	"github.com/priceworks/bountybot/internal/propagate"
	"github.com/priceworks/bountybot/internal/reconcile"
)

// issueActions are the issue events that trigger reconciliation.
var issueActions = map[string]bool{
	"opened":    true,
	"edited":    true,
	"reopened":  true,
	"labeled":   true,
	"unlabeled": true,
}

// Handler routes one webhook delivery to the right engine.
type Handler struct {
	Rec     *reconcile.Reconciler
	Prop    *propagate.Propagator
	Configs config.Fetcher
	Log     *slog.Logger
}

// Dispatch parses a raw delivery and routes it. The returned error is a
// delivery failure worth a retry from GitHub's side; expected outcomes such
// as permission denials and validation rejections are logged and absorbed,
// since retrying them can never succeed.
func (h *Handler) Dispatch(ctx context.Context, eventType string, payload []byte) error {
	parsed, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return fmt.Errorf("parsing %s delivery: %w", eventType, err)
	}

	switch e := parsed.(type) {
	case *github.IssuesEvent:
		return h.handleIssues(ctx, e)
	case *github.IssueCommentEvent:
		return h.handleComment(ctx, e)
	case *github.PushEvent:
		return h.handlePush(ctx, e)
	case *github.RepositoryEvent:
		return h.handleRepository(ctx, e)
	default:
		h.Log.Debug("unsupported event", "type", eventType)
		return nil
	}
}

func (h *Handler) handleIssues(ctx context.Context, e *github.IssuesEvent) error {
	action := e.GetAction()
	if !issueActions[action] {
		h.Log.Debug("ignoring issue action", "action", action)
		return nil
	}
	ev := issueEvent("issues."+action, e)
	ev.Label = e.GetLabel().GetName()

	// The bot applying its own derived price label echoes back as a
	// labeled delivery; reconciling it again is a guaranteed no-op.
	if ev.SenderBot && action == "labeled" && pricing.IsPriceLabel(ev.Label) {
		h.Log.Debug("skipping own price application", "label", ev.Label)
		return nil
	}

	cfg, err := h.Configs.Fetch(ctx, ev.Owner, ev.Repo, "")
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			h.Log.Info("repository has no pricing config", "repo", ev.Owner+"/"+ev.Repo)
			return nil
		}
		return err
	}

	switch action {
	case "labeled", "unlabeled":
		// Reconciliation runs only when the label being added or removed
		// is one the bot owns; a user labeling an issue "bug" must not
		// kick off estimation.
		if !reconcile.ManagedLabel(ev.Label, cfg) {
			h.Log.Debug("ignoring unmanaged label event", "label", ev.Label)
			return nil
		}
	case "opened":
		// A new issue may be the first in its repository: make sure the
		// configured label catalog exists before pricing against it.
		if err := h.Prop.SyncCatalog(ctx, ev.Owner, ev.Repo, cfg); err != nil {
			return fmt.Errorf("syncing label catalog: %w", err)
		}
	}
	return h.absorb(h.Rec.Reconcile(ctx, ev, cfg))
}

func (h *Handler) handleComment(ctx context.Context, e *github.IssueCommentEvent) error {
	if e.GetAction() != "created" || e.GetComment().GetUser().GetType() == "Bot" {
		return nil
	}
	body := strings.TrimSpace(e.GetComment().GetBody())
	if !strings.HasPrefix(strings.ToLower(body), "/time") {
		return nil
	}
	ev := issueEvent("issue_comment.created", e)
	ev.Sender = e.GetComment().GetUser().GetLogin()

	cfg, err := h.Configs.Fetch(ctx, ev.Owner, ev.Repo, "")
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			h.Log.Info("repository has no pricing config", "repo", ev.Owner+"/"+ev.Repo)
			return nil
		}
		return err
	}
	return h.absorb(h.Rec.HandleTimeCommand(ctx, ev, cfg, body))
}

// handleRepository seeds the label catalog of a freshly created repository
// from its effective configuration, usually the org-wide one.
func (h *Handler) handleRepository(ctx context.Context, e *github.RepositoryEvent) error {
	if e.GetAction() != "created" {
		return nil
	}
	owner := e.GetRepo().GetOwner().GetLogin()
	name := e.GetRepo().GetName()

	cfg, err := h.Configs.Fetch(ctx, owner, name, "")
	if err != nil {
		if errors.Is(err, config.ErrNotFound) {
			h.Log.Info("new repository has no pricing config", "repo", owner+"/"+name)
			return nil
		}
		return err
	}
	return h.Prop.ResyncRepo(ctx, owner, name, cfg)
}

func (h *Handler) handlePush(ctx context.Context, e *github.PushEvent) error {
	var modified []string
	for _, commit := range e.Commits {
		modified = append(modified, commit.Added...)
		modified = append(modified, commit.Modified...)
	}
	push := propagate.Push{
		Owner:     e.GetRepo().GetOwner().GetLogin(),
		Repo:      e.GetRepo().GetName(),
		Org:       ownerOrg(e.GetRepo().GetOwner()),
		Ref:       e.GetRef(),
		Before:    e.GetBefore(),
		After:     e.GetAfter(),
		Pusher:    e.GetPusher().GetName(),
		Sender:    e.GetSender().GetLogin(),
		SenderBot: e.GetSender().GetType() == "Bot",
		Modified:  modified,
	}
	return h.absorb(h.Prop.HandlePush(ctx, push))
}

// absorb classifies an engine error: expected outcomes are logged and
// swallowed, everything else propagates as a delivery failure.
func (h *Handler) absorb(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, reconcile.ErrNotFound), errors.Is(err, reconcile.ErrNoParentLabels):
		h.Log.Debug("nothing to do", "reason", err)
		return nil
	}
	var perr *reconcile.PermissionError
	var verr *reconcile.ValidationError
	if errors.As(err, &perr) || errors.As(err, &verr) {
		h.Log.Warn("event rejected", "error", err)
		return nil
	}
	return err
}

// issueEventSource is the common shape of issue-bearing webhook payloads.
type issueEventSource interface {
	GetRepo() *github.Repository
	GetSender() *github.User
	GetIssue() *github.Issue
}

// ownerOrg returns the owner's login when the repository belongs to an
// organization, and "" for user-owned repositories.
func ownerOrg(owner *github.User) string {
	if owner.GetType() == "Organization" {
		return owner.GetLogin()
	}
	return ""
}

func issueEvent(name string, e issueEventSource) reconcile.Event {
	repo := e.GetRepo()
	return reconcile.Event{
		Name:      name,
		Owner:     repo.GetOwner().GetLogin(),
		Repo:      repo.GetName(),
		Org:       ownerOrg(repo.GetOwner()),
		Issue:     issueFrom(e.GetIssue()),
		Sender:    e.GetSender().GetLogin(),
		SenderBot: e.GetSender().GetType() == "Bot",
	}
}

func issueFrom(is *github.Issue) gh.Issue {
	out := gh.Issue{
		Number: is.GetNumber(),
		Title:  is.GetTitle(),
		Body:   is.GetBody(),
		Author: is.GetUser().GetLogin(),
	}
	for _, label := range is.Labels {
		out.Labels = append(out.Labels, gh.Label{Name: label.GetName(), Color: label.GetColor()})
	}
	return out
}
