package reconcile

import (
	"context"
	"strings"

	"github.com/priceworks/bountybot/internal/config"
	"github.com/priceworks/bountybot/internal/labels"
)

// maxPromptComments caps how much recent discussion the duration estimator
// sees.
const maxPromptComments = 5

// HandleTimeCommand processes a "/time [duration]" issue comment. With no
// duration the AI estimator proposes one from the issue title, body, and
// recent human comments. The sender is authorized against the time-label
// rank hierarchy before any existing label is replaced, and the final value
// snaps to the closest existing time label in the repository catalog.
func (r *Reconciler) HandleTimeCommand(ctx context.Context, ev Event, cfg *config.Config, commentBody string) error {
	if ev.Owner == "" || ev.Issue.Number == 0 {
		return ErrNotFound
	}
	log := r.Log.With("repo", ev.Owner+"/"+ev.Repo, "issue", ev.Issue.Number, "sender", ev.Sender)

	fields := strings.Fields(strings.TrimSpace(commentBody))
	if len(fields) == 0 || !strings.EqualFold(fields[0], "/time") {
		log.Warn("unsupported command", "body", commentBody)
		return nil
	}
	input := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(commentBody), fields[0]))

	if input == "" {
		estimated, err := r.estimateDuration(ctx, ev, cfg)
		if err != nil {
			return err
		}
		input = estimated
		log.Info("estimated duration", "duration", input)
	}

	parsed := labels.ParseTimeInput(input)
	if parsed == nil {
		return &ValidationError{Field: "duration", Value: input}
	}

	if err := r.authorizeTimeChange(ctx, ev); err != nil {
		return err
	}

	catalog, err := r.GH.ListRepoLabels(ctx, ev.Owner, ev.Repo)
	if err != nil {
		return err
	}
	names := make([]string, len(catalog))
	for i, label := range catalog {
		names[i] = label.Name
	}
	target := labels.ClosestTimeLabel(*parsed, names)
	log.Info("setting time label", "label", target)

	present := false
	for _, label := range ev.Issue.Labels {
		if !labels.IsTimeLabel(label.Name) {
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
	if err := r.ensureCatalogLabel(ctx, ev, target, ColorDefault); err != nil {
		return err
	}
	return r.GH.AddLabels(ctx, ev.Owner, ev.Repo, ev.Issue.Number, []string{target})
}

// authorizeTimeChange enforces the rank hierarchy on overwrites of an
// existing time label. Setting a first value is open to anybody.
func (r *Reconciler) authorizeTimeChange(ctx context.Context, ev Event) error {
	hasTime := false
	for _, label := range ev.Issue.Labels {
		if labels.IsTimeLabel(label.Name) {
			hasTime = true
			break
		}
	}
	if !hasTime {
		return nil
	}

	senderRank := r.rankOf(ctx, ev, ev.Sender)
	if senderRank >= RankCollaborator {
		return nil
	}
	if senderRank == RankAuthor {
		setterRank := r.lastTimeSetterRank(ctx, ev)
		if setterRank <= RankAuthor {
			return nil
		}
	}

	msg := "Only admins, collaborators, or the issue author can change an existing time estimate."
	if err := r.GH.PostComment(ctx, ev.Owner, ev.Repo, ev.Issue.Number, msg); err != nil {
		return err
	}
	return &PermissionError{User: ev.Sender, Reason: "cannot overwrite the existing time label"}
}

// lastTimeSetterRank finds who last set a time label and resolves their
// rank. When the labeled event's actor is a bot, the human initiator is
// looked up best-effort from earlier /time comments; an unknown initiator is
// treated as the lowest trust rank rather than defaulting upward.
func (r *Reconciler) lastTimeSetterRank(ctx context.Context, ev Event) Rank {
	events, err := r.GH.ListLabeledEvents(ctx, ev.Owner, ev.Repo, ev.Issue.Number)
	if err != nil {
		return RankContributor
	}
	setter := ""
	setterBot := false
	for _, le := range events {
		if labels.IsTimeLabel(le.Label) {
			setter = le.Actor
			setterBot = le.ActorBot
		}
	}
	if setter == "" {
		return RankContributor
	}
	if setterBot {
		setter = r.lastTimeCommandAuthor(ctx, ev)
		if setter == "" {
			return RankContributor
		}
	}
	if setter == ev.Issue.Author {
		return RankAuthor
	}
	return r.rankOf(ctx, ev, setter)
}

// lastTimeCommandAuthor returns the author of the most recent human /time
// comment, or "" when there is none.
func (r *Reconciler) lastTimeCommandAuthor(ctx context.Context, ev Event) string {
	comments, err := r.GH.ListComments(ctx, ev.Owner, ev.Repo, ev.Issue.Number)
	if err != nil {
		return ""
	}
	author := ""
	for _, comment := range comments {
		if comment.Bot {
			continue
		}
		if strings.HasPrefix(strings.TrimSpace(comment.Body), "/time") {
			author = comment.Author
		}
	}
	return author
}

// estimateDuration asks the AI estimator for a duration, feeding it the
// configured time labels and recent human discussion.
func (r *Reconciler) estimateDuration(ctx context.Context, ev Event, cfg *config.Config) (string, error) {
	if r.Est == nil {
		return "", &ValidationError{Field: "duration", Value: ""}
	}
	timeLabels := make([]string, len(cfg.Labels.Time))
	for i, spec := range cfg.Labels.Time {
		timeLabels[i] = spec.Name
	}

	var recent []string
	if comments, err := r.GH.ListComments(ctx, ev.Owner, ev.Repo, ev.Issue.Number); err == nil {
		for _, comment := range comments {
			if comment.Bot || strings.HasPrefix(strings.TrimSpace(comment.Body), "/") {
				continue
			}
			recent = append(recent, comment.Body)
		}
		if len(recent) > maxPromptComments {
			recent = recent[len(recent)-maxPromptComments:]
		}
	}
	return r.Est.EstimateDuration(ctx, ev.Issue.Title, ev.Issue.Body, timeLabels, recent)
}
