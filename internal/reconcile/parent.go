package reconcile

import (
	"context"
	"errors"
	"regexp"

	"github.com/priceworks/bountybot/internal/labels"
	"github.com/priceworks/bountybot/internal/pricing"
)

// parentTaskMarker matches a task-list reference to a child issue, the
// convention that marks an issue as a coordinating parent.
var parentTaskMarker = regexp.MustCompile(`(?m)^\s*-\s+\[[ x]\]\s+#\d+`)

// ErrNoParentLabels reports that a parent issue carried no pricing labels to
// strip. Parent handling still succeeds from the caller's perspective;
// this is a reported condition, not a silent pass.
var ErrNoParentLabels = errors.New("parent issue had no pricing labels")

// IsParentIssue reports whether the issue body marks it as a parent task.
// Parent issues are never priced.
func IsParentIssue(body string) bool {
	return parentTaskMarker.MatchString(body)
}

// handleParentIssue strips all time, priority, and price labels from a
// parent issue unconditionally.
func (r *Reconciler) handleParentIssue(ctx context.Context, ev Event) error {
	stripped := 0
	for _, label := range ev.Issue.Labels {
		if !pricing.IsPriceLabel(label.Name) && !labels.IsTimeLabel(label.Name) && !hasPriorityPrefix(label.Name) {
			continue
		}
		if err := r.GH.RemoveLabel(ctx, ev.Owner, ev.Repo, ev.Issue.Number, label.Name); err != nil {
			return err
		}
		stripped++
	}
	if stripped == 0 {
		return ErrNoParentLabels
	}
	return nil
}
