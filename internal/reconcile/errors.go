package reconcile

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the event payload is missing the owner, repository,
// or issue the reconciler needs. This is an event shape the core does not
// handle; callers log it at debug and move on.
var ErrNotFound = errors.New("payload missing owner or issue")

// ValidationError reports an AI estimate that failed validation against the
// configured labels. The event aborts with no mutation; the bot never
// guesses.
type ValidationError struct {
	Field string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("estimation returned unusable %s %q", e.Field, e.Value)
}

// PermissionError reports a sender who is not allowed to perform the
// triggering action. The reconciler reverts the triggering label and posts
// one explanatory comment before returning this.
type PermissionError struct {
	User   string
	Reason string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.User, e.Reason)
}
