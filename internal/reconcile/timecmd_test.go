package reconcile

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceworks/bountybot/internal/gh"
)

func timeEvent(sender string, issueLabels ...string) Event {
	return Event{
		Name:   "issue_comment.created",
		Owner:  "acme",
		Repo:   "rockets",
		Sender: sender,
		Issue: gh.Issue{
			Number: 7,
			Title:  "Fix the turbine",
			Author: "author",
			Labels: labelSet(issueLabels...),
		},
	}
}

func TestTimeCommandSnapsToCatalog(t *testing.T) {
	f := &fakeGH{
		repoLabels: labelSet("Time: <1 Hour", "Time: <1 Day", "Time: <1 Week", "bug"),
	}
	r := testReconciler(f, nil)

	err := r.HandleTimeCommand(context.Background(), timeEvent("bob"), testConfig(t), "/time 2 days")
	require.NoError(t, err)
	assert.Equal(t, []string{"Time: <1 Day"}, f.added)
	assert.Empty(t, f.removed)
}

func TestTimeCommandReplacesExisting(t *testing.T) {
	f := &fakeGH{
		perms:      map[string]string{"carol": "write"},
		repoLabels: labelSet("Time: <1 Hour", "Time: <1 Day", "Time: <1 Week"),
	}
	r := testReconciler(f, nil)

	ev := timeEvent("carol", "Time: <1 Hour", "bug")
	require.NoError(t, r.HandleTimeCommand(context.Background(), ev, testConfig(t), "/time 1 week"))
	assert.Equal(t, []string{"Time: <1 Hour"}, f.removed)
	assert.Equal(t, []string{"Time: <1 Week"}, f.added)
}

func TestTimeCommandIdempotent(t *testing.T) {
	f := &fakeGH{
		perms:      map[string]string{"carol": "write"},
		repoLabels: labelSet("Time: <1 Hour", "Time: <1 Day"),
	}
	r := testReconciler(f, nil)

	ev := timeEvent("carol", "Time: <1 Day")
	require.NoError(t, r.HandleTimeCommand(context.Background(), ev, testConfig(t), "/time 1 day"))
	assert.Zero(t, f.mutations())
}

func TestTimeCommandInvalidDuration(t *testing.T) {
	f := &fakeGH{}
	r := testReconciler(f, nil)

	err := r.HandleTimeCommand(context.Background(), timeEvent("bob"), testConfig(t), "/time soonish")

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, f.mutations())
}

func TestTimeCommandIgnoresOtherCommands(t *testing.T) {
	f := &fakeGH{}
	r := testReconciler(f, nil)
	require.NoError(t, r.HandleTimeCommand(context.Background(), timeEvent("bob"), testConfig(t), "/assign me"))
	assert.Zero(t, f.mutations())
}

func TestTimeCommandEstimatesWhenEmpty(t *testing.T) {
	f := &fakeGH{
		repoLabels: labelSet("Time: <1 Hour", "Time: <1 Day", "Time: <1 Week"),
		comments: []gh.Comment{
			{Author: "bob", Body: "This looks like an afternoon of work."},
		},
	}
	est := &fakeEstimator{duration: "4 hours"}
	r := testReconciler(f, est)

	require.NoError(t, r.HandleTimeCommand(context.Background(), timeEvent("bob"), testConfig(t), "/time"))
	assert.Equal(t, 1, est.calls)
	assert.Equal(t, []string{"Time: <1 Hour"}, f.added)
}

func TestTimeCommandOverrideRanks(t *testing.T) {
	tests := []struct {
		name   string
		sender string
		perms  map[string]string
		events []gh.LabelEvent
		want   bool // override allowed
	}{
		{
			name:   "admin always overrides",
			sender: "alice",
			perms:  map[string]string{"alice": "admin", "carol": "write"},
			events: []gh.LabelEvent{{Label: "Time: <1 Hour", Actor: "carol"}},
			want:   true,
		},
		{
			name:   "collaborator always overrides",
			sender: "carol",
			perms:  map[string]string{"carol": "write", "alice": "admin"},
			events: []gh.LabelEvent{{Label: "Time: <1 Hour", Actor: "alice"}},
			want:   true,
		},
		{
			name:   "author overrides own value",
			sender: "author",
			perms:  map[string]string{},
			events: []gh.LabelEvent{{Label: "Time: <1 Hour", Actor: "author"}},
			want:   true,
		},
		{
			name:   "author overrides a contributor's value",
			sender: "author",
			perms:  map[string]string{},
			events: []gh.LabelEvent{{Label: "Time: <1 Hour", Actor: "bob"}},
			want:   true,
		},
		{
			name:   "author cannot override a collaborator's value",
			sender: "author",
			perms:  map[string]string{"carol": "write"},
			events: []gh.LabelEvent{{Label: "Time: <1 Hour", Actor: "carol"}},
			want:   false,
		},
		{
			name:   "contributor never overrides",
			sender: "bob",
			perms:  map[string]string{},
			events: []gh.LabelEvent{{Label: "Time: <1 Hour", Actor: "bob"}},
			want:   false,
		},
		{
			name:   "unknown setter treated as lowest trust",
			sender: "author",
			perms:  map[string]string{},
			events: nil,
			want:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeGH{
				perms:         tt.perms,
				labeledEvents: tt.events,
				repoLabels:    labelSet("Time: <1 Hour", "Time: <1 Day", "Time: <1 Week"),
			}
			r := testReconciler(f, nil)

			ev := timeEvent(tt.sender, "Time: <1 Hour")
			err := r.HandleTimeCommand(context.Background(), ev, testConfig(t), "/time 1 week")
			if tt.want {
				require.NoError(t, err)
				assert.Equal(t, []string{"Time: <1 Week"}, f.added)
			} else {
				var perr *PermissionError
				require.ErrorAs(t, err, &perr)
				assert.Len(t, f.posted, 1)
				assert.Empty(t, f.added)
			}
		})
	}
}

func TestTimeCommandBotSetterResolvesInitiator(t *testing.T) {
	t.Run("collaborator initiator blocks author", func(t *testing.T) {
		f := &fakeGH{
			perms:         map[string]string{"dave": "write"},
			labeledEvents: []gh.LabelEvent{{Label: "Time: <1 Hour", Actor: "bountybot[bot]", ActorBot: true}},
			comments: []gh.Comment{
				{Author: "dave", Body: "/time 1 hour"},
				{Author: "bountybot[bot]", Bot: true, Body: "Set Time: <1 Hour"},
			},
			repoLabels: labelSet("Time: <1 Hour", "Time: <1 Week"),
		}
		r := testReconciler(f, nil)

		ev := timeEvent("author", "Time: <1 Hour")
		err := r.HandleTimeCommand(context.Background(), ev, testConfig(t), "/time 1 week")
		var perr *PermissionError
		require.ErrorAs(t, err, &perr)
	})

	t.Run("untraceable initiator allows author", func(t *testing.T) {
		f := &fakeGH{
			labeledEvents: []gh.LabelEvent{{Label: "Time: <1 Hour", Actor: "bountybot[bot]", ActorBot: true}},
			repoLabels:    labelSet("Time: <1 Hour", "Time: <1 Week"),
		}
		r := testReconciler(f, nil)

		ev := timeEvent("author", "Time: <1 Hour")
		require.NoError(t, r.HandleTimeCommand(context.Background(), ev, testConfig(t), "/time 1 week"))
		assert.Equal(t, []string{"Time: <1 Week"}, f.added)
	})
}
