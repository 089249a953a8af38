package propagate

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/priceworks/bountybot/internal/config"
	"github.com/priceworks/bountybot/internal/gh"
	"github.com/priceworks/bountybot/internal/reconcile"
)

const baseConfigYAML = `
basePriceMultiplier: 1
labels:
  time:
    - name: "Time: <1 Hour"
    - name: "Time: <1 Day"
  priority:
    - name: "Priority: 1 (Normal)"
    - name: "Priority: 2 (Medium)"
`

const doubledConfigYAML = `
basePriceMultiplier: 2
labels:
  time:
    - name: "Time: <1 Hour"
    - name: "Time: <1 Day"
  priority:
    - name: "Priority: 1 (Normal)"
    - name: "Priority: 2 (Medium)"
`

// fakeService backs both the propagator and the reconciler it drives.
type fakeService struct {
	files    map[string][]byte // "owner/repo@ref:path"
	repos    []gh.Repo
	catalog  map[string][]gh.Label // "owner/repo"
	issues   map[string][]gh.Issue
	perms    map[string]string
	issueErr map[string]error

	created    []string
	recolored  []string
	added      []string
	removed    []string
	posted     []string
	issueLists int
}

func fileKey(owner, repo, ref, path string) string {
	return fmt.Sprintf("%s/%s@%s:%s", owner, repo, ref, path)
}

func (f *fakeService) FileContent(_ context.Context, owner, repo, path, ref string) ([]byte, error) {
	if data, ok := f.files[fileKey(owner, repo, ref, path)]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("no content at %s: %w", fileKey(owner, repo, ref, path), fs.ErrNotExist)
}

func (f *fakeService) ListOrgRepos(context.Context, string) ([]gh.Repo, error) {
	return f.repos, nil
}

func (f *fakeService) ListOpenIssues(_ context.Context, owner, repo string) ([]gh.Issue, error) {
	f.issueLists++
	key := owner + "/" + repo
	if err := f.issueErr[key]; err != nil {
		return nil, err
	}
	return f.issues[key], nil
}

func (f *fakeService) ListRepoLabels(_ context.Context, owner, repo string) ([]gh.Label, error) {
	return f.catalog[owner+"/"+repo], nil
}

func (f *fakeService) CreateLabel(_ context.Context, owner, repo, name, _ string) error {
	f.created = append(f.created, owner+"/"+repo+":"+name)
	return nil
}

func (f *fakeService) UpdateLabelColor(_ context.Context, owner, repo, name, color string) error {
	f.recolored = append(f.recolored, name+"#"+color)
	return nil
}

func (f *fakeService) AddLabels(_ context.Context, owner, repo string, _ int, names []string) error {
	for _, name := range names {
		f.added = append(f.added, owner+"/"+repo+":"+name)
	}
	return nil
}

func (f *fakeService) RemoveLabel(_ context.Context, _, _ string, _ int, name string) error {
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeService) ListLabeledEvents(context.Context, string, string, int) ([]gh.LabelEvent, error) {
	return nil, nil
}

func (f *fakeService) ListComments(context.Context, string, string, int) ([]gh.Comment, error) {
	return nil, nil
}

func (f *fakeService) PostComment(_ context.Context, _, _ string, _ int, body string) error {
	f.posted = append(f.posted, body)
	return nil
}

func (f *fakeService) CollaboratorPermission(_ context.Context, _, _, user string) (string, error) {
	if perm, ok := f.perms[user]; ok {
		return perm, nil
	}
	return "none", nil
}

func (f *fakeService) OrgRole(context.Context, string, string) (string, bool, error) {
	return "", false, nil
}

func (f *fakeService) mutations() int {
	return len(f.created) + len(f.recolored) + len(f.added) + len(f.removed) + len(f.posted)
}

func testPropagator(f *fakeService) *Propagator {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := reconcile.New(f, nil, log)
	return New(f, rec, log)
}

func adminPush() Push {
	return Push{
		Owner:    "acme",
		Repo:     "rockets",
		Ref:      "refs/heads/main",
		Before:   "aaa111",
		After:    "bbb222",
		Pusher:   "alice",
		Sender:   "alice",
		Modified: []string{config.Path},
	}
}

func TestHandlePushBranchDeletionSkipped(t *testing.T) {
	f := &fakeService{perms: map[string]string{"alice": "admin"}}
	p := testPropagator(f)

	push := adminPush()
	push.After = ZeroSHA
	require.NoError(t, p.HandlePush(context.Background(), push))
	assert.Zero(t, f.mutations())
}

func TestHandlePushBranchCreationSkipped(t *testing.T) {
	f := &fakeService{
		perms: map[string]string{"alice": "admin"},
		files: map[string][]byte{
			fileKey("acme", "rockets", "bbb222", config.Path): []byte(baseConfigYAML),
		},
	}
	p := testPropagator(f)

	push := adminPush()
	push.Before = ZeroSHA
	require.NoError(t, p.HandlePush(context.Background(), push))
	assert.Zero(t, f.mutations(), "pushing an existing config to a new branch changes nothing")
}

func TestHandlePushIgnoresUnrelatedPaths(t *testing.T) {
	f := &fakeService{perms: map[string]string{"alice": "admin"}}
	p := testPropagator(f)

	push := adminPush()
	push.Modified = []string{"README.md", "internal/main.go"}
	require.NoError(t, p.HandlePush(context.Background(), push))
	assert.Zero(t, f.mutations())
	assert.Zero(t, f.issueLists)
}

func TestHandlePushUnauthorized(t *testing.T) {
	f := &fakeService{perms: map[string]string{"mallory": "read"}}
	p := testPropagator(f)

	push := adminPush()
	push.Pusher = "mallory"
	push.Sender = "mallory"
	err := p.HandlePush(context.Background(), push)

	var perr *reconcile.PermissionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "mallory", perr.User)
	assert.Zero(t, f.mutations())
}

func TestHandlePushNoOpEdit(t *testing.T) {
	f := &fakeService{
		perms: map[string]string{"alice": "admin"},
		files: map[string][]byte{
			fileKey("acme", "rockets", "aaa111", config.Path): []byte(baseConfigYAML),
			fileKey("acme", "rockets", "bbb222", config.Path): []byte("# reformatted\n" + baseConfigYAML),
		},
	}
	p := testPropagator(f)

	require.NoError(t, p.HandlePush(context.Background(), adminPush()))
	assert.Zero(t, f.mutations())
	assert.Zero(t, f.issueLists, "a semantic no-op must not resync anything")
}

func TestHandlePushResyncsRepo(t *testing.T) {
	f := &fakeService{
		perms: map[string]string{"alice": "admin"},
		files: map[string][]byte{
			fileKey("acme", "rockets", "aaa111", config.Path): []byte(baseConfigYAML),
			fileKey("acme", "rockets", "bbb222", config.Path): []byte(doubledConfigYAML),
		},
		catalog: map[string][]gh.Label{
			"acme/rockets": {
				{Name: "Time: <1 Hour", Color: reconcile.ColorDefault},
				{Name: "Price: 50 USD", Color: "ededed"},
			},
		},
		issues: map[string][]gh.Issue{
			"acme/rockets": {
				{Number: 1, Labels: []gh.Label{{Name: "Time: 1 Hour"}, {Name: "Priority: 2 (Medium)"}}},
				{Number: 2, Labels: []gh.Label{{Name: "bug"}}},
			},
		},
	}
	p := testPropagator(f)

	require.NoError(t, p.HandlePush(context.Background(), adminPush()))

	assert.ElementsMatch(t, []string{
		"acme/rockets:Time: <1 Day",
		"acme/rockets:Priority: 1 (Normal)",
		"acme/rockets:Priority: 2 (Medium)",
	}, f.created)
	assert.Equal(t, []string{"Price: 50 USD#" + reconcile.ColorPrice}, f.recolored)
	// multiplier 2, 1 hour, priority 2
	assert.Equal(t, []string{"acme/rockets:Price: 50 USD"}, f.added)
}

func TestPropagateOrgFanOut(t *testing.T) {
	orgYAML := doubledConfigYAML + `
globalConfigUpdate:
  excludeRepos:
    - legacy
`
	f := &fakeService{
		perms: map[string]string{"alice": "admin"},
		files: map[string][]byte{
			fileKey("acme", config.OrgRepo, "bbb222", config.Path): []byte(orgYAML),
			fileKey("acme", config.OrgRepo, "", config.Path):       []byte(orgYAML),
		},
		repos: []gh.Repo{
			{Name: "rockets", Owner: "acme"},
			{Name: "flaky", Owner: "acme"},
			{Name: "legacy", Owner: "acme"},
			{Name: "attic", Owner: "acme", Archived: true},
			{Name: config.OrgRepo, Owner: "acme"},
		},
		issues: map[string][]gh.Issue{
			"acme/rockets": {
				{Number: 1, Labels: []gh.Label{{Name: "Time: 1 Hour"}, {Name: "Priority: 2 (Medium)"}}},
			},
		},
		issueErr: map[string]error{
			"acme/flaky": fmt.Errorf("boom"),
		},
		catalog: map[string][]gh.Label{
			"acme/rockets": {
				{Name: "Time: <1 Hour", Color: reconcile.ColorDefault},
				{Name: "Time: <1 Day", Color: reconcile.ColorDefault},
				{Name: "Priority: 1 (Normal)", Color: reconcile.ColorDefault},
				{Name: "Priority: 2 (Medium)", Color: reconcile.ColorDefault},
				{Name: "Price: 50 USD", Color: reconcile.ColorPrice},
			},
			"acme/flaky": {
				{Name: "Time: <1 Hour", Color: reconcile.ColorDefault},
				{Name: "Time: <1 Day", Color: reconcile.ColorDefault},
				{Name: "Priority: 1 (Normal)", Color: reconcile.ColorDefault},
				{Name: "Priority: 2 (Medium)", Color: reconcile.ColorDefault},
			},
		},
	}
	p := testPropagator(f)
	p.Concurrency = 1 // deterministic ordering for assertions

	push := adminPush()
	push.Repo = config.OrgRepo
	push.Org = "acme"
	err := p.HandlePush(context.Background(), push)

	require.Error(t, err, "one broken repository surfaces as a failure")
	assert.Contains(t, err.Error(), "1 repositories")
	assert.Equal(t, []string{"acme/rockets:Price: 50 USD"}, f.added,
		"healthy repositories still resynchronize")
	assert.Empty(t, f.created, "excluded and archived repositories stay untouched")
}
