// Package gh wraps the GitHub REST client behind the narrow surface the
// reconciler and propagator need: label mutation, catalog and issue listing,
// permission lookups, comments, and ref-pinned config file reads.
//
// Pagination and request pacing live here so the core logic stays free of
// API mechanics. Each call is idempotent from the caller's perspective; the
// reconciler re-derives its world from the latest observed label set, so a
// retried or duplicated call cannot corrupt state.
package gh

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"strings"

	"github.com/google/go-github/v39/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// Label is the minimal label view the core operates on.
type Label struct {
	Name  string
	Color string
}

// Client is a paced GitHub API client.
type Client struct {
	gh      *github.Client
	limiter *rate.Limiter
}

// NewClient builds a client authenticated with a personal access or
// installation token. Bulk paths (org propagation) can issue thousands of
// calls, so all traffic is paced well below GitHub's secondary limits.
func NewClient(ctx context.Context, token string) *Client {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	}
	return &Client{
		gh:      github.NewClient(hc),
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}
}

// NewClientFrom wraps an existing go-github client; used by tests with
// httptest-backed clients.
func NewClientFrom(gh *github.Client) *Client {
	return &Client{gh: gh, limiter: rate.NewLimiter(rate.Inf, 1)}
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// AddLabels attaches labels to an issue.
func (c *Client) AddLabels(ctx context.Context, owner, repo string, number int, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	if _, _, err := c.gh.Issues.AddLabelsToIssue(ctx, owner, repo, number, names); err != nil {
		return fmt.Errorf("adding labels to %s/%s#%d: %w", owner, repo, number, err)
	}
	return nil
}

// RemoveLabel detaches one label from an issue. A 404 is not an error: the
// label was already gone, which is the state we wanted.
func (c *Client) RemoveLabel(ctx context.Context, owner, repo string, number int, name string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	resp, err := c.gh.Issues.RemoveLabelForIssue(ctx, owner, repo, number, name)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("removing label %q from %s/%s#%d: %w", name, owner, repo, number, err)
	}
	return nil
}

// CreateLabel adds a label to the repository catalog. Already-exists
// conflicts are ignored; labels are created lazily and never deleted from
// the catalog.
func (c *Client) CreateLabel(ctx context.Context, owner, repo, name, color string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, resp, err := c.gh.Issues.CreateLabel(ctx, owner, repo, &github.Label{
		Name:  github.String(name),
		Color: github.String(color),
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
			return nil
		}
		return fmt.Errorf("creating label %q in %s/%s: %w", name, owner, repo, err)
	}
	return nil
}

// UpdateLabelColor repaints an existing catalog label.
func (c *Client) UpdateLabelColor(ctx context.Context, owner, repo, name, color string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, _, err := c.gh.Issues.EditLabel(ctx, owner, repo, name, &github.Label{
		Name:  github.String(name),
		Color: github.String(color),
	})
	if err != nil {
		return fmt.Errorf("updating label %q in %s/%s: %w", name, owner, repo, err)
	}
	return nil
}

// ListRepoLabels returns the repository's full label catalog.
func (c *Client) ListRepoLabels(ctx context.Context, owner, repo string) ([]Label, error) {
	opts := &github.ListOptions{PerPage: 100}
	var out []Label
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.gh.Issues.ListLabels(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing labels in %s/%s: %w", owner, repo, err)
		}
		for _, l := range page {
			out = append(out, Label{Name: l.GetName(), Color: l.GetColor()})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// Issue is the slice of issue state reconciliation needs.
type Issue struct {
	Number int
	Title  string
	Body   string
	Labels []Label
	Author string
}

// ListOpenIssues returns the repository's open issues, excluding pull
// requests.
func (c *Client) ListOpenIssues(ctx context.Context, owner, repo string) ([]Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []Issue
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.gh.Issues.ListByRepo(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing issues in %s/%s: %w", owner, repo, err)
		}
		for _, is := range page {
			if is.IsPullRequest() {
				continue
			}
			out = append(out, issueFrom(is))
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func issueFrom(is *github.Issue) Issue {
	issue := Issue{
		Number: is.GetNumber(),
		Title:  is.GetTitle(),
		Body:   is.GetBody(),
		Author: is.GetUser().GetLogin(),
	}
	for _, l := range is.Labels {
		issue.Labels = append(issue.Labels, Label{Name: l.GetName(), Color: l.GetColor()})
	}
	return issue
}

// LabelEvent is one historical labeled/unlabeled event on an issue.
type LabelEvent struct {
	Label    string
	Actor    string
	ActorBot bool
}

// ListLabeledEvents returns the "labeled" events on an issue in order of
// occurrence; the reconciler uses them to find who last set a label.
func (c *Client) ListLabeledEvents(ctx context.Context, owner, repo string, number int) ([]LabelEvent, error) {
	opts := &github.ListOptions{PerPage: 100}
	var out []LabelEvent
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.gh.Issues.ListIssueEvents(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing events for %s/%s#%d: %w", owner, repo, number, err)
		}
		for _, ev := range page {
			if ev.GetEvent() != "labeled" || ev.Label == nil {
				continue
			}
			out = append(out, LabelEvent{
				Label:    ev.Label.GetName(),
				Actor:    ev.GetActor().GetLogin(),
				ActorBot: ev.GetActor().GetType() == "Bot",
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// Comment is one issue comment.
type Comment struct {
	Author string
	Bot    bool
	Body   string
}

// ListComments returns all comments on an issue, oldest first.
func (c *Client) ListComments(ctx context.Context, owner, repo string, number int) ([]Comment, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []Comment
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.gh.Issues.ListComments(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("listing comments for %s/%s#%d: %w", owner, repo, number, err)
		}
		for _, cm := range page {
			out = append(out, Comment{
				Author: cm.GetUser().GetLogin(),
				Bot:    cm.GetUser().GetType() == "Bot",
				Body:   cm.GetBody(),
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// PostComment adds a comment to an issue.
func (c *Client) PostComment(ctx context.Context, owner, repo string, number int, body string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return fmt.Errorf("commenting on %s/%s#%d: %w", owner, repo, number, err)
	}
	return nil
}

// CollaboratorPermission returns the user's repository permission:
// "admin", "write", "read", or "none".
func (c *Client) CollaboratorPermission(ctx context.Context, owner, repo, user string) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	level, _, err := c.gh.Repositories.GetPermissionLevel(ctx, owner, repo, user)
	if err != nil {
		return "", fmt.Errorf("permission level for %s in %s/%s: %w", user, owner, repo, err)
	}
	return level.GetPermission(), nil
}

// OrgRole returns the user's organization membership role ("admin",
// "member", "billing_manager"). The second return is false when the user is
// not a member.
func (c *Client) OrgRole(ctx context.Context, org, user string) (string, bool, error) {
	if err := c.wait(ctx); err != nil {
		return "", false, err
	}
	membership, resp, err := c.gh.Organizations.GetOrgMembership(ctx, user, org)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", false, nil
		}
		return "", false, fmt.Errorf("org membership for %s in %s: %w", user, org, err)
	}
	return membership.GetRole(), true, nil
}

// Repo is one organization repository as seen by the propagator.
type Repo struct {
	Name     string
	Owner    string
	Archived bool
	Disabled bool
}

// ListOrgRepos returns every repository in the organization.
func (c *Client) ListOrgRepos(ctx context.Context, org string) ([]Repo, error) {
	opts := &github.RepositoryListByOrgOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []Repo
	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		page, resp, err := c.gh.Repositories.ListByOrg(ctx, org, opts)
		if err != nil {
			return nil, fmt.Errorf("listing repos in org %s: %w", org, err)
		}
		for _, r := range page {
			out = append(out, Repo{
				Name:     r.GetName(),
				Owner:    r.GetOwner().GetLogin(),
				Archived: r.GetArchived(),
				Disabled: r.GetDisabled(),
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// FileContent fetches one file's decoded contents at ref (empty ref means
// the default branch). Satisfies config.ContentsGetter.
func (c *Client) FileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	file, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s in %s/%s@%s: %w", path, owner, repo, refOrDefault(ref), fs.ErrNotExist)
		}
		return nil, fmt.Errorf("fetching %s from %s/%s@%s: %w", path, owner, repo, refOrDefault(ref), err)
	}
	if file == nil {
		return nil, fmt.Errorf("fetching %s from %s/%s: path is a directory", path, owner, repo)
	}
	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s from %s/%s: %w", path, owner, repo, err)
	}
	return []byte(content), nil
}

func refOrDefault(ref string) string {
	if strings.TrimSpace(ref) == "" {
		return "HEAD"
	}
	return ref
}
