package pipewright

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GitHubGateway implements Gateway for GitHub repositories.
type GitHubGateway struct {
	client *github.Client
	owner  string
	repo   string
}

// NewGitHubGateway creates a GitHub gateway.
// token is a personal access token or GitHub App token.
func NewGitHubGateway(token, owner, repo string) (*GitHubGateway, error) {
	if token == "" {
		return nil, fmt.Errorf("GitHub token is required")
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("owner and repo are required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)

	return &GitHubGateway{
		client: github.NewClient(tc),
		owner:  owner,
		repo:   repo,
	}, nil
}

// CreateIssue creates a new issue.
func (g *GitHubGateway) CreateIssue(ctx context.Context, opts IssueOptions) (*Issue, error) {
	req := &github.IssueRequest{
		Title: github.String(opts.Title),
		Body:  github.String(opts.Body),
	}
	if len(opts.Labels) > 0 {
		req.Labels = &opts.Labels
	}

	issue, resp, err := g.client.Issues.Create(ctx, g.owner, g.repo, req)
	if err != nil {
		return nil, g.wrap("create issue", resp, err)
	}
	return issueFromGitHub(issue), nil
}

// GetIssue retrieves an issue by number.
func (g *GitHubGateway) GetIssue(ctx context.Context, number int) (*Issue, error) {
	issue, resp, err := g.client.Issues.Get(ctx, g.owner, g.repo, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrIssueNotFound
		}
		return nil, g.wrap("get issue", resp, err)
	}
	return issueFromGitHub(issue), nil
}

// ListIssues lists open issues carrying all the given labels.
func (g *GitHubGateway) ListIssues(ctx context.Context, labels []string) ([]*Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "open",
		Labels:      labels,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var out []*Issue
	for {
		issues, resp, err := g.client.Issues.ListByRepo(ctx, g.owner, g.repo, opts)
		if err != nil {
			return nil, g.wrap("list issues", resp, err)
		}
		for _, is := range issues {
			if is.IsPullRequest() {
				continue
			}
			out = append(out, issueFromGitHub(is))
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// SetIssueLabels replaces the labels on an issue.
func (g *GitHubGateway) SetIssueLabels(ctx context.Context, issueNumber int, labels []string) error {
	_, resp, err := g.client.Issues.ReplaceLabelsForIssue(ctx, g.owner, g.repo, issueNumber, labels)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return ErrIssueNotFound
		}
		return g.wrap("set labels", resp, err)
	}
	return nil
}

// AddIssueComment posts a comment on an issue.
func (g *GitHubGateway) AddIssueComment(ctx context.Context, issueNumber int, body string) (int64, error) {
	comment, resp, err := g.client.Issues.CreateComment(ctx, g.owner, g.repo, issueNumber,
		&github.IssueComment{Body: github.String(body)})
	if err != nil {
		return 0, g.wrap("add comment", resp, err)
	}
	return comment.GetID(), nil
}

// UpdateIssueComment replaces a comment's body.
func (g *GitHubGateway) UpdateIssueComment(ctx context.Context, commentID int64, body string) error {
	_, resp, err := g.client.Issues.EditComment(ctx, g.owner, g.repo, commentID,
		&github.IssueComment{Body: github.String(body)})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return ErrCommentNotFound
		}
		return g.wrap("update comment", resp, err)
	}
	return nil
}

// ListIssueComments lists all comments on an issue, oldest first.
func (g *GitHubGateway) ListIssueComments(ctx context.Context, issueNumber int) ([]*IssueComment, error) {
	opts := &github.IssueListCommentsOptions{
		Sort:        github.String("created"),
		Direction:   github.String("asc"),
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []*IssueComment
	for {
		comments, resp, err := g.client.Issues.ListComments(ctx, g.owner, g.repo, issueNumber, opts)
		if err != nil {
			return nil, g.wrap("list comments", resp, err)
		}
		for _, c := range comments {
			all = append(all, &IssueComment{
				ID:        c.GetID(),
				Body:      c.GetBody(),
				Author:    c.GetUser().GetLogin(),
				CreatedAt: c.GetCreatedAt().Time,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// FindCommentByMarker returns the first comment containing the marker substring.
func (g *GitHubGateway) FindCommentByMarker(ctx context.Context, issueNumber int, marker string) (*IssueComment, error) {
	comments, err := g.ListIssueComments(ctx, issueNumber)
	if err != nil {
		return nil, err
	}
	for _, c := range comments {
		if strings.Contains(c.Body, marker) {
			return c, nil
		}
	}
	return nil, ErrCommentNotFound
}

// CreatePR creates a pull request.
func (g *GitHubGateway) CreatePR(ctx context.Context, opts PROptions) (*PullRequest, error) {
	base := opts.Base
	if base == "" {
		base = "main"
	}

	newPR := &github.NewPullRequest{
		Title: github.String(opts.Title),
		Body:  github.String(opts.Body),
		Base:  github.String(base),
		Head:  github.String(opts.Head),
		Draft: github.Bool(opts.Draft),
	}

	pr, resp, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, newPR)
	if err != nil {
		return nil, g.wrap("create PR", resp, err)
	}

	if len(opts.Labels) > 0 {
		_, _, err = g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, pr.GetNumber(), opts.Labels)
		if err != nil {
			// PR was created successfully; labels are cosmetic.
			slog.Warn("failed to add labels to PR", "error", err, "pr", pr.GetNumber())
		}
	}

	return prFromGitHub(pr), nil
}

// GetPR retrieves a pull request by number.
func (g *GitHubGateway) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	pr, resp, err := g.client.PullRequests.Get(ctx, g.owner, g.repo, number)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrPRNotFound
		}
		return nil, g.wrap("get PR", resp, err)
	}
	return prFromGitHub(pr), nil
}

// MergePR merges a pull request. An already-merged PR is reported via
// MergeOutcome.AlreadyMerged rather than an error.
func (g *GitHubGateway) MergePR(ctx context.Context, number int, opts MergeOptions) (*MergeOutcome, error) {
	mergeOpts := &github.PullRequestOptions{
		CommitTitle: opts.CommitTitle,
	}
	switch opts.Method {
	case MergeMethodMerge:
		mergeOpts.MergeMethod = "merge"
	case MergeMethodRebase:
		mergeOpts.MergeMethod = "rebase"
	default:
		mergeOpts.MergeMethod = "squash"
	}

	result, resp, err := g.client.PullRequests.Merge(ctx, g.owner, g.repo, number, opts.CommitMessage, mergeOpts)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusNotFound:
				return nil, ErrPRNotFound
			case http.StatusMethodNotAllowed:
				// Method-not-allowed covers both closed and already-merged;
				// disambiguate by fetching the PR.
				pr, getErr := g.GetPR(ctx, number)
				if getErr == nil && pr.Merged() {
					return &MergeOutcome{SHA: pr.MergedSHA, AlreadyMerged: true}, nil
				}
				return nil, ErrPRClosed
			case http.StatusConflict:
				return nil, ErrMergeConflict
			}
		}
		return nil, g.wrap("merge PR", resp, err)
	}

	return &MergeOutcome{
		SHA:         result.GetSHA(),
		CommitTitle: opts.CommitTitle,
	}, nil
}

// issueRefPattern matches "#N" issue references in PR titles and bodies.
var issueRefPattern = regexp.MustCompile(`#(\d+)\b`)

// FindOpenPRForIssue resolves the open PR that references the issue. The
// returned PR carries its actual head branch; callers must never recompute
// the branch from the title, since titles can change after the PR exists.
func (g *GitHubGateway) FindOpenPRForIssue(ctx context.Context, issueNumber int) (*PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 50},
	}
	prs, resp, err := g.client.PullRequests.List(ctx, g.owner, g.repo, opts)
	if err != nil {
		return nil, g.wrap("list PRs", resp, err)
	}

	for _, pr := range prs {
		if prReferencesIssue(pr.GetTitle(), pr.GetBody(), pr.GetHead().GetRef(), issueNumber) {
			return prFromGitHub(pr), nil
		}
	}
	return nil, ErrPRNotFound
}

// prReferencesIssue reports whether a PR's title, body, or head branch
// references the given issue number.
func prReferencesIssue(title, body, head string, issueNumber int) bool {
	want := fmt.Sprintf("%d", issueNumber)
	for _, text := range []string{title, body} {
		for _, m := range issueRefPattern.FindAllStringSubmatch(text, -1) {
			if m[1] == want {
				return true
			}
		}
	}
	return head == IntegrationBranch(issueNumber) ||
		strings.HasSuffix(head, "-"+want) ||
		strings.Contains(head, "task-"+want+"-")
}

// CreateRevertPR constructs a rollback PR for a merged pull request by
// branching at the merge commit's first parent. Returns (nil, nil) when no
// rollback can be constructed (PR not merged, or trunk has since moved on).
func (g *GitHubGateway) CreateRevertPR(ctx context.Context, prNumber int) (*PullRequest, error) {
	pr, err := g.GetPR(ctx, prNumber)
	if err != nil {
		return nil, err
	}
	if !pr.Merged() || pr.MergedSHA == "" {
		return nil, nil
	}

	commit, resp, err := g.client.Repositories.GetCommit(ctx, g.owner, g.repo, pr.MergedSHA, nil)
	if err != nil {
		return nil, g.wrap("get merge commit", resp, err)
	}
	if len(commit.Parents) == 0 {
		return nil, nil
	}
	parentSHA := commit.Parents[0].GetSHA()

	branch := fmt.Sprintf("revert-pr-%d", prNumber)
	if err := g.CreateBranch(ctx, branch, parentSHA); err != nil {
		if errors.Is(err, ErrBranchExists) {
			// A previous revert attempt left the branch behind; reuse it.
			slog.Warn("revert branch already exists, reusing", "branch", branch)
		} else {
			return nil, err
		}
	}

	revert, err := g.CreatePR(ctx, PROptions{
		Title: fmt.Sprintf("Revert %q (#%d)", pr.Title, prNumber),
		Body:  fmt.Sprintf("Rolls back #%d by restoring the pre-merge trunk state.", prNumber),
		Head:  branch,
		Base:  pr.Base,
	})
	if err != nil {
		// "No commits between" means trunk already moved past the merge;
		// a rollback PR cannot be constructed this way.
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && gwErr.StatusCode == http.StatusUnprocessableEntity {
			if derr := g.DeleteBranch(ctx, branch); derr != nil {
				slog.Warn("failed to clean up revert branch", "branch", branch, "error", derr)
			}
			return nil, nil
		}
		return nil, err
	}
	return revert, nil
}

// BranchExists reports whether the branch exists on the remote.
func (g *GitHubGateway) BranchExists(ctx context.Context, name string) (bool, error) {
	_, resp, err := g.client.Repositories.GetBranch(ctx, g.owner, g.repo, name, 0)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, g.wrap("get branch", resp, err)
	}
	return true, nil
}

// CreateBranch creates a branch at the given base ref. from may be a branch
// name or a commit SHA.
func (g *GitHubGateway) CreateBranch(ctx context.Context, name, from string) error {
	sha := from
	if !looksLikeSHA(from) {
		ref, resp, err := g.client.Git.GetRef(ctx, g.owner, g.repo, "refs/heads/"+from)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return ErrBranchNotFound
			}
			return g.wrap("get base ref", resp, err)
		}
		sha = ref.GetObject().GetSHA()
	}

	_, resp, err := g.client.Git.CreateRef(ctx, g.owner, g.repo, &github.Reference{
		Ref:    github.String("refs/heads/" + name),
		Object: &github.GitObject{SHA: github.String(sha)},
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnprocessableEntity {
			return ErrBranchExists
		}
		return g.wrap("create branch", resp, err)
	}
	return nil
}

// DeleteBranch deletes a remote branch.
func (g *GitHubGateway) DeleteBranch(ctx context.Context, name string) error {
	resp, err := g.client.Git.DeleteRef(ctx, g.owner, g.repo, "refs/heads/"+name)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return ErrBranchNotFound
		}
		return g.wrap("delete branch", resp, err)
	}
	return nil
}

// wrap converts a go-github error into a GatewayError with status context.
func (g *GitHubGateway) wrap(op string, resp *github.Response, err error) error {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	return &GatewayError{Op: op, StatusCode: status, Err: err}
}

// looksLikeSHA reports whether s looks like a full or abbreviated commit SHA.
func looksLikeSHA(s string) bool {
	if len(s) < 7 || len(s) > 40 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func issueFromGitHub(issue *github.Issue) *Issue {
	result := &Issue{
		Number: issue.GetNumber(),
		URL:    issue.GetHTMLURL(),
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
		State:  issue.GetState(),
	}
	for _, label := range issue.Labels {
		result.Labels = append(result.Labels, label.GetName())
	}
	if issue.CreatedAt != nil {
		result.CreatedAt = issue.CreatedAt.Time
	}
	return result
}

func prFromGitHub(pr *github.PullRequest) *PullRequest {
	result := &PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
		Title:  pr.GetTitle(),
		Body:   pr.GetBody(),
		Draft:  pr.GetDraft(),
	}

	switch pr.GetState() {
	case "open":
		result.State = PRStateOpen
	case "closed":
		if pr.GetMerged() {
			result.State = PRStateMerged
		} else {
			result.State = PRStateClosed
		}
	}
	result.MergedSHA = pr.GetMergeCommitSHA()

	if pr.Head != nil {
		result.Head = pr.Head.GetRef()
	}
	if pr.Base != nil {
		result.Base = pr.Base.GetRef()
	}
	if pr.CreatedAt != nil {
		result.CreatedAt = pr.CreatedAt.Time
	}
	if pr.UpdatedAt != nil {
		result.UpdatedAt = pr.UpdatedAt.Time
	}
	return result
}
