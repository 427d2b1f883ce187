package pipewright

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xanzy/go-gitlab"
)

// GitLabGateway implements Gateway for GitLab repositories.
//
// GitLab terminology differs (merge requests, target/source branches); the
// gateway translates so callers only ever see the shared contract.
type GitLabGateway struct {
	client    *gitlab.Client
	projectID string // numeric ID or "namespace/project"
}

// NewGitLabGateway creates a GitLab gateway.
// baseURL is the GitLab instance URL (empty for gitlab.com).
func NewGitLabGateway(token, baseURL, projectID string) (*GitLabGateway, error) {
	if token == "" {
		return nil, fmt.Errorf("GitLab token is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("project ID is required")
	}

	var client *gitlab.Client
	var err error
	if baseURL != "" {
		client, err = gitlab.NewClient(token, gitlab.WithBaseURL(baseURL))
	} else {
		client, err = gitlab.NewClient(token)
	}
	if err != nil {
		return nil, fmt.Errorf("create GitLab client: %w", err)
	}

	return &GitLabGateway{client: client, projectID: projectID}, nil
}

// CreateIssue creates a new issue.
func (g *GitLabGateway) CreateIssue(ctx context.Context, opts IssueOptions) (*Issue, error) {
	issueOpts := &gitlab.CreateIssueOptions{
		Title:       gitlab.Ptr(opts.Title),
		Description: gitlab.Ptr(opts.Body),
	}
	if len(opts.Labels) > 0 {
		issueOpts.Labels = gitlab.Ptr(gitlab.LabelOptions(opts.Labels))
	}

	issue, resp, err := g.client.Issues.CreateIssue(g.projectID, issueOpts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, g.wrap("create issue", resp, err)
	}
	return issueFromGitLab(issue), nil
}

// GetIssue retrieves an issue by IID.
func (g *GitLabGateway) GetIssue(ctx context.Context, number int) (*Issue, error) {
	issue, resp, err := g.client.Issues.GetIssue(g.projectID, number, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrIssueNotFound
		}
		return nil, g.wrap("get issue", resp, err)
	}
	return issueFromGitLab(issue), nil
}

// ListIssues lists open issues carrying all the given labels.
func (g *GitLabGateway) ListIssues(ctx context.Context, labels []string) ([]*Issue, error) {
	opts := &gitlab.ListProjectIssuesOptions{
		State:       gitlab.Ptr("opened"),
		Labels:      (*gitlab.LabelOptions)(&labels),
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}
	var out []*Issue
	for {
		issues, resp, err := g.client.Issues.ListProjectIssues(g.projectID, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, g.wrap("list issues", resp, err)
		}
		for _, is := range issues {
			out = append(out, issueFromGitLab(is))
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// SetIssueLabels replaces the labels on an issue.
func (g *GitLabGateway) SetIssueLabels(ctx context.Context, issueNumber int, labels []string) error {
	_, resp, err := g.client.Issues.UpdateIssue(g.projectID, issueNumber,
		&gitlab.UpdateIssueOptions{Labels: (*gitlab.LabelOptions)(&labels)}, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return ErrIssueNotFound
		}
		return g.wrap("set labels", resp, err)
	}
	return nil
}

// AddIssueComment posts a note on an issue.
func (g *GitLabGateway) AddIssueComment(ctx context.Context, issueNumber int, body string) (int64, error) {
	note, resp, err := g.client.Notes.CreateIssueNote(g.projectID, issueNumber,
		&gitlab.CreateIssueNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
	if err != nil {
		return 0, g.wrap("add comment", resp, err)
	}
	return int64(note.ID), nil
}

// UpdateIssueComment replaces a note's body.
//
// GitLab scopes note updates by issue; the issue IID is encoded into the
// high bits of the comment id by ListIssueComments so the shared contract
// can stay issue-free.
func (g *GitLabGateway) UpdateIssueComment(ctx context.Context, commentID int64, body string) error {
	issueIID, noteID := splitNoteID(commentID)
	_, resp, err := g.client.Notes.UpdateIssueNote(g.projectID, issueIID, noteID,
		&gitlab.UpdateIssueNoteOptions{Body: gitlab.Ptr(body)}, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return ErrCommentNotFound
		}
		return g.wrap("update comment", resp, err)
	}
	return nil
}

// ListIssueComments lists all notes on an issue, oldest first.
func (g *GitLabGateway) ListIssueComments(ctx context.Context, issueNumber int) ([]*IssueComment, error) {
	opts := &gitlab.ListIssueNotesOptions{
		Sort:        gitlab.Ptr("asc"),
		OrderBy:     gitlab.Ptr("created_at"),
		ListOptions: gitlab.ListOptions{PerPage: 100},
	}

	var all []*IssueComment
	for {
		notes, resp, err := g.client.Notes.ListIssueNotes(g.projectID, issueNumber, opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, g.wrap("list comments", resp, err)
		}
		for _, n := range notes {
			comment := &IssueComment{
				ID:     joinNoteID(issueNumber, n.ID),
				Body:   n.Body,
				Author: n.Author.Username,
			}
			if n.CreatedAt != nil {
				comment.CreatedAt = *n.CreatedAt
			}
			all = append(all, comment)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// FindCommentByMarker returns the first note containing the marker substring.
func (g *GitLabGateway) FindCommentByMarker(ctx context.Context, issueNumber int, marker string) (*IssueComment, error) {
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

// CreatePR creates a merge request.
func (g *GitLabGateway) CreatePR(ctx context.Context, opts PROptions) (*PullRequest, error) {
	target := opts.Base
	if target == "" {
		target = "main"
	}

	title := opts.Title
	if opts.Draft {
		title = "Draft: " + title
	}

	mrOpts := &gitlab.CreateMergeRequestOptions{
		Title:        gitlab.Ptr(title),
		Description:  gitlab.Ptr(opts.Body),
		SourceBranch: gitlab.Ptr(opts.Head),
		TargetBranch: gitlab.Ptr(target),
	}
	if len(opts.Labels) > 0 {
		mrOpts.Labels = gitlab.Ptr(gitlab.LabelOptions(opts.Labels))
	}

	mr, resp, err := g.client.MergeRequests.CreateMergeRequest(g.projectID, mrOpts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, g.wrap("create MR", resp, err)
	}
	return prFromGitLab(mr), nil
}

// GetPR retrieves a merge request by IID.
func (g *GitLabGateway) GetPR(ctx context.Context, number int) (*PullRequest, error) {
	mr, resp, err := g.client.MergeRequests.GetMergeRequest(g.projectID, number, nil, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, ErrPRNotFound
		}
		return nil, g.wrap("get MR", resp, err)
	}
	return prFromGitLab(mr), nil
}

// MergePR merges a merge request.
func (g *GitLabGateway) MergePR(ctx context.Context, number int, opts MergeOptions) (*MergeOutcome, error) {
	mergeOpts := &gitlab.AcceptMergeRequestOptions{
		Squash: gitlab.Ptr(opts.Method != MergeMethodMerge),
	}
	if opts.CommitMessage != "" {
		mergeOpts.SquashCommitMessage = gitlab.Ptr(opts.CommitMessage)
	}

	mr, resp, err := g.client.MergeRequests.AcceptMergeRequest(g.projectID, number, mergeOpts, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusNotFound:
				return nil, ErrPRNotFound
			case http.StatusMethodNotAllowed:
				existing, getErr := g.GetPR(ctx, number)
				if getErr == nil && existing.Merged() {
					return &MergeOutcome{SHA: existing.MergedSHA, AlreadyMerged: true}, nil
				}
				return nil, ErrPRClosed
			case http.StatusConflict, http.StatusNotAcceptable:
				return nil, ErrMergeConflict
			}
		}
		return nil, g.wrap("merge MR", resp, err)
	}

	return &MergeOutcome{
		SHA:         mr.MergeCommitSHA,
		CommitTitle: opts.CommitTitle,
	}, nil
}

// FindOpenPRForIssue resolves the open MR that references the issue.
func (g *GitLabGateway) FindOpenPRForIssue(ctx context.Context, issueNumber int) (*PullRequest, error) {
	opts := &gitlab.ListProjectMergeRequestsOptions{
		State:       gitlab.Ptr("opened"),
		OrderBy:     gitlab.Ptr("updated_at"),
		ListOptions: gitlab.ListOptions{PerPage: 50},
	}
	mrs, resp, err := g.client.MergeRequests.ListProjectMergeRequests(g.projectID, opts, gitlab.WithContext(ctx))
	if err != nil {
		return nil, g.wrap("list MRs", resp, err)
	}

	for _, mr := range mrs {
		if prReferencesIssue(mr.Title, mr.Description, mr.SourceBranch, issueNumber) {
			return g.GetPR(ctx, mr.IID)
		}
	}
	return nil, ErrPRNotFound
}

// CreateRevertPR reverts a merged MR's merge commit onto a new branch and
// opens an MR for it. GitLab exposes commit revert natively.
func (g *GitLabGateway) CreateRevertPR(ctx context.Context, prNumber int) (*PullRequest, error) {
	mr, err := g.GetPR(ctx, prNumber)
	if err != nil {
		return nil, err
	}
	if !mr.Merged() || mr.MergedSHA == "" {
		return nil, nil
	}

	branch := fmt.Sprintf("revert-mr-%d", prNumber)
	if err := g.CreateBranch(ctx, branch, mr.Base); err != nil && !errors.Is(err, ErrBranchExists) {
		return nil, err
	}

	_, resp, err := g.client.Commits.RevertCommit(g.projectID, mr.MergedSHA,
		&gitlab.RevertCommitOptions{Branch: gitlab.Ptr(branch)}, gitlab.WithContext(ctx))
	if err != nil {
		// Revert conflicts mean no automatic revert is possible.
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, nil
		}
		return nil, g.wrap("revert commit", resp, err)
	}

	return g.CreatePR(ctx, PROptions{
		Title: fmt.Sprintf("Revert %q (!%d)", mr.Title, prNumber),
		Body:  fmt.Sprintf("Reverts !%d.", prNumber),
		Head:  branch,
		Base:  mr.Base,
	})
}

// BranchExists reports whether the branch exists.
func (g *GitLabGateway) BranchExists(ctx context.Context, name string) (bool, error) {
	_, resp, err := g.client.Branches.GetBranch(g.projectID, name, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, g.wrap("get branch", resp, err)
	}
	return true, nil
}

// CreateBranch creates a branch from the given ref.
func (g *GitLabGateway) CreateBranch(ctx context.Context, name, from string) error {
	_, resp, err := g.client.Branches.CreateBranch(g.projectID, &gitlab.CreateBranchOptions{
		Branch: gitlab.Ptr(name),
		Ref:    gitlab.Ptr(from),
	}, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusBadRequest {
			return ErrBranchExists
		}
		return g.wrap("create branch", resp, err)
	}
	return nil
}

// DeleteBranch deletes a branch.
func (g *GitLabGateway) DeleteBranch(ctx context.Context, name string) error {
	resp, err := g.client.Branches.DeleteBranch(g.projectID, name, gitlab.WithContext(ctx))
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return ErrBranchNotFound
		}
		return g.wrap("delete branch", resp, err)
	}
	return nil
}

func (g *GitLabGateway) wrap(op string, resp *gitlab.Response, err error) error {
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	return &GatewayError{Op: op, StatusCode: status, Err: err}
}

// Note ids are scoped to their issue in GitLab; pack (issueIID, noteID) into
// one int64 so the Gateway contract can address comments by a single id.
func joinNoteID(issueIID, noteID int) int64 {
	return int64(issueIID)<<32 | int64(noteID)
}

func splitNoteID(id int64) (issueIID, noteID int) {
	return int(id >> 32), int(id & 0xffffffff)
}

func issueFromGitLab(issue *gitlab.Issue) *Issue {
	result := &Issue{
		Number: issue.IID,
		URL:    issue.WebURL,
		Title:  issue.Title,
		Body:   issue.Description,
		State:  issue.State,
		Labels: issue.Labels,
	}
	if issue.CreatedAt != nil {
		result.CreatedAt = *issue.CreatedAt
	}
	return result
}

func prFromGitLab(mr *gitlab.MergeRequest) *PullRequest {
	result := &PullRequest{
		Number:    mr.IID,
		URL:       mr.WebURL,
		Title:     mr.Title,
		Body:      mr.Description,
		Draft:     mr.Draft,
		Head:      mr.SourceBranch,
		Base:      mr.TargetBranch,
		MergedSHA: mr.MergeCommitSHA,
	}

	switch mr.State {
	case "opened":
		result.State = PRStateOpen
	case "merged":
		result.State = PRStateMerged
	default:
		result.State = PRStateClosed
	}

	if mr.CreatedAt != nil {
		result.CreatedAt = *mr.CreatedAt
	}
	if mr.UpdatedAt != nil {
		result.UpdatedAt = *mr.UpdatedAt
	}
	return result
}
