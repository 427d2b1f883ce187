package pipewright

import (
	"context"
	"time"
)

// PRState represents the state of a pull request.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateClosed PRState = "closed"
	PRStateMerged PRState = "merged"
)

// Issue represents a tracker issue.
type Issue struct {
	Number    int
	URL       string
	Title     string
	Body      string
	State     string
	Labels    []string
	CreatedAt time.Time
}

// IssueOptions configures issue creation.
type IssueOptions struct {
	Title  string
	Body   string
	Labels []string
}

// IssueComment is a comment on a tracker issue.
type IssueComment struct {
	ID        int64
	Body      string
	Author    string
	CreatedAt time.Time
}

// PullRequest represents a pull request on the tracker.
type PullRequest struct {
	Number    int
	URL       string
	Title     string
	Body      string
	State     PRState
	Draft     bool
	Head      string // source branch
	Base      string // target branch
	MergedSHA string // merge commit SHA, empty until merged
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Merged reports whether the pull request has been merged.
func (pr *PullRequest) Merged() bool {
	return pr.State == PRStateMerged
}

// PROptions configures pull request creation.
type PROptions struct {
	Title  string
	Body   string
	Head   string // source branch (required)
	Base   string // target branch (default: "main")
	Draft  bool
	Labels []string
}

// MergeMethod specifies how to merge a pull request.
type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)

// MergeOptions configures pull request merging.
type MergeOptions struct {
	Method        MergeMethod // Merge method (default: squash)
	CommitTitle   string      // Custom commit title
	CommitMessage string      // Custom commit message
}

// MergeOutcome reports the result of a merge call.
type MergeOutcome struct {
	SHA           string // merge commit SHA
	AlreadyMerged bool   // the PR was merged before this call
	CommitTitle   string
}

// Gateway is the uniform contract over the external issue tracker's issue,
// pull-request, branch, and comment operations. Implementations exist for
// GitHub and GitLab.
type Gateway interface {
	// CreateIssue creates a new tracker issue. Never retried automatically.
	CreateIssue(ctx context.Context, opts IssueOptions) (*Issue, error)

	// GetIssue retrieves an issue by number.
	GetIssue(ctx context.Context, number int) (*Issue, error)

	// ListIssues lists open issues carrying all the given labels.
	ListIssues(ctx context.Context, labels []string) ([]*Issue, error)

	// SetIssueLabels replaces the labels on an issue.
	SetIssueLabels(ctx context.Context, issueNumber int, labels []string) error

	// AddIssueComment posts a comment and returns its id.
	AddIssueComment(ctx context.Context, issueNumber int, body string) (int64, error)

	// UpdateIssueComment replaces an existing comment's body.
	UpdateIssueComment(ctx context.Context, commentID int64, body string) error

	// ListIssueComments lists all comments on an issue, oldest first.
	ListIssueComments(ctx context.Context, issueNumber int) ([]*IssueComment, error)

	// FindCommentByMarker returns the first comment containing the marker
	// substring, or ErrCommentNotFound. Used for idempotent update-in-place.
	FindCommentByMarker(ctx context.Context, issueNumber int, marker string) (*IssueComment, error)

	// CreatePR creates a pull request. Never retried automatically.
	CreatePR(ctx context.Context, opts PROptions) (*PullRequest, error)

	// GetPR retrieves a pull request by number.
	GetPR(ctx context.Context, number int) (*PullRequest, error)

	// MergePR merges a pull request. A PR that is already merged is
	// reported via AlreadyMerged, not an error.
	MergePR(ctx context.Context, number int, opts MergeOptions) (*MergeOutcome, error)

	// FindOpenPRForIssue resolves the open PR linked to an issue, including
	// the PR's actual head branch. Returns ErrPRNotFound when none is open.
	FindOpenPRForIssue(ctx context.Context, issueNumber int) (*PullRequest, error)

	// CreateRevertPR asks the tracker to construct a revert PR for a merged
	// pull request. Returns (nil, nil) when the tracker cannot construct
	// one; that is a normal failure mode, not an error.
	CreateRevertPR(ctx context.Context, prNumber int) (*PullRequest, error)

	// BranchExists reports whether the branch exists on the remote.
	BranchExists(ctx context.Context, name string) (bool, error)

	// CreateBranch creates a branch from the given base ref.
	CreateBranch(ctx context.Context, name, from string) error

	// DeleteBranch deletes a remote branch.
	DeleteBranch(ctx context.Context, name string) error
}
