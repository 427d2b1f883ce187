package pipewright

import "errors"

// Item store errors
var (
	// ErrItemNotFound indicates no tracked work item matches the lookup.
	ErrItemNotFound = errors.New("work item not found")

	// ErrAlreadyApproved indicates the item already carries a tracker issue.
	ErrAlreadyApproved = errors.New("already approved")

	// ErrItemSynced indicates the item is synced to the external tracker
	// and cannot be deleted without force.
	ErrItemSynced = errors.New("item is synced to GitHub")

	// ErrInvalidDestination indicates a routing destination outside the allow-list.
	ErrInvalidDestination = errors.New("invalid routing destination")
)

// Gateway errors
var (
	// ErrIssueNotFound indicates the tracker issue does not exist.
	ErrIssueNotFound = errors.New("issue not found")

	// ErrPRNotFound indicates the pull request does not exist.
	ErrPRNotFound = errors.New("pull request not found")

	// ErrPRClosed indicates the pull request is closed.
	ErrPRClosed = errors.New("pull request is closed")

	// ErrPRMerged indicates the pull request is already merged.
	ErrPRMerged = errors.New("pull request is already merged")

	// ErrMergeConflict indicates the pull request cannot be merged cleanly.
	ErrMergeConflict = errors.New("merge conflict")

	// ErrBranchNotFound indicates the branch does not exist.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrBranchExists indicates the branch already exists.
	ErrBranchExists = errors.New("branch already exists")

	// ErrCommentNotFound indicates no comment matched the marker lookup.
	ErrCommentNotFound = errors.New("comment not found")

	// ErrRateLimited indicates the tracker rejected the call for rate limiting.
	ErrRateLimited = errors.New("rate limited")
)

// Workflow errors
var (
	// ErrInvalidState indicates the operation is not permitted from the
	// item's current status or review status.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrShaMismatch indicates a revert confirmation SHA did not match the
	// recorded merge commit.
	ErrShaMismatch = errors.New("sha mismatch")

	// ErrNoMergeRecord indicates no merge was recorded for the pull request.
	ErrNoMergeRecord = errors.New("no merge record for pull request")

	// ErrNoRevertPR indicates no revert pull request was recorded.
	ErrNoRevertPR = errors.New("no revert pull request recorded")

	// ErrDecisionNotFound indicates no pending decision exists for the item.
	ErrDecisionNotFound = errors.New("decision not found")

	// ErrNoOptionSelected indicates a decision selection without an option.
	ErrNoOptionSelected = errors.New("no option selected")
)

// Artifact errors
var (
	// ErrArtifactNotFound indicates the durable artifact does not exist.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// GatewayError wraps a tracker API failure with operation context.
type GatewayError struct {
	Op         string // Operation that failed (e.g., "merge PR", "create issue")
	StatusCode int    // HTTP status from the tracker, 0 if unknown
	Err        error  // Underlying error
}

func (e *GatewayError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ErrorKind buckets a failure for callers that present per-operation
// outcomes (API handlers, batch sweeps) without unwinding.
type ErrorKind string

const (
	// KindNotFound: the issue, item, PR, or decision does not exist.
	KindNotFound ErrorKind = "not_found"

	// KindInvalidState: the operation is not permitted from the item's
	// current status or review status.
	KindInvalidState ErrorKind = "invalid_state"

	// KindValidation: required input is missing or inconsistent.
	KindValidation ErrorKind = "validation"

	// KindExternal: a tracker or store call failed after retries.
	KindExternal ErrorKind = "external"
)

// KindOf classifies err into the error taxonomy. Unrecognized errors are
// treated as external failures.
func KindOf(err error) ErrorKind {
	switch {
	case isNotFound(err),
		errors.Is(err, ErrNoMergeRecord),
		errors.Is(err, ErrNoRevertPR),
		errors.Is(err, ErrDecisionNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrAlreadyApproved),
		errors.Is(err, ErrItemSynced),
		errors.Is(err, ErrPRClosed),
		errors.Is(err, ErrPRMerged):
		return KindInvalidState
	case errors.Is(err, ErrInvalidDestination),
		errors.Is(err, ErrShaMismatch),
		errors.Is(err, ErrNoOptionSelected):
		return KindValidation
	default:
		return KindExternal
	}
}

// isNotFound reports whether err is any of the not-found sentinels or a
// tracker 404.
func isNotFound(err error) bool {
	if errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrIssueNotFound) ||
		errors.Is(err, ErrPRNotFound) ||
		errors.Is(err, ErrCommentNotFound) {
		return true
	}
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.StatusCode == 404
}
