package git

import "errors"

var (
	// ErrNotGitRepo indicates the path is not a git checkout.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrWorktreeExists indicates a worktree already exists for the branch.
	ErrWorktreeExists = errors.New("worktree already exists for this branch")

	// ErrWorktreeNotFound indicates no worktree is registered for the branch.
	ErrWorktreeNotFound = errors.New("worktree not found")

	// ErrBranchExists indicates the branch already exists.
	ErrBranchExists = errors.New("branch already exists")

	// ErrNothingToCommit indicates the index has no staged changes.
	ErrNothingToCommit = errors.New("nothing to commit")
)

// Error carries the failing operation and, when git produced any, its
// output.
type Error struct {
	Op     string
	Output string
	Err    error
}

func (e *Error) Error() string {
	if e.Output != "" {
		return e.Op + ": " + e.Output
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}
