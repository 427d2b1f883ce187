package git

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Worktree is one registered worktree of the repository.
type Worktree struct {
	Path   string // filesystem path
	Branch string // checked-out branch, "(detached)" without one
	Head   string // HEAD commit SHA
}

// AddWorktree creates a worktree for branch under the worktree directory,
// creating the branch when it does not exist yet. Returns the worktree path.
func (r *Repo) AddWorktree(branch string) (string, error) {
	dir := filepath.Join(r.root, r.worktreeDir)
	path := filepath.Join(dir, Slugify(strings.ReplaceAll(branch, "/", "-")))

	if _, err := os.Stat(path); err == nil {
		return "", ErrWorktreeExists
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create worktree dir: %w", err)
	}

	// New branch first; an existing branch makes -b fail, then check the
	// branch out as-is.
	if _, err := r.run("worktree", "add", "-b", branch, path, "HEAD"); err != nil {
		if _, err := r.run("worktree", "add", path, branch); err != nil {
			return "", &Error{Op: "add worktree " + branch, Err: err}
		}
	}
	return path, nil
}

// RemoveWorktree unregisters and deletes a worktree, forcing when the tree
// still has uncommitted changes.
func (r *Repo) RemoveWorktree(path string) error {
	if _, err := r.run("worktree", "remove", path); err == nil {
		return nil
	}
	if _, err := r.run("worktree", "remove", "--force", path); err != nil {
		return &Error{Op: "remove worktree", Err: err}
	}
	return nil
}

// Worktrees lists the registered worktrees.
func (r *Repo) Worktrees() ([]Worktree, error) {
	out, err := r.run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, &Error{Op: "list worktrees", Err: err}
	}

	var trees []Worktree
	for _, block := range strings.Split(out, "\n\n") {
		var wt Worktree
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "worktree "):
				wt.Path = strings.TrimPrefix(line, "worktree ")
			case strings.HasPrefix(line, "HEAD "):
				wt.Head = strings.TrimPrefix(line, "HEAD ")
			case strings.HasPrefix(line, "branch "):
				ref := strings.TrimPrefix(line, "branch ")
				wt.Branch = strings.TrimPrefix(ref, "refs/heads/")
			case line == "detached":
				wt.Branch = "(detached)"
			}
		}
		if wt.Path != "" {
			trees = append(trees, wt)
		}
	}
	return trees, nil
}

// WorktreeFor returns the worktree checked out on branch.
func (r *Repo) WorktreeFor(branch string) (*Worktree, error) {
	trees, err := r.Worktrees()
	if err != nil {
		return nil, err
	}
	for i := range trees {
		if trees[i].Branch == branch {
			return &trees[i], nil
		}
	}
	return nil, ErrWorktreeNotFound
}
