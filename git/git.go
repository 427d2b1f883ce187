package git

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Repo is a handle on a local clone. Agent runs get isolated worktrees off
// the main checkout; InWorktree rebinds the handle so the same operations
// apply inside one.
type Repo struct {
	root        string // main checkout
	worktreeDir string // where worktrees are created, relative to root
	workDir     string // directory commands run in
	runner      CommandRunner
}

// Option configures Open.
type Option func(*Repo)

// WithWorktreeDir overrides the worktree directory (default ".worktrees").
func WithWorktreeDir(dir string) Option {
	return func(r *Repo) {
		r.worktreeDir = dir
	}
}

// WithRunner injects a command runner, scripted runners in tests.
func WithRunner(runner CommandRunner) Option {
	return func(r *Repo) {
		r.runner = runner
	}
}

// Open validates that path is a git checkout and returns a handle on it.
func Open(path string, opts ...Option) (*Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	r := &Repo{
		root:        abs,
		worktreeDir: ".worktrees",
		workDir:     abs,
		runner:      NewExecRunner(),
	}
	for _, opt := range opts {
		opt(r)
	}

	if _, err := r.run("rev-parse", "--git-dir"); err != nil {
		return nil, ErrNotGitRepo
	}
	return r, nil
}

// Root returns the path of the main checkout.
func (r *Repo) Root() string {
	return r.root
}

// WorkDir returns the directory commands run in.
func (r *Repo) WorkDir() string {
	return r.workDir
}

// InWorktree returns a handle whose commands run inside the worktree.
func (r *Repo) InWorktree(path string) *Repo {
	wt := *r
	wt.workDir = path
	return &wt
}

// CurrentBranch returns the branch checked out in the work dir.
func (r *Repo) CurrentBranch() (string, error) {
	branch, err := r.run("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", &Error{Op: "current branch", Err: err}
	}
	return branch, nil
}

// Checkout switches the work dir to ref.
func (r *Repo) Checkout(ref string) error {
	if _, err := r.run("checkout", ref); err != nil {
		return &Error{Op: "checkout " + ref, Err: err}
	}
	return nil
}

// CreateBranch creates a branch at HEAD without switching to it.
func (r *Repo) CreateBranch(name string) error {
	if _, err := r.run("branch", name); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return ErrBranchExists
		}
		return &Error{Op: "create branch " + name, Err: err}
	}
	return nil
}

// BranchExists reports whether name resolves locally.
func (r *Repo) BranchExists(name string) bool {
	_, err := r.run("rev-parse", "--verify", name)
	return err == nil
}

// StageAll stages every change in the work dir.
func (r *Repo) StageAll() error {
	if _, err := r.run("add", "-A"); err != nil {
		return &Error{Op: "stage all", Err: err}
	}
	return nil
}

// Commit commits staged changes. ErrNothingToCommit when the index is empty.
func (r *Repo) Commit(message string) error {
	out, err := r.run("commit", "-m", message)
	if err != nil {
		if strings.Contains(out, "nothing to commit") ||
			strings.Contains(err.Error(), "nothing to commit") {
			return ErrNothingToCommit
		}
		return &Error{Op: "commit", Output: out, Err: err}
	}
	return nil
}

// Push pushes branch to remote, with -u when setUpstream is set.
func (r *Repo) Push(remote, branch string, setUpstream bool) error {
	args := []string{"push"}
	if setUpstream {
		args = append(args, "-u")
	}
	args = append(args, remote, branch)
	if _, err := r.run(args...); err != nil {
		return &Error{Op: "push " + branch, Err: err}
	}
	return nil
}

// IsBranchPushed reports whether branch exists on origin.
func (r *Repo) IsBranchPushed(branch string) bool {
	_, err := r.run("rev-parse", "--verify", "origin/"+branch)
	return err == nil
}

// HeadCommit returns the SHA the work dir's HEAD points at.
func (r *Repo) HeadCommit() (string, error) {
	sha, err := r.run("rev-parse", "HEAD")
	if err != nil {
		return "", &Error{Op: "head commit", Err: err}
	}
	return sha, nil
}

// IsClean reports whether the work dir has no uncommitted changes.
func (r *Repo) IsClean() (bool, error) {
	status, err := r.run("status", "--porcelain")
	if err != nil {
		return false, &Error{Op: "status", Err: err}
	}
	return status == "", nil
}

// RemoteURL returns the URL of remote.
func (r *Repo) RemoteURL(remote string) (string, error) {
	url, err := r.run("remote", "get-url", remote)
	if err != nil {
		return "", &Error{Op: "remote url", Err: err}
	}
	return url, nil
}

func (r *Repo) run(args ...string) (string, error) {
	return r.runner.Run(r.workDir, "git", args...)
}
