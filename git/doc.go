// Package git runs the local side of agent workspaces: per-branch
// worktrees off a main checkout, commit-and-push of agent work, and the
// pipeline's branch naming scheme.
//
// Repo is the entry point. Commands go through a CommandRunner so tests
// can script git:
//
//	repo, err := git.Open("/path/to/clone")
//	path, err := repo.AddWorktree(git.PhaseBranch(421, 2))
//	wt := repo.InWorktree(path)
//	result, err := wt.PublishAll(git.Checkpoint("implementation", 421).String())
package git
