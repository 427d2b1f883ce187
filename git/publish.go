package git

// CommitResult describes a commit made through CommitAll.
type CommitResult struct {
	SHA     string
	Branch  string
	Message string
}

// PublishResult describes a commit that was pushed. Commit is set even when
// the push half failed, so callers know local work is safe.
type PublishResult struct {
	Commit      *CommitResult
	Remote      string
	URL         string
	SetUpstream bool
}

// CommitAll stages everything in the work dir and commits it.
func (r *Repo) CommitAll(message string) (*CommitResult, error) {
	if err := r.StageAll(); err != nil {
		return nil, err
	}
	if err := r.Commit(message); err != nil {
		return nil, err
	}

	sha, err := r.HeadCommit()
	if err != nil {
		return nil, err
	}
	branch, err := r.CurrentBranch()
	if err != nil {
		return nil, err
	}
	return &CommitResult{SHA: sha, Branch: branch, Message: message}, nil
}

// PublishAll commits everything in the work dir and pushes the current
// branch to origin, setting upstream tracking on the first push. A push
// failure returns the partial result alongside the error.
func (r *Repo) PublishAll(message string) (*PublishResult, error) {
	commit, err := r.CommitAll(message)
	if err != nil {
		return nil, err
	}

	setUpstream := !r.IsBranchPushed(commit.Branch)
	if err := r.Push("origin", commit.Branch, setUpstream); err != nil {
		return &PublishResult{Commit: commit}, err
	}

	url, _ := r.RemoteURL("origin") // informational only

	return &PublishResult{
		Commit:      commit,
		Remote:      "origin",
		URL:         url,
		SetUpstream: setUpstream,
	}, nil
}

// PushBranch pushes the current branch even when there is nothing new to
// commit, for agents that commit their own work.
func (r *Repo) PushBranch() (*PublishResult, error) {
	branch, err := r.CurrentBranch()
	if err != nil {
		return nil, err
	}
	setUpstream := !r.IsBranchPushed(branch)
	if err := r.Push("origin", branch, setUpstream); err != nil {
		return nil, err
	}
	url, _ := r.RemoteURL("origin")
	return &PublishResult{Remote: "origin", URL: url, SetUpstream: setUpstream}, nil
}
