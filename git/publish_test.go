package git

import (
	"errors"
	"testing"
)

func testRepo(t *testing.T, runner CommandRunner) *Repo {
	t.Helper()
	return &Repo{
		root:        t.TempDir(),
		worktreeDir: ".worktrees",
		workDir:     t.TempDir(),
		runner:      runner,
	}
}

func TestCommitAll(t *testing.T) {
	runner := NewSequentialMockRunner()
	runner.AddOutput("", nil)             // add -A
	runner.AddOutput("", nil)             // commit
	runner.AddOutput("abc123def456", nil) // rev-parse HEAD
	runner.AddOutput("impl/issue-7", nil) // rev-parse --abbrev-ref HEAD

	result, err := testRepo(t, runner).CommitAll("fix: handle nil")
	if err != nil {
		t.Fatalf("CommitAll failed: %v", err)
	}
	if result.SHA != "abc123def456" || result.Branch != "impl/issue-7" {
		t.Errorf("result = %+v", result)
	}
	if result.Message != "fix: handle nil" {
		t.Errorf("Message = %q", result.Message)
	}
}

func TestCommitAllNothingToCommit(t *testing.T) {
	runner := NewSequentialMockRunner()
	runner.AddOutput("", nil)
	runner.AddOutput("nothing to commit, working tree clean", errors.New("exit status 1"))

	_, err := testRepo(t, runner).CommitAll("fix: noop")
	if !errors.Is(err, ErrNothingToCommit) {
		t.Errorf("err = %v, want ErrNothingToCommit", err)
	}
}

func TestPublishAll(t *testing.T) {
	runner := NewSequentialMockRunner()
	runner.AddOutput("", nil)                       // add -A
	runner.AddOutput("", nil)                       // commit
	runner.AddOutput("abc123", nil)                 // rev-parse HEAD
	runner.AddOutput("impl/issue-7", nil)           // rev-parse --abbrev-ref HEAD
	runner.AddFailure("unknown revision")           // rev-parse --verify origin/... (not pushed yet)
	runner.AddOutput("", nil)                       // push -u origin impl/issue-7
	runner.AddOutput("git@github.com:o/r.git", nil) // remote get-url origin

	result, err := testRepo(t, runner).PublishAll("fix: handle nil")
	if err != nil {
		t.Fatalf("PublishAll failed: %v", err)
	}
	if result.Commit == nil || result.Commit.SHA != "abc123" {
		t.Fatalf("commit = %+v", result.Commit)
	}
	if !result.SetUpstream {
		t.Error("first push should set upstream")
	}
	if result.Remote != "origin" || result.URL != "git@github.com:o/r.git" {
		t.Errorf("result = %+v", result)
	}

	want := "git push -u origin impl/issue-7"
	if runner.Calls[5] != want {
		t.Errorf("push call = %q, want %q", runner.Calls[5], want)
	}
}

func TestPublishAllPushFailureKeepsCommit(t *testing.T) {
	runner := NewSequentialMockRunner()
	runner.AddOutput("", nil)
	runner.AddOutput("", nil)
	runner.AddOutput("abc123", nil)
	runner.AddOutput("impl/issue-7", nil)
	runner.AddOutput("abc000", nil)      // origin branch exists, no -u
	runner.AddFailure("remote rejected") // push

	result, err := testRepo(t, runner).PublishAll("fix: handle nil")
	if err == nil {
		t.Fatal("expected push error")
	}
	if result == nil || result.Commit == nil || result.Commit.SHA != "abc123" {
		t.Fatalf("partial result must carry the commit, got %+v", result)
	}
}

func TestPushBranch(t *testing.T) {
	runner := NewSequentialMockRunner()
	runner.AddOutput("impl/issue-9", nil) // current branch
	runner.AddOutput("abc000", nil)       // already on origin
	runner.AddOutput("", nil)             // push origin impl/issue-9
	runner.AddOutput("git@github.com:o/r.git", nil)

	result, err := testRepo(t, runner).PushBranch()
	if err != nil {
		t.Fatalf("PushBranch failed: %v", err)
	}
	if result.SetUpstream {
		t.Error("tracked branch must not re-set upstream")
	}
	want := "git push origin impl/issue-9"
	if runner.Calls[2] != want {
		t.Errorf("push call = %q, want %q", runner.Calls[2], want)
	}
}
