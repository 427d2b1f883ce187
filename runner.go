package pipewright

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tormod/pipewright/git"
)

// Agent CLI errors
var (
	// ErrAgentNotFound indicates the agent CLI binary was not found.
	ErrAgentNotFound = errors.New("agent CLI not found")

	// ErrAgentTimeout indicates the agent CLI execution timed out.
	ErrAgentTimeout = errors.New("agent CLI timed out")

	// ErrAgentFailed indicates the agent CLI exited with an error.
	ErrAgentFailed = errors.New("agent CLI failed")
)

// CLIRunner implements AgentRunner by shelling out to an agent CLI binary
// in non-interactive mode and parsing its JSON output.
//
// When RepoPath is configured, each run executes inside a git worktree
// checked out on the run's branch, so concurrent runs never share a
// working tree.
type CLIRunner struct {
	binaryPath string        // Path to the agent binary
	timeout    time.Duration // Per-run timeout
	maxTurns   int           // Max conversation turns
	workDir    string        // Fallback working directory for the agent
	repo       *git.Repo     // Repository for per-branch worktrees
}

// CLIRunnerConfig configures the CLI runner.
type CLIRunnerConfig struct {
	BinaryPath string        // Path to agent binary (default: "claude")
	Timeout    time.Duration // Per-run timeout (default: 15m)
	MaxTurns   int           // Max turns (default: 50)
	WorkDir    string        // Working directory when RepoPath is unset
	RepoPath   string        // Git repository for per-branch worktrees
}

// NewCLIRunner creates a CLI-backed agent runner.
// Returns ErrAgentNotFound if the binary is not installed.
func NewCLIRunner(cfg CLIRunnerConfig) (*CLIRunner, error) {
	binaryPath := cfg.BinaryPath
	if binaryPath == "" {
		binaryPath = "claude"
	}

	if _, err := exec.LookPath(binaryPath); err != nil {
		return nil, ErrAgentNotFound
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Minute
	}

	maxTurns := cfg.MaxTurns
	if maxTurns == 0 {
		maxTurns = 50
	}

	var repo *git.Repo
	if cfg.RepoPath != "" {
		var err error
		repo, err = git.Open(cfg.RepoPath)
		if err != nil {
			return nil, fmt.Errorf("open repository %q: %w", cfg.RepoPath, err)
		}
	}

	return &CLIRunner{
		binaryPath: binaryPath,
		timeout:    timeout,
		maxTurns:   maxTurns,
		workDir:    cfg.WorkDir,
		repo:       repo,
	}, nil
}

// workspaceFor resolves the directory the agent runs in. With a repository
// configured, this is a worktree on the run's branch, created on first use
// and reused by later feedback runs.
func (r *CLIRunner) workspaceFor(opts AgentRunOptions) (string, error) {
	if r.repo == nil || opts.Branch == "" {
		return r.workDir, nil
	}

	path, err := r.repo.AddWorktree(opts.Branch)
	if err == nil {
		return path, nil
	}
	if errors.Is(err, git.ErrWorktreeExists) {
		wt, werr := r.repo.WorktreeFor(opts.Branch)
		if werr != nil {
			return "", fmt.Errorf("find worktree for %q: %w", opts.Branch, werr)
		}
		return wt.Path, nil
	}
	return "", fmt.Errorf("create worktree for %q: %w", opts.Branch, err)
}

// syncWorkspace publishes whatever the run left in its worktree. Agents
// usually commit their own work; anything uncommitted gets a checkpoint
// commit so no run output is ever stranded locally.
func (r *CLIRunner) syncWorkspace(workDir string, opts AgentRunOptions) error {
	if r.repo == nil || opts.Branch == "" {
		return nil
	}
	wt := r.repo.InWorktree(workDir)

	clean, err := wt.IsClean()
	if err != nil {
		return fmt.Errorf("inspect worktree for %q: %w", opts.Branch, err)
	}
	if clean {
		if _, err := wt.PushBranch(); err != nil {
			return fmt.Errorf("push %q: %w", opts.Branch, err)
		}
		return nil
	}

	msg := git.Checkpoint(string(opts.Workflow), opts.IssueNumber)
	if _, err := wt.PublishAll(msg.String()); err != nil {
		return fmt.Errorf("publish agent work on %q: %w", opts.Branch, err)
	}
	return nil
}

// CleanupWorkspace removes the worktree for a branch once its PR merged.
func (r *CLIRunner) CleanupWorkspace(branch string) error {
	if r.repo == nil {
		return nil
	}
	wt, err := r.repo.WorktreeFor(branch)
	if errors.Is(err, git.ErrWorktreeNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.repo.RemoveWorktree(wt.Path)
}

// Run implements AgentRunner.
func (r *CLIRunner) Run(ctx context.Context, opts AgentRunOptions) (*AgentResult, error) {
	args := r.buildArgs(opts)

	workDir, err := r.workspaceFor(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.binaryPath, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err = cmd.Run()
	duration := time.Since(start)

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: after %v", ErrAgentTimeout, r.timeout)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		stderrStr := strings.TrimSpace(stderr.String())
		if stderrStr != "" {
			return nil, fmt.Errorf("%w: %s", ErrAgentFailed, stderrStr)
		}
		return nil, fmt.Errorf("%w: %v", ErrAgentFailed, err)
	}

	result, err := parseAgentOutput(stdout.Bytes())
	if err != nil {
		// Fallback: treat the raw output as unstructured content.
		result = &AgentResult{
			Success: true,
			Content: strings.TrimSpace(stdout.String()),
		}
	}
	result.DurationSeconds = duration.Seconds()

	if result.Success {
		if err := r.syncWorkspace(workDir, opts); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// buildArgs constructs command line arguments for the agent CLI.
func (r *CLIRunner) buildArgs(opts AgentRunOptions) []string {
	args := []string{"--print", "--output-format", "json"}

	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if r.maxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", r.maxTurns))
	}

	args = append(args, "-p", opts.Prompt)
	return args
}

// agentJSONOutput represents the JSON envelope from the agent CLI.
type agentJSONOutput struct {
	Result           string            `json:"result"`
	IsError          bool              `json:"is_error"`
	StructuredOutput *StructuredOutput `json:"structured_output"`
	InputTokens      int               `json:"input_tokens"`
	OutputTokens     int               `json:"output_tokens"`
	TokensIn         int               `json:"tokens_in"`
	TokensOut        int               `json:"tokens_out"`
	Cost             float64           `json:"cost"`
	CostUSD          float64           `json:"cost_usd"`
}

// parseAgentOutput parses the JSON output from the agent CLI.
func parseAgentOutput(data []byte) (*AgentResult, error) {
	data = bytes.TrimSpace(data)

	// Try direct parse first; the CLI sometimes mixes logs around the JSON.
	var output agentJSONOutput
	if err := json.Unmarshal(data, &output); err != nil {
		start := bytes.Index(data, []byte("{"))
		end := bytes.LastIndex(data, []byte("}"))
		if start >= 0 && end > start {
			if err := json.Unmarshal(data[start:end+1], &output); err != nil {
				return nil, fmt.Errorf("parse json output: %w", err)
			}
		} else {
			return nil, fmt.Errorf("no json found in output")
		}
	}

	// Handle different field names for tokens
	tokensIn := output.TokensIn
	if tokensIn == 0 {
		tokensIn = output.InputTokens
	}
	tokensOut := output.TokensOut
	if tokensOut == 0 {
		tokensOut = output.OutputTokens
	}
	cost := output.Cost
	if cost == 0 {
		cost = output.CostUSD
	}

	return &AgentResult{
		Success:          !output.IsError,
		StructuredOutput: output.StructuredOutput,
		Content:          output.Result,
		Usage: AgentUsage{
			InputTokens:  tokensIn,
			OutputTokens: tokensOut,
			CostUSD:      cost,
		},
	}, nil
}
