package pipewright

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tormod/pipewright/git"
	"github.com/tormod/pipewright/prompt"
	"github.com/tormod/pipewright/task"
)

// AgentMode selects how the agent prompt is framed.
type AgentMode string

const (
	// ModeNew is the first run in the item's current status.
	ModeNew AgentMode = "new"

	// ModeFeedback re-runs after an admin requested changes.
	ModeFeedback AgentMode = "feedback"

	// ModeClarification re-runs after an admin answered a clarification.
	ModeClarification AgentMode = "clarification"
)

// AgentRunOptions is the input to one black-box agent invocation.
type AgentRunOptions struct {
	Workflow    Status
	Mode        AgentMode
	Prompt      string
	IssueNumber int
	Model       string
	Branch      string // working branch, empty for design-only runs
}

// AgentUsage reports token and cost accounting for a run.
type AgentUsage struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// StructuredOutput is the machine-readable envelope an agent run may emit.
// The shape varies by workflow; consumers inspect fields by presence, not
// by a rigid schema.
type StructuredOutput struct {
	NeedsClarification bool           `json:"needsClarification,omitempty"`
	Clarification      *Clarification `json:"clarification,omitempty"`
	Decision           *Decision      `json:"decision,omitempty"`
	Phases             *PhasePlan     `json:"phases,omitempty"`
	Verdict            string         `json:"verdict,omitempty"`
	CommitTitle        string         `json:"commitTitle,omitempty"`
	CommitMessage      string         `json:"commitMessage,omitempty"`
	Summary            string         `json:"summary,omitempty"`
}

// Verdicts a review run may emit.
const (
	VerdictApprove        = "approve"
	VerdictRequestChanges = "request_changes"
)

// AgentResult is what the agent-run collaborator returns.
type AgentResult struct {
	Success          bool
	StructuredOutput *StructuredOutput
	Content          string
	Usage            AgentUsage
	DurationSeconds  float64
}

// AgentRunner invokes an agent and returns its result. Implementations are
// external; tests use a fake.
type AgentRunner interface {
	Run(ctx context.Context, opts AgentRunOptions) (*AgentResult, error)
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator drives an agent through new/feedback/clarification runs for
// a work item and translates the agent's output into review-status and
// artifact changes.
//
// Side-effect ordering: artifacts and comments are persisted before the
// review-status flip, so a concurrent reader never observes a review state
// whose artifact is still missing.
type Orchestrator struct {
	store     ItemStore
	gw        Gateway
	artifacts ArtifactStore
	notifier  Notifier
	runner    AgentRunner
	prompts   *prompt.Loader
	history   *RunHistory
	logger    *slog.Logger
	now       func() time.Time

	// BaseBranch is the trunk that design and final PRs target.
	BaseBranch string
}

// NewOrchestrator creates an orchestrator from a service bundle.
func NewOrchestrator(svcs *Services) *Orchestrator {
	return &Orchestrator{
		store:      svcs.Store,
		gw:         svcs.Gateway,
		artifacts:  svcs.Artifacts,
		notifier:   svcs.Notifier,
		runner:     svcs.Runner,
		prompts:    svcs.Prompts,
		history:    svcs.History,
		logger:     svcs.logger(),
		now:        time.Now,
		BaseBranch: "main",
	}
}

// RunOutcome reports one completed agent run.
type RunOutcome struct {
	ItemID             string
	Mode               AgentMode
	NeedsClarification bool
	DecisionPending    bool
	PR                 *PullRequest
	ReviewStatus       ReviewStatus
	Usage              AgentUsage
}

// ModeFor derives the agent mode from the item's review status. Mode is
// never tracked separately; the review sub-state is the single source.
func ModeFor(rs ReviewStatus) AgentMode {
	switch rs {
	case ReviewRequestChanges:
		return ModeFeedback
	case ReviewClarificationReceived:
		return ModeClarification
	default:
		return ModeNew
	}
}

// RunAgent executes one agent run for the issue's work item.
func (o *Orchestrator) RunAgent(ctx context.Context, issueNumber int) (*RunOutcome, error) {
	item, err := o.store.FindByIssue(ctx, issueNumber)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("issue #%d: %w", issueNumber, ErrItemNotFound)
		}
		return nil, fmt.Errorf("run agent for issue #%d: %w", issueNumber, err)
	}

	mode := ModeFor(item.ReviewStatus)
	promptText, err := o.buildPrompt(ctx, item, mode)
	if err != nil {
		return nil, fmt.Errorf("build prompt for issue #%d: %w", issueNumber, err)
	}

	o.logger.Info("running agent",
		"issue", issueNumber,
		"status", item.Status,
		"mode", mode,
		"phase", item.ImplementationPhase,
	)

	model := string(task.SelectModel(taskFor(item.Status)))
	startedAt := o.now()
	result, err := o.runner.Run(ctx, AgentRunOptions{
		Workflow:    item.Status,
		Mode:        mode,
		Prompt:      promptText,
		IssueNumber: issueNumber,
		Model:       model,
		Branch:      o.workingBranch(item),
	})
	if err != nil {
		return nil, fmt.Errorf("agent run for issue #%d: %w", issueNumber, err)
	}
	o.recordRun(item, mode, model, startedAt, result)
	if !result.Success {
		notify(ctx, o.logger, o.notifier, itemEvent(item, EventAgentFailed,
			fmt.Sprintf("Agent run failed in %s", item.Status)))
		return nil, fmt.Errorf("agent run for issue #%d reported failure: %w", issueNumber, ErrInvalidState)
	}

	out := result.StructuredOutput
	if out != nil && out.NeedsClarification {
		return o.finishClarification(ctx, item, mode, out, result)
	}
	if item.Status == StatusPRReview {
		return o.finishReviewRun(ctx, item, mode, out, result)
	}
	return o.finishRun(ctx, item, mode, out, result)
}

// recordRun persists the run to history when history is configured. Failures
// are logged, not returned; history never blocks the workflow.
func (o *Orchestrator) recordRun(item *WorkItem, mode AgentMode, model string, startedAt time.Time, result *AgentResult) {
	if o.history == nil {
		return
	}
	_, err := o.history.Record(RunRecord{
		ItemID:      item.ID,
		IssueNumber: item.IssueNumber,
		Workflow:    item.Status,
		Mode:        mode,
		Model:       model,
		Success:     result.Success,
		Usage:       result.Usage,
		StartedAt:   startedAt,
		Duration:    result.DurationSeconds,
	})
	if err != nil {
		o.logger.Warn("record run history failed", "item", item.ID, "error", err)
	}
}

// finishClarification short-circuits the run: the clarification is
// persisted and announced, review flips to waiting-for-clarification, and
// no PR is created.
func (o *Orchestrator) finishClarification(ctx context.Context, item *WorkItem, mode AgentMode, out *StructuredOutput, result *AgentResult) (*RunOutcome, error) {
	body := result.Content
	if out.Clarification != nil {
		body = FormatClarification(out.Clarification)
	}
	if !strings.Contains(body, ClarificationHeading) {
		body = ClarificationHeading + "\n\n" + body
	}

	if _, err := o.artifacts.Save(ctx, item.IssueNumber, ArtifactClarification, body); err != nil {
		return nil, fmt.Errorf("save clarification for issue #%d: %w", item.IssueNumber, err)
	}
	if err := o.upsertComment(ctx, item.IssueNumber, ClarificationHeading, body); err != nil {
		return nil, fmt.Errorf("post clarification for issue #%d: %w", item.IssueNumber, err)
	}

	if err := o.store.UpdateItemReviewStatus(ctx, item.ID, ReviewWaitingForClarification); err != nil {
		return nil, fmt.Errorf("set waiting-for-clarification for issue #%d: %w", item.IssueNumber, err)
	}

	notify(ctx, o.logger, o.notifier, itemEvent(item, EventClarificationNeeded,
		fmt.Sprintf("Agent needs clarification in %s", item.Status)))

	return &RunOutcome{
		ItemID:             item.ID,
		Mode:               mode,
		NeedsClarification: true,
		ReviewStatus:       ReviewWaitingForClarification,
		Usage:              result.Usage,
	}, nil
}

// finishRun persists the run's artifact, creates or updates the PR, and
// flips the review status. A decision payload takes the waiting-for-decision
// path; its notification replaces the PR-ready one — never both.
func (o *Orchestrator) finishRun(ctx context.Context, item *WorkItem, mode AgentMode, out *StructuredOutput, result *AgentResult) (*RunOutcome, error) {
	artifactType := artifactTypeFor(item.Status)
	if artifactType != "" {
		if _, err := o.artifacts.Save(ctx, item.IssueNumber, artifactType, result.Content); err != nil {
			return nil, fmt.Errorf("save %s artifact for issue #%d: %w", artifactType, item.IssueNumber, err)
		}
	}

	if out != nil && out.Phases != nil && len(out.Phases.Phases) > 1 {
		if err := o.persistPhasePlan(ctx, item, out.Phases); err != nil {
			return nil, err
		}
	}

	if out != nil && (out.CommitTitle != "" || out.CommitMessage != "") {
		err := o.store.UpdateArtifacts(ctx, item.ID, func(a *ItemArtifacts) {
			a.CommitTitle = out.CommitTitle
			a.CommitMessage = out.CommitMessage
		})
		if err != nil {
			return nil, fmt.Errorf("record commit message for issue #%d: %w", item.IssueNumber, err)
		}
	}

	pr, err := o.ensurePR(ctx, item, out)
	if err != nil {
		return nil, err
	}

	outcome := &RunOutcome{ItemID: item.ID, Mode: mode, PR: pr, Usage: result.Usage}

	if out != nil && out.Decision != nil {
		if err := o.persistDecision(ctx, item, out.Decision); err != nil {
			return nil, err
		}
		if err := o.store.UpdateItemReviewStatus(ctx, item.ID, ReviewWaitingForDecision); err != nil {
			return nil, fmt.Errorf("set waiting-for-decision for issue #%d: %w", item.IssueNumber, err)
		}
		notify(ctx, o.logger, o.notifier, itemEvent(item, EventDecisionNeeded,
			fmt.Sprintf("Decision required: %s", out.Decision.Context)))
		outcome.DecisionPending = true
		outcome.ReviewStatus = ReviewWaitingForDecision
		return outcome, nil
	}

	if err := o.store.UpdateItemReviewStatus(ctx, item.ID, ReviewWaitingForReview); err != nil {
		return nil, fmt.Errorf("set waiting-for-review for issue #%d: %w", item.IssueNumber, err)
	}
	if pr != nil {
		notify(ctx, o.logger, o.notifier, itemEvent(item, EventPRReady, prReadyMessage(item, pr)))
	} else {
		notify(ctx, o.logger, o.notifier, itemEvent(item, EventReviewReady,
			fmt.Sprintf("%s output ready for review", item.Status)))
	}
	outcome.ReviewStatus = ReviewWaitingForReview
	return outcome, nil
}

// finishReviewRun translates a PR-review run's verdict. Approval parks the
// item at review-approved so the auto-advance sweep picks it up; a
// request-changes verdict sends the item back to implementation for a
// feedback run. A run without a verdict leaves the call to the admin.
func (o *Orchestrator) finishReviewRun(ctx context.Context, item *WorkItem, mode AgentMode, out *StructuredOutput, result *AgentResult) (*RunOutcome, error) {
	if strings.TrimSpace(result.Content) != "" {
		if _, err := o.gw.AddIssueComment(ctx, item.IssueNumber, result.Content); err != nil {
			o.logger.Warn("failed to post review comment", "issue", item.IssueNumber, "error", err)
		}
	}

	outcome := &RunOutcome{ItemID: item.ID, Mode: mode, Usage: result.Usage}

	verdict := ""
	if out != nil {
		verdict = out.Verdict
	}
	switch verdict {
	case VerdictApprove:
		if err := o.store.UpdateItemReviewStatus(ctx, item.ID, ReviewApproved); err != nil {
			return nil, fmt.Errorf("approve review for issue #%d: %w", item.IssueNumber, err)
		}
		notify(ctx, o.logger, o.notifier, itemEvent(item, EventReviewReady, "PR review approved"))
		outcome.ReviewStatus = ReviewApproved
	case VerdictRequestChanges:
		if err := o.store.UpdateItemStatus(ctx, item.ID, StatusImplementation); err != nil {
			return nil, fmt.Errorf("request changes for issue #%d: %w", item.IssueNumber, err)
		}
		if err := o.store.UpdateItemReviewStatus(ctx, item.ID, ReviewRequestChanges); err != nil {
			return nil, fmt.Errorf("request changes for issue #%d: %w", item.IssueNumber, err)
		}
		notify(ctx, o.logger, o.notifier, itemEvent(item, EventReviewReady, "PR review requested changes"))
		outcome.ReviewStatus = ReviewRequestChanges
	default:
		if err := o.store.UpdateItemReviewStatus(ctx, item.ID, ReviewWaitingForReview); err != nil {
			return nil, fmt.Errorf("set waiting-for-review for issue #%d: %w", item.IssueNumber, err)
		}
		notify(ctx, o.logger, o.notifier, itemEvent(item, EventReviewReady,
			"Review run finished without a verdict"))
		outcome.ReviewStatus = ReviewWaitingForReview
	}
	return outcome, nil
}

// persistDecision stores the decision durably and mirrors it to a comment.
func (o *Orchestrator) persistDecision(ctx context.Context, item *WorkItem, d *Decision) error {
	body := FormatDecision(d)
	if _, err := o.artifacts.Save(ctx, item.IssueNumber, ArtifactDecision, body); err != nil {
		return fmt.Errorf("save decision for issue #%d: %w", item.IssueNumber, err)
	}
	if err := o.store.UpdateArtifacts(ctx, item.ID, func(a *ItemArtifacts) {
		a.Decision = d
		a.Selection = nil
	}); err != nil {
		return fmt.Errorf("record decision for issue #%d: %w", item.IssueNumber, err)
	}
	marker := decisionMarkerPrefix + d.AgentID + markerSuffix
	if err := o.upsertComment(ctx, item.IssueNumber, marker, body); err != nil {
		return fmt.Errorf("post decision for issue #%d: %w", item.IssueNumber, err)
	}
	return nil
}

// persistPhasePlan stores the phase plan and seeds the "1/n" counter if no
// phase is in progress yet.
func (o *Orchestrator) persistPhasePlan(ctx context.Context, item *WorkItem, plan *PhasePlan) error {
	body := FormatPhasePlan(plan)
	if _, err := o.artifacts.Save(ctx, item.IssueNumber, ArtifactPhases, body); err != nil {
		return fmt.Errorf("save phase plan for issue #%d: %w", item.IssueNumber, err)
	}
	if err := o.upsertComment(ctx, item.IssueNumber, phasesMarkerPrefix, body); err != nil {
		return fmt.Errorf("post phase plan for issue #%d: %w", item.IssueNumber, err)
	}
	if item.Status == StatusImplementation && item.ImplementationPhase == "" {
		counter := FormatPhaseCounter(1, len(plan.Phases))
		if err := o.store.SetImplementationPhase(ctx, item.ID, counter); err != nil {
			return fmt.Errorf("seed phase counter for issue #%d: %w", item.IssueNumber, err)
		}
		item.ImplementationPhase = counter
	}
	return nil
}

// upsertComment updates the comment carrying marker in place, or posts a
// new one. Update-in-place keeps re-runs from stacking duplicates.
func (o *Orchestrator) upsertComment(ctx context.Context, issueNumber int, marker, body string) error {
	existing, err := o.gw.FindCommentByMarker(ctx, issueNumber, marker)
	switch {
	case err == nil:
		return o.gw.UpdateIssueComment(ctx, existing.ID, body)
	case isNotFound(err):
		_, err = o.gw.AddIssueComment(ctx, issueNumber, body)
		return err
	default:
		return err
	}
}

// ensurePR creates or reuses the PR for this run. Design runs get a PR per
// design type against trunk; multi-phase implementation runs get one PR per
// phase against the feature integration branch. Statuses with no PR (for
// example review phases) return nil.
func (o *Orchestrator) ensurePR(ctx context.Context, item *WorkItem, out *StructuredOutput) (*PullRequest, error) {
	base, head, title := o.prTarget(item)
	if head == "" {
		return nil, nil
	}

	// An open PR for the issue is reused; its actual head branch
	// survives title edits, so never recompute it.
	existing, err := o.gw.FindOpenPRForIssue(ctx, item.IssueNumber)
	if err == nil && existing.Base == base {
		return existing, nil
	}
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("find open PR for issue #%d: %w", item.IssueNumber, err)
	}

	if base != o.BaseBranch {
		if err := o.ensureBranch(ctx, base); err != nil {
			return nil, err
		}
	}
	if err := o.ensureBranch(ctx, head); err != nil {
		return nil, err
	}

	body := fmt.Sprintf("Closes #%d", item.IssueNumber)
	if out != nil && out.Summary != "" {
		body = out.Summary + "\n\n" + body
	}
	pr, err := o.gw.CreatePR(ctx, PROptions{
		Title: title,
		Body:  body,
		Head:  head,
		Base:  base,
	})
	if err != nil {
		return nil, fmt.Errorf("create PR for issue #%d: %w", item.IssueNumber, err)
	}
	return pr, nil
}

// prTarget decides the base branch, head branch, and title for the run's
// PR. An empty head means the run produces no PR.
func (o *Orchestrator) prTarget(item *WorkItem) (base, head, title string) {
	switch item.Status {
	case StatusProductDevPlan, StatusProductDesign, StatusTechDesign:
		t := artifactTypeFor(item.Status)
		return o.BaseBranch,
			git.DesignBranch(string(t), item.IssueNumber),
			fmt.Sprintf("%s design for #%d: %s", t, item.IssueNumber, item.Title)
	case StatusImplementation:
		if item.ImplementationPhase != "" {
			current, _, err := ParsePhaseCounter(item.ImplementationPhase)
			if err == nil {
				return IntegrationBranch(item.IssueNumber),
					git.PhaseBranch(item.IssueNumber, current),
					fmt.Sprintf("#%d phase %s: %s", item.IssueNumber, item.ImplementationPhase, item.Title)
			}
		}
		return o.BaseBranch,
			git.ImplementationBranch(item.IssueNumber),
			fmt.Sprintf("#%d: %s", item.IssueNumber, item.Title)
	default:
		return "", "", ""
	}
}

// ensureBranch creates the branch from trunk when it does not exist yet.
func (o *Orchestrator) ensureBranch(ctx context.Context, name string) error {
	exists, err := o.gw.BranchExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check branch %s: %w", name, err)
	}
	if exists {
		return nil
	}
	if err := o.gw.CreateBranch(ctx, name, o.BaseBranch); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// workingBranch names the branch the agent should commit to, empty for
// runs that produce no code.
func (o *Orchestrator) workingBranch(item *WorkItem) string {
	_, head, _ := o.prTarget(item)
	return head
}

// buildPrompt renders the workflow template for the item plus the
// mode-specific suffix.
func (o *Orchestrator) buildPrompt(ctx context.Context, item *WorkItem, mode AgentMode) (string, error) {
	name := promptTemplateFor(item.Status)
	if name == "" {
		return "", fmt.Errorf("status %q has no agent workflow: %w", item.Status, ErrInvalidState)
	}

	vars := map[string]any{
		"IssueNumber": item.IssueNumber,
		"Title":       item.Title,
		"Phase":       item.ImplementationPhase,
		"Context":     o.promptContext(ctx, item),
	}
	text, err := o.prompts.LoadWithVars(name, vars)
	if err != nil {
		return "", err
	}
	b := prompt.NewBuilder().Add(text)

	switch mode {
	case ModeFeedback:
		suffix, err := o.prompts.LoadWithVars("mode-feedback", map[string]any{
			"Feedback": o.latestAdminComment(ctx, item.IssueNumber),
		})
		if err != nil {
			return "", err
		}
		b.Add(suffix)
	case ModeClarification:
		suffix, err := o.prompts.LoadWithVars("mode-clarification", map[string]any{
			"Answer": o.latestAdminComment(ctx, item.IssueNumber),
		})
		if err != nil {
			return "", err
		}
		b.Add(suffix)
	}
	return b.Build(), nil
}

// promptContext gathers the upstream artifact for the current phase,
// preferring the durable store and falling back to issue comments.
func (o *Orchestrator) promptContext(ctx context.Context, item *WorkItem) string {
	prev := previousArtifactType(item.Status)
	if prev == "" {
		return ""
	}
	content, err := o.artifacts.Read(ctx, item.IssueNumber, prev)
	if err == nil {
		return content
	}
	// Legacy fallback: older items only have the design in a comment.
	comments, err := o.gw.ListIssueComments(ctx, item.IssueNumber)
	if err != nil {
		return ""
	}
	for i := len(comments) - 1; i >= 0; i-- {
		if strings.Contains(comments[i].Body, "## "+string(prev)) {
			return comments[i].Body
		}
	}
	return ""
}

// latestAdminComment returns the newest comment body, "" when none.
func (o *Orchestrator) latestAdminComment(ctx context.Context, issueNumber int) string {
	comments, err := o.gw.ListIssueComments(ctx, issueNumber)
	if err != nil || len(comments) == 0 {
		return ""
	}
	return comments[len(comments)-1].Body
}

// =============================================================================
// Batch
// =============================================================================

// BatchOutcome reports a batch of agent runs with per-item isolation.
type BatchOutcome struct {
	Completed []*RunOutcome
	Failed    []SweepFailure
}

// RunBatch runs the agent for every item matching the filter. One item's
// failure never aborts the batch.
func (o *Orchestrator) RunBatch(ctx context.Context, filter ItemFilter) (*BatchOutcome, error) {
	items, err := o.store.ListItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("run batch: list items: %w", err)
	}

	outcome := &BatchOutcome{}
	for _, item := range items {
		run, err := o.RunAgent(ctx, item.IssueNumber)
		if err != nil {
			o.logger.Warn("batch agent run failed",
				"item", item.ID,
				"issue", item.IssueNumber,
				"error", err,
			)
			outcome.Failed = append(outcome.Failed, SweepFailure{
				ItemID:      item.ID,
				IssueNumber: item.IssueNumber,
				Err:         err,
			})
			continue
		}
		outcome.Completed = append(outcome.Completed, run)
	}
	return outcome, nil
}

// =============================================================================
// Status Mapping
// =============================================================================

// artifactTypeFor maps a pipeline status to the artifact its agent run
// produces. Empty for statuses with no document output.
func artifactTypeFor(s Status) ArtifactType {
	switch s {
	case StatusProductDevPlan:
		return ArtifactProductDev
	case StatusProductDesign:
		return ArtifactProduct
	case StatusTechDesign:
		return ArtifactTech
	default:
		return ""
	}
}

// previousArtifactType maps a status to its upstream design artifact.
func previousArtifactType(s Status) ArtifactType {
	switch s {
	case StatusProductDesign:
		return ArtifactProductDev
	case StatusTechDesign:
		return ArtifactProduct
	case StatusImplementation, StatusPRReview:
		return ArtifactTech
	default:
		return ""
	}
}

// promptTemplateFor maps a status to its prompt template name.
func promptTemplateFor(s Status) string {
	switch s {
	case StatusProductDevPlan:
		return "product-dev-plan"
	case StatusProductDesign:
		return "product-design"
	case StatusTechDesign:
		return "tech-design"
	case StatusImplementation:
		return "implementation"
	case StatusPRReview:
		return "pr-review"
	default:
		return ""
	}
}

// taskFor maps a status to the model-selection task type.
func taskFor(s Status) task.Type {
	switch s {
	case StatusProductDevPlan, StatusProductDesign:
		return task.ProductDesign
	case StatusTechDesign:
		return task.TechDesign
	case StatusImplementation:
		return task.Implement
	case StatusPRReview:
		return task.Review
	default:
		return task.Summarize
	}
}
