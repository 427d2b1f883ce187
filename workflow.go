package pipewright

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// UndoWindow is how long a status change can be undone. The boundary is
// inclusive: an undo arriving exactly UndoWindow after the change succeeds.
const UndoWindow = 5 * time.Minute

// Workflow is the status-transition service. It owns the rules for how a
// work item moves between pipeline phases, how review outcomes drive
// transitions, and how merges and reverts are orchestrated.
//
// Expected domain outcomes the caller must branch on (undo expired, revert
// not constructible, merge advance skipped) are reported in the result
// structs with a nil error; everything else is an error classified by
// KindOf.
type Workflow struct {
	store     ItemStore
	gw        Gateway
	artifacts ArtifactStore
	notifier  Notifier
	logger    *slog.Logger

	now        func() time.Time
	undoWindow time.Duration
}

// NewWorkflow creates the transition service from a service bundle.
func NewWorkflow(svcs *Services) *Workflow {
	return &Workflow{
		store:      svcs.Store,
		gw:         svcs.Gateway,
		artifacts:  svcs.Artifacts,
		notifier:   svcs.Notifier,
		logger:     svcs.logger(),
		now:        time.Now,
		undoWindow: UndoWindow,
	}
}

// findByIssue resolves the tracked item behind an issue number.
func (w *Workflow) findByIssue(ctx context.Context, issueNumber int) (*WorkItem, error) {
	item, err := w.store.FindByIssue(ctx, issueNumber)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("issue #%d: %w", issueNumber, ErrItemNotFound)
		}
		return nil, fmt.Errorf("find item for issue #%d: %w", issueNumber, err)
	}
	return item, nil
}

// =============================================================================
// Status Advancement
// =============================================================================

// AdvanceOptions tunes AdvanceStatus.
type AdvanceOptions struct {
	// PreserveReview keeps the current review status across the change.
	// The default clears it: a new phase must never retain a review
	// outcome belonging to the previous one.
	PreserveReview bool
}

// AdvanceResult reports a completed status change.
type AdvanceResult struct {
	ItemID string
	From   Status
	To     Status
}

// AdvanceStatus moves an item to targetStatus. The review status is cleared
// unless opts.PreserveReview is set.
func (w *Workflow) AdvanceStatus(ctx context.Context, issueNumber int, target Status, opts AdvanceOptions) (*AdvanceResult, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("advance to %q: %w", target, ErrInvalidDestination)
	}
	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}

	if err := w.store.UpdateItemStatus(ctx, item.ID, target); err != nil {
		return nil, fmt.Errorf("advance issue #%d: %w", issueNumber, err)
	}
	if !opts.PreserveReview {
		if err := w.store.ClearItemReviewStatus(ctx, item.ID); err != nil {
			return nil, fmt.Errorf("advance issue #%d: clear review: %w", issueNumber, err)
		}
	}

	w.logger.Info("status advanced",
		"issue", issueNumber,
		"from", item.Status,
		"to", target,
		"review_preserved", opts.PreserveReview,
	)
	return &AdvanceResult{ItemID: item.ID, From: item.Status, To: target}, nil
}

// =============================================================================
// Design Review
// =============================================================================

// ReviewOutcome is an admin's verdict on a design document.
type ReviewOutcome string

const (
	// ReviewOutcomeApprove clears the review status so the item is ready
	// for auto-advance or a manual move.
	ReviewOutcomeApprove ReviewOutcome = "approve"

	// ReviewOutcomeChanges keeps the status and requests a feedback-mode
	// agent re-run.
	ReviewOutcomeChanges ReviewOutcome = "changes"

	// ReviewOutcomeReject parks the artifact. No automatic re-run.
	ReviewOutcomeReject ReviewOutcome = "reject"
)

// ReviewResult reports the review status after a review operation.
type ReviewResult struct {
	ItemID       string
	ReviewStatus ReviewStatus
}

// ReviewDesign records an admin verdict on the item's current design
// document. The pipeline status never changes here; only the review
// sub-state does.
func (w *Workflow) ReviewDesign(ctx context.Context, issueNumber int, outcome ReviewOutcome) (*ReviewResult, error) {
	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}

	var rs ReviewStatus
	switch outcome {
	case ReviewOutcomeApprove:
		rs = ReviewNone
	case ReviewOutcomeChanges:
		rs = ReviewRequestChanges
	case ReviewOutcomeReject:
		rs = ReviewRejected
	default:
		return nil, fmt.Errorf("review outcome %q: %w", outcome, ErrInvalidDestination)
	}

	if rs == ReviewNone {
		err = w.store.ClearItemReviewStatus(ctx, item.ID)
	} else {
		err = w.store.UpdateItemReviewStatus(ctx, item.ID, rs)
	}
	if err != nil {
		return nil, fmt.Errorf("review design for issue #%d: %w", issueNumber, err)
	}

	w.logger.Info("design reviewed", "issue", issueNumber, "outcome", outcome)
	return &ReviewResult{ItemID: item.ID, ReviewStatus: rs}, nil
}

// RequestChangesOnPR rejects an implementation PR: the item returns to the
// implementation phase with review status request-changes, so a
// feedback-mode agent run can fix it.
func (w *Workflow) RequestChangesOnPR(ctx context.Context, issueNumber int) (*ReviewResult, error) {
	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}

	if err := w.store.UpdateItemStatus(ctx, item.ID, StatusImplementation); err != nil {
		return nil, fmt.Errorf("request changes on PR for issue #%d: %w", issueNumber, err)
	}
	if err := w.store.UpdateItemReviewStatus(ctx, item.ID, ReviewRequestChanges); err != nil {
		return nil, fmt.Errorf("request changes on PR for issue #%d: %w", issueNumber, err)
	}

	w.logger.Info("changes requested on PR", "issue", issueNumber, "status", StatusImplementation)
	return &ReviewResult{ItemID: item.ID, ReviewStatus: ReviewRequestChanges}, nil
}

// RequestChangesOnDesignPR requests changes on a design PR. The status is
// unchanged; the item stays in its design phase for a feedback re-run.
// phaseLabel names the design phase for logging only.
func (w *Workflow) RequestChangesOnDesignPR(ctx context.Context, issueNumber, prNumber int, phaseLabel string) (*ReviewResult, error) {
	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}

	if err := w.store.UpdateItemReviewStatus(ctx, item.ID, ReviewRequestChanges); err != nil {
		return nil, fmt.Errorf("request changes on design PR #%d: %w", prNumber, err)
	}

	w.logger.Info("changes requested on design PR",
		"issue", issueNumber,
		"pr", prNumber,
		"phase", phaseLabel,
	)
	return &ReviewResult{ItemID: item.ID, ReviewStatus: ReviewRequestChanges}, nil
}

// =============================================================================
// Undo
// =============================================================================

// UndoResult reports an undo attempt. Expired is set, with Success false
// and a nil error, when the undo window has passed; nothing was mutated.
type UndoResult struct {
	Success bool
	Expired bool
}

// UndoStatusChange restores caller-supplied previous values, but only
// within the undo window measured from changedAt. A nil target pointer
// means "leave that field unchanged" — distinct from a pointer to the zero
// value, which clears it.
func (w *Workflow) UndoStatusChange(ctx context.Context, issueNumber int, target *Status, targetReview *ReviewStatus, changedAt time.Time) (*UndoResult, error) {
	if w.now().Sub(changedAt) > w.undoWindow {
		w.logger.Info("undo window expired", "issue", issueNumber, "changed_at", changedAt)
		return &UndoResult{Success: false, Expired: true}, nil
	}

	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}

	if target != nil {
		if *target != "" && !target.Valid() {
			return nil, fmt.Errorf("undo to %q: %w", *target, ErrInvalidDestination)
		}
		if err := w.store.UpdateItemStatus(ctx, item.ID, *target); err != nil {
			return nil, fmt.Errorf("undo status for issue #%d: %w", issueNumber, err)
		}
	}
	if targetReview != nil {
		if *targetReview == ReviewNone {
			err = w.store.ClearItemReviewStatus(ctx, item.ID)
		} else {
			err = w.store.UpdateItemReviewStatus(ctx, item.ID, *targetReview)
		}
		if err != nil {
			return nil, fmt.Errorf("undo review status for issue #%d: %w", issueNumber, err)
		}
	}

	w.logger.Info("status change undone", "issue", issueNumber)
	return &UndoResult{Success: true}, nil
}

// =============================================================================
// Clarification
// =============================================================================

// MarkClarificationReceived records that the admin answered a pending
// clarification, so the next agent run uses clarification mode. The item
// must currently be waiting for clarification.
func (w *Workflow) MarkClarificationReceived(ctx context.Context, issueNumber int) (*ReviewResult, error) {
	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}
	if item.ReviewStatus != ReviewWaitingForClarification {
		return nil, fmt.Errorf("issue #%d is %q, not waiting for clarification: %w",
			issueNumber, item.ReviewStatus, ErrInvalidState)
	}

	if err := w.store.UpdateItemReviewStatus(ctx, item.ID, ReviewClarificationReceived); err != nil {
		return nil, fmt.Errorf("mark clarification received for issue #%d: %w", issueNumber, err)
	}

	w.logger.Info("clarification received", "issue", issueNumber)
	return &ReviewResult{ItemID: item.ID, ReviewStatus: ReviewClarificationReceived}, nil
}

// =============================================================================
// Decisions
// =============================================================================

// SubmitDecisionRouting applies the outcome of a decision. With a target
// status the item advances and review is cleared; without one, only the
// review status changes (approval-only decisions that stay in phase).
func (w *Workflow) SubmitDecisionRouting(ctx context.Context, issueNumber int, target *Status, review *ReviewStatus) (*AdvanceResult, error) {
	if target != nil {
		return w.AdvanceStatus(ctx, issueNumber, *target, AdvanceOptions{})
	}

	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}
	if review != nil {
		if err := w.store.UpdateItemReviewStatus(ctx, item.ID, *review); err != nil {
			return nil, fmt.Errorf("submit decision routing for issue #%d: %w", issueNumber, err)
		}
	}
	return &AdvanceResult{ItemID: item.ID, From: item.Status, To: item.Status}, nil
}

// SubmitDecision consumes a pending decision: persists the selection, posts
// it back to the issue, and routes the item per the decision's routing
// config. A decision marked continue-after-selection keeps the status and
// sets review to decision-submitted so the next agent run fires in the same
// phase.
func (w *Workflow) SubmitDecision(ctx context.Context, issueNumber int, sel DecisionSelection) (*AdvanceResult, error) {
	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}
	decision := item.Artifacts.Decision
	if decision == nil {
		return nil, fmt.Errorf("issue #%d: %w", issueNumber, ErrDecisionNotFound)
	}
	if sel.OptionID == "" && sel.CustomText == "" {
		return nil, fmt.Errorf("issue #%d: %w", issueNumber, ErrNoOptionSelected)
	}
	if sel.OptionID != "" && decision.Option(sel.OptionID) == nil {
		return nil, fmt.Errorf("issue #%d: option %q: %w", issueNumber, sel.OptionID, ErrNoOptionSelected)
	}

	if err := w.store.UpdateArtifacts(ctx, item.ID, func(a *ItemArtifacts) {
		a.Selection = &sel
	}); err != nil {
		return nil, fmt.Errorf("persist selection for issue #%d: %w", issueNumber, err)
	}
	if _, err := w.gw.AddIssueComment(ctx, issueNumber, FormatSelection(&sel)); err != nil {
		// The selection is durably recorded; the comment is a mirror.
		w.logger.Warn("failed to post selection comment", "issue", issueNumber, "error", err)
	}

	if decision.ContinueAfterSelection {
		review := ReviewDecisionSubmitted
		return w.SubmitDecisionRouting(ctx, issueNumber, nil, &review)
	}

	dest := w.resolveDecisionDestination(decision, sel)
	if dest == nil {
		review := ReviewDecisionSubmitted
		return w.SubmitDecisionRouting(ctx, issueNumber, nil, &review)
	}
	return w.SubmitDecisionRouting(ctx, issueNumber, dest, nil)
}

// resolveDecisionDestination maps a selection to a target status via the
// decision's routing config. A custom destination from the admin wins over
// the option's metadata routing. Returns nil when no routing applies.
func (w *Workflow) resolveDecisionDestination(decision *Decision, sel DecisionSelection) *Status {
	if sel.CustomDestination != "" {
		dest := Status(sel.CustomDestination)
		if dest.Valid() {
			return &dest
		}
		w.logger.Warn("ignoring invalid custom destination", "destination", sel.CustomDestination)
	}
	routing := decision.Routing
	if routing == nil || sel.OptionID == "" {
		return nil
	}
	opt := decision.Option(sel.OptionID)
	if opt == nil {
		return nil
	}
	key := opt.Metadata[routing.MetadataKey]
	if dest, ok := routing.Destinations[key]; ok && dest.Valid() {
		return &dest
	}
	return nil
}

// =============================================================================
// Implementation Phases
// =============================================================================

// PhaseResult reports the phase counter after advancement.
type PhaseResult struct {
	ItemID string
	Phase  string
}

// AdvanceImplementationPhase sets the "i/n" phase counter, optionally
// moving the item to status at the same time (pass "" to leave it).
func (w *Workflow) AdvanceImplementationPhase(ctx context.Context, issueNumber int, phase string, status Status) (*PhaseResult, error) {
	if _, _, err := ParsePhaseCounter(phase); err != nil {
		return nil, fmt.Errorf("advance phase: %w", err)
	}
	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}

	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("advance phase to status %q: %w", status, ErrInvalidDestination)
		}
		if err := w.store.UpdateItemStatus(ctx, item.ID, status); err != nil {
			return nil, fmt.Errorf("advance phase for issue #%d: %w", issueNumber, err)
		}
	}
	if err := w.store.SetImplementationPhase(ctx, item.ID, phase); err != nil {
		return nil, fmt.Errorf("advance phase for issue #%d: %w", issueNumber, err)
	}

	w.logger.Info("implementation phase advanced", "issue", issueNumber, "phase", phase)
	return &PhaseResult{ItemID: item.ID, Phase: phase}, nil
}
