package pipewright

import (
	"context"
	"fmt"
	"strings"
)

// MergeResult reports a completed merge.
//
// AdvancedTo is nil when the merge succeeded but the bookkeeping advance
// was skipped because no tracked item exists for the issue. Merging is the
// authoritative externally-visible action; advancing is best-effort.
type MergeResult struct {
	SHA           string
	AlreadyMerged bool
	AdvancedTo    *Status
}

// MergeDesignPR merges a design PR and advances the item to the phase that
// follows the design type (product-dev to product design, product to tech
// design, tech to implementation). A PR that was already merged is not an
// error. A missing item skips the advance; see MergeResult.
func (w *Workflow) MergeDesignPR(ctx context.Context, issueNumber, prNumber int, designType ArtifactType) (*MergeResult, error) {
	next, ok := StatusAfterDesign(designType)
	if !ok {
		return nil, fmt.Errorf("merge design PR: design type %q: %w", designType, ErrInvalidDestination)
	}

	outcome, err := w.gw.MergePR(ctx, prNumber, MergeOptions{Method: MergeMethodSquash})
	if err != nil {
		return nil, fmt.Errorf("merge design PR #%d: %w", prNumber, err)
	}

	result := &MergeResult{SHA: outcome.SHA, AlreadyMerged: outcome.AlreadyMerged}

	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		if KindOf(err) == KindNotFound {
			// The merge already happened; report it without the advance.
			w.logger.Warn("design PR merged for untracked issue, advance skipped",
				"issue", issueNumber, "pr", prNumber)
			return result, nil
		}
		return nil, err
	}

	if err := w.store.UpdateItemStatus(ctx, item.ID, next); err != nil {
		return nil, fmt.Errorf("advance after design merge #%d: %w", prNumber, err)
	}
	if err := w.store.ClearItemReviewStatus(ctx, item.ID); err != nil {
		return nil, fmt.Errorf("advance after design merge #%d: clear review: %w", prNumber, err)
	}
	result.AdvancedTo = &next

	w.logger.Info("design PR merged",
		"issue", issueNumber,
		"pr", prNumber,
		"design_type", designType,
		"advanced_to", next,
	)
	notify(ctx, w.logger, w.notifier, itemEvent(item, EventMergeCompleted,
		fmt.Sprintf("Design PR #%d merged, moved to %s", prNumber, next)))
	return result, nil
}

// MergeImplementationPR merges an implementation PR using the commit title
// and message saved when the PR was prepared, records the merge for later
// revert support, and marks the item done.
func (w *Workflow) MergeImplementationPR(ctx context.Context, issueNumber, prNumber int) (*MergeResult, error) {
	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}

	outcome, err := w.gw.MergePR(ctx, prNumber, MergeOptions{
		Method:        MergeMethodSquash,
		CommitTitle:   item.Artifacts.CommitTitle,
		CommitMessage: item.Artifacts.CommitMessage,
	})
	if err != nil {
		return nil, fmt.Errorf("merge implementation PR #%d: %w", prNumber, err)
	}

	if err := w.recordMergeAndFinish(ctx, item, prNumber, outcome.SHA); err != nil {
		return nil, err
	}

	w.logger.Info("implementation PR merged", "issue", issueNumber, "pr", prNumber, "sha", outcome.SHA)
	notify(ctx, w.logger, w.notifier, itemEvent(item, EventMergeCompleted,
		fmt.Sprintf("Implementation PR #%d merged", prNumber)))

	done := StatusDone
	return &MergeResult{SHA: outcome.SHA, AlreadyMerged: outcome.AlreadyMerged, AdvancedTo: &done}, nil
}

// MergeFinalPR merges the final PR to trunk and marks the item done. Fails
// with a descriptive error when the PR cannot be fetched.
func (w *Workflow) MergeFinalPR(ctx context.Context, issueNumber, prNumber int) (*MergeResult, error) {
	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}

	pr, err := w.gw.GetPR(ctx, prNumber)
	if err != nil {
		return nil, fmt.Errorf("fetch final PR #%d for issue #%d: %w", prNumber, issueNumber, err)
	}
	if pr.State == PRStateClosed {
		return nil, fmt.Errorf("final PR #%d: %w", prNumber, ErrPRClosed)
	}

	outcome, err := w.gw.MergePR(ctx, prNumber, MergeOptions{
		Method:        MergeMethodSquash,
		CommitTitle:   item.Artifacts.CommitTitle,
		CommitMessage: item.Artifacts.CommitMessage,
	})
	if err != nil {
		return nil, fmt.Errorf("merge final PR #%d: %w", prNumber, err)
	}

	if err := w.recordMergeAndFinish(ctx, item, prNumber, outcome.SHA); err != nil {
		return nil, err
	}

	w.logger.Info("final PR merged", "issue", issueNumber, "pr", prNumber, "sha", outcome.SHA)
	notify(ctx, w.logger, w.notifier, itemEvent(item, EventMergeCompleted,
		fmt.Sprintf("Final PR #%d merged: %s", prNumber, pr.Title)))

	done := StatusDone
	return &MergeResult{SHA: outcome.SHA, AlreadyMerged: outcome.AlreadyMerged, AdvancedTo: &done}, nil
}

// recordMergeAndFinish persists the merge record and moves the item to done.
func (w *Workflow) recordMergeAndFinish(ctx context.Context, item *WorkItem, prNumber int, sha string) error {
	err := w.store.UpdateArtifacts(ctx, item.ID, func(a *ItemArtifacts) {
		a.LastMergedPR = &MergeRecord{
			PRNumber: prNumber,
			SHA:      sha,
			MergedAt: w.now().UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
	})
	if err != nil {
		return fmt.Errorf("record merge of PR #%d: %w", prNumber, err)
	}
	if err := w.store.UpdateItemStatus(ctx, item.ID, StatusDone); err != nil {
		return fmt.Errorf("mark issue #%d done: %w", item.IssueNumber, err)
	}
	if err := w.store.ClearItemReviewStatus(ctx, item.ID); err != nil {
		return fmt.Errorf("mark issue #%d done: clear review: %w", item.IssueNumber, err)
	}
	if item.ImplementationPhase != "" {
		if err := w.store.ClearImplementationPhase(ctx, item.ID); err != nil {
			return fmt.Errorf("mark issue #%d done: clear phase: %w", item.IssueNumber, err)
		}
	}
	return nil
}

// =============================================================================
// Revert
// =============================================================================

// RevertResult reports a revert-PR construction attempt. Success false with
// a nil error means the tracker could not construct a revert (conflicting
// history, commits gone); Reason says why.
type RevertResult struct {
	Success  bool
	Reason   string
	RevertPR *PullRequest
}

// RevertMerge asks the tracker for a revert PR of a previously merged PR.
//
// shortSha, when supplied, is a human-entered confirmation (for example a
// notification reply) and must be a prefix of the recorded merge SHA. The
// prefix check runs before any gateway call so a wrong confirmation can
// never touch the tracker.
func (w *Workflow) RevertMerge(ctx context.Context, issueNumber, prNumber int, shortSha string) (*RevertResult, error) {
	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}

	rec := item.Artifacts.LastMergedPR
	if rec == nil || rec.PRNumber != prNumber {
		return nil, fmt.Errorf("issue #%d PR #%d: %w", issueNumber, prNumber, ErrNoMergeRecord)
	}
	if shortSha != "" && !strings.HasPrefix(rec.SHA, shortSha) {
		return nil, fmt.Errorf("confirmation %q does not match merge commit %s: %w",
			shortSha, rec.SHA, ErrShaMismatch)
	}

	revertPR, err := w.gw.CreateRevertPR(ctx, prNumber)
	if err != nil {
		return nil, fmt.Errorf("create revert PR for #%d: %w", prNumber, err)
	}
	if revertPR == nil {
		w.logger.Warn("tracker could not construct revert PR", "issue", issueNumber, "pr", prNumber)
		return &RevertResult{
			Success: false,
			Reason:  fmt.Sprintf("could not construct a revert of PR #%d; revert manually", prNumber),
		}, nil
	}

	err = w.store.UpdateArtifacts(ctx, item.ID, func(a *ItemArtifacts) {
		a.RevertPRNumber = revertPR.Number
	})
	if err != nil {
		return nil, fmt.Errorf("record revert PR #%d: %w", revertPR.Number, err)
	}

	w.logger.Info("revert PR created", "issue", issueNumber, "pr", prNumber, "revert_pr", revertPR.Number)
	notify(ctx, w.logger, w.notifier, itemEvent(item, EventRevertCreated,
		fmt.Sprintf("Revert PR #%d created for PR #%d: %s", revertPR.Number, prNumber, revertPR.URL)))

	return &RevertResult{Success: true, RevertPR: revertPR}, nil
}

// MergeRevertPR merges a previously created revert PR and clears the
// revert bookkeeping. Fails when no revert PR was recorded under that
// number.
func (w *Workflow) MergeRevertPR(ctx context.Context, issueNumber, revertPRNumber int) (*MergeResult, error) {
	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}
	if item.Artifacts.RevertPRNumber == 0 || item.Artifacts.RevertPRNumber != revertPRNumber {
		return nil, fmt.Errorf("issue #%d revert PR #%d: %w", issueNumber, revertPRNumber, ErrNoRevertPR)
	}

	outcome, err := w.gw.MergePR(ctx, revertPRNumber, MergeOptions{Method: MergeMethodMerge})
	if err != nil {
		return nil, fmt.Errorf("merge revert PR #%d: %w", revertPRNumber, err)
	}

	err = w.store.UpdateArtifacts(ctx, item.ID, func(a *ItemArtifacts) {
		a.RevertPRNumber = 0
	})
	if err != nil {
		return nil, fmt.Errorf("clear revert record for PR #%d: %w", revertPRNumber, err)
	}

	w.logger.Info("revert PR merged", "issue", issueNumber, "revert_pr", revertPRNumber, "sha", outcome.SHA)
	notify(ctx, w.logger, w.notifier, itemEvent(item, EventMergeCompleted,
		fmt.Sprintf("Revert PR #%d merged", revertPRNumber)))

	return &MergeResult{SHA: outcome.SHA, AlreadyMerged: outcome.AlreadyMerged}, nil
}
