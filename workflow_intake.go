package pipewright

import (
	"context"
	"fmt"
)

// routingDestinations is the allow-list for routeWorkflowItem. Backlog is
// always valid; review and terminal phases are only reachable through
// merges or SetWorkflowStatus.
var routingDestinations = map[Status]bool{
	StatusBacklog:        true,
	StatusProductDevPlan: true,
	StatusProductDesign:  true,
	StatusTechDesign:     true,
	StatusImplementation: true,
}

// ApproveResult reports an intake approval.
type ApproveResult struct {
	ItemID      string
	IssueNumber int
	IssueURL    string

	// NeedsRouting is set when the item was synced but not yet routed to
	// an initial status.
	NeedsRouting bool
}

// ApproveWorkflowItem approves an intake item: creates the external tracker
// issue and records the binding. Idempotent against double-approval: an
// item already carrying an issue number fails with ErrAlreadyApproved and
// no further mutation.
//
// Issue creation is never auto-retried; an ambiguous failure must not risk
// a duplicate issue.
func (w *Workflow) ApproveWorkflowItem(ctx context.Context, itemID string) (*ApproveResult, error) {
	item, err := w.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("approve item %s: %w", itemID, err)
	}
	if item.Synced() {
		return nil, fmt.Errorf("item %s already has issue #%d: %w", itemID, item.IssueNumber, ErrAlreadyApproved)
	}

	issue, err := w.gw.CreateIssue(ctx, IssueOptions{
		Title:  item.Title,
		Body:   intakeIssueBody(item),
		Labels: item.Labels,
	})
	if err != nil {
		return nil, fmt.Errorf("create issue for item %s: %w", itemID, err)
	}

	if err := w.store.SetIssueRef(ctx, itemID, issue.Number, issue.URL); err != nil {
		// The issue exists but the binding failed; surface both facts.
		return nil, fmt.Errorf("record issue #%d for item %s: %w", issue.Number, itemID, err)
	}

	w.logger.Info("item approved", "item", itemID, "issue", issue.Number)
	notify(ctx, w.logger, w.notifier, NotificationEvent{
		Type:        EventItemApproved,
		ItemID:      itemID,
		IssueNumber: issue.Number,
		Title:       item.Title,
		Message:     fmt.Sprintf("Approved and synced as issue #%d", issue.Number),
		URL:         issue.URL,
	})

	return &ApproveResult{
		ItemID:       itemID,
		IssueNumber:  issue.Number,
		IssueURL:     issue.URL,
		NeedsRouting: true,
	}, nil
}

func intakeIssueBody(item *WorkItem) string {
	body := fmt.Sprintf("**Type**: %s\n", item.Type)
	if item.SourceRef != nil {
		body += fmt.Sprintf("**Source**: %s/%s\n", item.SourceRef.Collection, item.SourceRef.ID)
	}
	return body
}

// RouteResult reports an intake routing.
type RouteResult struct {
	ItemID      string
	IssueNumber int
	Status      Status
}

// RouteWorkflowItem routes an intake item into the pipeline at dest,
// approving it first if it has no tracker issue yet. dest is validated
// against the routing allow-list before any side effect.
func (w *Workflow) RouteWorkflowItem(ctx context.Context, itemID string, dest Status) (*RouteResult, error) {
	if !routingDestinations[dest] {
		return nil, fmt.Errorf("route to %q: %w", dest, ErrInvalidDestination)
	}

	item, err := w.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("route item %s: %w", itemID, err)
	}

	issueNumber := item.IssueNumber
	if !item.Synced() {
		approved, err := w.ApproveWorkflowItem(ctx, itemID)
		if err != nil {
			return nil, err
		}
		issueNumber = approved.IssueNumber
	}

	if err := w.store.UpdateItemStatus(ctx, itemID, dest); err != nil {
		return nil, fmt.Errorf("route item %s to %s: %w", itemID, dest, err)
	}
	if err := w.store.ClearItemReviewStatus(ctx, itemID); err != nil {
		return nil, fmt.Errorf("route item %s to %s: clear review: %w", itemID, dest, err)
	}

	w.logger.Info("item routed", "item", itemID, "issue", issueNumber, "status", dest)
	return &RouteResult{ItemID: itemID, IssueNumber: issueNumber, Status: dest}, nil
}

// RouteWorkflowItemByWorkflowID routes by tracker issue number instead of
// internal id.
func (w *Workflow) RouteWorkflowItemByWorkflowID(ctx context.Context, issueNumber int, dest Status) (*RouteResult, error) {
	item, err := w.findByIssue(ctx, issueNumber)
	if err != nil {
		return nil, err
	}
	return w.RouteWorkflowItem(ctx, item.ID, dest)
}

// SetWorkflowStatus sets a status directly, bypassing the routing
// allow-list. Used for statuses not reachable through the guarded routing
// path, like marking done.
func (w *Workflow) SetWorkflowStatus(ctx context.Context, itemID string, status Status) (*RouteResult, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("set status %q: %w", status, ErrInvalidDestination)
	}
	item, err := w.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("set status for item %s: %w", itemID, err)
	}

	if err := w.store.UpdateItemStatus(ctx, itemID, status); err != nil {
		return nil, fmt.Errorf("set status for item %s: %w", itemID, err)
	}
	if err := w.store.ClearItemReviewStatus(ctx, itemID); err != nil {
		return nil, fmt.Errorf("set status for item %s: clear review: %w", itemID, err)
	}

	w.logger.Info("status set directly", "item", itemID, "status", status)
	return &RouteResult{ItemID: itemID, IssueNumber: item.IssueNumber, Status: status}, nil
}

// DeleteResult reports an item deletion.
type DeleteResult struct {
	ItemID string

	// SelfHealed is set when the item was an orphaned tracking record
	// whose source document no longer exists.
	SelfHealed bool
}

// DeleteWorkflowItem removes a tracked item. Deleting an item that is
// already synced to the tracker requires force — unless its source intake
// document is gone, in which case the orphaned record is cleaned up
// unconditionally.
func (w *Workflow) DeleteWorkflowItem(ctx context.Context, itemID string, force bool) (*DeleteResult, error) {
	item, err := w.store.GetItem(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("delete item %s: %w", itemID, err)
	}

	orphaned := false
	if item.SourceRef != nil {
		exists, err := w.store.SourceExists(ctx, *item.SourceRef)
		if err != nil {
			return nil, fmt.Errorf("delete item %s: check source: %w", itemID, err)
		}
		orphaned = !exists
	}

	if item.Synced() && !force && !orphaned {
		return nil, fmt.Errorf("item %s (issue #%d): %w", itemID, item.IssueNumber, ErrItemSynced)
	}

	if err := w.store.DeleteItem(ctx, itemID); err != nil {
		return nil, fmt.Errorf("delete item %s: %w", itemID, err)
	}

	if orphaned {
		w.logger.Info("cleaned up orphaned item", "item", itemID, "issue", item.IssueNumber)
	} else {
		w.logger.Info("item deleted", "item", itemID, "forced", force)
	}
	return &DeleteResult{ItemID: itemID, SelfHealed: orphaned}, nil
}

// =============================================================================
// Batch Sweep
// =============================================================================

// SweepAdvance records one item advanced by AutoAdvanceApproved.
type SweepAdvance struct {
	ItemID      string
	IssueNumber int
	From        Status
	To          Status
}

// SweepFailure records one item the sweep could not advance.
type SweepFailure struct {
	ItemID      string
	IssueNumber int
	Err         error
}

// SweepResult reports a batch sweep. A sweep with failures is still a
// partial success; callers inspect Failed per item.
type SweepResult struct {
	Advanced []SweepAdvance
	Failed   []SweepFailure
}

// AutoAdvanceApproved finds every item with review status approved,
// advances each to the next phase for its type, and clears the review.
// Items are processed independently: one item's failure never aborts the
// sweep for the rest.
func (w *Workflow) AutoAdvanceApproved(ctx context.Context) (*SweepResult, error) {
	approved := ReviewApproved
	items, err := w.store.ListItems(ctx, ItemFilter{ReviewStatus: &approved})
	if err != nil {
		return nil, fmt.Errorf("auto-advance: list approved items: %w", err)
	}

	result := &SweepResult{}
	for _, item := range items {
		next, ok := item.Status.Next(item.Type)
		if !ok {
			result.Failed = append(result.Failed, SweepFailure{
				ItemID:      item.ID,
				IssueNumber: item.IssueNumber,
				Err:         fmt.Errorf("no phase follows %q: %w", item.Status, ErrInvalidState),
			})
			continue
		}

		if err := w.advanceSweepItem(ctx, item, next); err != nil {
			w.logger.Warn("auto-advance failed for item",
				"item", item.ID,
				"issue", item.IssueNumber,
				"error", err,
			)
			result.Failed = append(result.Failed, SweepFailure{
				ItemID:      item.ID,
				IssueNumber: item.IssueNumber,
				Err:         err,
			})
			continue
		}

		result.Advanced = append(result.Advanced, SweepAdvance{
			ItemID:      item.ID,
			IssueNumber: item.IssueNumber,
			From:        item.Status,
			To:          next,
		})
	}

	w.logger.Info("auto-advance sweep complete",
		"advanced", len(result.Advanced),
		"failed", len(result.Failed),
	)
	return result, nil
}

func (w *Workflow) advanceSweepItem(ctx context.Context, item *WorkItem, next Status) error {
	if err := w.store.UpdateItemStatus(ctx, item.ID, next); err != nil {
		return fmt.Errorf("advance to %s: %w", next, err)
	}
	if err := w.store.ClearItemReviewStatus(ctx, item.ID); err != nil {
		return fmt.Errorf("clear review: %w", err)
	}
	return nil
}
