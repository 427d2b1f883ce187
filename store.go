package pipewright

import (
	"context"
)

// ItemFilter narrows ListItems. Nil fields match everything; note that a
// non-nil ReviewStatus pointing at ReviewNone matches items with no review
// in flight.
type ItemFilter struct {
	Status       *Status
	ReviewStatus *ReviewStatus
	Type         *ItemType
	Limit        int
}

// NewItem is the input for creating a tracked work item.
type NewItem struct {
	Title     string
	Type      ItemType
	Labels    []string
	SourceRef *SourceRef
}

// ItemStore is the provider-agnostic adapter over work item persistence.
//
// Two implementations are interchangeable: LocalStore (a document
// collection, synchronous-feeling) and TrackerStore (issue-tracker custom
// fields, every mutation a remote call retried on rate limits). Callers
// must not assume which; the contract, not the latency profile, is fixed.
type ItemStore interface {
	// ListItems returns items matching the filter.
	ListItems(ctx context.Context, filter ItemFilter) ([]*WorkItem, error)

	// GetItem returns an item by internal id, or ErrItemNotFound.
	GetItem(ctx context.Context, id string) (*WorkItem, error)

	// FindByIssue returns the item tracking the given issue number, or
	// ErrItemNotFound.
	FindByIssue(ctx context.Context, issueNumber int) (*WorkItem, error)

	// CreateItem creates a tracked item and returns its internal id.
	CreateItem(ctx context.Context, item NewItem) (string, error)

	// DeleteItem removes a tracked item.
	DeleteItem(ctx context.Context, id string) error

	// SetIssueRef records the external issue the item is synced to.
	SetIssueRef(ctx context.Context, id string, issueNumber int, issueURL string) error

	// UpdateItemStatus sets the pipeline status.
	UpdateItemStatus(ctx context.Context, id string, status Status) error

	// UpdateItemReviewStatus sets the review sub-state.
	UpdateItemReviewStatus(ctx context.Context, id string, rs ReviewStatus) error

	// ClearItemReviewStatus resets the review sub-state to none.
	ClearItemReviewStatus(ctx context.Context, id string) error

	// ImplementationPhase returns the "i/n" phase counter, "" when unset.
	ImplementationPhase(ctx context.Context, id string) (string, error)

	// SetImplementationPhase sets the "i/n" phase counter.
	SetImplementationPhase(ctx context.Context, id string, phase string) error

	// ClearImplementationPhase removes the phase counter.
	ClearImplementationPhase(ctx context.Context, id string) error

	// UpdateArtifacts applies mutate to the item's bookkeeping record and
	// persists the result.
	UpdateArtifacts(ctx context.Context, id string, mutate func(*ItemArtifacts)) error

	// SourceExists reports whether the intake document behind a source ref
	// still exists. Used to self-heal orphaned tracking records.
	SourceExists(ctx context.Context, ref SourceRef) (bool, error)
}
