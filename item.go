package pipewright

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tormod/pipewright/git"
)

// =============================================================================
// Status
// =============================================================================

// Status is a work item's pipeline phase.
type Status string

const (
	StatusBacklog        Status = "backlog"
	StatusProductDevPlan Status = "product-dev-plan"
	StatusProductDesign  Status = "product-design"
	StatusTechDesign     Status = "tech-design"
	StatusImplementation Status = "implementation"
	StatusPRReview       Status = "pr-review"
	StatusFinalReview    Status = "final-review"
	StatusDone           Status = "done"
)

// statusOrder is the canonical pipeline phase order.
var statusOrder = []Status{
	StatusBacklog,
	StatusProductDevPlan,
	StatusProductDesign,
	StatusTechDesign,
	StatusImplementation,
	StatusPRReview,
	StatusFinalReview,
	StatusDone,
}

// Valid reports whether s is a known pipeline status.
func (s Status) Valid() bool {
	for _, known := range statusOrder {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s is the end of the pipeline.
func (s Status) Terminal() bool {
	return s == StatusDone
}

// Next returns the status that follows s in the pipeline for the given item
// type. Bugs skip product design phases. Returns false when s is terminal
// or unknown.
func (s Status) Next(itemType ItemType) (Status, bool) {
	idx := -1
	for i, known := range statusOrder {
		if s == known {
			idx = i
			break
		}
	}
	if idx < 0 || idx == len(statusOrder)-1 {
		return "", false
	}

	next := statusOrder[idx+1]
	if itemType == ItemTypeBug {
		for next == StatusProductDevPlan || next == StatusProductDesign {
			idx++
			if idx == len(statusOrder)-1 {
				return "", false
			}
			next = statusOrder[idx+1]
		}
	}
	return next, true
}

// =============================================================================
// ReviewStatus
// =============================================================================

// ReviewStatus is the admin-review sub-state within the current Status.
// The empty value means no review is in flight.
type ReviewStatus string

const (
	ReviewNone                    ReviewStatus = ""
	ReviewWaitingForReview        ReviewStatus = "waiting-for-review"
	ReviewApproved                ReviewStatus = "approved"
	ReviewRequestChanges          ReviewStatus = "request-changes"
	ReviewRejected                ReviewStatus = "rejected"
	ReviewWaitingForClarification ReviewStatus = "waiting-for-clarification"
	ReviewClarificationReceived   ReviewStatus = "clarification-received"
	ReviewWaitingForDecision      ReviewStatus = "waiting-for-decision"
	ReviewDecisionSubmitted       ReviewStatus = "decision-submitted"
)

// =============================================================================
// ItemType
// =============================================================================

// ItemType classifies where a work item came from and which phases apply.
type ItemType string

const (
	ItemTypeFeature ItemType = "feature"
	ItemTypeBug     ItemType = "bug"
	ItemTypeTask    ItemType = "task"
)

// =============================================================================
// WorkItem
// =============================================================================

// SourceRef points at the intake document a work item originated from.
type SourceRef struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// MergeRecord remembers a merged pull request for later revert support.
type MergeRecord struct {
	PRNumber int    `json:"prNumber"`
	SHA      string `json:"sha"`
	MergedAt string `json:"mergedAt,omitempty"`
}

// ItemArtifacts holds item-level bookkeeping persisted alongside the item,
// separate from the tracker's own PR records.
type ItemArtifacts struct {
	Decision       *Decision          `json:"decision,omitempty"`
	Selection      *DecisionSelection `json:"selection,omitempty"`
	LastMergedPR   *MergeRecord       `json:"lastMergedPr,omitempty"`
	RevertPRNumber int                `json:"revertPrNumber,omitempty"`
	CommitTitle    string             `json:"commitTitle,omitempty"`
	CommitMessage  string             `json:"commitMessage,omitempty"`
}

// WorkItem is the unit of work moving through the pipeline.
type WorkItem struct {
	// ID is the opaque handle into the item store.
	ID string `json:"id"`

	// IssueNumber is the external tracker issue, 0 before intake approval.
	IssueNumber int    `json:"githubIssueNumber,omitempty"`
	IssueURL    string `json:"githubIssueUrl,omitempty"`

	Title string   `json:"title"`
	Type  ItemType `json:"type"`

	Status       Status       `json:"status,omitempty"`
	ReviewStatus ReviewStatus `json:"reviewStatus,omitempty"`

	// ImplementationPhase is the "i/n" sub-counter, set only while
	// Status is implementation and the work is multi-phase.
	ImplementationPhase string `json:"implementationPhase,omitempty"`

	SourceRef *SourceRef    `json:"sourceRef,omitempty"`
	Artifacts ItemArtifacts `json:"artifacts"`
	Labels    []string      `json:"labels,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Synced reports whether the item has been synced to the external tracker.
func (w *WorkItem) Synced() bool {
	return w.IssueNumber > 0
}

// =============================================================================
// Implementation Phase Counter
// =============================================================================

// ParsePhaseCounter splits an "i/n" phase counter. Returns an error for
// malformed counters, zero totals, or indexes outside 1..n.
func ParsePhaseCounter(s string) (current, total int, err error) {
	left, right, ok := strings.Cut(s, "/")
	if !ok {
		return 0, 0, fmt.Errorf("malformed phase counter %q", s)
	}
	current, err = strconv.Atoi(strings.TrimSpace(left))
	if err != nil {
		return 0, 0, fmt.Errorf("malformed phase counter %q", s)
	}
	total, err = strconv.Atoi(strings.TrimSpace(right))
	if err != nil {
		return 0, 0, fmt.Errorf("malformed phase counter %q", s)
	}
	if total < 1 || current < 1 || current > total {
		return 0, 0, fmt.Errorf("phase counter %q out of range", s)
	}
	return current, total, nil
}

// FormatPhaseCounter renders an "i/n" phase counter.
func FormatPhaseCounter(current, total int) string {
	return fmt.Sprintf("%d/%d", current, total)
}

// IntegrationBranch returns the feature integration branch that phase PRs
// target for a multi-phase implementation.
func IntegrationBranch(issueNumber int) string {
	return git.IntegrationBranch(issueNumber)
}
