package pipewright

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Tracker store label vocabulary. The track label marks issues managed by
// the pipeline; the prefixed labels mirror the record's state so boards and
// searches work without reading the record comment.
const (
	trackerItemLabel  = "workflow"
	statusLabelPrefix = "status:"
	reviewLabelPrefix = "review:"
	trackerItemMarker = "<!-- WORKFLOW_ITEM_V1:"
)

// TrackerStore implements ItemStore on top of the issue tracker itself.
//
// Each work item is an issue; the full record rides in a hidden-marker
// comment updated in place, and a label pair mirrors status and review
// status for listing. Every call is a remote call, retried on rate limits
// only. See the package doc for when to prefer LocalStore.
type TrackerStore struct {
	gw     Gateway
	retry  *retrier
	logger *slog.Logger
	now    func() time.Time

	// SourceChecker resolves SourceExists when intake documents live
	// outside the tracker. When nil the store claims sources exist,
	// which disables orphan self-healing rather than risking it on
	// incomplete information.
	SourceChecker func(ctx context.Context, ref SourceRef) (bool, error)
}

// NewTrackerStore creates a store backed by gw.
func NewTrackerStore(gw Gateway, logger *slog.Logger) *TrackerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TrackerStore{
		gw:     gw,
		retry:  newRetrier(logger),
		logger: logger,
		now:    time.Now,
	}
}

func trackerID(issueNumber int) string { return strconv.Itoa(issueNumber) }

func parseTrackerID(id string) (int, error) {
	n, err := strconv.Atoi(id)
	if err != nil || n <= 0 {
		return 0, ErrItemNotFound
	}
	return n, nil
}

// ListItems lists tracked issues and decodes their records. Status filters
// are pushed down as label queries so unrelated issues are never fetched.
func (s *TrackerStore) ListItems(ctx context.Context, filter ItemFilter) ([]*WorkItem, error) {
	labels := []string{trackerItemLabel}
	if filter.Status != nil {
		labels = append(labels, statusLabelPrefix+string(*filter.Status))
	}
	if filter.ReviewStatus != nil && *filter.ReviewStatus != ReviewNone {
		labels = append(labels, reviewLabelPrefix+string(*filter.ReviewStatus))
	}

	var issues []*Issue
	err := s.retry.Do(ctx, "list issues", func() error {
		var err error
		issues, err = s.gw.ListIssues(ctx, labels)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	var items []*WorkItem
	for _, issue := range issues {
		item, err := s.readRecord(ctx, issue.Number)
		if err != nil {
			// An issue can carry the track label without a record
			// (hand-labeled, or the record comment was deleted).
			// Skip it rather than failing the whole listing.
			s.logger.Warn("tracked issue has no item record, skipping",
				"issue", issue.Number, "error", err)
			continue
		}
		if !matchesFilter(item, filter) {
			continue
		}
		items = append(items, item)
		if filter.Limit > 0 && len(items) >= filter.Limit {
			break
		}
	}
	return items, nil
}

func matchesFilter(item *WorkItem, filter ItemFilter) bool {
	if filter.Status != nil && item.Status != *filter.Status {
		return false
	}
	if filter.ReviewStatus != nil && item.ReviewStatus != *filter.ReviewStatus {
		return false
	}
	if filter.Type != nil && item.Type != *filter.Type {
		return false
	}
	return true
}

// GetItem returns the item whose id is its issue number.
func (s *TrackerStore) GetItem(ctx context.Context, id string) (*WorkItem, error) {
	n, err := parseTrackerID(id)
	if err != nil {
		return nil, err
	}
	return s.readRecord(ctx, n)
}

// FindByIssue returns the item tracking the given issue.
func (s *TrackerStore) FindByIssue(ctx context.Context, issueNumber int) (*WorkItem, error) {
	return s.readRecord(ctx, issueNumber)
}

// CreateItem creates the backing issue and its record comment. In tracker
// mode an item is synced from birth; the issue is the item.
func (s *TrackerStore) CreateItem(ctx context.Context, in NewItem) (string, error) {
	now := s.now().UTC()
	item := &WorkItem{
		Title:     in.Title,
		Type:      in.Type,
		Status:    StatusBacklog,
		SourceRef: in.SourceRef,
		Labels:    in.Labels,
		CreatedAt: now,
		UpdatedAt: now,
	}

	issue, err := s.gw.CreateIssue(ctx, IssueOptions{
		Title:  in.Title,
		Labels: s.labelsFor(item),
	})
	if err != nil {
		return "", fmt.Errorf("create item: %w", err)
	}
	item.ID = trackerID(issue.Number)
	item.IssueNumber = issue.Number
	item.IssueURL = issue.URL

	if err := s.writeRecord(ctx, item); err != nil {
		return "", fmt.Errorf("create item: %w", err)
	}
	return item.ID, nil
}

// DeleteItem untracks an issue. The issue itself survives with its pipeline
// labels stripped; the record comment stays behind as an audit trail.
func (s *TrackerStore) DeleteItem(ctx context.Context, id string) error {
	n, err := parseTrackerID(id)
	if err != nil {
		return err
	}
	var issue *Issue
	err = s.retry.Do(ctx, "get issue", func() error {
		var err error
		issue, err = s.gw.GetIssue(ctx, n)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return ErrItemNotFound
		}
		return fmt.Errorf("delete item: %w", err)
	}

	var kept []string
	for _, l := range issue.Labels {
		if l == trackerItemLabel ||
			strings.HasPrefix(l, statusLabelPrefix) ||
			strings.HasPrefix(l, reviewLabelPrefix) {
			continue
		}
		kept = append(kept, l)
	}
	err = s.retry.Do(ctx, "set labels", func() error {
		return s.gw.SetIssueLabels(ctx, n, kept)
	})
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

// SetIssueRef records the external issue URL. The number is fixed in
// tracker mode (it is the id) and must match.
func (s *TrackerStore) SetIssueRef(ctx context.Context, id string, issueNumber int, issueURL string) error {
	n, err := parseTrackerID(id)
	if err != nil {
		return err
	}
	if issueNumber != n {
		return fmt.Errorf("set issue ref: item %s is bound to issue %d: %w", id, n, ErrInvalidState)
	}
	return s.mutate(ctx, n, func(item *WorkItem) {
		item.IssueNumber = issueNumber
		item.IssueURL = issueURL
	})
}

// UpdateItemStatus sets the pipeline status and mirrors it to labels.
func (s *TrackerStore) UpdateItemStatus(ctx context.Context, id string, status Status) error {
	n, err := parseTrackerID(id)
	if err != nil {
		return err
	}
	return s.mutate(ctx, n, func(item *WorkItem) {
		item.Status = status
	})
}

// UpdateItemReviewStatus sets the review sub-state.
func (s *TrackerStore) UpdateItemReviewStatus(ctx context.Context, id string, rs ReviewStatus) error {
	n, err := parseTrackerID(id)
	if err != nil {
		return err
	}
	return s.mutate(ctx, n, func(item *WorkItem) {
		item.ReviewStatus = rs
	})
}

// ClearItemReviewStatus resets the review sub-state to none.
func (s *TrackerStore) ClearItemReviewStatus(ctx context.Context, id string) error {
	return s.UpdateItemReviewStatus(ctx, id, ReviewNone)
}

// ImplementationPhase returns the "i/n" phase counter, "" when unset.
func (s *TrackerStore) ImplementationPhase(ctx context.Context, id string) (string, error) {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return "", err
	}
	return item.ImplementationPhase, nil
}

// SetImplementationPhase sets the "i/n" phase counter.
func (s *TrackerStore) SetImplementationPhase(ctx context.Context, id string, phase string) error {
	n, err := parseTrackerID(id)
	if err != nil {
		return err
	}
	return s.mutate(ctx, n, func(item *WorkItem) {
		item.ImplementationPhase = phase
	})
}

// ClearImplementationPhase removes the phase counter.
func (s *TrackerStore) ClearImplementationPhase(ctx context.Context, id string) error {
	return s.SetImplementationPhase(ctx, id, "")
}

// UpdateArtifacts applies mutate to the item's bookkeeping record.
func (s *TrackerStore) UpdateArtifacts(ctx context.Context, id string, mutate func(*ItemArtifacts)) error {
	n, err := parseTrackerID(id)
	if err != nil {
		return err
	}
	return s.mutate(ctx, n, func(item *WorkItem) {
		mutate(&item.Artifacts)
	})
}

// SourceExists delegates to SourceChecker when configured.
func (s *TrackerStore) SourceExists(ctx context.Context, ref SourceRef) (bool, error) {
	if s.SourceChecker == nil {
		return true, nil
	}
	return s.SourceChecker(ctx, ref)
}

// mutate is the read-modify-write cycle behind every field update: load the
// record, apply fn, bump the timestamp, write the comment back in place and
// resync the mirror labels.
func (s *TrackerStore) mutate(ctx context.Context, issueNumber int, fn func(*WorkItem)) error {
	item, err := s.readRecord(ctx, issueNumber)
	if err != nil {
		return err
	}
	before := s.labelKey(item)
	fn(item)
	item.UpdatedAt = s.now().UTC()

	if err := s.writeRecord(ctx, item); err != nil {
		return err
	}
	if s.labelKey(item) != before {
		err := s.retry.Do(ctx, "set labels", func() error {
			return s.gw.SetIssueLabels(ctx, issueNumber, s.labelsFor(item))
		})
		if err != nil {
			return fmt.Errorf("update item %d: %w", issueNumber, err)
		}
	}
	return nil
}

func (s *TrackerStore) labelKey(item *WorkItem) string {
	return string(item.Status) + "|" + string(item.ReviewStatus)
}

// labelsFor builds the full label set: the item's own labels plus the
// pipeline mirror labels.
func (s *TrackerStore) labelsFor(item *WorkItem) []string {
	labels := make([]string, 0, len(item.Labels)+3)
	labels = append(labels, item.Labels...)
	labels = append(labels, trackerItemLabel)
	if item.Status != "" {
		labels = append(labels, statusLabelPrefix+string(item.Status))
	}
	if item.ReviewStatus != ReviewNone {
		labels = append(labels, reviewLabelPrefix+string(item.ReviewStatus))
	}
	return labels
}

func (s *TrackerStore) readRecord(ctx context.Context, issueNumber int) (*WorkItem, error) {
	var comment *IssueComment
	err := s.retry.Do(ctx, "find item record", func() error {
		var err error
		comment, err = s.gw.FindCommentByMarker(ctx, issueNumber, trackerItemMarker)
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("read item %d: %w", issueNumber, err)
	}

	payload, ok := extractMarkerPayload(comment.Body, trackerItemMarker)
	if !ok {
		return nil, fmt.Errorf("read item %d: record comment is malformed: %w", issueNumber, ErrItemNotFound)
	}
	var item WorkItem
	if err := json.Unmarshal([]byte(payload), &item); err != nil {
		return nil, fmt.Errorf("read item %d: %w", issueNumber, err)
	}
	item.ID = trackerID(issueNumber)
	item.IssueNumber = issueNumber
	return &item, nil
}

func (s *TrackerStore) writeRecord(ctx context.Context, item *WorkItem) error {
	body, err := renderItemRecord(item)
	if err != nil {
		return err
	}

	var existing *IssueComment
	findErr := s.retry.Do(ctx, "find item record", func() error {
		var err error
		existing, err = s.gw.FindCommentByMarker(ctx, item.IssueNumber, trackerItemMarker)
		return err
	})
	switch {
	case findErr == nil:
		err = s.retry.Do(ctx, "update item record", func() error {
			return s.gw.UpdateIssueComment(ctx, existing.ID, body)
		})
	case isNotFound(findErr):
		// First write, or someone deleted the record comment. Recreate.
		_, err = s.gw.AddIssueComment(ctx, item.IssueNumber, body)
	default:
		err = findErr
	}
	if err != nil {
		return fmt.Errorf("write item %d: %w", item.IssueNumber, err)
	}
	return nil
}

// renderItemRecord produces the record comment: the machine-readable marker
// plus a short human-readable summary. json.Marshal HTML-escapes angle
// brackets, so the payload can never terminate the marker early.
func renderItemRecord(item *WorkItem) (string, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("encode item record: %w", err)
	}

	var b strings.Builder
	b.WriteString(trackerItemMarker)
	b.Write(data)
	b.WriteString(markerSuffix)
	b.WriteString("\n\n**Pipeline state**\n\n")
	fmt.Fprintf(&b, "- **Status**: %s\n", item.Status)
	if item.ReviewStatus != ReviewNone {
		fmt.Fprintf(&b, "- **Review**: %s\n", item.ReviewStatus)
	}
	if item.ImplementationPhase != "" {
		fmt.Fprintf(&b, "- **Phase**: %s\n", item.ImplementationPhase)
	}
	fmt.Fprintf(&b, "- **Type**: %s\n", item.Type)
	return b.String(), nil
}
