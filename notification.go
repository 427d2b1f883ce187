package pipewright

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// EventType represents the type of pipeline event.
type EventType string

// Event type constants.
const (
	EventClarificationNeeded EventType = "clarification_needed"
	EventDecisionNeeded      EventType = "decision_needed"
	EventReviewReady         EventType = "review_ready"
	EventPRReady             EventType = "pr_ready"
	EventMergeCompleted      EventType = "merge_completed"
	EventRevertCreated       EventType = "revert_created"
	EventAgentFailed         EventType = "agent_failed"
	EventStatusChanged       EventType = "status_changed"
	EventItemApproved        EventType = "item_approved"
)

// Notification severity levels.
const (
	SeverityInfo    = "info"
	SeverityWarning = "warning"
	SeverityError   = "error"
)

// NotificationEvent describes a pipeline event for notification.
type NotificationEvent struct {
	Type        EventType      `json:"type"`
	ItemID      string         `json:"item_id,omitempty"`
	IssueNumber int            `json:"issue_number,omitempty"`
	Title       string         `json:"title,omitempty"`
	Message     string         `json:"message"`
	URL         string         `json:"url,omitempty"`
	Severity    string         `json:"severity"` // SeverityInfo, SeverityWarning, SeverityError
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Notifier sends notifications about pipeline events.
type Notifier interface {
	// Notify sends a notification. Implementations should be non-blocking
	// and handle errors gracefully (log, don't crash).
	Notify(ctx context.Context, event NotificationEvent) error
}

// =============================================================================
// LogNotifier
// =============================================================================

// LogNotifier logs notifications using slog (for testing/debugging).
type LogNotifier struct {
	Logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs to the given logger.
// If logger is nil, uses the default slog logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, event NotificationEvent) error {
	level := slog.LevelInfo
	switch event.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	}

	n.Logger.Log(ctx, level, event.Message,
		"type", event.Type,
		"item_id", event.ItemID,
		"issue", event.IssueNumber,
		"url", event.URL,
		"metadata", event.Metadata,
	)
	return nil
}

// =============================================================================
// MultiNotifier
// =============================================================================

// MultiNotifier sends notifications to multiple notifiers.
type MultiNotifier struct {
	Notifiers []Notifier
	Logger    *slog.Logger
}

// NewMultiNotifier creates a notifier that fans out to multiple notifiers.
// Errors from individual notifiers are logged but don't stop other notifications.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{
		Notifiers: notifiers,
		Logger:    slog.Default(),
	}
}

// Notify implements Notifier.
func (n *MultiNotifier) Notify(ctx context.Context, event NotificationEvent) error {
	var lastErr error
	for _, notifier := range n.Notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			lastErr = err
			if n.Logger != nil {
				n.Logger.Warn("notifier failed",
					"error", err,
					"event_type", event.Type,
				)
			}
		}
	}
	return lastErr // Return last error, if any
}

// =============================================================================
// NopNotifier
// =============================================================================

// NopNotifier is a no-op notifier that discards all notifications.
// Useful for testing or when notifications are disabled.
type NopNotifier struct{}

// Notify implements Notifier.
func (NopNotifier) Notify(ctx context.Context, event NotificationEvent) error {
	return nil
}

// =============================================================================
// Context Injection
// =============================================================================

const notifierServiceKey serviceContextKey = "pipewright.notifier"

// WithNotifier adds a Notifier to the context.
func WithNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, notifierServiceKey, n)
}

// NotifierFromContext extracts the Notifier from context.
// Returns nil if no notifier is configured.
func NotifierFromContext(ctx context.Context) Notifier {
	if n, ok := ctx.Value(notifierServiceKey).(Notifier); ok {
		return n
	}
	return nil
}

// =============================================================================
// Dispatch
// =============================================================================

// notify sends an event through n and swallows failures. A lost notification
// must never fail the pipeline operation that produced it.
func notify(ctx context.Context, logger *slog.Logger, n Notifier, event NotificationEvent) {
	if n == nil {
		n = NotifierFromContext(ctx)
	}
	if n == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}
	if err := n.Notify(ctx, event); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("notification failed", "error", err, "event", event.Type)
	}
}

// itemEvent builds an event carrying the item's identity.
func itemEvent(item *WorkItem, typ EventType, msg string) NotificationEvent {
	return NotificationEvent{
		Type:        typ,
		ItemID:      item.ID,
		IssueNumber: item.IssueNumber,
		Title:       item.Title,
		Message:     msg,
		URL:         item.IssueURL,
	}
}

// prReadyMessage formats the PR-ready announcement.
func prReadyMessage(item *WorkItem, pr *PullRequest) string {
	if item.ImplementationPhase != "" {
		return fmt.Sprintf("PR #%d ready for review (phase %s): %s", pr.Number, item.ImplementationPhase, pr.URL)
	}
	return fmt.Sprintf("PR #%d ready for review: %s", pr.Number, pr.URL)
}
