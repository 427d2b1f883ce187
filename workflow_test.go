package pipewright

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAdvanceStatusClearsReview(t *testing.T) {
	env := newTestEnv()
	env.store.seed(&WorkItem{
		IssueNumber:  42,
		Status:       StatusTechDesign,
		ReviewStatus: ReviewApproved,
	})
	w := NewWorkflow(env.svcs)

	result, err := w.AdvanceStatus(context.Background(), 42, StatusImplementation, AdvanceOptions{})
	if err != nil {
		t.Fatalf("AdvanceStatus failed: %v", err)
	}
	if result.From != StatusTechDesign || result.To != StatusImplementation {
		t.Errorf("result = %s -> %s, want tech-design -> implementation", result.From, result.To)
	}

	item := env.store.get(result.ItemID)
	if item.Status != StatusImplementation {
		t.Errorf("status = %q, want implementation", item.Status)
	}
	if item.ReviewStatus != ReviewNone {
		t.Errorf("review status = %q, want cleared", item.ReviewStatus)
	}
}

func TestAdvanceStatusPreserveReview(t *testing.T) {
	env := newTestEnv()
	seeded := env.store.seed(&WorkItem{
		IssueNumber:  42,
		Status:       StatusBacklog,
		ReviewStatus: ReviewWaitingForReview,
	})
	w := NewWorkflow(env.svcs)

	_, err := w.AdvanceStatus(context.Background(), 42, StatusProductDesign, AdvanceOptions{PreserveReview: true})
	if err != nil {
		t.Fatalf("AdvanceStatus failed: %v", err)
	}
	if seeded.ReviewStatus != ReviewWaitingForReview {
		t.Errorf("review status = %q, want preserved", seeded.ReviewStatus)
	}
}

func TestAdvanceStatusInvalidDestination(t *testing.T) {
	env := newTestEnv()
	env.store.seed(&WorkItem{IssueNumber: 42, Status: StatusBacklog})
	w := NewWorkflow(env.svcs)

	_, err := w.AdvanceStatus(context.Background(), 42, Status("limbo"), AdvanceOptions{})
	if !errors.Is(err, ErrInvalidDestination) {
		t.Errorf("err = %v, want ErrInvalidDestination", err)
	}
}

func TestAdvanceStatusUnknownIssue(t *testing.T) {
	env := newTestEnv()
	w := NewWorkflow(env.svcs)

	_, err := w.AdvanceStatus(context.Background(), 99, StatusImplementation, AdvanceOptions{})
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("err = %v, want ErrItemNotFound", err)
	}
	if KindOf(err) != KindNotFound {
		t.Errorf("KindOf = %v, want KindNotFound", KindOf(err))
	}
}

func TestReviewDesign(t *testing.T) {
	tests := []struct {
		name    string
		outcome ReviewOutcome
		want    ReviewStatus
	}{
		{"approve clears review", ReviewOutcomeApprove, ReviewNone},
		{"changes requests rerun", ReviewOutcomeChanges, ReviewRequestChanges},
		{"reject parks the item", ReviewOutcomeReject, ReviewRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			seeded := env.store.seed(&WorkItem{
				IssueNumber:  7,
				Status:       StatusProductDesign,
				ReviewStatus: ReviewWaitingForReview,
			})
			w := NewWorkflow(env.svcs)

			result, err := w.ReviewDesign(context.Background(), 7, tt.outcome)
			if err != nil {
				t.Fatalf("ReviewDesign failed: %v", err)
			}
			if result.ReviewStatus != tt.want {
				t.Errorf("result review = %q, want %q", result.ReviewStatus, tt.want)
			}
			if seeded.ReviewStatus != tt.want {
				t.Errorf("stored review = %q, want %q", seeded.ReviewStatus, tt.want)
			}
			if seeded.Status != StatusProductDesign {
				t.Errorf("status changed to %q; review must not move the item", seeded.Status)
			}
		})
	}
}

func TestReviewDesignUnknownOutcome(t *testing.T) {
	env := newTestEnv()
	env.store.seed(&WorkItem{IssueNumber: 7, Status: StatusProductDesign})
	w := NewWorkflow(env.svcs)

	_, err := w.ReviewDesign(context.Background(), 7, ReviewOutcome("maybe"))
	if !errors.Is(err, ErrInvalidDestination) {
		t.Errorf("err = %v, want ErrInvalidDestination", err)
	}
}

func TestRequestChangesOnPR(t *testing.T) {
	env := newTestEnv()
	seeded := env.store.seed(&WorkItem{
		IssueNumber: 9,
		Status:      StatusPRReview,
	})
	w := NewWorkflow(env.svcs)

	_, err := w.RequestChangesOnPR(context.Background(), 9)
	if err != nil {
		t.Fatalf("RequestChangesOnPR failed: %v", err)
	}
	if seeded.Status != StatusImplementation {
		t.Errorf("status = %q, want implementation", seeded.Status)
	}
	if seeded.ReviewStatus != ReviewRequestChanges {
		t.Errorf("review = %q, want request-changes", seeded.ReviewStatus)
	}
}

func TestRequestChangesOnDesignPRKeepsStatus(t *testing.T) {
	env := newTestEnv()
	seeded := env.store.seed(&WorkItem{
		IssueNumber: 9,
		Status:      StatusTechDesign,
	})
	w := NewWorkflow(env.svcs)

	_, err := w.RequestChangesOnDesignPR(context.Background(), 9, 501, "tech")
	if err != nil {
		t.Fatalf("RequestChangesOnDesignPR failed: %v", err)
	}
	if seeded.Status != StatusTechDesign {
		t.Errorf("status = %q, want tech-design unchanged", seeded.Status)
	}
	if seeded.ReviewStatus != ReviewRequestChanges {
		t.Errorf("review = %q, want request-changes", seeded.ReviewStatus)
	}
}

func TestUndoStatusChange(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		elapsed     time.Duration
		wantSuccess bool
		wantExpired bool
	}{
		{"well within window", time.Minute, true, false},
		{"exactly at the boundary", UndoWindow, true, false},
		{"just past the boundary", UndoWindow + time.Second, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			seeded := env.store.seed(&WorkItem{
				IssueNumber: 3,
				Status:      StatusImplementation,
			})
			w := NewWorkflow(env.svcs)
			w.now = func() time.Time { return base.Add(tt.elapsed) }

			prev := StatusTechDesign
			result, err := w.UndoStatusChange(context.Background(), 3, &prev, nil, base)
			if err != nil {
				t.Fatalf("UndoStatusChange failed: %v", err)
			}
			if result.Success != tt.wantSuccess || result.Expired != tt.wantExpired {
				t.Errorf("result = {Success:%v Expired:%v}, want {%v %v}",
					result.Success, result.Expired, tt.wantSuccess, tt.wantExpired)
			}
			if tt.wantSuccess && seeded.Status != StatusTechDesign {
				t.Errorf("status = %q, want restored to tech-design", seeded.Status)
			}
			if !tt.wantSuccess && seeded.Status != StatusImplementation {
				t.Errorf("status = %q; an expired undo must not mutate", seeded.Status)
			}
		})
	}
}

func TestUndoStatusChangeNilLeavesFieldAlone(t *testing.T) {
	env := newTestEnv()
	seeded := env.store.seed(&WorkItem{
		IssueNumber:  3,
		Status:       StatusImplementation,
		ReviewStatus: ReviewWaitingForReview,
	})
	w := NewWorkflow(env.svcs)

	// Restore only the review status; nil status pointer means unchanged.
	prevReview := ReviewNone
	result, err := w.UndoStatusChange(context.Background(), 3, nil, &prevReview, w.now())
	if err != nil {
		t.Fatalf("UndoStatusChange failed: %v", err)
	}
	if !result.Success {
		t.Fatal("undo should succeed inside the window")
	}
	if seeded.Status != StatusImplementation {
		t.Errorf("status = %q, want untouched", seeded.Status)
	}
	if seeded.ReviewStatus != ReviewNone {
		t.Errorf("review = %q, want cleared", seeded.ReviewStatus)
	}
}

func TestMarkClarificationReceived(t *testing.T) {
	env := newTestEnv()
	seeded := env.store.seed(&WorkItem{
		IssueNumber:  5,
		Status:       StatusTechDesign,
		ReviewStatus: ReviewWaitingForClarification,
	})
	w := NewWorkflow(env.svcs)

	result, err := w.MarkClarificationReceived(context.Background(), 5)
	if err != nil {
		t.Fatalf("MarkClarificationReceived failed: %v", err)
	}
	if result.ReviewStatus != ReviewClarificationReceived {
		t.Errorf("review = %q, want clarification-received", result.ReviewStatus)
	}
	if seeded.ReviewStatus != ReviewClarificationReceived {
		t.Errorf("stored review = %q, want clarification-received", seeded.ReviewStatus)
	}
}

func TestMarkClarificationReceivedWrongState(t *testing.T) {
	env := newTestEnv()
	env.store.seed(&WorkItem{
		IssueNumber:  5,
		Status:       StatusTechDesign,
		ReviewStatus: ReviewWaitingForReview,
	})
	w := NewWorkflow(env.svcs)

	_, err := w.MarkClarificationReceived(context.Background(), 5)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("err = %v, want ErrInvalidState", err)
	}
	if KindOf(err) != KindInvalidState {
		t.Errorf("KindOf = %v, want KindInvalidState", KindOf(err))
	}
}

func TestSubmitDecisionRoutesViaMetadata(t *testing.T) {
	env := newTestEnv()
	seeded := env.store.seed(&WorkItem{
		IssueNumber:  11,
		Status:       StatusProductDevPlan,
		ReviewStatus: ReviewWaitingForDecision,
		Artifacts: ItemArtifacts{
			Decision: &Decision{
				AgentID: "product-dev-plan",
				Options: []DecisionOption{
					{ID: "small", Metadata: map[string]string{"size": "small"}},
					{ID: "large", Metadata: map[string]string{"size": "large"}},
				},
				Routing: &RoutingConfig{
					MetadataKey: "size",
					Destinations: map[string]Status{
						"small": StatusImplementation,
						"large": StatusProductDesign,
					},
				},
			},
		},
	})
	w := NewWorkflow(env.svcs)

	result, err := w.SubmitDecision(context.Background(), 11, DecisionSelection{OptionID: "large"})
	if err != nil {
		t.Fatalf("SubmitDecision failed: %v", err)
	}
	if result.To != StatusProductDesign {
		t.Errorf("routed to %q, want product-design", result.To)
	}
	if seeded.Status != StatusProductDesign {
		t.Errorf("status = %q, want product-design", seeded.Status)
	}
	if seeded.ReviewStatus != ReviewNone {
		t.Errorf("review = %q, want cleared after routing", seeded.ReviewStatus)
	}
	if seeded.Artifacts.Selection == nil || seeded.Artifacts.Selection.OptionID != "large" {
		t.Error("selection was not persisted")
	}

	// The selection is mirrored back to the issue.
	bodies := env.gw.commentBodies(11)
	if len(bodies) != 1 {
		t.Fatalf("comments = %d, want 1", len(bodies))
	}
	if ParseSelection(bodies[0]) == nil {
		t.Error("posted comment does not parse back as a selection")
	}
}

func TestSubmitDecisionCustomDestinationWins(t *testing.T) {
	env := newTestEnv()
	seeded := env.store.seed(&WorkItem{
		IssueNumber:  11,
		Status:       StatusProductDevPlan,
		ReviewStatus: ReviewWaitingForDecision,
		Artifacts: ItemArtifacts{
			Decision: &Decision{
				AgentID: "product-dev-plan",
				Options: []DecisionOption{
					{ID: "small", Metadata: map[string]string{"size": "small"}},
				},
				Routing: &RoutingConfig{
					MetadataKey:  "size",
					Destinations: map[string]Status{"small": StatusImplementation},
				},
			},
		},
	})
	w := NewWorkflow(env.svcs)

	_, err := w.SubmitDecision(context.Background(), 11, DecisionSelection{
		OptionID:          "small",
		CustomDestination: StatusTechDesign,
	})
	if err != nil {
		t.Fatalf("SubmitDecision failed: %v", err)
	}
	if seeded.Status != StatusTechDesign {
		t.Errorf("status = %q, want custom destination tech-design", seeded.Status)
	}
}

func TestSubmitDecisionContinueAfterSelection(t *testing.T) {
	env := newTestEnv()
	seeded := env.store.seed(&WorkItem{
		IssueNumber:  11,
		Status:       StatusTechDesign,
		ReviewStatus: ReviewWaitingForDecision,
		Artifacts: ItemArtifacts{
			Decision: &Decision{
				AgentID:                "tech-design",
				Options:                []DecisionOption{{ID: "a"}},
				ContinueAfterSelection: true,
			},
		},
	})
	w := NewWorkflow(env.svcs)

	_, err := w.SubmitDecision(context.Background(), 11, DecisionSelection{OptionID: "a"})
	if err != nil {
		t.Fatalf("SubmitDecision failed: %v", err)
	}
	if seeded.Status != StatusTechDesign {
		t.Errorf("status = %q, want unchanged tech-design", seeded.Status)
	}
	if seeded.ReviewStatus != ReviewDecisionSubmitted {
		t.Errorf("review = %q, want decision-submitted", seeded.ReviewStatus)
	}
}

func TestSubmitDecisionErrors(t *testing.T) {
	env := newTestEnv()
	env.store.seed(&WorkItem{
		IssueNumber: 11,
		Status:      StatusTechDesign,
		Artifacts: ItemArtifacts{
			Decision: &Decision{AgentID: "tech-design", Options: []DecisionOption{{ID: "a"}}},
		},
	})
	env.store.seed(&WorkItem{IssueNumber: 12, Status: StatusTechDesign})
	w := NewWorkflow(env.svcs)

	if _, err := w.SubmitDecision(context.Background(), 12, DecisionSelection{OptionID: "a"}); !errors.Is(err, ErrDecisionNotFound) {
		t.Errorf("no pending decision: err = %v, want ErrDecisionNotFound", err)
	}
	if _, err := w.SubmitDecision(context.Background(), 11, DecisionSelection{}); !errors.Is(err, ErrNoOptionSelected) {
		t.Errorf("empty selection: err = %v, want ErrNoOptionSelected", err)
	}
	if _, err := w.SubmitDecision(context.Background(), 11, DecisionSelection{OptionID: "nope"}); !errors.Is(err, ErrNoOptionSelected) {
		t.Errorf("unknown option: err = %v, want ErrNoOptionSelected", err)
	}
}

func TestAdvanceImplementationPhase(t *testing.T) {
	env := newTestEnv()
	seeded := env.store.seed(&WorkItem{
		IssueNumber: 8,
		Status:      StatusTechDesign,
	})
	w := NewWorkflow(env.svcs)

	result, err := w.AdvanceImplementationPhase(context.Background(), 8, "2/3", StatusImplementation)
	if err != nil {
		t.Fatalf("AdvanceImplementationPhase failed: %v", err)
	}
	if result.Phase != "2/3" {
		t.Errorf("phase = %q, want 2/3", result.Phase)
	}
	if seeded.Status != StatusImplementation {
		t.Errorf("status = %q, want implementation", seeded.Status)
	}
	if seeded.ImplementationPhase != "2/3" {
		t.Errorf("stored phase = %q, want 2/3", seeded.ImplementationPhase)
	}
}

func TestAdvanceImplementationPhaseRejectsMalformed(t *testing.T) {
	env := newTestEnv()
	env.store.seed(&WorkItem{IssueNumber: 8, Status: StatusImplementation})
	w := NewWorkflow(env.svcs)

	for _, phase := range []string{"", "3", "0/3", "4/3", "a/b"} {
		if _, err := w.AdvanceImplementationPhase(context.Background(), 8, phase, ""); err == nil {
			t.Errorf("phase %q: expected error", phase)
		}
	}
}
