package pipewright

import (
	"context"
	"errors"
	"testing"
)

func TestMergeDesignPRAdvancesPerDesignType(t *testing.T) {
	tests := []struct {
		designType ArtifactType
		want       Status
	}{
		{ArtifactProductDev, StatusProductDesign},
		{ArtifactProduct, StatusTechDesign},
		{ArtifactTech, StatusImplementation},
	}

	for _, tt := range tests {
		t.Run(string(tt.designType), func(t *testing.T) {
			env := newTestEnv()
			seeded := env.store.seed(&WorkItem{
				IssueNumber:  20,
				Status:       StatusProductDevPlan,
				ReviewStatus: ReviewApproved,
			})
			env.gw.seedPR(&PullRequest{Number: 601, State: PRStateOpen})
			w := NewWorkflow(env.svcs)

			result, err := w.MergeDesignPR(context.Background(), 20, 601, tt.designType)
			if err != nil {
				t.Fatalf("MergeDesignPR failed: %v", err)
			}
			if result.SHA == "" {
				t.Error("merge SHA missing")
			}
			if result.AdvancedTo == nil || *result.AdvancedTo != tt.want {
				t.Errorf("advanced to %v, want %s", result.AdvancedTo, tt.want)
			}
			if seeded.Status != tt.want {
				t.Errorf("status = %q, want %s", seeded.Status, tt.want)
			}
			if seeded.ReviewStatus != ReviewNone {
				t.Errorf("review = %q, want cleared", seeded.ReviewStatus)
			}
		})
	}
}

func TestMergeDesignPRUnknownDesignType(t *testing.T) {
	env := newTestEnv()
	w := NewWorkflow(env.svcs)

	_, err := w.MergeDesignPR(context.Background(), 20, 601, ArtifactClarification)
	if !errors.Is(err, ErrInvalidDestination) {
		t.Errorf("err = %v, want ErrInvalidDestination", err)
	}
	if len(env.gw.mergedPRs) != 0 {
		t.Error("merge must not happen for an unknown design type")
	}
}

func TestMergeDesignPRUntrackedIssueSkipsAdvance(t *testing.T) {
	env := newTestEnv()
	env.gw.seedPR(&PullRequest{Number: 601, State: PRStateOpen})
	w := NewWorkflow(env.svcs)

	result, err := w.MergeDesignPR(context.Background(), 77, 601, ArtifactTech)
	if err != nil {
		t.Fatalf("MergeDesignPR failed: %v", err)
	}
	if result.AdvancedTo != nil {
		t.Errorf("advanced to %v, want no advance for untracked issue", *result.AdvancedTo)
	}
	if len(env.gw.mergedPRs) != 1 {
		t.Error("the merge itself must still happen")
	}
}

func TestMergeImplementationPRUsesSavedCommitMessage(t *testing.T) {
	env := newTestEnv()
	seeded := env.store.seed(&WorkItem{
		IssueNumber:         30,
		Status:              StatusPRReview,
		ImplementationPhase: "3/3",
		Artifacts: ItemArtifacts{
			CommitTitle:   "feat: add session cache",
			CommitMessage: "Adds an LRU session cache.",
		},
	})
	env.gw.seedPR(&PullRequest{Number: 700, State: PRStateOpen})
	w := NewWorkflow(env.svcs)

	result, err := w.MergeImplementationPR(context.Background(), 30, 700)
	if err != nil {
		t.Fatalf("MergeImplementationPR failed: %v", err)
	}
	if result.AdvancedTo == nil || *result.AdvancedTo != StatusDone {
		t.Errorf("advanced to %v, want done", result.AdvancedTo)
	}
	if seeded.Status != StatusDone {
		t.Errorf("status = %q, want done", seeded.Status)
	}
	if seeded.ImplementationPhase != "" {
		t.Errorf("phase = %q, want cleared at done", seeded.ImplementationPhase)
	}
	rec := seeded.Artifacts.LastMergedPR
	if rec == nil || rec.PRNumber != 700 || rec.SHA != result.SHA {
		t.Errorf("merge record = %+v, want PR 700 with SHA %s", rec, result.SHA)
	}
}

func TestMergeFinalPRClosedPR(t *testing.T) {
	env := newTestEnv()
	env.store.seed(&WorkItem{IssueNumber: 30, Status: StatusFinalReview})
	env.gw.seedPR(&PullRequest{Number: 700, State: PRStateClosed})
	w := NewWorkflow(env.svcs)

	_, err := w.MergeFinalPR(context.Background(), 30, 700)
	if !errors.Is(err, ErrPRClosed) {
		t.Errorf("err = %v, want ErrPRClosed", err)
	}
	if len(env.gw.mergedPRs) != 0 {
		t.Error("a closed PR must not be merged")
	}
}

func TestMergeFinalPRMissingPR(t *testing.T) {
	env := newTestEnv()
	env.store.seed(&WorkItem{IssueNumber: 30, Status: StatusFinalReview})
	w := NewWorkflow(env.svcs)

	_, err := w.MergeFinalPR(context.Background(), 30, 999)
	if !errors.Is(err, ErrPRNotFound) {
		t.Errorf("err = %v, want ErrPRNotFound", err)
	}
}

func TestRevertMergeNoRecord(t *testing.T) {
	env := newTestEnv()
	env.store.seed(&WorkItem{IssueNumber: 40, Status: StatusDone})
	w := NewWorkflow(env.svcs)

	_, err := w.RevertMerge(context.Background(), 40, 700, "")
	if !errors.Is(err, ErrNoMergeRecord) {
		t.Errorf("err = %v, want ErrNoMergeRecord", err)
	}
}

func TestRevertMergeWrongPRNumber(t *testing.T) {
	env := newTestEnv()
	env.store.seed(&WorkItem{
		IssueNumber: 40,
		Status:      StatusDone,
		Artifacts: ItemArtifacts{
			LastMergedPR: &MergeRecord{PRNumber: 700, SHA: "abc123def"},
		},
	})
	w := NewWorkflow(env.svcs)

	_, err := w.RevertMerge(context.Background(), 40, 701, "")
	if !errors.Is(err, ErrNoMergeRecord) {
		t.Errorf("err = %v, want ErrNoMergeRecord", err)
	}
}

func TestRevertMergeShaMismatchNeverTouchesGateway(t *testing.T) {
	env := newTestEnv()
	env.store.seed(&WorkItem{
		IssueNumber: 40,
		Status:      StatusDone,
		Artifacts: ItemArtifacts{
			LastMergedPR: &MergeRecord{PRNumber: 700, SHA: "abc123def"},
		},
	})
	// If the confirm check leaked through, this would succeed and mask the bug.
	env.gw.revertPR = &PullRequest{Number: 800, State: PRStateOpen}
	w := NewWorkflow(env.svcs)

	_, err := w.RevertMerge(context.Background(), 40, 700, "ffff")
	if !errors.Is(err, ErrShaMismatch) {
		t.Errorf("err = %v, want ErrShaMismatch", err)
	}
	if KindOf(err) != KindValidation {
		t.Errorf("KindOf = %v, want KindValidation", KindOf(err))
	}
}

func TestRevertMergeTrackerCannotConstruct(t *testing.T) {
	env := newTestEnv()
	seeded := env.store.seed(&WorkItem{
		IssueNumber: 40,
		Status:      StatusDone,
		Artifacts: ItemArtifacts{
			LastMergedPR: &MergeRecord{PRNumber: 700, SHA: "abc123def"},
		},
	})
	w := NewWorkflow(env.svcs)

	// revertPR nil: the tracker declined; a normal outcome, not an error.
	result, err := w.RevertMerge(context.Background(), 40, 700, "abc1")
	if err != nil {
		t.Fatalf("RevertMerge failed: %v", err)
	}
	if result.Success {
		t.Error("Success = true, want false when no revert could be constructed")
	}
	if result.Reason == "" {
		t.Error("Reason missing")
	}
	if seeded.Artifacts.RevertPRNumber != 0 {
		t.Error("no revert PR should be recorded")
	}
}

func TestRevertMergeAndMergeRevertPR(t *testing.T) {
	env := newTestEnv()
	seeded := env.store.seed(&WorkItem{
		IssueNumber: 40,
		Status:      StatusDone,
		Artifacts: ItemArtifacts{
			LastMergedPR: &MergeRecord{PRNumber: 700, SHA: "abc123def"},
		},
	})
	env.gw.revertPR = &PullRequest{Number: 800, State: PRStateOpen, URL: "https://example.test/pulls/800"}
	w := NewWorkflow(env.svcs)

	result, err := w.RevertMerge(context.Background(), 40, 700, "abc123")
	if err != nil {
		t.Fatalf("RevertMerge failed: %v", err)
	}
	if !result.Success || result.RevertPR == nil || result.RevertPR.Number != 800 {
		t.Fatalf("result = %+v, want revert PR 800", result)
	}
	if seeded.Artifacts.RevertPRNumber != 800 {
		t.Errorf("recorded revert PR = %d, want 800", seeded.Artifacts.RevertPRNumber)
	}

	// Merging an unrecorded revert number fails.
	if _, err := w.MergeRevertPR(context.Background(), 40, 801); !errors.Is(err, ErrNoRevertPR) {
		t.Errorf("wrong revert number: err = %v, want ErrNoRevertPR", err)
	}

	merged, err := w.MergeRevertPR(context.Background(), 40, 800)
	if err != nil {
		t.Fatalf("MergeRevertPR failed: %v", err)
	}
	if merged.SHA == "" {
		t.Error("merge SHA missing")
	}
	if seeded.Artifacts.RevertPRNumber != 0 {
		t.Error("revert bookkeeping should be cleared after merge")
	}

	types := env.notifier.eventTypes()
	var sawRevert, sawMerge bool
	for _, typ := range types {
		if typ == EventRevertCreated {
			sawRevert = true
		}
		if typ == EventMergeCompleted {
			sawMerge = true
		}
	}
	if !sawRevert || !sawMerge {
		t.Errorf("events = %v, want revert-created and merge-completed", types)
	}
}
