package pipewright

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// RunRecord captures one completed agent run for later inspection.
type RunRecord struct {
	RunID       string     `json:"runId"`
	ItemID      string     `json:"itemId"`
	IssueNumber int        `json:"issueNumber"`
	Workflow    Status     `json:"workflow"`
	Mode        AgentMode  `json:"mode"`
	Model       string     `json:"model,omitempty"`
	Success     bool       `json:"success"`
	Usage       AgentUsage `json:"usage"`
	StartedAt   time.Time  `json:"startedAt"`
	Duration    float64    `json:"durationSeconds"`
}

// RunFilter filters run history listings.
type RunFilter struct {
	ItemID   string
	Workflow Status
	After    time.Time
	Limit    int
}

// RunStats aggregates usage over a set of run records.
type RunStats struct {
	Runs         int
	Failures     int
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// RunHistory stores agent run records as one JSON file per run under
// baseDir/runs. Records are append-only; there is no update path.
type RunHistory struct {
	baseDir string
}

// NewRunHistory creates a file-backed run history under baseDir.
func NewRunHistory(baseDir string) (*RunHistory, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "runs"), 0755); err != nil {
		return nil, fmt.Errorf("create run history dir: %w", err)
	}
	return &RunHistory{baseDir: baseDir}, nil
}

// Record persists one run record. A missing RunID is filled in; StartedAt
// defaults to now.
func (h *RunHistory) Record(rec RunRecord) (string, error) {
	if rec.RunID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return "", fmt.Errorf("generate run id: %w", err)
		}
		rec.RunID = id
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run record: %w", err)
	}
	if err := os.WriteFile(h.recordPath(rec.RunID), data, 0644); err != nil {
		return "", fmt.Errorf("write run record: %w", err)
	}
	return rec.RunID, nil
}

// Load reads one run record by ID.
func (h *RunHistory) Load(runID string) (*RunRecord, error) {
	data, err := os.ReadFile(h.recordPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %q: %w", runID, ErrItemNotFound)
		}
		return nil, fmt.Errorf("read run record: %w", err)
	}
	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse run record %q: %w", runID, err)
	}
	return &rec, nil
}

// List returns matching run records, newest first.
func (h *RunHistory) List(filter RunFilter) ([]RunRecord, error) {
	entries, err := os.ReadDir(filepath.Join(h.baseDir, "runs"))
	if err != nil {
		return nil, fmt.Errorf("list run records: %w", err)
	}

	var records []RunRecord
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		rec, err := h.Load(entry.Name()[:len(entry.Name())-len(".json")])
		if err != nil {
			// Skip unreadable records; history is best-effort.
			continue
		}
		if filter.ItemID != "" && rec.ItemID != filter.ItemID {
			continue
		}
		if filter.Workflow != "" && rec.Workflow != filter.Workflow {
			continue
		}
		if !filter.After.IsZero() && rec.StartedAt.Before(filter.After) {
			continue
		}
		records = append(records, *rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}
	return records, nil
}

// Stats aggregates usage over matching records.
func (h *RunHistory) Stats(filter RunFilter) (*RunStats, error) {
	records, err := h.List(filter)
	if err != nil {
		return nil, err
	}

	stats := &RunStats{}
	for _, rec := range records {
		stats.Runs++
		if !rec.Success {
			stats.Failures++
		}
		stats.InputTokens += rec.Usage.InputTokens
		stats.OutputTokens += rec.Usage.OutputTokens
		stats.CostUSD += rec.Usage.CostUSD
	}
	return stats, nil
}

func (h *RunHistory) recordPath(runID string) string {
	return filepath.Join(h.baseDir, "runs", runID+".json")
}
