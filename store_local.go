package pipewright

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "modernc.org/sqlite"
)

// LocalStore is the document-collection ItemStore implementation, backed by
// SQLite. Mutations are local, so no retry wrapping applies.
type LocalStore struct {
	db  *sql.DB
	now func() time.Time
}

const localSchema = `
CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	title TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT '',
	review_status TEXT NOT NULL DEFAULT '',
	implementation_phase TEXT NOT NULL DEFAULT '',
	issue_number INTEGER NOT NULL DEFAULT 0,
	issue_url TEXT NOT NULL DEFAULT '',
	source_collection TEXT NOT NULL DEFAULT '',
	source_id TEXT NOT NULL DEFAULT '',
	artifacts TEXT NOT NULL DEFAULT '{}',
	labels TEXT NOT NULL DEFAULT '[]',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
CREATE INDEX IF NOT EXISTS idx_items_issue ON items(issue_number);

CREATE TABLE IF NOT EXISTS intake (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (collection, id)
);
`

// NewLocalStore opens (and migrates) a SQLite-backed item store at path.
func NewLocalStore(path string) (*LocalStore, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open item store: %w", err)
	}
	if _, err := db.Exec(localSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate item store: %w", err)
	}
	return &LocalStore{db: db, now: time.Now}, nil
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

const itemColumns = `id, type, title, status, review_status, implementation_phase,
	issue_number, issue_url, source_collection, source_id, artifacts, labels,
	created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*WorkItem, error) {
	var (
		item                  WorkItem
		status, review        string
		srcCollection, srcID  string
		artifactsJSON, labels string
	)
	err := row.Scan(&item.ID, &item.Type, &item.Title, &status, &review,
		&item.ImplementationPhase, &item.IssueNumber, &item.IssueURL,
		&srcCollection, &srcID, &artifactsJSON, &labels,
		&item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan item: %w", err)
	}

	item.Status = Status(status)
	item.ReviewStatus = ReviewStatus(review)
	if srcCollection != "" {
		item.SourceRef = &SourceRef{Collection: srcCollection, ID: srcID}
	}
	if err := json.Unmarshal([]byte(artifactsJSON), &item.Artifacts); err != nil {
		return nil, fmt.Errorf("decode item artifacts: %w", err)
	}
	if err := json.Unmarshal([]byte(labels), &item.Labels); err != nil {
		return nil, fmt.Errorf("decode item labels: %w", err)
	}
	return &item, nil
}

// ListItems returns items matching the filter, oldest first.
func (s *LocalStore) ListItems(ctx context.Context, filter ItemFilter) ([]*WorkItem, error) {
	query := "SELECT " + itemColumns + " FROM items"
	var conds []string
	var args []any
	if filter.Status != nil {
		conds = append(conds, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.ReviewStatus != nil {
		conds = append(conds, "review_status = ?")
		args = append(args, string(*filter.ReviewStatus))
	}
	if filter.Type != nil {
		conds = append(conds, "type = ?")
		args = append(args, string(*filter.Type))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []*WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetItem returns an item by internal id.
func (s *LocalStore) GetItem(ctx context.Context, id string) (*WorkItem, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", id)
	return scanItem(row)
}

// FindByIssue returns the item tracking the given issue number.
func (s *LocalStore) FindByIssue(ctx context.Context, issueNumber int) (*WorkItem, error) {
	if issueNumber <= 0 {
		return nil, ErrItemNotFound
	}
	row := s.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE issue_number = ?", issueNumber)
	return scanItem(row)
}

// CreateItem creates a tracked item.
func (s *LocalStore) CreateItem(ctx context.Context, item NewItem) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate item id: %w", err)
	}

	labels, _ := json.Marshal(item.Labels)
	if item.Labels == nil {
		labels = []byte("[]")
	}
	srcCollection, srcID := "", ""
	if item.SourceRef != nil {
		srcCollection, srcID = item.SourceRef.Collection, item.SourceRef.ID
	}

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `INSERT INTO items
		(id, type, title, source_collection, source_id, artifacts, labels, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, '{}', ?, ?, ?)`,
		id, string(item.Type), item.Title, srcCollection, srcID, string(labels), now, now)
	if err != nil {
		return "", fmt.Errorf("create item: %w", err)
	}
	return id, nil
}

// DeleteItem removes a tracked item.
func (s *LocalStore) DeleteItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}

// SetIssueRef records the external issue the item is synced to.
func (s *LocalStore) SetIssueRef(ctx context.Context, id string, issueNumber int, issueURL string) error {
	return s.updateItem(ctx, id, "issue_number = ?, issue_url = ?", issueNumber, issueURL)
}

// UpdateItemStatus sets the pipeline status.
func (s *LocalStore) UpdateItemStatus(ctx context.Context, id string, status Status) error {
	return s.updateItem(ctx, id, "status = ?", string(status))
}

// UpdateItemReviewStatus sets the review sub-state.
func (s *LocalStore) UpdateItemReviewStatus(ctx context.Context, id string, rs ReviewStatus) error {
	return s.updateItem(ctx, id, "review_status = ?", string(rs))
}

// ClearItemReviewStatus resets the review sub-state.
func (s *LocalStore) ClearItemReviewStatus(ctx context.Context, id string) error {
	return s.updateItem(ctx, id, "review_status = ''")
}

// ImplementationPhase returns the "i/n" phase counter.
func (s *LocalStore) ImplementationPhase(ctx context.Context, id string) (string, error) {
	var phase string
	err := s.db.QueryRowContext(ctx, "SELECT implementation_phase FROM items WHERE id = ?", id).Scan(&phase)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrItemNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get implementation phase: %w", err)
	}
	return phase, nil
}

// SetImplementationPhase sets the "i/n" phase counter.
func (s *LocalStore) SetImplementationPhase(ctx context.Context, id string, phase string) error {
	return s.updateItem(ctx, id, "implementation_phase = ?", phase)
}

// ClearImplementationPhase removes the phase counter.
func (s *LocalStore) ClearImplementationPhase(ctx context.Context, id string) error {
	return s.updateItem(ctx, id, "implementation_phase = ''")
}

// UpdateArtifacts applies mutate to the bookkeeping record.
func (s *LocalStore) UpdateArtifacts(ctx context.Context, id string, mutate func(*ItemArtifacts)) error {
	item, err := s.GetItem(ctx, id)
	if err != nil {
		return err
	}
	mutate(&item.Artifacts)
	encoded, err := json.Marshal(item.Artifacts)
	if err != nil {
		return fmt.Errorf("encode item artifacts: %w", err)
	}
	return s.updateItem(ctx, id, "artifacts = ?", string(encoded))
}

// SourceExists reports whether the intake document still exists.
func (s *LocalStore) SourceExists(ctx context.Context, ref SourceRef) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM intake WHERE collection = ? AND id = ?",
		ref.Collection, ref.ID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check intake source: %w", err)
	}
	return n > 0, nil
}

// AddIntakeDoc stores an intake document (feature request or bug report).
func (s *LocalStore) AddIntakeDoc(ctx context.Context, ref SourceRef, title, body string) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO intake
		(collection, id, title, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		ref.Collection, ref.ID, title, body, s.now().UTC())
	if err != nil {
		return fmt.Errorf("add intake doc: %w", err)
	}
	return nil
}

// RemoveIntakeDoc deletes an intake document.
func (s *LocalStore) RemoveIntakeDoc(ctx context.Context, ref SourceRef) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM intake WHERE collection = ? AND id = ?",
		ref.Collection, ref.ID)
	if err != nil {
		return fmt.Errorf("remove intake doc: %w", err)
	}
	return nil
}

// updateItem runs an UPDATE with the given SET clause, bumping updated_at.
func (s *LocalStore) updateItem(ctx context.Context, id, set string, args ...any) error {
	args = append(args, s.now().UTC(), id)
	res, err := s.db.ExecContext(ctx,
		"UPDATE items SET "+set+", updated_at = ? WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}
