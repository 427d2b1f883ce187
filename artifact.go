package pipewright

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	pwhttp "github.com/tormod/pipewright/http"
)

// ArtifactType keys a durable text artifact for a work item.
type ArtifactType string

const (
	ArtifactProductDev    ArtifactType = "product-dev"
	ArtifactProduct       ArtifactType = "product"
	ArtifactTech          ArtifactType = "tech"
	ArtifactDecision      ArtifactType = "decision"
	ArtifactClarification ArtifactType = "clarification"
	ArtifactPhases        ArtifactType = "phases"
)

// DesignTypes are the artifact types that carry design documents, in
// pipeline order.
var DesignTypes = []ArtifactType{ArtifactProductDev, ArtifactProduct, ArtifactTech}

// designAdvanceTable maps a merged design type to the status that follows
// it. Approving and merging a design PR advances the item here.
var designAdvanceTable = map[ArtifactType]Status{
	ArtifactProductDev: StatusProductDesign,
	ArtifactProduct:    StatusTechDesign,
	ArtifactTech:       StatusImplementation,
}

// StatusAfterDesign returns the status that follows a merged design of the
// given type.
func StatusAfterDesign(designType ArtifactType) (Status, bool) {
	s, ok := designAdvanceTable[designType]
	return s, ok
}

// ArtifactStore persists text artifacts keyed by (issue number, type).
// Writes are last-write-wins per key; there is no versioning. Reads prefer
// this store over issue comments — comments are a legacy fallback source.
type ArtifactStore interface {
	// Save stores content under the key and returns a locator.
	Save(ctx context.Context, issueNumber int, t ArtifactType, content string) (string, error)

	// Read returns the stored content, or ErrArtifactNotFound.
	Read(ctx context.Context, issueNumber int, t ArtifactType) (string, error)

	// Delete removes the given types for an issue; with no types it removes
	// everything stored for the issue. Missing keys are not an error.
	Delete(ctx context.Context, issueNumber int, types ...ArtifactType) error
}

// =============================================================================
// FileArtifactStore
// =============================================================================

// FileArtifactStore stores artifacts on the local filesystem under
// baseDir/issues/<number>/<type>.md.
type FileArtifactStore struct {
	baseDir string
}

// NewFileArtifactStore creates a filesystem-backed artifact store.
// baseDir defaults to ".pipewright".
func NewFileArtifactStore(baseDir string) *FileArtifactStore {
	if baseDir == "" {
		baseDir = ".pipewright"
	}
	return &FileArtifactStore{baseDir: baseDir}
}

func (s *FileArtifactStore) issueDir(issueNumber int) string {
	return filepath.Join(s.baseDir, "issues", strconv.Itoa(issueNumber))
}

func (s *FileArtifactStore) path(issueNumber int, t ArtifactType) string {
	return filepath.Join(s.issueDir(issueNumber), string(t)+".md")
}

// Save stores content, creating the issue directory as needed.
func (s *FileArtifactStore) Save(ctx context.Context, issueNumber int, t ArtifactType, content string) (string, error) {
	path := s.path(issueNumber, t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}

// Read returns the stored content.
func (s *FileArtifactStore) Read(ctx context.Context, issueNumber int, t ArtifactType) (string, error) {
	data, err := os.ReadFile(s.path(issueNumber, t))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrArtifactNotFound
		}
		return "", fmt.Errorf("read artifact: %w", err)
	}
	return string(data), nil
}

// Delete removes artifacts for an issue.
func (s *FileArtifactStore) Delete(ctx context.Context, issueNumber int, types ...ArtifactType) error {
	if len(types) == 0 {
		if err := os.RemoveAll(s.issueDir(issueNumber)); err != nil {
			return fmt.Errorf("delete artifacts: %w", err)
		}
		return nil
	}
	for _, t := range types {
		if err := os.Remove(s.path(issueNumber, t)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("delete artifact %s: %w", t, err)
		}
	}
	return nil
}

// =============================================================================
// BucketArtifactStore
// =============================================================================

// BucketArtifactStore stores artifacts in an S3-style HTTP object store.
// Objects live at <base>/issues/<number>/<type>.md; the store uses the
// shared retrying HTTP client.
type BucketArtifactStore struct {
	client *pwhttp.Client
}

// NewBucketArtifactStore creates an object-store-backed artifact store.
// beforeRequest may attach auth headers and can be nil.
func NewBucketArtifactStore(baseURL string, beforeRequest func(req *http.Request)) *BucketArtifactStore {
	return &BucketArtifactStore{client: pwhttp.NewClient(pwhttp.ClientConfig{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		ServiceName:   "artifact bucket",
		BeforeRequest: beforeRequest,
	})}
}

func (s *BucketArtifactStore) key(issueNumber int, t ArtifactType) string {
	return fmt.Sprintf("/issues/%d/%s.md", issueNumber, t)
}

// Save uploads the content.
func (s *BucketArtifactStore) Save(ctx context.Context, issueNumber int, t ArtifactType, content string) (string, error) {
	key := s.key(issueNumber, t)
	if err := s.client.PutRaw(ctx, key, []byte(content)); err != nil {
		return "", err
	}
	return key, nil
}

// Read downloads the content.
func (s *BucketArtifactStore) Read(ctx context.Context, issueNumber int, t ArtifactType) (string, error) {
	data, err := s.client.GetRaw(ctx, s.key(issueNumber, t))
	if err != nil {
		if pwhttp.IsNotFound(err) {
			return "", ErrArtifactNotFound
		}
		return "", err
	}
	return string(data), nil
}

// Delete removes objects; missing objects are not an error.
func (s *BucketArtifactStore) Delete(ctx context.Context, issueNumber int, types ...ArtifactType) error {
	if len(types) == 0 {
		types = append(append([]ArtifactType{}, DesignTypes...),
			ArtifactDecision, ArtifactClarification, ArtifactPhases)
	}
	for _, t := range types {
		if err := s.client.Delete(ctx, s.key(issueNumber, t)); err != nil {
			if pwhttp.IsNotFound(err) {
				continue
			}
			return err
		}
	}
	return nil
}
