package pipewright

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/tormod/pipewright/testutil"
)

func TestStatusAfterDesign(t *testing.T) {
	tests := []struct {
		designType ArtifactType
		want       Status
		ok         bool
	}{
		{ArtifactProductDev, StatusProductDesign, true},
		{ArtifactProduct, StatusTechDesign, true},
		{ArtifactTech, StatusImplementation, true},
		{ArtifactDecision, "", false},
		{ArtifactPhases, "", false},
		{"bogus", "", false},
	}
	for _, tt := range tests {
		got, ok := StatusAfterDesign(tt.designType)
		if got != tt.want || ok != tt.ok {
			t.Errorf("StatusAfterDesign(%s) = %q, %v; want %q, %v", tt.designType, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFileArtifactStore(t *testing.T) {
	store := NewFileArtifactStore(t.TempDir())
	ctx := testutil.Context(t)

	if _, err := store.Read(ctx, 42, ArtifactTech); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Read before save = %v, want ErrArtifactNotFound", err)
	}

	locator, err := store.Save(ctx, 42, ArtifactTech, "# Tech Design\n\ndetails")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if locator == "" {
		t.Error("Save returned empty locator")
	}

	content, err := store.Read(ctx, 42, ArtifactTech)
	if err != nil || content != "# Tech Design\n\ndetails" {
		t.Errorf("Read = %q, %v", content, err)
	}

	// Last write wins.
	if _, err := store.Save(ctx, 42, ArtifactTech, "v2"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if content, _ := store.Read(ctx, 42, ArtifactTech); content != "v2" {
		t.Errorf("Read after overwrite = %q", content)
	}

	// Typed delete removes only the named types.
	store.Save(ctx, 42, ArtifactDecision, "decision")
	if err := store.Delete(ctx, 42, ArtifactTech); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Read(ctx, 42, ArtifactTech); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Read after delete = %v, want ErrArtifactNotFound", err)
	}
	if _, err := store.Read(ctx, 42, ArtifactDecision); err != nil {
		t.Errorf("typed delete removed an unrelated artifact: %v", err)
	}

	// Bare delete removes everything for the issue; missing keys are fine.
	if err := store.Delete(ctx, 42); err != nil {
		t.Fatalf("Delete all: %v", err)
	}
	if _, err := store.Read(ctx, 42, ArtifactDecision); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Read after delete-all = %v, want ErrArtifactNotFound", err)
	}
	if err := store.Delete(ctx, 42, ArtifactTech); err != nil {
		t.Errorf("delete of missing artifact = %v, want nil", err)
	}
}

func TestBucketArtifactStore(t *testing.T) {
	var mu sync.Mutex
	objects := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			objects[r.URL.Path] = body
		case http.MethodGet:
			data, ok := objects[r.URL.Path]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Write(data)
		case http.MethodDelete:
			if _, ok := objects[r.URL.Path]; !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			delete(objects, r.URL.Path)
		}
	}))
	defer srv.Close()

	store := NewBucketArtifactStore(srv.URL, nil)
	ctx := testutil.Context(t)

	if _, err := store.Read(ctx, 7, ArtifactProduct); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Read before save = %v, want ErrArtifactNotFound", err)
	}

	key, err := store.Save(ctx, 7, ArtifactProduct, "product design")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if key != "/issues/7/product.md" {
		t.Errorf("key = %q", key)
	}

	content, err := store.Read(ctx, 7, ArtifactProduct)
	if err != nil || content != "product design" {
		t.Errorf("Read = %q, %v", content, err)
	}

	if err := store.Delete(ctx, 7, ArtifactProduct); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Read(ctx, 7, ArtifactProduct); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Read after delete = %v, want ErrArtifactNotFound", err)
	}

	// Deleting missing objects (including the delete-all sweep) is not an error.
	if err := store.Delete(ctx, 7); err != nil {
		t.Errorf("delete-all over missing objects = %v, want nil", err)
	}
}
