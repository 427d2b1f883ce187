// Package testutil holds small helpers shared by the package test
// suites.
package testutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// Context returns a context canceled when the test ends, so goroutines
// blocked on it never outlive their test.
func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// LoadFixture reads a file under the package's testdata directory.
func LoadFixture(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", path))
	if err != nil {
		t.Fatalf("load fixture %s: %v", path, err)
	}
	return data
}

// LoadJSONFixture reads a testdata file and unmarshals it into T.
func LoadJSONFixture[T any](t *testing.T, path string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(LoadFixture(t, path), &v); err != nil {
		t.Fatalf("parse fixture %s: %v", path, err)
	}
	return v
}
