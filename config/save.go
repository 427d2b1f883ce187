package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// WriteGlobal sets key in the per-user file under ~/.config/<AppDir>/,
// creating the directory and file as needed. The key must be in the
// schema's GlobalKeys.
func (s Schema) WriteGlobal(key, value string) error {
	if err := s.checkKey(key, s.GlobalKeys, "global"); err != nil {
		return err
	}
	path := s.globalPath()
	if path == "" {
		return fmt.Errorf("no global config location: home directory or AppDir unset")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	// The global file holds tokens, keep it private.
	return upsertYAML(path, 0o600, func(doc map[string]any) {
		doc[key] = coerce(value)
	})
}

// WriteLocal sets key in the repository file at gitRoot. The key must
// be in the schema's LocalKeys.
func (s Schema) WriteLocal(gitRoot, key, value string) error {
	if gitRoot == "" {
		return fmt.Errorf("not inside a git repository")
	}
	if s.LocalFile == "" {
		return fmt.Errorf("schema has no local config file")
	}
	if err := s.checkKey(key, s.LocalKeys, "local"); err != nil {
		return err
	}
	path := filepath.Join(gitRoot, s.LocalFile)
	// The local file is committed and shared, world-readable is fine.
	return upsertYAML(path, 0o644, func(doc map[string]any) {
		doc[key] = coerce(value)
	})
}

// DeleteGlobal removes key from the per-user file. Deleting a key that
// is not set, or when the file does not exist, is not an error.
func (s Schema) DeleteGlobal(key string) error {
	path := s.globalPath()
	if path == "" {
		return fmt.Errorf("no global config location: home directory or AppDir unset")
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return upsertYAML(path, 0o600, func(doc map[string]any) {
		delete(doc, key)
	})
}

func (s Schema) checkKey(key string, valid []string, scope string) error {
	if allows(valid, key) {
		return nil
	}
	return fmt.Errorf("unknown %s config key %q (valid: %s)",
		scope, key, strings.Join(valid, ", "))
}

// upsertYAML reads the YAML map at path, applies mutate, and writes the
// result back. A missing or unparseable file starts from an empty map.
func upsertYAML(path string, perm os.FileMode, mutate func(map[string]any)) error {
	var doc map[string]any
	if data, err := os.ReadFile(path); err == nil {
		_ = yaml.Unmarshal(data, &doc)
	}
	if doc == nil {
		doc = make(map[string]any)
	}

	mutate(doc)

	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

// coerce stores booleans as YAML booleans so the file round-trips the
// way a hand-edited one would.
func coerce(value string) any {
	switch strings.ToLower(value) {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}
