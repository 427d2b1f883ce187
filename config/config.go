package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Schema declares the configuration surface of the application: which
// keys exist, where each may be set, and what the built-in defaults are.
// The same schema drives both resolution and saving, so a key can never
// be written somewhere Resolve would not read it back from.
type Schema struct {
	// EnvPrefix maps keys to environment variables: with prefix
	// "PIPEWRIGHT_", the key "github_token" reads PIPEWRIGHT_GITHUB_TOKEN.
	EnvPrefix string

	// AppDir is the directory under ~/.config holding the global file.
	AppDir string

	// GlobalFile is the global filename, "config.yaml" when empty.
	GlobalFile string

	// LocalFile is the per-repository filename looked up at the git root,
	// for example ".pipewright.yaml".
	LocalFile string

	// Defaults are the built-in values, lowest precedence.
	Defaults map[string]string

	// GlobalKeys are the keys the global file may set. Secrets and
	// per-user settings belong here. Empty means any key.
	GlobalKeys []string

	// LocalKeys are the keys the repository file may set. Empty means
	// any key.
	LocalKeys []string
}

func (s Schema) globalFile() string {
	if s.GlobalFile != "" {
		return s.GlobalFile
	}
	return "config.yaml"
}

func (s Schema) globalPath() string {
	if s.AppDir == "" {
		return ""
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", s.AppDir, s.globalFile())
}

// allows reports whether key is in the set, treating an empty set as
// allowing everything.
func allows(set []string, key string) bool {
	if len(set) == 0 {
		return true
	}
	for _, k := range set {
		if k == key {
			return true
		}
	}
	return false
}

// Resolver merges the schema's layers into a Resolved snapshot.
type Resolver struct {
	schema     Schema
	globalPath string
	localPath  string
	gitRoot    string
	warnings   []string
}

// New builds a resolver rooted at the current directory: the local file
// is looked up at the enclosing git root, the global file under
// ~/.config/<AppDir>/.
func New(schema Schema) *Resolver {
	r := &Resolver{schema: schema, globalPath: schema.globalPath()}
	if root := FindGitRoot("."); root != "" {
		r.gitRoot = root
		if schema.LocalFile != "" {
			r.localPath = filepath.Join(root, schema.LocalFile)
		}
	}
	return r
}

// NewAt builds a resolver reading explicit file paths, bypassing git
// root and home directory discovery. Either path may be empty to skip
// that layer.
func NewAt(schema Schema, globalPath, localPath string) *Resolver {
	return &Resolver{schema: schema, globalPath: globalPath, localPath: localPath}
}

// GitRoot returns the detected repository root, empty when not inside
// a git repository.
func (r *Resolver) GitRoot() string { return r.gitRoot }

// GlobalPath returns the global config file path, empty when unset.
func (r *Resolver) GlobalPath() string { return r.globalPath }

// LocalPath returns the repository config file path, empty when unset.
func (r *Resolver) LocalPath() string { return r.localPath }

// Warnings returns non-fatal problems from the last Resolve, such as
// an unparseable config file.
func (r *Resolver) Warnings() []string { return r.warnings }

// Resolve merges the layers, lowest precedence first: defaults, then
// the global file, then the repository file, then environment
// variables. Missing files are not an error; malformed ones produce a
// warning and are skipped.
func (r *Resolver) Resolve() *Resolved {
	r.warnings = nil
	res := &Resolved{
		values:  make(map[string]string),
		sources: make(map[string]Source),
	}

	for key, value := range r.schema.Defaults {
		res.set(key, value, SourceDefault)
	}
	r.applyFile(res, r.globalPath, r.schema.GlobalKeys, SourceGlobal)
	r.applyFile(res, r.localPath, r.schema.LocalKeys, SourceLocal)
	r.applyEnv(res)

	return res
}

func (r *Resolver) applyFile(res *Resolved, path string, valid []string, src Source) {
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		r.warnings = append(r.warnings, fmt.Sprintf("skipping %s: %v", path, err))
		return
	}

	for key, raw := range parsed {
		if !allows(valid, key) {
			continue
		}
		if value := yamlString(raw); value != "" {
			res.set(key, value, src)
		}
	}
}

func (r *Resolver) applyEnv(res *Resolved) {
	if r.schema.EnvPrefix == "" {
		return
	}

	// Environment can override any key the lower layers know about.
	seen := make(map[string]bool, len(res.values))
	for key := range r.schema.Defaults {
		seen[key] = true
	}
	for key := range res.values {
		seen[key] = true
	}

	for key := range seen {
		if value := os.Getenv(r.envName(key)); value != "" {
			res.set(key, value, SourceEnv)
		}
	}
}

func (r *Resolver) envName(key string) string {
	return r.schema.EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// Resolved is an immutable snapshot of the merged configuration.
type Resolved struct {
	values  map[string]string
	sources map[string]Source
}

func (c *Resolved) set(key, value string, src Source) {
	c.values[key] = value
	c.sources[key] = src
}

// Get returns the value for key, empty when unset.
func (c *Resolved) Get(key string) string { return c.values[key] }

// Source reports which layer supplied key's value.
func (c *Resolved) Source(key string) Source { return c.sources[key] }

// Lookup returns the value, its source, and whether the key is set.
func (c *Resolved) Lookup(key string) (string, Source, bool) {
	value, ok := c.values[key]
	return value, c.sources[key], ok
}

// Keys returns every set key in sorted order.
func (c *Resolved) Keys() []string {
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns a copy of every key-value pair.
func (c *Resolved) All() map[string]string {
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// yamlString renders scalar YAML values as the string form the rest of
// the application works with.
func yamlString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		if val {
			return "true"
		}
		return "false"
	case int, int64, float64:
		return fmt.Sprintf("%v", val)
	default:
		return ""
	}
}

// FindGitRoot walks upward from startDir looking for a .git entry. A
// plain file counts too: linked worktrees carry a .git file pointing at
// the main repository.
func FindGitRoot(startDir string) string {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
