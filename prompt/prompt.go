package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Default workflow prompts shipped with the binary. A project overrides
// any of them by dropping a file with the same name into its prompts
// directory.
//
//go:embed prompts/*.txt
var embeddedPrompts embed.FS

const promptExt = ".txt"

// Loader resolves prompt templates by name. Lookup order is the
// project's .pipewright/prompts/, then its prompts/, then the embedded
// defaults, so projects can override individual workflow prompts
// without forking the rest.
//
// Parsed templates are cached; a Loader is safe for concurrent use.
type Loader struct {
	dirs    []string
	funcMap template.FuncMap

	mu    sync.Mutex
	cache map[string]*template.Template
}

// NewLoader creates a loader rooted at projectDir.
func NewLoader(projectDir string) *Loader {
	return &Loader{
		dirs: []string{
			filepath.Join(projectDir, ".pipewright", "prompts"),
			filepath.Join(projectDir, "prompts"),
		},
		cache:   make(map[string]*template.Template),
		funcMap: promptFuncs(),
	}
}

// AddSearchDir prepends a directory to the lookup order.
func (l *Loader) AddSearchDir(dir string) {
	l.dirs = append([]string{dir}, l.dirs...)
}

// AddFunc registers a template function. Call before the first Load of
// any template using it.
func (l *Loader) AddFunc(name string, fn any) {
	l.funcMap[name] = fn
}

// Load renders the named prompt with no variables.
func (l *Loader) Load(name string) (string, error) {
	return l.LoadWithVars(name, nil)
}

// LoadWithVars renders the named prompt with vars as template data.
func (l *Loader) LoadWithVars(name string, vars map[string]any) (string, error) {
	tmpl, err := l.template(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// Exists reports whether a prompt with this name can be resolved.
func (l *Loader) Exists(name string) bool {
	_, err := l.source(name)
	return err == nil
}

// List returns the names of every resolvable prompt, sorted.
func (l *Loader) List() ([]string, error) {
	seen := make(map[string]bool)

	collect := func(entries []os.DirEntry) {
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), promptExt) {
				continue
			}
			seen[strings.TrimSuffix(entry.Name(), promptExt)] = true
		}
	}

	for _, dir := range l.dirs {
		if entries, err := os.ReadDir(dir); err == nil {
			collect(entries)
		}
	}
	if entries, err := embeddedPrompts.ReadDir("prompts"); err == nil {
		collect(entries)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// ClearCache drops parsed templates, forcing a re-read from disk.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*template.Template)
	l.mu.Unlock()
}

func (l *Loader) template(name string) (*template.Template, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if tmpl, ok := l.cache[name]; ok {
		return tmpl, nil
	}

	content, err := l.source(name)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(name).Funcs(l.funcMap).Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}

	l.cache[name] = tmpl
	return tmpl, nil
}

// source returns the raw template text for name, disk first.
func (l *Loader) source(name string) (string, error) {
	filename := name + promptExt

	for _, dir := range l.dirs {
		if data, err := os.ReadFile(filepath.Join(dir, filename)); err == nil {
			return string(data), nil
		}
	}
	if data, err := embeddedPrompts.ReadFile("prompts/" + filename); err == nil {
		return string(data), nil
	}
	return "", fmt.Errorf("prompt not found: %s", name)
}

// promptFuncs are the helpers available inside prompt templates.
func promptFuncs() template.FuncMap {
	return template.FuncMap{
		"join":    strings.Join,
		"trim":    strings.TrimSpace,
		"upper":   strings.ToUpper,
		"lower":   strings.ToLower,
		"title":   cases.Title(language.English).String,
		"indent":  indent,
		"default": fallback,
	}
}

// indent prefixes every non-empty line with n spaces.
func indent(n int, s string) string {
	if s == "" {
		return s
	}
	prefix := strings.Repeat(" ", n)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

// fallback substitutes def for nil or empty-string values.
func fallback(def, value any) any {
	if value == nil {
		return def
	}
	if s, ok := value.(string); ok && s == "" {
		return def
	}
	return value
}
