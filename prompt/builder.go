package prompt

import (
	"fmt"
	"strings"
)

// Builder assembles a prompt from blocks separated by blank lines.
// The orchestrator uses it to append mode-specific instructions and
// upstream context to a rendered workflow template.
type Builder struct {
	parts []string
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add appends a text block. Empty blocks are dropped.
func (b *Builder) Add(text string) *Builder {
	if strings.TrimSpace(text) != "" {
		b.parts = append(b.parts, text)
	}
	return b
}

// AddSection appends a markdown section under a ## header.
func (b *Builder) AddSection(header, content string) *Builder {
	return b.Add(fmt.Sprintf("## %s\n\n%s", header, content))
}

// AddList appends a bulleted list, optionally under a ## header.
func (b *Builder) AddList(header string, items []string) *Builder {
	var buf strings.Builder
	if header != "" {
		fmt.Fprintf(&buf, "## %s\n\n", header)
	}
	for _, item := range items {
		fmt.Fprintf(&buf, "- %s\n", item)
	}
	return b.Add(buf.String())
}

// AddFile appends file content wrapped in tags the agent can locate.
func (b *Builder) AddFile(path, content string) *Builder {
	return b.Add(fmt.Sprintf("<file path=%q>\n%s\n</file>", path, content))
}

// Build joins the blocks with blank lines.
func (b *Builder) Build() string {
	return strings.Join(b.parts, "\n\n")
}

// Clear resets the builder for reuse.
func (b *Builder) Clear() {
	b.parts = nil
}
