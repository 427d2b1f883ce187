package git

import (
	"fmt"
	"strings"
)

// CommitType is the conventional-commit change type.
type CommitType string

const (
	CommitTypeFeat     CommitType = "feat"
	CommitTypeFix      CommitType = "fix"
	CommitTypeRefactor CommitType = "refactor"
	CommitTypeTest     CommitType = "test"
	CommitTypeChore    CommitType = "chore"
	CommitTypeRevert   CommitType = "revert"
)

// CommitMessage builds a conventional-commit message. The zero GeneratedBy
// omits the footer; commits the pipeline makes on its own behalf carry it.
type CommitMessage struct {
	Type        CommitType
	Scope       string
	Subject     string
	Body        string
	Refs        []string // issue references for the footer, "#421"
	Breaking    bool
	GeneratedBy string
}

// Checkpoint is the message for an automatic commit of agent work that was
// left uncommitted at the end of a run.
func Checkpoint(workflow string, issue int) *CommitMessage {
	return &CommitMessage{
		Type:        CommitTypeChore,
		Scope:       "agent",
		Subject:     fmt.Sprintf("checkpoint %s work", workflow),
		Refs:        []string{fmt.Sprintf("#%d", issue)},
		GeneratedBy: "pipewright",
	}
}

// String renders the message: subject line, wrapped body, footers.
func (c *CommitMessage) String() string {
	var b strings.Builder

	b.WriteString(string(c.Type))
	if c.Scope != "" {
		b.WriteString("(" + c.Scope + ")")
	}
	if c.Breaking {
		b.WriteString("!")
	}
	b.WriteString(": ")
	b.WriteString(c.Subject)

	if c.Body != "" {
		b.WriteString("\n\n")
		b.WriteString(wrapText(c.Body, 72))
	}

	var footer []string
	if c.Breaking && c.Body == "" {
		footer = append(footer, "BREAKING CHANGE: This commit introduces breaking changes")
	}
	for _, ref := range c.Refs {
		footer = append(footer, "Refs: "+ref)
	}
	if c.GeneratedBy != "" {
		footer = append(footer, "Generated-By: "+c.GeneratedBy)
	}
	if len(footer) > 0 {
		b.WriteString("\n\n")
		b.WriteString(strings.Join(footer, "\n"))
	}

	return b.String()
}

// Validate rejects messages that would make an unreadable history.
func (c *CommitMessage) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("commit type is required")
	}
	if c.Subject == "" {
		return fmt.Errorf("commit subject is required")
	}
	if len(c.Subject) > 100 {
		return fmt.Errorf("commit subject too long (max 100 characters)")
	}
	return nil
}

// wrapText wraps text at width, preserving existing newlines.
func wrapText(text string, width int) string {
	var result []string
	for _, paragraph := range strings.Split(text, "\n") {
		if len(paragraph) <= width {
			result = append(result, paragraph)
			continue
		}
		var line string
		for _, word := range strings.Fields(paragraph) {
			switch {
			case line == "":
				line = word
			case len(line)+1+len(word) > width:
				result = append(result, line)
				line = word
			default:
				line += " " + word
			}
		}
		if line != "" {
			result = append(result, line)
		}
	}
	return strings.Join(result, "\n")
}
