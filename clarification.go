package pipewright

import (
	"strings"
)

// ClarificationHeading is the literal heading that identifies a
// clarification comment. Detection matches this exact substring.
const ClarificationHeading = "## 🤔 Agent Needs Clarification"

// Clarification section headings.
const (
	clarificationContext        = "## Context"
	clarificationQuestion       = "## Question"
	clarificationOptions        = "## Options"
	clarificationRecommendation = "## Recommendation"
)

// Option line markers.
const (
	optionRecommendedMarker    = "✅"
	optionNotRecommendedMarker = "⬜"
)

// ClarificationOption is one suggested answer to a clarification question.
type ClarificationOption struct {
	Text        string   `json:"text"`
	Recommended bool     `json:"recommended,omitempty"`
	Details     []string `json:"details,omitempty"`
}

// ClarificationQuestion is one (context, question, options, recommendation)
// tuple.
type ClarificationQuestion struct {
	Context        string                `json:"context,omitempty"`
	Question       string                `json:"question"`
	Options        []ClarificationOption `json:"options,omitempty"`
	Recommendation string                `json:"recommendation,omitempty"`
}

// Clarification is an agent's request for human input. It never routes;
// answering always sets the review status to clarification-received without
// changing the item's status.
type Clarification struct {
	Questions []ClarificationQuestion `json:"questions"`
}

// IsClarificationComment reports whether body contains the clarification
// heading.
func IsClarificationComment(body string) bool {
	return strings.Contains(body, ClarificationHeading)
}

// FormatClarification renders a clarification as a comment body. The
// inverse of ParseClarification.
func FormatClarification(c *Clarification) string {
	var b strings.Builder
	b.WriteString(ClarificationHeading)
	b.WriteString("\n")

	for _, q := range c.Questions {
		if q.Context != "" {
			b.WriteString("\n" + clarificationContext + "\n\n")
			b.WriteString(q.Context)
			b.WriteString("\n")
		}
		b.WriteString("\n" + clarificationQuestion + "\n\n")
		b.WriteString(q.Question)
		b.WriteString("\n")

		if len(q.Options) > 0 {
			b.WriteString("\n" + clarificationOptions + "\n\n")
			for _, opt := range q.Options {
				marker := optionNotRecommendedMarker
				if opt.Recommended {
					marker = optionRecommendedMarker
				}
				b.WriteString(marker + " **" + opt.Text + "**\n")
				for _, detail := range opt.Details {
					b.WriteString("  - " + detail + "\n")
				}
			}
		}

		if q.Recommendation != "" {
			b.WriteString("\n" + clarificationRecommendation + "\n\n")
			b.WriteString(q.Recommendation)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// ParseClarification extracts a clarification from a comment body. Returns
// nil when the heading is absent or no questions parse.
func ParseClarification(body string) *Clarification {
	if !IsClarificationComment(body) {
		return nil
	}

	var questions []ClarificationQuestion
	var current ClarificationQuestion
	var started bool
	section := ""
	var buf []string

	flushSection := func() {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		buf = nil
		switch section {
		case clarificationContext:
			current.Context = text
		case clarificationQuestion:
			current.Question = text
		case clarificationOptions:
			current.Options = parseClarificationOptions(text)
		case clarificationRecommendation:
			current.Recommendation = text
		}
	}
	flushQuestion := func() {
		flushSection()
		if started && current.Question != "" {
			questions = append(questions, current)
		}
		current = ClarificationQuestion{}
		started = false
	}

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		switch trimmed {
		case clarificationContext:
			// A new Context heading starts the next tuple once a question
			// has been collected.
			if started && current.Question != "" {
				flushQuestion()
			} else {
				flushSection()
			}
			section = clarificationContext
			started = true
		case clarificationQuestion:
			if section == clarificationQuestion || (started && current.Question != "" && section != clarificationContext) {
				flushQuestion()
			} else {
				flushSection()
			}
			section = clarificationQuestion
			started = true
		case clarificationOptions:
			flushSection()
			section = clarificationOptions
		case clarificationRecommendation:
			flushSection()
			section = clarificationRecommendation
		default:
			if section != "" {
				buf = append(buf, line)
			}
		}
	}
	flushQuestion()

	if len(questions) == 0 {
		return nil
	}
	return &Clarification{Questions: questions}
}

// parseClarificationOptions parses option lines: an emoji marker, the option
// text (optionally bold-wrapped), then indented bullet sub-items.
func parseClarificationOptions(text string) []ClarificationOption {
	var options []ClarificationOption
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, optionRecommendedMarker),
			strings.HasPrefix(trimmed, optionNotRecommendedMarker):
			recommended := strings.HasPrefix(trimmed, optionRecommendedMarker)
			rest := strings.TrimPrefix(trimmed, optionRecommendedMarker)
			rest = strings.TrimPrefix(rest, optionNotRecommendedMarker)
			rest = strings.TrimSpace(rest)
			rest = strings.TrimSuffix(strings.TrimPrefix(rest, "**"), "**")
			options = append(options, ClarificationOption{
				Text:        rest,
				Recommended: recommended,
			})
		case strings.HasPrefix(trimmed, "- ") && len(options) > 0:
			last := &options[len(options)-1]
			last.Details = append(last.Details, strings.TrimPrefix(trimmed, "- "))
		}
	}
	return options
}
