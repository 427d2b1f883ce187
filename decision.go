package pipewright

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Comment-embedded machine-readable markers. These are a serialization
// format: the version suffix is part of the contract and must match
// bit-exact on parse.
const (
	decisionMarkerPrefix  = "<!-- AGENT_DECISION_V1:"
	decisionMetaPrefix    = "<!-- DECISION_META:"
	selectionMarkerPrefix = "<!-- DECISION_SELECTION:"
	markerSuffix          = " -->"
)

// RenderType declares how a metadata field renders and parses.
type RenderType string

const (
	RenderText     RenderType = "text"
	RenderFileList RenderType = "file-list"
)

// MetadataField is one entry of a decision's declared metadata schema.
// Order matters: fields render in schema order.
type MetadataField struct {
	Key    string     `json:"key"`
	Label  string     `json:"label"`
	Render RenderType `json:"render"`
}

// RoutingConfig maps a chosen option's metadata value to a target status.
type RoutingConfig struct {
	// MetadataKey names the option metadata field whose value selects the
	// destination.
	MetadataKey string `json:"metadataKey"`

	// Destinations maps metadata values to pipeline statuses.
	Destinations map[string]Status `json:"destinations"`
}

// DecisionOption is one choice offered to a human.
type DecisionOption struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Recommended bool              `json:"recommended,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Decision is a structured multi-option choice created by an agent run and
// consumed exactly once by a selection.
type Decision struct {
	AgentID        string           `json:"agentId"`
	Context        string           `json:"context,omitempty"`
	Options        []DecisionOption `json:"options"`
	MetadataSchema []MetadataField  `json:"metadataSchema,omitempty"`
	Routing        *RoutingConfig   `json:"routing,omitempty"`

	// ContinueAfterSelection keeps the item in its current status after a
	// selection; the review status flips to decision-submitted so the next
	// agent run is triggered in the same phase.
	ContinueAfterSelection bool `json:"continueAfterSelection,omitempty"`
}

// RecommendedOption returns the flagged option, or nil.
func (d *Decision) RecommendedOption() *DecisionOption {
	for i := range d.Options {
		if d.Options[i].Recommended {
			return &d.Options[i]
		}
	}
	return nil
}

// Option returns the option with the given id, or nil.
func (d *Decision) Option(id string) *DecisionOption {
	for i := range d.Options {
		if d.Options[i].ID == id {
			return &d.Options[i]
		}
	}
	return nil
}

// DecisionSelection records a human's choice for a decision.
type DecisionSelection struct {
	OptionID          string `json:"optionId"`
	CustomText        string `json:"customText,omitempty"`
	CustomDestination Status `json:"customDestination,omitempty"`
	Notes             string `json:"notes,omitempty"`
}

// decisionMeta is the machine-readable half of a decision comment. Option
// bodies live in markdown; everything that cannot round-trip through
// markdown rides in this JSON block.
type decisionMeta struct {
	Context                string          `json:"context,omitempty"`
	MetadataSchema         []MetadataField `json:"metadataSchema,omitempty"`
	Routing                *RoutingConfig  `json:"routing,omitempty"`
	ContinueAfterSelection bool            `json:"continueAfterSelection,omitempty"`
}

// =============================================================================
// Detection
// =============================================================================

// IsDecisionComment reports whether body contains the decision marker.
func IsDecisionComment(body string) bool {
	return strings.Contains(body, decisionMarkerPrefix)
}

// IsSelectionComment reports whether body contains the selection marker.
func IsSelectionComment(body string) bool {
	return strings.Contains(body, selectionMarkerPrefix)
}

// =============================================================================
// Formatting
// =============================================================================

// FormatDecision renders a decision as a comment body: machine-readable
// markers followed by human-readable markdown. The inverse of ParseDecision.
func FormatDecision(d *Decision) string {
	var b strings.Builder

	b.WriteString(decisionMarkerPrefix)
	b.WriteString(d.AgentID)
	b.WriteString(markerSuffix)
	b.WriteString("\n")

	meta := decisionMeta{
		Context:                d.Context,
		MetadataSchema:         d.MetadataSchema,
		Routing:                d.Routing,
		ContinueAfterSelection: d.ContinueAfterSelection,
	}
	metaJSON, _ := json.Marshal(meta)
	b.WriteString(decisionMetaPrefix)
	b.Write(metaJSON)
	b.WriteString(markerSuffix)
	b.WriteString("\n\n")

	b.WriteString("## 🧭 Decision Required\n")
	if d.Context != "" {
		b.WriteString("\n")
		b.WriteString(d.Context)
		b.WriteString("\n")
	}

	for _, opt := range d.Options {
		fmt.Fprintf(&b, "\n### Option %s: %s\n", opt.ID, opt.Title)
		if opt.Recommended {
			b.WriteString("\n⭐ **Recommended**\n")
		}
		if opt.Description != "" {
			b.WriteString("\n")
			b.WriteString(opt.Description)
			b.WriteString("\n")
		}
		if len(opt.Metadata) > 0 && len(d.MetadataSchema) > 0 {
			b.WriteString("\n")
			for _, field := range d.MetadataSchema {
				value, ok := opt.Metadata[field.Key]
				if !ok {
					continue
				}
				fmt.Fprintf(&b, "- **%s**: %s\n", field.Label, value)
			}
		}
	}

	return b.String()
}

// FormatSelection renders a selection as a comment body.
func FormatSelection(sel *DecisionSelection) string {
	payload, _ := json.Marshal(sel)

	var b strings.Builder
	b.WriteString(selectionMarkerPrefix)
	b.Write(payload)
	b.WriteString(markerSuffix)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "**Selected**: %s\n", sel.OptionID)
	if sel.CustomText != "" {
		fmt.Fprintf(&b, "\n%s\n", sel.CustomText)
	}
	return b.String()
}

// =============================================================================
// Parsing
// =============================================================================

var (
	decisionAgentPattern  = regexp.MustCompile(regexp.QuoteMeta(decisionMarkerPrefix) + `([^\s]+) -->`)
	optionHeadingPattern  = regexp.MustCompile(`(?m)^### Option (opt\d+): (.*)$`)
	metadataBulletPattern = regexp.MustCompile(`^- \*\*(.+?)\*\*: (.*)$`)
)

// ParseDecision extracts a decision from a comment body. Returns nil — never
// an error — when the body is missing the required markers, the metadata
// JSON is malformed, or no options parse. A corrupt marker is never
// partially trusted.
func ParseDecision(body string) *Decision {
	agentMatch := decisionAgentPattern.FindStringSubmatch(body)
	if agentMatch == nil {
		return nil
	}

	metaJSON, ok := extractMarkerPayload(body, decisionMetaPrefix)
	if !ok {
		return nil
	}
	var meta decisionMeta
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil
	}

	options := parseDecisionOptions(body, meta.MetadataSchema)
	if len(options) == 0 {
		return nil
	}

	return &Decision{
		AgentID:                agentMatch[1],
		Context:                meta.Context,
		Options:                options,
		MetadataSchema:         meta.MetadataSchema,
		Routing:                meta.Routing,
		ContinueAfterSelection: meta.ContinueAfterSelection,
	}
}

// parseDecisionOptions splits the body at option headings and parses each
// section.
func parseDecisionOptions(body string, schema []MetadataField) []DecisionOption {
	labelToKey := make(map[string]string, len(schema))
	for _, field := range schema {
		labelToKey[field.Label] = field.Key
	}

	headings := optionHeadingPattern.FindAllStringSubmatchIndex(body, -1)
	var options []DecisionOption
	for i, loc := range headings {
		id := body[loc[2]:loc[3]]
		title := strings.TrimSpace(body[loc[4]:loc[5]])

		end := len(body)
		if i+1 < len(headings) {
			end = headings[i+1][0]
		}
		section := body[loc[1]:end]

		opt := DecisionOption{ID: id, Title: title}
		var descLines []string
		for _, line := range strings.Split(section, "\n") {
			trimmed := strings.TrimSpace(line)
			switch {
			case trimmed == "":
				// Keep paragraph breaks inside the description; only the
				// padding before it starts is layout.
				if len(descLines) > 0 {
					descLines = append(descLines, "")
				}
			case strings.HasPrefix(trimmed, "⭐"):
				opt.Recommended = true
			default:
				if m := metadataBulletPattern.FindStringSubmatch(trimmed); m != nil {
					if key, known := labelToKey[m[1]]; known {
						if opt.Metadata == nil {
							opt.Metadata = make(map[string]string)
						}
						opt.Metadata[key] = m[2]
						continue
					}
				}
				descLines = append(descLines, line)
			}
		}
		opt.Description = strings.TrimSpace(strings.Join(descLines, "\n"))
		options = append(options, opt)
	}
	return options
}

// ParseSelection extracts a selection from a comment body. Returns nil on a
// missing marker or malformed JSON payload.
func ParseSelection(body string) *DecisionSelection {
	payload, ok := extractMarkerPayload(body, selectionMarkerPrefix)
	if !ok {
		return nil
	}
	var sel DecisionSelection
	if err := json.Unmarshal([]byte(payload), &sel); err != nil {
		return nil
	}
	return &sel
}

// extractMarkerPayload returns the text between an HTML-comment marker
// prefix and its closing suffix.
func extractMarkerPayload(body, prefix string) (string, bool) {
	start := strings.Index(body, prefix)
	if start < 0 {
		return "", false
	}
	rest := body[start+len(prefix):]
	end := strings.Index(rest, markerSuffix)
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

// =============================================================================
// File Lists
// =============================================================================

// ParseFileList splits a file-list metadata value into paths. Values are
// comma-separated backtick-quoted tokens; empty and "TBD" values mean no
// files.
func ParseFileList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "TBD") {
		return nil
	}

	var files []string
	for _, token := range strings.Split(value, ",") {
		token = strings.Trim(strings.TrimSpace(token), "`")
		if token == "" {
			continue
		}
		files = append(files, token)
	}
	return files
}

// FormatFileList renders paths as a file-list metadata value.
func FormatFileList(files []string) string {
	if len(files) == 0 {
		return ""
	}
	quoted := make([]string, len(files))
	for i, f := range files {
		quoted[i] = "`" + f + "`"
	}
	return strings.Join(quoted, ", ")
}
