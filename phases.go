package pipewright

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// phasesMarkerPrefix tags a phase-plan comment left by the tech design
// phase for the implementation agent.
const phasesMarkerPrefix = "<!-- IMPLEMENTATION_PHASES:"

// ImplementationPhase is one sequential slice of a multi-phase
// implementation. Each phase becomes its own PR against the feature
// integration branch.
type ImplementationPhase struct {
	Order         int      `json:"order"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Files         []string `json:"files,omitempty"`
	EstimatedSize string   `json:"estimatedSize,omitempty"`
}

// PhasePlan is the ordered list of implementation phases for a work item.
type PhasePlan struct {
	Phases []ImplementationPhase `json:"phases"`
}

// IsPhasePlanComment reports whether body contains the phase-plan marker.
func IsPhasePlanComment(body string) bool {
	return strings.Contains(body, phasesMarkerPrefix)
}

// FormatPhasePlan renders a phase plan as a comment body: a JSON marker
// for machines plus a markdown listing for humans.
func FormatPhasePlan(plan *PhasePlan) string {
	payload, _ := json.Marshal(plan)

	var b strings.Builder
	b.WriteString(phasesMarkerPrefix)
	b.Write(payload)
	b.WriteString(markerSuffix)
	b.WriteString("\n\n## Implementation Phases\n")

	for _, p := range plan.Phases {
		fmt.Fprintf(&b, "\n### Phase %d: %s\n", p.Order, p.Name)
		if p.Description != "" {
			b.WriteString("\n" + p.Description + "\n")
		}
		if len(p.Files) > 0 {
			fmt.Fprintf(&b, "\n- **Files**: %s\n", FormatFileList(p.Files))
		}
		if p.EstimatedSize != "" {
			fmt.Fprintf(&b, "- **Estimated size**: %s\n", p.EstimatedSize)
		}
	}
	return b.String()
}

var phaseHeadingPattern = regexp.MustCompile(`(?m)^### Phase (\d+): (.*)$`)

// ParsePhasePlan extracts a phase plan from a comment body. The JSON marker
// is preferred; a markdown listing is the fallback for hand-edited
// comments. Returns nil when neither yields at least one phase.
func ParsePhasePlan(body string) *PhasePlan {
	if payload, ok := extractMarkerPayload(body, phasesMarkerPrefix); ok {
		var plan PhasePlan
		if err := json.Unmarshal([]byte(payload), &plan); err == nil && len(plan.Phases) > 0 {
			sortPhases(plan.Phases)
			return &plan
		}
		// Fall through: a corrupt marker is never partially trusted, but
		// the markdown listing may still be intact.
	}

	phases := parsePhaseMarkdown(body)
	if len(phases) == 0 {
		return nil
	}
	return &PhasePlan{Phases: phases}
}

func parsePhaseMarkdown(body string) []ImplementationPhase {
	headings := phaseHeadingPattern.FindAllStringSubmatchIndex(body, -1)
	var phases []ImplementationPhase
	for i, loc := range headings {
		order, err := strconv.Atoi(body[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		phase := ImplementationPhase{
			Order: order,
			Name:  strings.TrimSpace(body[loc[4]:loc[5]]),
		}

		end := len(body)
		if i+1 < len(headings) {
			end = headings[i+1][0]
		}
		var descLines []string
		for _, line := range strings.Split(body[loc[1]:end], "\n") {
			trimmed := strings.TrimSpace(line)
			switch {
			case trimmed == "":
				continue
			case strings.HasPrefix(trimmed, "- **Files**:"):
				phase.Files = ParseFileList(strings.TrimPrefix(trimmed, "- **Files**:"))
			case strings.HasPrefix(trimmed, "- **Estimated size**:"):
				phase.EstimatedSize = strings.TrimSpace(strings.TrimPrefix(trimmed, "- **Estimated size**:"))
			default:
				descLines = append(descLines, line)
			}
		}
		phase.Description = strings.TrimSpace(strings.Join(descLines, "\n"))
		phases = append(phases, phase)
	}
	sortPhases(phases)
	return phases
}

func sortPhases(phases []ImplementationPhase) {
	sort.SliceStable(phases, func(i, j int) bool {
		return phases[i].Order < phases[j].Order
	})
}
