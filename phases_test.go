package pipewright

import (
	"reflect"
	"strings"
	"testing"
)

func TestPhasePlanRoundTrip(t *testing.T) {
	plan := &PhasePlan{Phases: []ImplementationPhase{
		{Order: 1, Name: "Data model", Description: "Schema and store layer.", Files: []string{"store.go", "migrations/001.sql"}, EstimatedSize: "small"},
		{Order: 2, Name: "API surface", Files: []string{"handler.go"}},
		{Order: 3, Name: "Wiring", Description: "Hook the handler into the router."},
	}}

	body := FormatPhasePlan(plan)
	if !IsPhasePlanComment(body) {
		t.Fatal("formatted body should be detected as a phase-plan comment")
	}

	parsed := ParsePhasePlan(body)
	if parsed == nil {
		t.Fatal("formatted plan did not parse back")
	}
	if !reflect.DeepEqual(parsed, plan) {
		t.Errorf("parsed = %+v, want %+v", parsed, plan)
	}
}

func TestParsePhasePlanCorruptMarkerFallsBackToMarkdown(t *testing.T) {
	plan := &PhasePlan{Phases: []ImplementationPhase{
		{Order: 2, Name: "Second"},
		{Order: 1, Name: "First", Files: []string{"a.go"}},
	}}
	body := FormatPhasePlan(plan)

	// Corrupt the JSON payload; the markdown listing stays intact.
	body = strings.Replace(body, phasesMarkerPrefix+`{`, phasesMarkerPrefix+`{{`, 1)

	parsed := ParsePhasePlan(body)
	if parsed == nil {
		t.Fatal("markdown fallback did not parse")
	}
	if len(parsed.Phases) != 2 {
		t.Fatalf("phases = %d, want 2", len(parsed.Phases))
	}
	if parsed.Phases[0].Order != 1 || parsed.Phases[0].Name != "First" {
		t.Errorf("phases not sorted by order: %+v", parsed.Phases)
	}
	if !reflect.DeepEqual(parsed.Phases[0].Files, []string{"a.go"}) {
		t.Errorf("Files = %v, want [a.go]", parsed.Phases[0].Files)
	}
}

func TestParsePhasePlanMarkdownOnly(t *testing.T) {
	body := "## Implementation Phases\n" +
		"\n### Phase 1: Parser\n\nTokenizer and grammar.\n" +
		"\n- **Files**: `parse.go`, `lex.go`\n" +
		"- **Estimated size**: medium\n" +
		"\n### Phase 2: Evaluator\n"

	parsed := ParsePhasePlan(body)
	if parsed == nil {
		t.Fatal("markdown listing did not parse")
	}
	want := []ImplementationPhase{
		{Order: 1, Name: "Parser", Description: "Tokenizer and grammar.", Files: []string{"parse.go", "lex.go"}, EstimatedSize: "medium"},
		{Order: 2, Name: "Evaluator"},
	}
	if !reflect.DeepEqual(parsed.Phases, want) {
		t.Errorf("phases = %+v, want %+v", parsed.Phases, want)
	}
}

func TestParsePhasePlanNothingParses(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"plain comment", "no phases here"},
		{"marker with empty plan", phasesMarkerPrefix + `{"phases":[]}` + markerSuffix},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParsePhasePlan(tt.body); got != nil {
				t.Errorf("ParsePhasePlan = %+v, want nil", got)
			}
		})
	}
}
