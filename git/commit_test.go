package git

import (
	"strings"
	"testing"
)

func TestCommitMessageString(t *testing.T) {
	msg := &CommitMessage{
		Type:        CommitTypeFeat,
		Scope:       "store",
		Subject:     "add intake table",
		Body:        "Intake docs get their own table so approval can resync labels.",
		Refs:        []string{"#421"},
		GeneratedBy: "pipewright",
	}

	got := msg.String()
	if !strings.HasPrefix(got, "feat(store): add intake table\n\n") {
		t.Errorf("subject line wrong:\n%s", got)
	}
	if !strings.Contains(got, "Refs: #421") {
		t.Errorf("refs footer missing:\n%s", got)
	}
	if !strings.Contains(got, "Generated-By: pipewright") {
		t.Errorf("generated-by footer missing:\n%s", got)
	}
}

func TestCommitMessageBreaking(t *testing.T) {
	msg := &CommitMessage{Type: CommitTypeRefactor, Subject: "rename the wire format"}
	msg.Breaking = true

	got := msg.String()
	if !strings.HasPrefix(got, "refactor!: ") {
		t.Errorf("breaking marker missing: %q", got)
	}
	if !strings.Contains(got, "BREAKING CHANGE:") {
		t.Error("bodyless breaking commit needs the footer note")
	}

	msg.Body = "The envelope now carries a version field."
	if strings.Contains(msg.String(), "BREAKING CHANGE:") {
		t.Error("the note is only a stand-in for a missing body")
	}
}

func TestCheckpoint(t *testing.T) {
	got := Checkpoint("implementation", 42).String()
	if !strings.HasPrefix(got, "chore(agent): checkpoint implementation work") {
		t.Errorf("checkpoint subject = %q", got)
	}
	if !strings.Contains(got, "Refs: #42") {
		t.Errorf("checkpoint refs missing:\n%s", got)
	}
}

func TestCommitMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     CommitMessage
		wantErr bool
	}{
		{"valid", CommitMessage{Type: CommitTypeFix, Subject: "handle nil"}, false},
		{"missing type", CommitMessage{Subject: "handle nil"}, true},
		{"missing subject", CommitMessage{Type: CommitTypeFix}, true},
		{"subject too long", CommitMessage{Type: CommitTypeFix, Subject: strings.Repeat("x", 101)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.msg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWrapText(t *testing.T) {
	long := strings.Repeat("word ", 30)
	for _, line := range strings.Split(wrapText(strings.TrimSpace(long), 72), "\n") {
		if len(line) > 72 {
			t.Errorf("line exceeds 72 chars: %q", line)
		}
	}

	kept := "first line\nsecond line"
	if got := wrapText(kept, 72); got != kept {
		t.Errorf("short lines must pass through, got %q", got)
	}
}
