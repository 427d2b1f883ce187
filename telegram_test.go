package pipewright

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTelegramNotifierSendsMessage(t *testing.T) {
	var got telegramMessage
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(telegramResponse{OK: true})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("test-token", "chat-1", srv.URL)
	err := n.Notify(context.Background(), NotificationEvent{
		Type:        EventPRReady,
		Title:       "Add retry budget",
		IssueNumber: 42,
		Message:     "PR #7 ready for review",
		URL:         "https://example.test/pulls/7",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("path = %q", gotPath)
	}
	if got.ChatID != "chat-1" || got.ParseMode != "Markdown" {
		t.Errorf("message = %+v", got)
	}
	for _, want := range []string{"👀", "PR #7 ready for review", "*Add retry budget*", "(#42)", "https://example.test/pulls/7"} {
		if !strings.Contains(got.Text, want) {
			t.Errorf("text %q missing %q", got.Text, want)
		}
	}
}

func TestTelegramNotifierRejectedMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(telegramResponse{OK: false, Description: "chat not found"})
	}))
	defer srv.Close()

	n := NewTelegramNotifier("test-token", "chat-1", srv.URL)
	err := n.Notify(context.Background(), NotificationEvent{Type: EventMergeCompleted, Message: "merged"})
	if err == nil || !strings.Contains(err.Error(), "chat not found") {
		t.Errorf("Notify = %v, want rejection with description", err)
	}
}

func TestTelegramEmoji(t *testing.T) {
	tests := []struct {
		typ  EventType
		want string
	}{
		{EventClarificationNeeded, "🤔"},
		{EventDecisionNeeded, "🧭"},
		{EventReviewReady, "👀"},
		{EventPRReady, "👀"},
		{EventMergeCompleted, "✅"},
		{EventRevertCreated, "↩️"},
		{EventAgentFailed, "❌"},
		{EventItemApproved, "🚀"},
		{EventStatusChanged, "📢"},
	}
	for _, tt := range tests {
		if got := telegramEmoji(tt.typ); got != tt.want {
			t.Errorf("telegramEmoji(%s) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}
