package pipewright

import (
	"context"
	"fmt"
	"strings"

	pwhttp "github.com/tormod/pipewright/http"
)

// telegramAPIBase is the Bot API host. Overridable for tests.
const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier sends notifications to a Telegram chat via the Bot API.
type TelegramNotifier struct {
	client *pwhttp.Client
	chatID string
}

// NewTelegramNotifier creates a Telegram notifier for the given bot token
// and chat. baseURL overrides the Bot API host; pass "" for the default.
func NewTelegramNotifier(token, chatID, baseURL string) *TelegramNotifier {
	if baseURL == "" {
		baseURL = telegramAPIBase
	}
	return &TelegramNotifier{
		client: pwhttp.NewClient(pwhttp.ClientConfig{
			BaseURL:     baseURL + "/bot" + token,
			ServiceName: "telegram",
		}),
		chatID: chatID,
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Notify implements Notifier.
func (n *TelegramNotifier) Notify(ctx context.Context, event NotificationEvent) error {
	msg := telegramMessage{
		ChatID:    n.chatID,
		Text:      formatTelegramText(event),
		ParseMode: "Markdown",
	}

	var resp telegramResponse
	if err := n.client.Post(ctx, "/sendMessage", msg, &resp); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	if !resp.OK {
		return fmt.Errorf("telegram rejected message: %s", resp.Description)
	}
	return nil
}

func formatTelegramText(event NotificationEvent) string {
	var b strings.Builder
	b.WriteString(telegramEmoji(event.Type))
	b.WriteString(" ")
	b.WriteString(event.Message)
	if event.Title != "" {
		fmt.Fprintf(&b, "\n*%s*", event.Title)
	}
	if event.IssueNumber > 0 {
		fmt.Fprintf(&b, " (#%d)", event.IssueNumber)
	}
	if event.URL != "" {
		b.WriteString("\n")
		b.WriteString(event.URL)
	}
	return b.String()
}

func telegramEmoji(typ EventType) string {
	switch typ {
	case EventClarificationNeeded:
		return "🤔"
	case EventDecisionNeeded:
		return "🧭"
	case EventReviewReady, EventPRReady:
		return "👀"
	case EventMergeCompleted:
		return "✅"
	case EventRevertCreated:
		return "↩️"
	case EventAgentFailed:
		return "❌"
	case EventItemApproved:
		return "🚀"
	default:
		return "📢"
	}
}
