package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorItem is one erroring target, preformatted for a chat card.
type ErrorItem struct {
	Name         string
	ResponseTime string // e.g. "632 ms"
	Status       string // e.g. "408 Request Timeout"
	Error        string // e.g. "ETIMEDOUT TimeoutError"
}

// ChatThread identifies a Google Chat thread.
type ChatThread struct {
	Name string `json:"name"`
}

// ChatMessage is the provider's acknowledgement of a webhook post. The
// thread name is what later calls use to reply on the same thread.
type ChatMessage struct {
	Name   string     `json:"name,omitempty"`
	Thread ChatThread `json:"thread,omitempty"`
}

// jstZone is used for the human-readable card timestamp.
var jstZone = time.FixedZone("JST", 9*60*60)

// GoogleChatClient posts incident notifications to a Google Chat space
// webhook. Messages after the first reply on the thread opened by
// CreateThread.
type GoogleChatClient struct {
	webhookURL   string
	dashboardURL string
	client       *http.Client
}

// NewGoogleChatClient creates a chat client for the given webhook URL.
func NewGoogleChatClient(webhookURL, dashboardURL string) *GoogleChatClient {
	return &GoogleChatClient{
		webhookURL:   webhookURL,
		dashboardURL: dashboardURL,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateThread opens a new thread announcing the incident with the list of
// erroring targets and a link to the status page (or dashboard).
func (c *GoogleChatClient) CreateThread(ctx context.Context, items []ErrorItem, linkURL string) (*ChatMessage, error) {
	lines := []string{
		"🚨インシデント 発生",
		fmt.Sprintf("<%s|Instatusを開く>", linkURL),
		"",
	}
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("- *%s* ", item.Name))
	}

	body := map[string]interface{}{
		"text": strings.Join(lines, "\n"),
	}
	return c.send(ctx, c.webhookURL, body)
}

// UpdateThread replies on an existing thread with a detailed card showing
// per-target response time, status, and error code.
func (c *GoogleChatClient) UpdateThread(ctx context.Context, items []ErrorItem, threadName string) (*ChatMessage, error) {
	body := map[string]interface{}{
		"text":    "⚠️インシデント 発生中",
		"cardsV2": c.buildCards(items),
		"thread":  map[string]string{"name": threadName},
	}
	return c.send(ctx, c.replyURL(), body)
}

// ResolveThread posts the all-clear on an existing thread.
func (c *GoogleChatClient) ResolveThread(ctx context.Context, _ []ErrorItem, threadName string) (*ChatMessage, error) {
	body := map[string]interface{}{
		"text":   "✅インシデント 終了",
		"thread": map[string]string{"name": threadName},
	}
	return c.send(ctx, c.replyURL(), body)
}

// replyURL is the webhook URL with the reply option that fails instead of
// starting a new thread when the referenced thread is gone.
func (c *GoogleChatClient) replyURL() string {
	return c.webhookURL + "&messageReplyOption=REPLY_MESSAGE_OR_FAIL"
}

func (c *GoogleChatClient) send(ctx context.Context, url string, body interface{}) (*ChatMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chat webhook returned status %d", resp.StatusCode)
	}

	var message ChatMessage
	if err := json.NewDecoder(resp.Body).Decode(&message); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	return &message, nil
}

// buildCards renders one card with a section per erroring target.
// CARD: https://addons.gsuite.google.com/uikit/builder
func (c *GoogleChatClient) buildCards(items []ErrorItem) []map[string]interface{} {
	sections := make([]map[string]interface{}, 0, len(items)+1)
	for _, item := range items {
		sections = append(sections, map[string]interface{}{
			"widgets": []map[string]interface{}{
				decoratedText("BOOKMARK", "対象", item.Name),
				decoratedText("CLOCK", "レスポンス時間", item.ResponseTime),
				decoratedText("DESCRIPTION", "ステータス", item.Status),
				decoratedText("DESCRIPTION", "エラー", item.Error),
			},
		})
	}

	sections = append(sections, map[string]interface{}{
		"widgets": []map[string]interface{}{
			{
				"buttonList": map[string]interface{}{
					"buttons": []map[string]interface{}{
						{
							// #b0cf75
							"color": map[string]interface{}{
								"red":   176.0 / 255,
								"green": 207.0 / 255,
								"blue":  117.0 / 255,
								"alpha": 1,
							},
							"icon": map[string]interface{}{
								"materialIcon": map[string]string{"name": "open_in_new"},
							},
							"onClick": map[string]interface{}{
								"openLink": map[string]string{"url": c.dashboardURL},
							},
							"text": "サスケ 監視ツール - ミカゲ",
						},
					},
				},
			},
		},
	})

	card := map[string]interface{}{
		"header": map[string]interface{}{
			"title":     "サスケ 監視ツール - ミカゲ",
			"subtitle":  time.Now().In(jstZone).Format("2006/01/02 15:04:05"),
			"imageUrl":  "https://cldup.com/VM41agw9eH.png",
			"imageType": "CIRCLE",
		},
		"sections": sections,
	}

	return []map[string]interface{}{
		{
			"cardId": uuid.NewString(),
			"card":   card,
		},
	}
}

func decoratedText(icon, label, text string) map[string]interface{} {
	return map[string]interface{}{
		"decoratedText": map[string]interface{}{
			"icon":     map[string]string{"knownIcon": icon},
			"topLabel": label,
			"text":     text,
		},
	}
}
