package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const slackFooter = "Onboarding Provisioner"

// SlackNotifier posts run outcomes to a Slack-compatible incoming webhook
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// SlackMessage is the webhook payload
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment carries the request details and one field per task
type SlackAttachment struct {
	Color      string       `json:"color"`
	Title      string       `json:"title,omitempty"`
	Text       string       `json:"text,omitempty"`
	Fields     []SlackField `json:"fields,omitempty"`
	Footer     string       `json:"footer,omitempty"`
	Timestamp  int64        `json:"ts,omitempty"`
	MarkdownIn []string     `json:"mrkdwn_in,omitempty"`
}

// SlackField is one title/value row of an attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// NewSlackNotifier creates a notifier posting to webhookURL. An empty URL
// disables it.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// SlackColor maps a notification type to an attachment color
func SlackColor(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "good"
	case NotifyWarning:
		return "warning"
	case NotifyError:
		return "danger"
	default:
		return "#439FE0"
	}
}

// SlackPayload renders n as a webhook message. Request and run references
// become short fields, followed by one field per task result.
func SlackPayload(n Notification) SlackMessage {
	att := SlackAttachment{
		Color:      SlackColor(n.Type),
		Text:       n.Message,
		Footer:     slackFooter,
		MarkdownIn: []string{"fields"},
	}
	if n.UserID != "" {
		att.Title = "Request " + n.UserID
	}
	if n.RunID != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Run", Value: "`" + n.RunID + "`", Short: true})
	}
	if n.Status != "" {
		att.Fields = append(att.Fields, SlackField{Title: "Status", Value: n.Status, Short: true})
	}
	for _, f := range n.Fields {
		att.Fields = append(att.Fields, SlackField{Title: f.Label, Value: f.Value})
	}
	if !n.At.IsZero() {
		att.Timestamp = n.At.Unix()
	}
	return SlackMessage{Text: n.Title, Attachments: []SlackAttachment{att}}
}

// Send posts the notification to the webhook
func (s *SlackNotifier) Send(n Notification) error {
	if s.webhookURL == "" {
		return nil
	}

	payload, err := json.Marshal(SlackPayload(n))
	if err != nil {
		return fmt.Errorf("encode slack payload: %w", err)
	}

	resp, err := s.client.Post(s.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("post to slack: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
