package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/aelpxy/abackup/pkg/models"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

type SlackNotifier struct {
	apiURL   string
	username string
	channel  string
	client   *retryablehttp.Client
	log      *zap.SugaredLogger
}

func NewSlackNotifier(cfg models.SlackConfig, log *zap.SugaredLogger) *SlackNotifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &SlackNotifier{
		apiURL:   cfg.APIURL,
		username: cfg.Username,
		channel:  cfg.Channel,
		client:   NewHTTPClient(log, DefaultTimeout, 2),
		log:      log,
	}
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type slackAttachment struct {
	Fallback string       `json:"fallback,omitempty"`
	Color    string       `json:"color,omitempty"`
	Title    string       `json:"title,omitempty"`
	Text     string       `json:"text,omitempty"`
	Fields   []slackField `json:"fields,omitempty"`
	Footer   string       `json:"footer,omitempty"`
	Ts       int64        `json:"ts,omitempty"`
	MrkdwnIn []string     `json:"mrkdwn_in"`
}

type slackPayload struct {
	Username    string            `json:"username,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

func (n *SlackNotifier) payload(msg Message) slackPayload {
	color := "danger"
	if msg.Severity == SeverityGood {
		color = "good"
	}

	attachment := slackAttachment{
		Fallback: msg.Title,
		Color:    color,
		Title:    msg.Title,
		Text:     msg.Description,
		Footer:   "abackup",
		MrkdwnIn: []string{"text", "pretext", "fields"},
	}
	if !msg.Time.IsZero() {
		attachment.Ts = msg.Time.Unix()
	}
	for _, f := range msg.Fields {
		if f.Value == "" {
			continue
		}
		attachment.Fields = append(attachment.Fields, slackField{Title: f.Title, Value: f.Value, Short: true})
	}

	return slackPayload{
		Username:    n.username,
		Channel:     n.channel,
		Attachments: []slackAttachment{attachment},
	}
}

func (n *SlackNotifier) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(n.payload(msg))
	if err != nil {
		return fmt.Errorf("failed to encode slack message: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, n.apiURL, body)
	if err != nil {
		return fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack returned %d: %s", resp.StatusCode, string(text))
	}

	n.log.Debugw("notification sent", "title", msg.Title)
	return nil
}

// New picks the Slack notifier when a webhook is configured and the log
// notifier otherwise.
func New(cfg models.NotificationsConfig, log *zap.SugaredLogger) Notifier {
	if cfg.Slack.APIURL != "" {
		return NewSlackNotifier(cfg.Slack, log)
	}
	return LogNotifier{Log: log}
}
