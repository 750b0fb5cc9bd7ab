package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/seatrade/cruisesync-go/internal/domain/ingestion"
)

// SlackNotifier posts lifecycle notifications to a Slack incoming webhook.
// Delivery is best-effort: failures are logged and swallowed so the pipeline
// never blocks or fails on observability.
type SlackNotifier struct {
	webhookURL string
	channel    string
	client     *http.Client
	log        zerolog.Logger
}

// NewSlackNotifier creates a SlackNotifier. An empty webhookURL yields a
// notifier that drops everything, so callers can wire it unconditionally.
func NewSlackNotifier(webhookURL, channel string, log zerolog.Logger) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		client:     &http.Client{Timeout: 5 * time.Second},
		log:        log.With().Str("component", "slack").Logger(),
	}
}

type slackMessage struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

type slackAttachment struct {
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields,omitempty"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Notify posts one notification, logging and swallowing any failure
func (s *SlackNotifier) Notify(ctx context.Context, n ingestion.Notification) {
	if s.webhookURL == "" {
		return
	}

	msg := slackMessage{
		Channel: s.channel,
		Text:    n.Title,
	}
	if n.Body != "" || len(n.Fields) > 0 {
		att := slackAttachment{Text: n.Body}
		keys := make([]string, 0, len(n.Fields))
		for k := range n.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			att.Fields = append(att.Fields, slackField{Title: k, Value: n.Fields[k], Short: true})
		}
		msg.Attachments = []slackAttachment{att}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode slack message")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to build slack request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Warn().Err(err).Str("title", n.Title).Msg("slack delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		s.log.Warn().Int("status", resp.StatusCode).Str("title", n.Title).Msg("slack rejected notification")
	}
}
