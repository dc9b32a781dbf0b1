package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	alerts "greenhouse-cloud/internal/alerts/domain"
)

type webhookPayload struct {
	MsgType string       `json:"msgtype"`
	Text    webhookText  `json:"text"`
	Alert   webhookAlert `json:"alert"`
}

type webhookText struct {
	Content string `json:"content"`
}

type webhookAlert struct {
	ID          string    `json:"id"`
	RuleID      string    `json:"rule_id"`
	SensorID    string    `json:"sensor_id"`
	FacilityID  string    `json:"facility_id"`
	Severity    string    `json:"severity"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
	Unit        string    `json:"unit,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// WebhookChannel posts alerts to a webhook endpoint.
type WebhookChannel struct {
	url      string
	client   *http.Client
	template *Template
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// WithTemplate overrides the text template.
func WithTemplate(tpl *Template) WebhookOption {
	return func(ch *WebhookChannel) {
		if tpl != nil {
			ch.template = tpl
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("webhook channel: empty url")
	}
	tpl, err := NewTemplate("")
	if err != nil {
		return nil, err
	}
	channel := &WebhookChannel{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		template: tpl,
	}
	for _, opt := range opts {
		opt(channel)
	}
	return channel, nil
}

// Name implements Channel.
func (w *WebhookChannel) Name() string { return alerts.ActionWebhook }

// Send posts a DingTalk/WeCom-compatible text payload with the alert attached.
func (w *WebhookChannel) Send(ctx context.Context, alert alerts.AlertRecord) error {
	if w == nil || w.url == "" {
		return errors.New("webhook channel: empty url")
	}
	content, err := w.template.Render(alert)
	if err != nil {
		return err
	}
	payload := webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: content},
		Alert: webhookAlert{
			ID:          alert.ID,
			RuleID:      alert.RuleID,
			SensorID:    alert.SensorID,
			FacilityID:  alert.FacilityID,
			Severity:    string(alert.Severity),
			Value:       alert.TriggeredValue,
			Threshold:   alert.ThresholdValue,
			Unit:        alert.Unit,
			TriggeredAt: alert.TriggeredAt,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook channel: non-2xx response %d", resp.StatusCode)
	}
	return nil
}
