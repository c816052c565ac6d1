package main

import (
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Notifier delivers operator notifications. Delivery is best effort:
// implementations log failures and never return them to the workflow.
type Notifier interface {
	Notify(subject, body string)
}

type webhookPayload struct {
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// WebhookNotifier posts notifications as JSON to a webhook URL.
type WebhookNotifier struct {
	client *resty.Client
	url    string
	prefix string
	logger *zap.Logger
}

func NewWebhookNotifier(cfg NotifierConfig, logger *zap.Logger) *WebhookNotifier {
	// Retries on connection errors and 5xx responses happen in the transport.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(timeout).
		SetHeader("User-Agent", "restock-notifier/1.0")

	return &WebhookNotifier{
		client: client,
		url:    cfg.WebhookURL,
		prefix: cfg.Subject,
		logger: logger,
	}
}

func (n *WebhookNotifier) Notify(subject, body string) {
	if n.prefix != "" {
		subject = "[" + n.prefix + "] " + subject
	}

	resp, err := n.client.R().
		SetBody(webhookPayload{Subject: subject, Body: body, SentAt: time.Now().UTC()}).
		Post(n.url)
	if err != nil {
		n.logger.Error("Notification delivery failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if resp.IsError() {
		n.logger.Error("Notification rejected",
			zap.String("subject", subject),
			zap.Int("status", resp.StatusCode()))
		return
	}
	n.logger.Debug("Notification delivered", zap.String("subject", subject))
}

// LogNotifier writes notifications to the log. It is used when no webhook
// is configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(subject, body string) {
	n.logger.Info("Notification", zap.String("subject", subject), zap.String("body", body))
}

// MultiNotifier fans a notification out to several notifiers in order.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(subject, body string) {
	for _, n := range m {
		n.Notify(subject, body)
	}
}
