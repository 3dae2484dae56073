// Package alert notifies operators when a batch enters the Failed state.
package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/slack-go/slack"
)

// Alert describes a failed batch and its structured cause.
type Alert struct {
	Dataset   string
	Token     string
	Stage     string
	Kind      string
	Message   string
	Retryable bool
	At        time.Time
}

func (a Alert) Summary() string {
	return fmt.Sprintf("lakeflow: batch %s of %s failed at %s (%s)", a.Token, a.Dataset, a.Stage, a.Kind)
}

type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Multi fans an alert out to every notifier, joining their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes alerts to the pipeline log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(ctx context.Context, a Alert) error {
	n.Logger.Error("alert: batch failed",
		"dataset", a.Dataset, "token", a.Token, "stage", a.Stage, "kind", a.Kind,
		"retryable", a.Retryable, "message", a.Message)
	return nil
}

// SlackNotifier posts alerts to a Slack incoming webhook.
type SlackNotifier struct {
	log        *slog.Logger
	webhookURL string
	channel    string
}

func NewSlackNotifier(log *slog.Logger, webhookURL, channel string) (*SlackNotifier, error) {
	if webhookURL == "" {
		return nil, errors.New("webhook url is required")
	}
	return &SlackNotifier{log: log, webhookURL: webhookURL, channel: channel}, nil
}

func (n *SlackNotifier) Notify(ctx context.Context, a Alert) error {
	color := "danger"
	if a.Retryable {
		color = "warning"
	}
	msg := &slack.WebhookMessage{
		Channel: n.channel,
		Text:    a.Summary(),
		Attachments: []slack.Attachment{{
			Color: color,
			Text:  a.Message,
			Fields: []slack.AttachmentField{
				{Title: "Dataset", Value: a.Dataset, Short: true},
				{Title: "Stage", Value: a.Stage, Short: true},
				{Title: "Kind", Value: a.Kind, Short: true},
				{Title: "Retryable", Value: fmt.Sprintf("%t", a.Retryable), Short: true},
			},
			Ts: jsonNumber(a.At),
		}},
	}
	if err := slack.PostWebhookContext(ctx, n.webhookURL, msg); err != nil {
		n.log.Warn("alert: slack webhook failed", "dataset", a.Dataset, "error", err)
		return fmt.Errorf("failed to post slack alert: %w", err)
	}
	return nil
}

// SentryNotifier reports alerts as Sentry events tagged with the batch identity.
type SentryNotifier struct {
	hub *sentry.Hub
}

func NewSentryNotifier(hub *sentry.Hub) *SentryNotifier {
	return &SentryNotifier{hub: hub}
}

func (n *SentryNotifier) Notify(ctx context.Context, a Alert) error {
	n.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTags(map[string]string{
			"dataset":   a.Dataset,
			"stage":     a.Stage,
			"kind":      a.Kind,
			"retryable": fmt.Sprintf("%t", a.Retryable),
		})
		scope.SetContext("batch", sentry.Context{"token": a.Token, "at": a.At})
		n.hub.CaptureException(fmt.Errorf("%s: %s", a.Summary(), a.Message))
	})
	return nil
}

func jsonNumber(t time.Time) json.Number {
	if t.IsZero() {
		return ""
	}
	return json.Number(strconv.FormatInt(t.Unix(), 10))
}
