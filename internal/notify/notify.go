// Package notify provides NotificationSink implementations.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"docket/internal/config"
	"docket/internal/domain"
	"docket/internal/repo"
)

// Outbox persists notifications so recipients can list them later.
type Outbox struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (o Outbox) Notify(ctx context.Context, n domain.Notification) error {
	if n.CreatedAt == "" {
		now := time.Now
		if o.Now != nil {
			now = o.Now
		}
		n.CreatedAt = now().UTC().Format(time.RFC3339)
	}
	_, err := o.Repo.InsertNotification(ctx, nil, n)
	return err
}

// Log writes notifications to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Notify(ctx context.Context, n domain.Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		slog.String("recipient_id", n.RecipientID),
		slog.String("role", string(n.Role)),
		slog.String("case_id", n.CaseID),
		slog.String("kind", n.Kind))
	return nil
}

// Multi delivers to every sink and joins their errors.
type Multi []domain.NotificationSink

func (m Multi) Notify(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the default sink chain: outbox, log and any enabled
// webhooks.
func FromConfig(cfg *config.Config, r repo.Repo, logger *slog.Logger) domain.NotificationSink {
	sinks := Multi{Outbox{Repo: r}, Log{Logger: logger}}
	if cfg == nil {
		return sinks
	}
	for _, hook := range cfg.Notifications.Webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		sinks = append(sinks, NewWebhook(hook))
	}
	return sinks
}
