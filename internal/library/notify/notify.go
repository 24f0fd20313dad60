// Package notify hands messages to an outbound sink and keeps the audit
// trail. Domain operations never fail because a notification did; failures
// are recorded and reported, not propagated.
package notify

import (
	"context"
	"log/slog"

	"biblio/internal/library/models"
	"biblio/internal/library/store"
	"biblio/internal/platform/metrics"
	"biblio/pkg/requestcontext"
)

// Sink delivers one message to a user. Implementations report delivery
// success; they must not panic on unknown templates.
type Sink interface {
	Notify(ctx context.Context, userID int64, templateID string, payload map[string]any) (bool, error)
}

// LogSink writes notifications to the log instead of delivering them. Used
// in development and as the fallback when no mail transport is configured.
type LogSink struct {
	Log *slog.Logger
}

func (s *LogSink) Notify(ctx context.Context, userID int64, templateID string, payload map[string]any) (bool, error) {
	s.Log.InfoContext(ctx, "notification",
		"user_id", userID,
		"template", templateID,
		"payload", payload,
	)
	return true, nil
}

// Recorder wraps a Sink and appends one NotificationLog row per attempt,
// successful or not.
type Recorder struct {
	sink    Sink
	users   store.UserStore
	logbook store.NotificationStore
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewRecorder(sink Sink, users store.UserStore, logbook store.NotificationStore, log *slog.Logger, m *metrics.Metrics) *Recorder {
	return &Recorder{sink: sink, users: users, logbook: logbook, log: log, metrics: m}
}

// Notify delivers through the wrapped sink and records the outcome. The
// returned bool is the delivery result; the error covers only bookkeeping
// failures.
func (r *Recorder) Notify(ctx context.Context, userID int64, templateID string, payload map[string]any) (bool, error) {
	entry := &models.NotificationLog{
		UserID:   userID,
		Template: templateID,
		SentAt:   requestcontext.Now(ctx),
	}
	if user, err := r.users.FindUserByID(ctx, userID); err == nil {
		entry.Recipient = user.Email
	}

	sent, err := r.sink.Notify(ctx, userID, templateID, payload)
	entry.Sent = sent && err == nil
	if err != nil {
		entry.Error = err.Error()
		r.log.WarnContext(ctx, "notification delivery failed",
			"user_id", userID, "template", templateID, "error", err)
	}
	r.metrics.IncNotificationSent(templateID, entry.Sent)

	if logErr := r.logbook.AppendNotification(ctx, entry); logErr != nil {
		return entry.Sent, logErr
	}
	return entry.Sent, nil
}
