package models

import "time"

// Notification template identifiers consumed by the sink.
const (
	TemplateAccountActivation = "account_activation"
	TemplateLoanConfirmation  = "loan_confirmation"
	TemplateOverdueReminder   = "overdue_reminder"
)

// NotificationLog records every notification handed to the sink, successful
// or not, for auditing and to avoid duplicate sends.
type NotificationLog struct {
	ID        int64
	UserID    int64
	Template  string
	Recipient string
	Sent      bool
	Error     string
	SentAt    time.Time
}
