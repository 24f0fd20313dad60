package models

import "time"

// ActivationToken is a single-use email activation token. Tokens expire
// after a configured TTL (24h by default) and are invalidated when a new one
// is issued for the same user.
type ActivationToken struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// IsExpired reports whether the token has passed its expiry.
func (t *ActivationToken) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// IsUsable reports whether the token can still activate an account.
func (t *ActivationToken) IsUsable(now time.Time) bool {
	return !t.Used && !t.IsExpired(now)
}
