package models

import (
	"time"
)

// User is a registered library patron or staff member. The RUT is the
// immutable external identity; ID is the surrogate key.
type User struct {
	ID           int64
	RUT          string
	FirstNames   string
	LastNames    string
	Email        string
	PasswordHash string
	Role         string
	Active       bool

	// SanctionExpiry is non-nil while the user is (or was) sanctioned. A
	// future value blocks new loans.
	SanctionExpiry *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsSanctioned reports whether a sanction is in force at the given instant.
func (u *User) IsSanctioned(now time.Time) bool {
	return u.SanctionExpiry != nil && now.Before(*u.SanctionExpiry)
}

// FullName joins first and last names for notification payloads.
func (u *User) FullName() string {
	if u.FirstNames == "" {
		return u.LastNames
	}
	if u.LastNames == "" {
		return u.FirstNames
	}
	return u.FirstNames + " " + u.LastNames
}
