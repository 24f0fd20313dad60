package store

import "biblio/pkg/platform/sentinel"

// Re-exported sentinels so callers that only import the store package can
// still branch on store facts.
var (
	ErrNotFound     = sentinel.ErrNotFound
	ErrConflict     = sentinel.ErrConflict
	ErrInvalidState = sentinel.ErrInvalidState
)
