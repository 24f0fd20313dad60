package models

import (
	"strings"
	"time"
)

// DocumentType selects the due-date policy for home loans. Comparison is
// case-insensitive; Normalized is the canonical lowercase form.
type DocumentType string

const (
	DocumentBook       DocumentType = "book"
	DocumentMultimedia DocumentType = "multimedia"
)

// Normalized lowercases the type for policy lookups. Unknown types are kept
// as-is and fall through to the default loan period.
func (t DocumentType) Normalized() DocumentType {
	return DocumentType(strings.ToLower(string(t)))
}

func (t DocumentType) String() string {
	return string(t)
}

// Document is a catalog entry. The catalog subsystem owns it; the lending
// core reads the ID, type, and active flag only.
type Document struct {
	ID        int64
	Title     string
	Author    string
	Type      DocumentType
	Active    bool
	CreatedAt time.Time
}
