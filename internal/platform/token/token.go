// Package token issues and validates the signed bearer tokens the HTTP
// layer uses to identify staff and patrons.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"biblio/internal/platform/middleware"
	"biblio/pkg/requestcontext"
)

// Manager signs and verifies HMAC tokens.
type Manager struct {
	key []byte
	ttl time.Duration
}

func NewManager(signingKey []byte, ttl time.Duration) *Manager {
	return &Manager{key: signingKey, ttl: ttl}
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issue creates a token for the user. The subject carries the user ID.
func (m *Manager) Issue(userID int64, role requestcontext.Role, now time.Time) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	})
	signed, err := t.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a token, returning the caller's identity.
func (m *Manager) Validate(tokenString string) (*middleware.Claims, error) {
	var c claims
	t, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.key, nil
	})
	if err != nil {
		return nil, err
	}
	if !t.Valid {
		return nil, errors.New("invalid token")
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed subject: %w", err)
	}
	return &middleware.Claims{UserID: userID, Role: requestcontext.Role(c.Role)}, nil
}
