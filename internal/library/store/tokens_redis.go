package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"biblio/internal/library/models"
	"biblio/pkg/platform/sentinel"
)

// RedisTokenStore keeps activation tokens in Redis. Keys outlive the token
// expiry by a grace window so an expired token still resolves and the
// service can tell "expired" apart from "never existed".
type RedisTokenStore struct {
	client *redis.Client
	grace  time.Duration
}

// NewRedisTokenStore constructs a Redis-backed token store.
func NewRedisTokenStore(client *redis.Client) *RedisTokenStore {
	return &RedisTokenStore{client: client, grace: 24 * time.Hour}
}

type redisToken struct {
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Used      bool      `json:"used"`
	CreatedAt time.Time `json:"created_at"`
}

func tokenKey(token string) string {
	return "activation:token:" + token
}

func userTokensKey(userID int64) string {
	return fmt.Sprintf("activation:user:%d", userID)
}

func (s *RedisTokenStore) SaveToken(ctx context.Context, token *models.ActivationToken) error {
	payload, err := json.Marshal(redisToken{
		UserID:    token.UserID,
		ExpiresAt: token.ExpiresAt,
		Used:      token.Used,
		CreatedAt: token.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	ttl := time.Until(token.ExpiresAt) + s.grace
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, tokenKey(token.Token), payload, ttl)
	pipe.SAdd(ctx, userTokensKey(token.UserID), token.Token)
	pipe.ExpireGT(ctx, userTokensKey(token.UserID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) FindToken(ctx context.Context, token string) (*models.ActivationToken, error) {
	raw, err := s.client.Get(ctx, tokenKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	var rt redisToken
	if err := json.Unmarshal(raw, &rt); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}
	return &models.ActivationToken{
		Token:     token,
		UserID:    rt.UserID,
		ExpiresAt: rt.ExpiresAt,
		Used:      rt.Used,
		CreatedAt: rt.CreatedAt,
	}, nil
}

func (s *RedisTokenStore) MarkTokenUsed(ctx context.Context, token string) error {
	existing, err := s.FindToken(ctx, token)
	if err != nil {
		return err
	}
	existing.Used = true
	return s.overwrite(ctx, existing)
}

func (s *RedisTokenStore) InvalidateUserTokens(ctx context.Context, userID int64) error {
	tokens, err := s.client.SMembers(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("list user tokens: %w", err)
	}
	for _, token := range tokens {
		t, err := s.FindToken(ctx, token)
		if errors.Is(err, sentinel.ErrNotFound) {
			continue // key aged out
		}
		if err != nil {
			return err
		}
		if t.Used {
			continue
		}
		t.Used = true
		if err := s.overwrite(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (s *RedisTokenStore) overwrite(ctx context.Context, token *models.ActivationToken) error {
	payload, err := json.Marshal(redisToken{
		UserID:    token.UserID,
		ExpiresAt: token.ExpiresAt,
		Used:      token.Used,
		CreatedAt: token.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}
	// KEEPTTL preserves the original expiry window.
	if err := s.client.Set(ctx, tokenKey(token.Token), payload, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	return nil
}
