package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/nextphaseit/portal-identity/internal/errors"
	"github.com/redis/go-redis/v9"
)

// Kept past ExpiresAt so Validate can still tell expired from unknown sessions.
const redisExpiryGrace = 10 * time.Minute

// RedisRepo stores sessions as JSON with a TTL derived from ExpiresAt.
type RedisRepo struct {
	client  *redis.Client
	prefix  string
	nowTime func() time.Time
}

var _ Repo = (*RedisRepo)(nil)

func NewRedisRepo(client *redis.Client, prefix string) *RedisRepo {
	return &RedisRepo{client: client, prefix: prefix, nowTime: time.Now}
}

func (r *RedisRepo) key(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, sessionID)
}

func (r *RedisRepo) Get(ctx context.Context, sessionID string) (*Session, error) {
	b, err := r.client.Get(ctx, r.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("[RedisRepo.Get] %w", apperrors.ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("[RedisRepo.Get] %w", err)
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("[RedisRepo.Get] decode: %w", err)
	}
	return &s, nil
}

func (r *RedisRepo) Save(ctx context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("[RedisRepo.Save] session id is required")
	}
	b, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("[RedisRepo.Save] encode: %w", err)
	}
	ttl := time.Duration(0)
	if !session.ExpiresAt.IsZero() {
		ttl = session.ExpiresAt.Sub(r.nowTime()) + redisExpiryGrace
		if ttl < time.Minute {
			ttl = time.Minute
		}
	}
	if err := r.client.Set(ctx, r.key(session.ID), b, ttl).Err(); err != nil {
		return fmt.Errorf("[RedisRepo.Save] %w", err)
	}
	return nil
}

func (r *RedisRepo) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("[RedisRepo.Delete] %w", err)
	}
	return nil
}

// Sweep is a no-op: redis expires keys itself.
func (r *RedisRepo) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
