package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepo shares in-flight flows between portal instances.
type RedisRepo struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ Repo = (*RedisRepo)(nil)

func NewRedisRepo(client *redis.Client, prefix string, ttl time.Duration) *RedisRepo {
	return &RedisRepo{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisRepo) key(state string) string {
	return fmt.Sprintf("%s:authflow:%s%s", r.prefix, flowPrefix, state)
}

func (r *RedisRepo) completedKey(state string) string {
	return fmt.Sprintf("%s:authflow:%s%s", r.prefix, completedPrefix, state)
}

func (r *RedisRepo) Store(ctx context.Context, flow *Flow) error {
	if err := validateFlow(flow); err != nil {
		return err
	}
	b, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("[RedisRepo.Store] marshal: %w", err)
	}
	if err := r.client.Set(ctx, r.key(flow.State), b, r.ttl).Err(); err != nil {
		return fmt.Errorf("[RedisRepo.Store] set: %w", err)
	}
	return nil
}

func (r *RedisRepo) Retrieve(ctx context.Context, state string) (*Flow, error) {
	b, err := r.client.Get(ctx, r.key(state)).Bytes()
	return decodeFlow(b, err)
}

// Take uses GETDEL so two callbacks racing on one state cannot both obtain the verifier.
func (r *RedisRepo) Take(ctx context.Context, state string) (*Flow, error) {
	b, err := r.client.GetDel(ctx, r.key(state)).Bytes()
	return decodeFlow(b, err)
}

func (r *RedisRepo) Clear(ctx context.Context, state string) error {
	if state == "" {
		return nil
	}
	return r.client.Del(ctx, r.key(state)).Err()
}

func (r *RedisRepo) MarkCompleted(ctx context.Context, state, sessionID string) error {
	if state == "" || sessionID == "" {
		return errors.New("state and sessionID are required")
	}
	return r.client.Set(ctx, r.completedKey(state), sessionID, r.ttl).Err()
}

func (r *RedisRepo) Completed(ctx context.Context, state string) (string, error) {
	sessionID, err := r.client.Get(ctx, r.completedKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrFlowNotFound
	}
	return sessionID, err
}

func (r *RedisRepo) Forget(ctx context.Context, state string) error {
	return r.client.Del(ctx, r.completedKey(state)).Err()
}

func decodeFlow(b []byte, err error) (*Flow, error) {
	if errors.Is(err, redis.Nil) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, err
	}
	var flow Flow
	if err := json.Unmarshal(b, &flow); err != nil {
		return nil, fmt.Errorf("[authflow] decode: %w", err)
	}
	return &flow, nil
}
