package notify

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// RedisArchive keeps each user's notification panel under one Redis key.
type RedisArchive struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewRedisArchive returns an archive whose entries expire after ttl; zero
// keeps them forever.
func NewRedisArchive(client *redis.Client, ttl time.Duration) *RedisArchive {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisArchive{redis: client, ttl: ttl}
}

func archiveKey(userID string) string {
	return "notifications:" + userID
}

func (a *RedisArchive) Save(ctx context.Context, userID string, list []Notification) error {
	if len(list) == 0 {
		return a.redis.Del(ctx, archiveKey(userID)).Err()
	}
	data, err := sonic.Marshal(list)
	if err != nil {
		return err
	}
	return a.redis.Set(ctx, archiveKey(userID), data, a.ttl).Err()
}

// Load returns the stored panel; a missing or unreadable entry yields none.
func (a *RedisArchive) Load(ctx context.Context, userID string) ([]Notification, error) {
	data, err := a.redis.Get(ctx, archiveKey(userID)).Bytes()
	if err == redis.Nil {
		return []Notification{}, nil
	}
	if err != nil {
		return nil, err
	}
	var list []Notification
	if err := sonic.Unmarshal(data, &list); err != nil {
		return []Notification{}, nil
	}
	return list, nil
}
