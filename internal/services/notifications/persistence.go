package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const DefaultPersistenceKey = "pos:notifications"

type Persistence interface {
	Load(ctx context.Context) ([]Notification, error)
	Save(ctx context.Context, items []Notification) error
}

// RedisPersistence keeps the whole list under one key.
type RedisPersistence struct {
	client *redis.Client
	key    string
}

func NewRedisPersistence(client *redis.Client, key string) *RedisPersistence {
	if key == "" {
		key = DefaultPersistenceKey
	}
	return &RedisPersistence{client: client, key: key}
}

func (p *RedisPersistence) Load(ctx context.Context) ([]Notification, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load notifications: %w", err)
	}
	var items []Notification
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return items, nil
}

func (p *RedisPersistence) Save(ctx context.Context, items []Notification) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode notifications: %w", err)
	}
	if err := p.client.Set(ctx, p.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save notifications: %w", err)
	}
	return nil
}
