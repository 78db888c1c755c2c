// Package redis stores a named area as a single Redis string key.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/and161185/consent-keeper/internal/errs"
)

// KeyPrefix namespaces area keys.
const KeyPrefix = "consent-keeper:area:"

// Client is the subset of *redis.Client the area uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// Area is one key holding the serialized map. Keys never expire.
type Area struct {
	client Client
	key    string
}

// NewArea constructs an area named name.
func NewArea(client Client, name string) *Area {
	return &Area{client: client, key: KeyPrefix + name}
}

// Key returns the Redis key backing the area.
func (a *Area) Key() string { return a.key }

// Load returns the value or errs.ErrNotFound when the key is absent.
func (a *Area) Load(ctx context.Context) ([]byte, error) {
	v, err := a.client.Get(ctx, a.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Store overwrites the value.
func (a *Area) Store(ctx context.Context, value []byte) error {
	return a.client.Set(ctx, a.key, value, 0).Err()
}

// Dial connects to the server at url and checks it with a PING.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
