package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	TTLDocument = 5 * time.Minute  // document identity (rarely changes)
	TTLStatus   = 30 * time.Second // version status (polled by editors)
	TTLDefault  = 1 * time.Minute
)

const (
	PrefixDocument = "doc:"
	PrefixStatus   = "docstatus:"
)

// Service is a Redis-backed read cache. All operations are safe to call
// with no Redis configured: writes become no-ops and reads miss.
type Service interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	GetStatus(ctx context.Context, documentID string, dest interface{}) error
	SetStatus(ctx context.Context, documentID string, data interface{}) error
	InvalidateStatus(ctx context.Context, documentID string) error

	GetDocument(ctx context.Context, groupID, slug string, dest interface{}) error
	SetDocument(ctx context.Context, groupID, slug string, data interface{}) error
	InvalidateDocument(ctx context.Context, groupID, slug string) error

	IsAvailable() bool
	Ping(ctx context.Context) error
}

type redisCache struct {
	client *redis.Client
}

// NewService creates a cache service. client may be nil.
func NewService(client *redis.Client) Service {
	return &redisCache{client: client}
}

func (c *redisCache) IsAvailable() bool {
	return c.client != nil
}

func (c *redisCache) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	return c.client.Ping(ctx).Err()
}

func (c *redisCache) Get(ctx context.Context, key string, dest interface{}) error {
	if c.client == nil {
		return redis.Nil
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}

	return json.Unmarshal(data, dest)
}

func (c *redisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c.client == nil {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}

func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *redisCache) Exists(ctx context.Context, key string) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	n, err := c.client.Exists(ctx, key).Result()
	return n > 0, err
}

func (c *redisCache) statusKey(documentID string) string {
	return PrefixStatus + documentID
}

func (c *redisCache) GetStatus(ctx context.Context, documentID string, dest interface{}) error {
	return c.Get(ctx, c.statusKey(documentID), dest)
}

func (c *redisCache) SetStatus(ctx context.Context, documentID string, data interface{}) error {
	return c.Set(ctx, c.statusKey(documentID), data, TTLStatus)
}

func (c *redisCache) InvalidateStatus(ctx context.Context, documentID string) error {
	return c.Delete(ctx, c.statusKey(documentID))
}

func (c *redisCache) documentKey(groupID, slug string) string {
	return fmt.Sprintf("%s%s:%s", PrefixDocument, groupID, slug)
}

func (c *redisCache) GetDocument(ctx context.Context, groupID, slug string, dest interface{}) error {
	return c.Get(ctx, c.documentKey(groupID, slug), dest)
}

func (c *redisCache) SetDocument(ctx context.Context, groupID, slug string, data interface{}) error {
	return c.Set(ctx, c.documentKey(groupID, slug), data, TTLDocument)
}

func (c *redisCache) InvalidateDocument(ctx context.Context, groupID, slug string) error {
	return c.Delete(ctx, c.documentKey(groupID, slug))
}
