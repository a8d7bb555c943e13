// Package cache keeps template documents in Redis so that opening many pages
// built on the same template does not refetch its layout every time.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"composer/api/internal/contentsvc"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

// TemplateCache stores templates cbor encoded under "template:<id>".
type TemplateCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewTemplateCache connects to Redis and checks the connection.
func NewTemplateCache(redisURL string, ttl time.Duration) (*TemplateCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewTemplateCacheWithClient(client, ttl), nil
}

// NewTemplateCacheWithClient creates a cache from an existing Redis client
func NewTemplateCacheWithClient(client *redis.Client, ttl time.Duration) *TemplateCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &TemplateCache{
		client: client,
		prefix: "template:",
		ttl:    ttl,
	}
}

func (c *TemplateCache) key(templateID string) string {
	return c.prefix + templateID
}

// Get returns the cached template. A miss is not an error.
func (c *TemplateCache) Get(ctx context.Context, templateID string) (contentsvc.Template, bool, error) {
	raw, err := c.client.Get(ctx, c.key(templateID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return contentsvc.Template{}, false, nil
	}
	if err != nil {
		return contentsvc.Template{}, false, fmt.Errorf("get cached template: %w", err)
	}

	var tpl contentsvc.Template
	if err := cbor.Unmarshal(raw, &tpl); err != nil {
		return contentsvc.Template{}, false, fmt.Errorf("decode cached template: %w", err)
	}
	return tpl, true, nil
}

func (c *TemplateCache) Set(ctx context.Context, tpl contentsvc.Template) error {
	if tpl.ID == "" {
		return fmt.Errorf("cache template: missing id")
	}
	raw, err := cbor.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	if err := c.client.Set(ctx, c.key(tpl.ID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache template: %w", err)
	}
	return nil
}

func (c *TemplateCache) Invalidate(ctx context.Context, templateID string) error {
	if err := c.client.Del(ctx, c.key(templateID)).Err(); err != nil {
		return fmt.Errorf("invalidate cached template: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *TemplateCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *TemplateCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
