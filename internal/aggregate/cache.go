package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"erasmusjourney/internal/database"
	"erasmusjourney/internal/forms"
)

const costsKeyPrefix = "costs:"

// CostsCache keeps computed CostSummary values in redis between refreshes.
type CostsCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewCostsCache returns a cache; a nil client or non-positive ttl disables it.
func NewCostsCache(client redis.UniversalClient, ttl time.Duration) *CostsCache {
	return &CostsCache{client: client, ttl: ttl}
}

// CostsKey is the redis key of one city.
func CostsKey(city, country string) string {
	return costsKeyPrefix + strings.ToLower(strings.TrimSpace(city)) + ":" + strings.ToLower(strings.TrimSpace(country))
}

func (c *CostsCache) enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

// Get returns the cached summary, or false on a miss.
func (c *CostsCache) Get(ctx context.Context, city, country string) (CostSummary, bool, error) {
	if !c.enabled() {
		return CostSummary{}, false, nil
	}
	raw, err := c.client.Get(ctx, CostsKey(city, country)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CostSummary{}, false, nil
	}
	if err != nil {
		return CostSummary{}, false, fmt.Errorf("get cached costs: %w", err)
	}
	var summary CostSummary
	if err := json.Unmarshal(raw, &summary); err != nil {
		// Drop entries written by an older layout.
		_ = c.client.Del(ctx, CostsKey(city, country)).Err()
		return CostSummary{}, false, nil
	}
	return summary, true, nil
}

// Set stores summary under its city key.
func (c *CostsCache) Set(ctx context.Context, city, country string, summary CostSummary) error {
	if !c.enabled() {
		return nil
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal costs: %w", err)
	}
	if err := c.client.Set(ctx, CostsKey(city, country), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached costs: %w", err)
	}
	return nil
}

// Invalidate drops one city, or every cached city when city is empty.
func (c *CostsCache) Invalidate(ctx context.Context, city, country string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if strings.TrimSpace(city) != "" {
		return c.client.Del(ctx, CostsKey(city, country)).Err()
	}

	iter := c.client.Scan(ctx, 0, costsKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cached costs: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

// InvalidateSubmission drops the cached costs a write to sub can change. BASIC_INFO
// rows and linked follow-ups affect one city. Unlinked follow-ups are joined by
// owner, so every city is dropped for them.
func (c *CostsCache) InvalidateSubmission(ctx context.Context, stats *Service, sub database.FormSubmission) error {
	if c == nil || c.client == nil {
		return nil
	}
	if forms.Type(sub.Type) != forms.TypeBasicInfo && sub.BasicInfoID == nil {
		return c.Invalidate(ctx, "", "")
	}
	city, country, _, err := stats.LocationOf(ctx, sub)
	if err != nil {
		return fmt.Errorf("resolve cached city: %w", err)
	}
	if city == "" || country == "" {
		return nil
	}
	return c.Invalidate(ctx, city, country)
}
