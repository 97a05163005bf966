package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const normPrefix = "norm:"

// NormalizationResult is the outcome of resolving a raw organization name.
// FromReasoner records whether the reasoning service produced it; a memoized
// deterministic fallback keeps FromReasoner false across cache round trips.
type NormalizationResult struct {
	Input          string `json:"input"`
	NormalizedName string `json:"normalizedName"`
	DisplayName    string `json:"displayName"`
	Location       string `json:"location,omitempty"`
	Country        string `json:"country,omitempty"`
	FromReasoner   bool   `json:"fromReasoner,omitempty"`
}

// NormalizationCache memoizes reasoning-service normalization results so
// repeated ambiguous inputs don't re-invoke the external service. A nil
// client means every read is a miss and writes are dropped.
type NormalizationCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewNormalizationCache(client *redis.Client, ttl time.Duration) *NormalizationCache {
	return &NormalizationCache{client: client, ttl: ttl}
}

func (c *NormalizationCache) Get(ctx context.Context, raw string) (NormalizationResult, bool) {
	if c == nil || c.client == nil {
		return NormalizationResult{}, false
	}
	payload, err := c.client.Get(ctx, normPrefix+QueryHash(raw)).Result()
	if err == redis.Nil {
		return NormalizationResult{}, false
	}
	if err != nil {
		log.Printf("cache: normalization read: %v", err)
		return NormalizationResult{}, false
	}
	var result NormalizationResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		log.Printf("cache: normalization decode: %v", err)
		return NormalizationResult{}, false
	}
	return result, true
}

func (c *NormalizationCache) Put(ctx context.Context, raw string, result NormalizationResult) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		log.Printf("cache: normalization encode: %v", err)
		return
	}
	if err := c.client.Set(ctx, normPrefix+QueryHash(raw), payload, c.ttl).Err(); err != nil {
		log.Printf("cache: normalization write: %v", err)
	}
}
