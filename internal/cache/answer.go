package cache

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Answer cache scopes.
const (
	ScopeEntity = "entity"
	ScopeGlobal = "global"
)

// AnswerKey addresses one cached answer: per-organization questions are keyed
// by (orgID, queryHash); global questions by (queryHash, region).
type AnswerKey struct {
	Scope     string
	OrgID     string
	Region    string
	QueryHash string
}

// EntityAnswerKey builds the key for a question about one organization.
func EntityAnswerKey(orgID, query string) AnswerKey {
	return AnswerKey{Scope: ScopeEntity, OrgID: orgID, QueryHash: QueryHash(query)}
}

// GlobalAnswerKey builds the key for a corpus-wide question.
func GlobalAnswerKey(query, region string) AnswerKey {
	return AnswerKey{
		Scope:     ScopeGlobal,
		Region:    strings.ToLower(strings.TrimSpace(region)),
		QueryHash: QueryHash(query),
	}
}

func (k AnswerKey) redisKey() string {
	if k.Scope == ScopeEntity {
		return "ans:e:" + k.OrgID + ":" + k.QueryHash
	}
	return "ans:g:" + k.Region + ":" + k.QueryHash
}

// AnswerCache memoizes generated answers with a rolling TTL. Upsert
// semantics: a Put for an existing key overwrites the text and resets the
// TTL. A nil client degrades to permanent miss.
type AnswerCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewAnswerCache(client *redis.Client, ttl time.Duration) *AnswerCache {
	return &AnswerCache{client: client, ttl: ttl}
}

func (c *AnswerCache) Get(ctx context.Context, key AnswerKey) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	answer, err := c.client.Get(ctx, key.redisKey()).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		log.Printf("cache: answer read: %v", err)
		return "", false
	}
	return answer, true
}

func (c *AnswerCache) Put(ctx context.Context, key AnswerKey, answer string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Set(ctx, key.redisKey(), answer, c.ttl).Err(); err != nil {
		log.Printf("cache: answer write: %v", err)
	}
}

// InvalidateEntity drops every cached answer scoped to one organization.
// Called when the organization's reviews change, since its digest and
// aggregates feed those answers. Global answers are left to expire by TTL.
func (c *AnswerCache) InvalidateEntity(ctx context.Context, orgID string) {
	if c == nil || c.client == nil {
		return
	}
	iter := c.client.Scan(ctx, 0, "ans:e:"+orgID+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Printf("cache: answer invalidate scan: %v", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("cache: answer invalidate: %v", err)
	}
}
