package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return client, s
}

func TestQueryHashStable(t *testing.T) {
	a := QueryHash("Best School In Kenya")
	b := QueryHash("  best school in kenya ")
	if a != b {
		t.Errorf("hash should ignore case and surrounding whitespace: %s != %s", a, b)
	}
	if QueryHash("other question") == a {
		t.Error("distinct queries should hash differently")
	}
}

func TestNormalizationCacheRoundTrip(t *testing.T) {
	client, s := setupTestRedis(t)
	defer s.Close()
	c := NewNormalizationCache(client, 7*24*time.Hour)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "AUI"); ok {
		t.Fatal("expected miss on empty cache")
	}

	want := NormalizationResult{
		Input:          "AUI",
		NormalizedName: "al akhawayn",
		DisplayName:    "Al Akhawayn University",
		Location:       "Ifrane",
		Country:        "Morocco",
	}
	c.Put(ctx, "AUI", want)

	got, ok := c.Get(ctx, "aui ") // same key after lowercase+trim
	if !ok {
		t.Fatal("expected hit after put")
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestNormalizationCacheExpiry(t *testing.T) {
	client, s := setupTestRedis(t)
	defer s.Close()
	c := NewNormalizationCache(client, 7*24*time.Hour)
	ctx := context.Background()

	c.Put(ctx, "AUI", NormalizationResult{Input: "AUI", NormalizedName: "al akhawayn"})
	s.FastForward(7*24*time.Hour + time.Minute)

	if _, ok := c.Get(ctx, "AUI"); ok {
		t.Error("expected miss after TTL elapsed")
	}
}

func TestAnswerCacheScopedKeys(t *testing.T) {
	client, s := setupTestRedis(t)
	defer s.Close()
	c := NewAnswerCache(client, 24*time.Hour)
	ctx := context.Background()

	entityKey := EntityAnswerKey("org_1", "how is housing?")
	globalKey := GlobalAnswerKey("how is housing?", "Kenya")

	c.Put(ctx, entityKey, "entity answer")
	c.Put(ctx, globalKey, "global answer")

	if got, ok := c.Get(ctx, entityKey); !ok || got != "entity answer" {
		t.Errorf("entity scope: got (%q, %v)", got, ok)
	}
	if got, ok := c.Get(ctx, globalKey); !ok || got != "global answer" {
		t.Errorf("global scope: got (%q, %v)", got, ok)
	}

	// Same question, different region: separate entry.
	if _, ok := c.Get(ctx, GlobalAnswerKey("how is housing?", "Morocco")); ok {
		t.Error("different region should miss")
	}
}

func TestAnswerCacheInvalidateEntity(t *testing.T) {
	client, s := setupTestRedis(t)
	defer s.Close()
	c := NewAnswerCache(client, 24*time.Hour)
	ctx := context.Background()

	c.Put(ctx, EntityAnswerKey("org_1", "how is housing?"), "stale")
	c.Put(ctx, EntityAnswerKey("org_1", "how is the food?"), "stale too")
	c.Put(ctx, EntityAnswerKey("org_2", "how is housing?"), "other org")
	c.Put(ctx, GlobalAnswerKey("how is housing?", "Kenya"), "global")

	c.InvalidateEntity(ctx, "org_1")

	if _, ok := c.Get(ctx, EntityAnswerKey("org_1", "how is housing?")); ok {
		t.Error("org_1 answer should be gone")
	}
	if _, ok := c.Get(ctx, EntityAnswerKey("org_1", "how is the food?")); ok {
		t.Error("all org_1 answers should be gone")
	}
	if _, ok := c.Get(ctx, EntityAnswerKey("org_2", "how is housing?")); !ok {
		t.Error("other organizations must be untouched")
	}
	if _, ok := c.Get(ctx, GlobalAnswerKey("how is housing?", "Kenya")); !ok {
		t.Error("global answers expire by TTL, not invalidation")
	}
}

func TestAnswerCacheOverwriteResetsTTL(t *testing.T) {
	client, s := setupTestRedis(t)
	defer s.Close()
	c := NewAnswerCache(client, 24*time.Hour)
	ctx := context.Background()
	key := EntityAnswerKey("org_1", "question")

	c.Put(ctx, key, "first")
	s.FastForward(20 * time.Hour)
	c.Put(ctx, key, "second")
	s.FastForward(20 * time.Hour)

	got, ok := c.Get(ctx, key)
	if !ok {
		t.Fatal("expected hit: second put should have reset the TTL")
	}
	if got != "second" {
		t.Errorf("got %q, want overwrite to win", got)
	}
}

func TestAnswerCacheExpires(t *testing.T) {
	client, s := setupTestRedis(t)
	defer s.Close()
	c := NewAnswerCache(client, 24*time.Hour)
	ctx := context.Background()
	key := GlobalAnswerKey("best school", "")

	c.Put(ctx, key, "answer")
	s.FastForward(25 * time.Hour)

	if _, ok := c.Get(ctx, key); ok {
		t.Error("expected miss after 24h TTL")
	}
}

func TestCachesDegradeWithoutRedis(t *testing.T) {
	ctx := context.Background()

	norm := NewNormalizationCache(nil, time.Hour)
	norm.Put(ctx, "AUI", NormalizationResult{Input: "AUI"})
	if _, ok := norm.Get(ctx, "AUI"); ok {
		t.Error("nil-client normalization cache must always miss")
	}

	answers := NewAnswerCache(nil, time.Hour)
	answers.Put(ctx, EntityAnswerKey("org_1", "q"), "text")
	if _, ok := answers.Get(ctx, EntityAnswerKey("org_1", "q")); ok {
		t.Error("nil-client answer cache must always miss")
	}
}

func TestCachesTreatErrorsAsMiss(t *testing.T) {
	client, s := setupTestRedis(t)
	c := NewAnswerCache(client, time.Hour)
	ctx := context.Background()
	key := EntityAnswerKey("org_1", "q")

	c.Put(ctx, key, "text")
	s.Close() // connection now fails

	if _, ok := c.Get(ctx, key); ok {
		t.Error("read failure must be a miss, not an error")
	}
	c.Put(ctx, key, "text") // write failure must not panic or propagate
}
