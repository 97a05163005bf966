package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"vouch/api/internal/ai"
	"vouch/api/internal/app"
	"vouch/api/internal/cache"
	"vouch/api/internal/config"
	"vouch/api/internal/resolve"
	"vouch/api/internal/similar"
	"vouch/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgtrgm := similar.NewPgTrgm(db)
	var meiliClient *similar.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = similar.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := similar.NewService(meiliClient, pgtrgm)

	// Redis is the cache layer only. Without it the service answers every
	// request from Postgres and the model, just slower and pricier.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisClient, err = cache.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Printf("WARNING: redis unavailable, caching disabled: %v", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	} else {
		log.Printf("Redis not configured, caching disabled")
	}
	normalizations := cache.NewNormalizationCache(redisClient, cfg.NormalizationTTL)
	answers := cache.NewAnswerCache(redisClient, cfg.AnswerTTL)

	var reasoningClient *ai.Client
	if strings.TrimSpace(cfg.AnthropicAPIKey) != "" {
		reasoningClient = ai.New(cfg.AnthropicAPIKey, cfg.ReasoningModel, cfg.ReasoningTimeout)
	} else {
		log.Printf("ANTHROPIC_API_KEY not set, name resolution and answers run in deterministic mode")
	}

	// A nil *ai.Client must stay a nil interface inside the engine and the
	// service, so only assign it when configured.
	var reasoner resolve.Reasoner
	var generator app.Generator
	if reasoningClient != nil {
		reasoner = reasoningClient
		generator = reasoningClient
	}

	engine := resolve.NewEngine(dataStore, searchService, reasoner, normalizations)
	service := app.New(dataStore, engine, searchService, generator, answers)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Vouch API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
