package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"supportchat/backend/internal/api/handler"
	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/localization"
	"supportchat/backend/internal/storage"
	"supportchat/backend/internal/telegram"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

// setupStorage opens the configured store. The returned Bus is nil without Redis.
func setupStorage(ctx context.Context, cfg *config.Config) (storage.Storage, storage.WaitQueue, *storage.Bus) {
	var (
		store storage.Storage
		queue storage.WaitQueue
	)

	switch cfg.StorageBackend {
	case "memory":
		mem := storage.NewMemoryStore()
		store, queue = mem, mem
		log.Println("WARN: Using in-memory storage; transcripts are lost on restart.")
	default:
		db, err := storage.Connect(cfg.DatabaseDSN, cfg.IsDevelopment(), 5)
		if err != nil {
			log.Fatalf("Failed to connect PostgreSQL: %v", err)
		}
		if err := storage.Migrate(db); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		store = storage.NewStorageService(db)
		queue = storage.NewMemoryStore()
	}

	var bus *storage.Bus
	if cfg.RedisAddr != "" {
		rdb, err := storage.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("Failed to connect Redis: %v", err)
		}
		bus = storage.NewBus(rdb)
		queue = bus
	}

	log.Println("Storage ready.")
	return store, queue, bus
}

func main() {
	log.Println("Starting support chat backend...")

	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Storage
	store, queue, bus := setupStorage(ctx, cfg)

	// Disabled agents are loaded too, so their connections never take sessions.
	agents, err := store.ListAgents(ctx, false)
	if err != nil {
		log.Fatalf("Failed to load agents: %v", err)
	}
	roster := chathub.NewRoster(agents...)

	policy, err := chathub.NewPolicy(cfg.AssignmentPolicy)
	if err != nil {
		log.Fatalf("Invalid assignment policy: %v", err)
	}

	// 2. Registry, router and hub
	registry := chathub.NewRegistry(store, roster, policy)
	registry.IdleTimeout = cfg.IdleTimeout
	if cfg.QueueEnabled {
		registry.Queue = queue
	}
	router := chathub.NewRouter(registry, store, nil, cfg.MaxMessageLen)

	loc := localization.NewBuiltinLocalizer()
	loc.SetFallback(cfg.DefaultLanguage)
	hub := chathub.NewManagerService(registry, router, roster, auth.NewVerifier(cfg.JWTSecret), loc)
	hub.Agents = store
	if bus != nil {
		hub.Bus = bus
	}

	restored, err := registry.Restore(ctx)
	if err != nil {
		log.Fatalf("Failed to restore sessions: %v", err)
	}
	log.Printf("INFO: Restored %d sessions", restored)

	matcher := chathub.NewMatcherService(registry, hub)
	matcher.SweepInterval = cfg.SweepInterval

	// 3. Background goroutines
	go hub.Run(ctx)
	go matcher.Run(ctx)

	if cfg.TelegramBotToken != "" {
		botService, err := telegram.NewBotService(cfg.TelegramBotToken, hub, store)
		if err != nil {
			log.Fatalf("Failed to start Telegram console: %v", err)
		}
		if _, err := botService.ConnectAgents(ctx); err != nil {
			log.Printf("ERROR: Failed to connect Telegram agents: %v", err)
		}
		go botService.Run(ctx)
	}

	// 4. HTTP
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	h := handler.NewHandler(hub, store, hub.Verifier)
	h.DevTokens = cfg.DevTokens
	h.DefaultLanguage = cfg.DefaultLanguage
	h.Register(r)

	server := &http.Server{
		Addr:           cfg.Addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("INFO: Listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("INFO: Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("ERROR: HTTP shutdown: %v", err)
	}
}
