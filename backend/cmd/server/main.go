package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"epsilon-voice/backend/internal/character"
	"epsilon-voice/backend/internal/history"
	"epsilon-voice/backend/internal/llm"
	"epsilon-voice/backend/internal/memory"
	"epsilon-voice/backend/internal/server"
	"epsilon-voice/backend/internal/tts"
	"epsilon-voice/backend/pkg/config"
	"epsilon-voice/backend/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// Initialize logger
	if err := logger.Init(os.Getenv("ENV")); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	ctx := context.Background()

	// Core clients
	llmClient := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model, cfg.EmbeddingModel)
	ttsClient := tts.NewClient(cfg.TTSBaseURL)
	characterSvc := character.NewService()

	// Graph memory is optional: a disabled or failed initialization leaves
	// the chat pipeline working without context injection.
	var memorySvc server.MemoryService
	if cfg.GraphMemoryEnabled {
		svc := memory.NewService(memory.Options{
			URI:                 cfg.Neo4jURI,
			Username:            cfg.Neo4jUser,
			Password:            cfg.Neo4jPassword,
			Database:            cfg.Neo4jDatabase,
			Extractor:           memory.NewLLMExtractor(llmClient),
			Embedder:            llmClient,
			SimilarityThreshold: cfg.SimilarityThreshold,
			VectorSearchK:       cfg.VectorSearchK,
			DepthLimit:          cfg.GraphDepthLimit,
		})
		if err := svc.Initialize(ctx); err != nil {
			log.Error("Memory service initialization failed, continuing without graph memory", zap.Error(err))
		} else {
			memorySvc = svc
			defer svc.Close(context.Background())
		}
	} else {
		log.Info("Graph memory disabled")
	}

	// Transcript store is optional as well
	var historyStore *history.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("History database connection failed, continuing without transcripts", zap.Error(err))
		} else {
			defer pool.Close()
			store := history.NewStore(pool)
			if err := store.Migrate(ctx); err != nil {
				log.Error("History migration failed, continuing without transcripts", zap.Error(err))
			} else {
				historyStore = store
			}
		}
	} else {
		log.Info("Transcript store disabled (DATABASE_URL not set)")
	}

	srv := server.New(cfg, llmClient, ttsClient, characterSvc, memorySvc, historyStore)
	router := srv.SetupRouter()

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}
