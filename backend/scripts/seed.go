package main

import (
	"context"
	"flag"
	"fmt"

	"epsilon-voice/backend/internal/memory"
	"epsilon-voice/backend/pkg/config"
	"epsilon-voice/backend/pkg/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Seeds a demo user with a small knowledge subgraph so the graph
// visualization has something to show on a fresh database.
func main() {
	userID := flag.String("user-id", "demo-user", "User ID to seed")
	reset := flag.Bool("reset", false, "Delete the user's existing subgraph first")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting database seeding...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	svc := memory.NewService(memory.Options{
		URI:       cfg.Neo4jURI,
		Username:  cfg.Neo4jUser,
		Password:  cfg.Neo4jPassword,
		Database:  cfg.Neo4jDatabase,
		Extractor: &seedExtractor{userID: *userID},
		Embedder:  &noopEmbedder{},
	})

	ctx := context.Background()
	if err := svc.Initialize(ctx); err != nil {
		log.Fatal("Failed to connect to Neo4j", zap.Error(err))
	}
	defer svc.Close(ctx)

	if *reset {
		log.Info("Resetting user subgraph", zap.String("user_id", *userID))
		if err := resetUser(ctx, cfg, *userID); err != nil {
			log.Fatal("Reset failed", zap.Error(err))
		}
	}

	result, err := svc.WriteConversation(ctx, *userID, "epsilon", "seed-conversation", []memory.Message{
		{Role: "user", Content: "seed"},
	})
	if err != nil {
		log.Fatal("Seeding failed", zap.Error(err))
	}

	log.Info("Seeding complete",
		zap.String("user_id", *userID),
		zap.Int("entities", result.EntitiesCount),
		zap.Int("relations", result.RelationsCount),
	)
}

func resetUser(ctx context.Context, cfg *config.Config, userID string) error {
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		return err
	}
	defer driver.Close(ctx)

	session := driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: cfg.Neo4jDatabase,
	})
	defer session.Close(ctx)

	_, err = session.Run(ctx, `
		MATCH (u:User {id: $id})
		OPTIONAL MATCH (u)-[*1..3]->(n)
		DETACH DELETE u, n
	`, map[string]interface{}{"id": userID})
	return err
}

// seedExtractor ignores the transcript and returns a fixed demo graph
type seedExtractor struct {
	userID string
}

func (s *seedExtractor) Extract(ctx context.Context, conversationText, userID string) ([]memory.Entity, []memory.Relation, error) {
	entities := []memory.Entity{
		{ID: "topic_go", Type: "Topic", Name: "Go"},
		{ID: "topic_graphs", Type: "Topic", Name: "Graph Databases"},
		{ID: "project_voice_companion", Type: "Project", Name: "Voice Companion", Properties: map[string]interface{}{"status": "in_progress"}},
		{ID: "skill_backend", Type: "Skill", Name: "Backend Development"},
		{ID: "resource_neo4j_manual", Type: "Resource", Name: "Neo4j Operations Manual"},
	}
	relations := []memory.Relation{
		{Source: s.userID, Target: "topic_go", Type: "INTERESTED_IN"},
		{Source: s.userID, Target: "project_voice_companion", Type: "WORKING_ON"},
		{Source: s.userID, Target: "skill_backend", Type: "HAS_SKILL"},
		{Source: s.userID, Target: "resource_neo4j_manual", Type: "LEARNED_FROM"},
		{Source: "project_voice_companion", Target: "skill_backend", Type: "USES"},
		{Source: "topic_graphs", Target: "topic_go", Type: "RELATED_TO"},
	}
	return entities, relations, nil
}

// noopEmbedder skips embeddings, keeping seeding deterministic and free of
// provider calls; seeded entities are reachable through the keyword pass
type noopEmbedder struct{}

func (n *noopEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}
