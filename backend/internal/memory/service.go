package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
	"epsilon-voice/backend/pkg/errors"
	"epsilon-voice/backend/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	vectorIndexName    = "entity_embedding_index"
	embeddingDimension = 1536
	embedConcurrency   = 4
)

// Service owns the conversation knowledge graph: extraction-driven writes,
// hybrid retrieval and introspection over a per-user subgraph in Neo4j.
type Service struct {
	driver    neo4j.DriverWithContext
	uri       string
	username  string
	password  string
	database  string
	extractor Extractor
	embedder  Embedder

	similarityThreshold float64
	vectorSearchK       int
	depthLimit          int

	initialized bool
	logger      *zap.Logger
}

// Options configures a memory service
type Options struct {
	URI      string
	Username string
	Password string
	Database string

	Extractor Extractor
	Embedder  Embedder

	// SimilarityThreshold filters vector hits; VectorSearchK is the number of
	// nearest neighbours requested per query.
	SimilarityThreshold float64
	VectorSearchK       int
	DepthLimit          int
}

// NewService creates an unconnected memory service. Call Initialize before
// use.
func NewService(opts Options) *Service {
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = 0.70
	}
	if opts.VectorSearchK <= 0 {
		opts.VectorSearchK = 5
	}
	if opts.DepthLimit <= 0 {
		opts.DepthLimit = 5
	}

	return &Service{
		database:            opts.Database,
		extractor:           opts.Extractor,
		embedder:            opts.Embedder,
		similarityThreshold: opts.SimilarityThreshold,
		vectorSearchK:       opts.VectorSearchK,
		depthLimit:          opts.DepthLimit,
		logger:              logger.Get(),
		uri:                 opts.URI,
		username:            opts.Username,
		password:            opts.Password,
	}
}

// Initialize connects to Neo4j, verifies connectivity and ensures indexes
// exist. It must succeed before any other operation is usable.
func (s *Service) Initialize(ctx context.Context) error {
	driver, err := neo4j.NewDriverWithContext(
		s.uri,
		neo4j.BasicAuth(s.username, s.password, ""),
		func(c *config.Config) {
			c.MaxConnectionPoolSize = 50
			c.MaxConnectionLifetime = 30 * time.Minute
			c.ConnectionAcquisitionTimeout = 2 * time.Minute
		},
	)
	if err != nil {
		return errors.NewGraphConnectionFailed(s.uri, err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return errors.NewGraphConnectionFailed(s.uri, err)
	}

	s.driver = driver
	s.createIndexes(ctx)
	s.initialized = true

	s.logger.Info("Memory service initialized",
		zap.String("uri", s.uri),
		zap.String("database", s.database),
	)
	return nil
}

// Initialized reports whether Initialize completed successfully
func (s *Service) Initialized() bool {
	return s != nil && s.initialized
}

// Close shuts down the driver connection pool
func (s *Service) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	s.initialized = false
	return s.driver.Close(ctx)
}

// createIndexes ensures the uniqueness and vector indexes exist. Index
// creation failure is logged but not fatal: older server editions lack
// vector index support, and retrieval degrades to the keyword pass.
func (s *Service) createIndexes(ctx context.Context) {
	session := s.newSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	statements := []string{
		`CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
		`CREATE CONSTRAINT entity_id_unique IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE`,
		`CREATE INDEX entity_name_index IF NOT EXISTS FOR (e:Entity) ON (e.name)`,
		fmt.Sprintf(`CREATE VECTOR INDEX %s IF NOT EXISTS
			FOR (e:Entity) ON (e.embedding)
			OPTIONS {indexConfig: {
				`+"`vector.dimensions`"+`: %d,
				`+"`vector.similarity_function`"+`: 'cosine'
			}}`, vectorIndexName, embeddingDimension),
	}

	for _, stmt := range statements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			s.logger.Warn("Index creation failed", zap.Error(err))
		}
	}
}

func (s *Service) newSession(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: s.database,
	})
}

// WriteConversation extracts entities and relations from the transcript and
// upserts them into the user's subgraph in a single transaction. Embeddings
// are computed up front so the write itself stays atomic; an entity whose
// embedding fails is stored without one and picked up by the keyword pass.
func (s *Service) WriteConversation(ctx context.Context, userID, characterID, conversationID string, messages []Message) (*WriteResult, error) {
	if !s.Initialized() {
		return nil, errors.ErrMemoryNotInitialized
	}

	transcript := JoinTranscript(messages)
	entities, relations, err := s.extractor.Extract(ctx, transcript, userID)
	if err != nil {
		return nil, errors.NewBaseError(errors.ErrorTypeLLM, "entity extraction failed", err)
	}

	entities = normalizeEntities(entities)
	relations = normalizeRelations(relations)

	s.embedEntities(ctx, entities)

	now := time.Now().Format(time.RFC3339)

	session := s.newSession(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := upsertUser(ctx, tx, userID, now); err != nil {
			return nil, err
		}
		if conversationID != "" {
			if err := upsertConversation(ctx, tx, userID, characterID, conversationID, len(messages), now); err != nil {
				return nil, err
			}
		}
		for i := range entities {
			if err := upsertEntity(ctx, tx, userID, &entities[i], now); err != nil {
				return nil, err
			}
		}
		for i := range relations {
			if err := upsertRelation(ctx, tx, &relations[i], now); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		s.logger.Error("Graph write failed",
			zap.Error(err),
			zap.String("user_id", userID),
		)
		return nil, errors.NewGraphWriteFailed(err)
	}

	s.logger.Info("Conversation written to graph",
		zap.String("user_id", userID),
		zap.Int("entities", len(entities)),
		zap.Int("relations", len(relations)),
	)

	return &WriteResult{
		EntitiesCount:  len(entities),
		RelationsCount: len(relations),
	}, nil
}

// normalizeEntities drops records without an id and defaults missing types
func normalizeEntities(entities []Entity) []Entity {
	out := make([]Entity, 0, len(entities))
	for _, ent := range entities {
		if ent.ID == "" {
			continue
		}
		if ent.Type == "" {
			ent.Type = defaultEntityLabel
		}
		if ent.Name == "" {
			ent.Name = ent.ID
		}
		out = append(out, ent)
	}
	return out
}

// normalizeRelations drops records missing either endpoint and defaults the
// relation type
func normalizeRelations(relations []Relation) []Relation {
	out := make([]Relation, 0, len(relations))
	for _, rel := range relations {
		if rel.Source == "" || rel.Target == "" {
			continue
		}
		if rel.Type == "" {
			rel.Type = "RELATED_TO"
		}
		out = append(out, rel)
	}
	return out
}

// embedEntities fills entity embeddings concurrently. Failures are logged
// per entity and leave the embedding empty.
func (s *Service) embedEntities(ctx context.Context, entities []Entity) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for i := range entities {
		i := i
		g.Go(func() error {
			vec, err := s.embedder.Embed(gctx, embedText(&entities[i]))
			if err != nil {
				s.logger.Warn("Entity embedding failed",
					zap.Error(err),
					zap.String("entity_id", entities[i].ID),
				)
				return nil
			}
			entities[i].Embedding = vec
			return nil
		})
	}
	g.Wait()
}

// embedText builds the text representation an entity is embedded from
func embedText(ent *Entity) string {
	text := ent.Name + " " + ent.Type
	if len(ent.Properties) > 0 {
		if props, err := json.Marshal(ent.Properties); err == nil {
			text += " " + string(props)
		}
	}
	return text
}

func upsertUser(ctx context.Context, tx neo4j.ManagedTransaction, userID, now string) error {
	_, err := tx.Run(ctx, `
		MERGE (u:User {id: $id})
		ON CREATE SET u.created_at = $now
		SET u.last_active = $now, u.updated_at = $now
	`, map[string]interface{}{
		"id":  userID,
		"now": now,
	})
	return err
}

func upsertConversation(ctx context.Context, tx neo4j.ManagedTransaction, userID, characterID, conversationID string, messageCount int, now string) error {
	_, err := tx.Run(ctx, `
		MERGE (c:Conversation {id: $id})
		ON CREATE SET c.created_at = $now
		SET c.character_id = $characterID,
			c.message_count = $messageCount,
			c.updated_at = $now
		WITH c
		MATCH (u:User {id: $userID})
		MERGE (u)-[r:HAS_CONVERSATION]->(c)
		ON CREATE SET r.created_at = $now
	`, map[string]interface{}{
		"id":           conversationID,
		"userID":       userID,
		"characterID":  characterID,
		"messageCount": messageCount,
		"now":          now,
	})
	return err
}

// upsertEntity merges on id and refreshes name, type, properties and
// embedding. The sanitized type becomes an extra label next to the shared
// Entity label so the vector index and type filters both work.
func upsertEntity(ctx context.Context, tx neo4j.ManagedTransaction, userID string, ent *Entity, now string) error {
	props := map[string]interface{}{}
	for k, v := range ent.Properties {
		props[k] = v
	}
	if len(ent.Embedding) > 0 {
		embedding := make([]float64, len(ent.Embedding))
		for i, v := range ent.Embedding {
			embedding[i] = float64(v)
		}
		props["embedding"] = embedding
	}

	label := sanitizeLabel(ent.Type)
	query := fmt.Sprintf(`
		MERGE (e:%s {id: $id})
		ON CREATE SET e.created_at = $now
		SET e:Entity,
			e.name = $name,
			e.type = $type,
			e.updated_at = $now,
			e += $props
		WITH e
		MATCH (u:User {id: $userID})
		MERGE (u)-[r:KNOWS_ABOUT]->(e)
		ON CREATE SET r.created_at = $now
	`, "`"+label+"`")

	_, err := tx.Run(ctx, query, map[string]interface{}{
		"id":     ent.ID,
		"name":   ent.Name,
		"type":   ent.Type,
		"props":  props,
		"userID": userID,
		"now":    now,
	})
	return err
}

// upsertRelation stores every extracted edge under the RELATION relationship
// type with the semantic type as a property, so the merge key is
// (source, target, type) and repeats increment a counter instead of
// duplicating edges.
func upsertRelation(ctx context.Context, tx neo4j.ManagedTransaction, rel *Relation, now string) error {
	props := map[string]interface{}{}
	for k, v := range rel.Properties {
		props[k] = v
	}

	result, err := tx.Run(ctx, `
		MATCH (a {id: $sourceID})
		MATCH (b {id: $targetID})
		MERGE (a)-[r:RELATION {type: $type}]->(b)
		ON CREATE SET r.count = 1, r.created_at = $now
		ON MATCH SET r.count = coalesce(r.count, 0) + 1
		SET r += $props, r.updated_at = $now
		RETURN r
	`, map[string]interface{}{
		"sourceID": rel.Source,
		"targetID": rel.Target,
		"type":     rel.Type,
		"props":    props,
		"now":      now,
	})
	if err != nil {
		return err
	}
	// A relation referencing an id that no node carries matches nothing;
	// consume the result so the failure is visible in logs upstream.
	_, err = result.Consume(ctx)
	return err
}
