package memory

import (
	"context"

	"epsilon-voice/backend/internal/llm"
)

// Message is a single turn of a conversation transcript
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Entity is a typed fact extracted from conversation text. IDs are
// caller-supplied and semantically namespaced (e.g. "topic_python").
type Entity struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"` // Topic, Project, Skill, Resource, ...
	Name       string                 `json:"name"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Embedding  []float32              `json:"-"`
}

// Relation is a directed, typed edge between two id-bearing nodes
type Relation struct {
	Source     string                 `json:"source"`
	Target     string                 `json:"target"`
	Type       string                 `json:"type"` // INTERESTED_IN, WORKING_ON, ...
	Properties map[string]interface{} `json:"properties,omitempty"`
}

// WriteResult reports how many extracted records a write processed
type WriteResult struct {
	EntitiesCount  int `json:"entities_count"`
	RelationsCount int `json:"relations_count"`
}

// GraphNode is a node prepared for visualization
type GraphNode struct {
	ID         string                 `json:"id"`
	Label      string                 `json:"label"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
}

// GraphLink is an edge prepared for visualization
type GraphLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// GraphData bundles nodes and links for visualization clients
type GraphData struct {
	Nodes []GraphNode `json:"nodes"`
	Links []GraphLink `json:"links"`
}

// GraphStats aggregates node and relation counts for one user's subgraph
type GraphStats struct {
	TotalNodes     int64            `json:"total_nodes"`
	TotalRelations int64            `json:"total_relations"`
	NodeTypes      map[string]int64 `json:"node_types"`
	RelationTypes  map[string]int64 `json:"relation_types"`
}

// NodeDetails describes one node plus its direct relations
type NodeDetails struct {
	ID                string                   `json:"id"`
	Type              string                   `json:"type"`
	Name              string                   `json:"name"`
	Properties        map[string]interface{}   `json:"properties"`
	IncomingRelations []map[string]interface{} `json:"incoming_relations"`
	OutgoingRelations []map[string]interface{} `json:"outgoing_relations"`
}

// Extractor converts a conversation transcript into typed entities and
// relations. Implementations must degrade to empty results on extraction
// failure rather than failing the surrounding conversation turn.
type Extractor interface {
	Extract(ctx context.Context, conversationText, userID string) ([]Entity, []Relation, error)
}

// Completer is the completion capability consumed by the extractor
type Completer interface {
	Chat(ctx context.Context, systemPrompt string, history []llm.Message, message string) (string, error)
}

// Embedder is the embedding capability consumed by the upsert engine and
// retriever
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
