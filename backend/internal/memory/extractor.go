package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"epsilon-voice/backend/internal/llm"
	"epsilon-voice/backend/pkg/logger"
	"go.uber.org/zap"
)

const extractionSystemPrompt = "You are an entity extraction specialist. You accurately extract entities and relations from conversations."

const extractionPromptTemplate = `Extract entities and relations from the following conversation and return them as JSON.

Conversation:
%s

Identify entities of these kinds (you may introduce other kinds when appropriate):
1. Topic - subjects or domains, e.g. "Python", "image recognition", "machine learning"
2. Project - projects the user mentions
3. Skill - technical or soft skills
4. Resource - documents, courses, papers, tools

Relation types (examples, not a closed set):
- INTERESTED_IN: the user is interested in a topic
- WORKING_ON: a project the user is working on
- HAS_SKILL: a skill the user has
- LEARNED_FROM: the user learned from a resource
- USES: a skill used by a project
- RELATED_TO: a generic association between entities

Response format (must be valid JSON):
{
    "entities": [
        {"id": "topic_python", "type": "Topic", "name": "Python", "properties": {}},
        {"id": "project_epsilon", "type": "Project", "name": "Epsilon", "properties": {"status": "in_progress"}}
    ],
    "relations": [
        {"source": "%s", "target": "topic_python", "type": "INTERESTED_IN", "properties": {"confidence": 0.8}},
        {"source": "%s", "target": "project_epsilon", "type": "WORKING_ON", "properties": {"role": "developer"}}
    ]
}

Return only the JSON, with no surrounding text.`

// LLMExtractor prompts a completion provider to convert a conversation
// transcript into typed entities and relations. Extraction failure is
// silent: the raw response is logged and empty collections are returned,
// because a failed extraction must never abort the surrounding turn.
type LLMExtractor struct {
	completer Completer
	logger    *zap.Logger
}

// NewLLMExtractor creates an extractor backed by the given completion client
func NewLLMExtractor(completer Completer) *LLMExtractor {
	return &LLMExtractor{
		completer: completer,
		logger:    logger.Get(),
	}
}

// Extract runs entity/relation extraction over a flattened transcript. The
// user id is embedded literally into the prompt so the model can use it as a
// relation source.
func (e *LLMExtractor) Extract(ctx context.Context, conversationText, userID string) ([]Entity, []Relation, error) {
	prompt := fmt.Sprintf(extractionPromptTemplate, conversationText, userID, userID)

	response, err := e.completer.Chat(ctx, extractionSystemPrompt, []llm.Message{}, prompt)
	if err != nil {
		e.logger.Error("Entity extraction request failed", zap.Error(err))
		return nil, nil, nil
	}

	entities, relations, ok := parseExtraction(response)
	if !ok {
		e.logger.Error("Failed to parse extraction result",
			zap.String("response", truncate(response, 500)),
		)
		return nil, nil, nil
	}

	e.logger.Info("Extracted entities and relations",
		zap.Int("entities", len(entities)),
		zap.Int("relations", len(relations)),
	)
	return entities, relations, nil
}

// extractionPayload mirrors the canonical response shape. Relations tolerate
// both source/target and source_id/target_id key naming.
type extractionPayload struct {
	Entities  []Entity          `json:"entities"`
	Relations []relationPayload `json:"relations"`
}

type relationPayload struct {
	Source     string                 `json:"source"`
	SourceID   string                 `json:"source_id"`
	Target     string                 `json:"target"`
	TargetID   string                 `json:"target_id"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties"`
}

// parseExtraction locates the outermost brace-delimited block in the raw
// response (models routinely wrap the payload in prose) and decodes it.
// Returns ok=false when no parseable block exists.
func parseExtraction(response string) ([]Entity, []Relation, bool) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return nil, nil, false
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(response[start:end+1]), &payload); err != nil {
		return nil, nil, false
	}

	entities := make([]Entity, 0, len(payload.Entities))
	for _, ent := range payload.Entities {
		if ent.ID == "" {
			continue
		}
		if ent.Type == "" {
			ent.Type = defaultEntityLabel
		}
		entities = append(entities, ent)
	}

	relations := make([]Relation, 0, len(payload.Relations))
	for _, rel := range payload.Relations {
		source := rel.Source
		if source == "" {
			source = rel.SourceID
		}
		target := rel.Target
		if target == "" {
			target = rel.TargetID
		}
		if source == "" || target == "" {
			continue
		}
		relType := rel.Type
		if relType == "" {
			relType = "RELATED_TO"
		}
		relations = append(relations, Relation{
			Source:     source,
			Target:     target,
			Type:       relType,
			Properties: rel.Properties,
		})
	}

	return entities, relations, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// JoinTranscript flattens ordered messages into the "role: content" form the
// extraction prompt expects.
func JoinTranscript(messages []Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		if role == "" {
			role = "unknown"
		}
		lines = append(lines, role+": "+msg.Content)
	}
	return strings.Join(lines, "\n")
}
