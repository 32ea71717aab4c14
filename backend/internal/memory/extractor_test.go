package memory

import (
	"context"
	"errors"
	"strings"
	"testing"

	"epsilon-voice/backend/internal/llm"
)

type stubCompleter struct {
	response string
	err      error
	prompt   string
}

func (s *stubCompleter) Chat(ctx context.Context, systemPrompt string, history []llm.Message, message string) (string, error) {
	s.prompt = message
	return s.response, s.err
}

func TestExtract_ProseWrappedJSON(t *testing.T) {
	completer := &stubCompleter{
		response: `Sure, here is the extraction result:
{
    "entities": [
        {"id": "topic_go", "type": "Topic", "name": "Go", "properties": {}}
    ],
    "relations": [
        {"source": "user-1", "target": "topic_go", "type": "INTERESTED_IN", "properties": {"confidence": 0.9}}
    ]
}
Let me know if you need anything else.`,
	}

	extractor := NewLLMExtractor(completer)
	entities, relations, err := extractor.Extract(context.Background(), "user: I love Go", "user-1")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(entities) != 1 {
		t.Fatalf("Expected 1 entity, got %d", len(entities))
	}
	if entities[0].ID != "topic_go" || entities[0].Type != "Topic" {
		t.Errorf("Unexpected entity: %+v", entities[0])
	}

	if len(relations) != 1 {
		t.Fatalf("Expected 1 relation, got %d", len(relations))
	}
	if relations[0].Source != "user-1" || relations[0].Type != "INTERESTED_IN" {
		t.Errorf("Unexpected relation: %+v", relations[0])
	}
}

func TestExtract_NoJSONBlock(t *testing.T) {
	completer := &stubCompleter{response: "I could not find any entities in this conversation."}

	extractor := NewLLMExtractor(completer)
	entities, relations, err := extractor.Extract(context.Background(), "user: hi", "user-1")
	if err != nil {
		t.Fatalf("Extract should not fail on unparseable output: %v", err)
	}
	if len(entities) != 0 || len(relations) != 0 {
		t.Errorf("Expected empty result, got %d entities, %d relations", len(entities), len(relations))
	}
}

func TestExtract_CompletionError(t *testing.T) {
	completer := &stubCompleter{err: errors.New("provider down")}

	extractor := NewLLMExtractor(completer)
	entities, relations, err := extractor.Extract(context.Background(), "user: hi", "user-1")
	if err != nil {
		t.Fatalf("Extract should swallow provider errors: %v", err)
	}
	if entities != nil || relations != nil {
		t.Errorf("Expected nil results, got %v, %v", entities, relations)
	}
}

func TestExtract_AlternateRelationKeys(t *testing.T) {
	completer := &stubCompleter{
		response: `{
			"entities": [{"id": "skill_sql", "type": "Skill", "name": "SQL"}],
			"relations": [{"source_id": "user-1", "target_id": "skill_sql", "type": "HAS_SKILL"}]
		}`,
	}

	extractor := NewLLMExtractor(completer)
	_, relations, err := extractor.Extract(context.Background(), "user: I know SQL", "user-1")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(relations) != 1 {
		t.Fatalf("Expected 1 relation, got %d", len(relations))
	}
	if relations[0].Source != "user-1" || relations[0].Target != "skill_sql" {
		t.Errorf("source_id/target_id keys not honored: %+v", relations[0])
	}
}

func TestExtract_Defaults(t *testing.T) {
	completer := &stubCompleter{
		response: `{
			"entities": [
				{"id": "thing_1", "name": "Something"},
				{"name": "no id, should be dropped"}
			],
			"relations": [
				{"source": "thing_1", "target": "thing_2"},
				{"source": "thing_1"}
			]
		}`,
	}

	extractor := NewLLMExtractor(completer)
	entities, relations, err := extractor.Extract(context.Background(), "user: hi", "user-1")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(entities) != 1 {
		t.Fatalf("Expected 1 entity, got %d", len(entities))
	}
	if entities[0].Type != "Entity" {
		t.Errorf("Expected default type Entity, got %q", entities[0].Type)
	}

	if len(relations) != 1 {
		t.Fatalf("Expected 1 relation, got %d", len(relations))
	}
	if relations[0].Type != "RELATED_TO" {
		t.Errorf("Expected default relation type RELATED_TO, got %q", relations[0].Type)
	}
}

func TestExtract_UserIDInPrompt(t *testing.T) {
	completer := &stubCompleter{response: `{"entities": [], "relations": []}`}

	extractor := NewLLMExtractor(completer)
	_, _, _ = extractor.Extract(context.Background(), "user: hi", "user-42")

	if !strings.Contains(completer.prompt, "user-42") {
		t.Error("Expected user id to appear literally in the extraction prompt")
	}
}

func TestJoinTranscript(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
		{Content: "orphan"},
	}

	got := JoinTranscript(messages)
	want := "user: hello\nassistant: hi there\nunknown: orphan"
	if got != want {
		t.Errorf("JoinTranscript = %q, want %q", got, want)
	}
}
