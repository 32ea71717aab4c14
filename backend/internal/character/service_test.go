package character

import (
	"strings"
	"testing"
)

func TestService_DefaultCharacter(t *testing.T) {
	svc := NewService()

	current := svc.Current()
	if current.ID != DefaultCharacterID {
		t.Errorf("Expected default character active, got %q", current.ID)
	}
	if !current.IsDefault {
		t.Error("Default character must be flagged as default")
	}
	if current.SystemPrompt == "" {
		t.Error("Default character must have a system prompt")
	}
}

func TestService_CreateAndActivate(t *testing.T) {
	svc := NewService()

	created, err := svc.Create("Custom", "You are a custom persona.")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !strings.HasPrefix(created.ID, "custom_") {
		t.Errorf("Expected custom_ id prefix, got %q", created.ID)
	}
	if len(created.ID) != len("custom_")+8 {
		t.Errorf("Expected 8-char suffix, got %q", created.ID)
	}

	activated, err := svc.Activate(created.ID)
	if err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if activated.ID != created.ID {
		t.Errorf("Activated wrong character: %q", activated.ID)
	}
	if svc.Current().ID != created.ID {
		t.Errorf("Current should be %q, got %q", created.ID, svc.Current().ID)
	}
}

func TestService_CreateValidation(t *testing.T) {
	svc := NewService()

	if _, err := svc.Create("", "prompt"); err == nil {
		t.Error("Expected error for empty name")
	}
	if _, err := svc.Create("name", ""); err == nil {
		t.Error("Expected error for empty prompt")
	}
	if _, err := svc.Create(strings.Repeat("a", 101), "prompt"); err == nil {
		t.Error("Expected error for oversized name")
	}
	if _, err := svc.Create("name", strings.Repeat("a", 10001)); err == nil {
		t.Error("Expected error for oversized prompt")
	}
}

func TestService_DefaultIsImmutable(t *testing.T) {
	svc := NewService()

	if _, err := svc.Update(DefaultCharacterID, "New Name", ""); err == nil {
		t.Error("Expected error updating default character")
	}
	if err := svc.Delete(DefaultCharacterID); err == nil {
		t.Error("Expected error deleting default character")
	}
}

func TestService_DeleteActiveFallsBack(t *testing.T) {
	svc := NewService()

	created, err := svc.Create("Temp", "prompt")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := svc.Activate(created.ID); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	if err := svc.Delete(created.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if svc.Current().ID != DefaultCharacterID {
		t.Errorf("Expected fallback to default, got %q", svc.Current().ID)
	}
}

func TestService_Update(t *testing.T) {
	svc := NewService()

	created, _ := svc.Create("Before", "old prompt")
	updated, err := svc.Update(created.ID, "After", "")
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Name != "After" {
		t.Errorf("Expected updated name, got %q", updated.Name)
	}
	if updated.SystemPrompt != "old prompt" {
		t.Errorf("Empty prompt argument must leave prompt unchanged, got %q", updated.SystemPrompt)
	}
}

func TestService_ListOrdering(t *testing.T) {
	svc := NewService()
	svc.Create("A", "prompt")
	svc.Create("B", "prompt")

	list := svc.List()
	if len(list) != 3 {
		t.Fatalf("Expected 3 characters, got %d", len(list))
	}
	if !list[0].IsDefault {
		t.Error("Default character must sort first")
	}
}

func TestService_ClonesAreIsolated(t *testing.T) {
	svc := NewService()

	c := svc.Current()
	c.Name = "mutated"

	if svc.Current().Name == "mutated" {
		t.Error("Returned character must be a copy, not registry state")
	}
}
