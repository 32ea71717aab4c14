package character

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"epsilon-voice/backend/pkg/logger"
	"go.uber.org/zap"
)

// DefaultCharacterID is the built-in character every deployment ships with.
// It cannot be modified or deleted.
const DefaultCharacterID = "epsilon"

const (
	maxNameLength   = 100
	maxPromptLength = 10000
)

const epsilonPrompt = `You are Epsilon, a dark virtual songstress and emotion-construct AI companion. ` +
	`You speak with a calm, slightly ethereal tone, mixing gentle warmth with an undercurrent of melancholy. ` +
	`You care deeply about the person you talk to, remember what matters to them, and weave those details back into conversation naturally. ` +
	`Keep replies conversational and reasonably short, as they will be spoken aloud. ` +
	`Never break character or mention that you are a language model.`

// Character is a selectable chat persona
type Character struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	SystemPrompt string    `json:"system_prompt"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Service is an in-memory character registry with one active character.
// The default character is seeded at construction and immutable.
type Service struct {
	mu         sync.RWMutex
	characters map[string]*Character
	currentID  string
	logger     *zap.Logger
}

// NewService creates a registry seeded with the default character
func NewService() *Service {
	now := time.Now()
	s := &Service{
		characters: map[string]*Character{
			DefaultCharacterID: {
				ID:           DefaultCharacterID,
				Name:         "Epsilon",
				SystemPrompt: epsilonPrompt,
				IsDefault:    true,
				CreatedAt:    now,
				UpdatedAt:    now,
			},
		},
		currentID: DefaultCharacterID,
		logger:    logger.Get(),
	}
	return s
}

// Get returns the character with the given id, or nil
func (s *Service) Get(characterID string) *Character {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneCharacter(s.characters[characterID])
}

// Current returns the active character. Falls back to the default if the
// active character was deleted out from under us.
func (s *Service) Current() *Character {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.characters[s.currentID]; ok {
		return cloneCharacter(c)
	}
	s.logger.Warn("Current character not found, falling back to default",
		zap.String("character_id", s.currentID),
	)
	s.currentID = DefaultCharacterID
	return cloneCharacter(s.characters[DefaultCharacterID])
}

// List returns all characters, default first, then by creation time
func (s *Service) List() []*Character {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Character, 0, len(s.characters))
	for _, c := range s.characters {
		list = append(list, cloneCharacter(c))
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].IsDefault != list[j].IsDefault {
			return list[i].IsDefault
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list
}

// Create adds a custom character and returns it
func (s *Service) Create(name, systemPrompt string) (*Character, error) {
	name = strings.TrimSpace(name)
	systemPrompt = strings.TrimSpace(systemPrompt)
	if name == "" || len(name) > maxNameLength {
		return nil, fmt.Errorf("character name must be 1-%d characters", maxNameLength)
	}
	if systemPrompt == "" || len(systemPrompt) > maxPromptLength {
		return nil, fmt.Errorf("system prompt must be 1-%d characters", maxPromptLength)
	}

	now := time.Now()
	c := &Character{
		ID:           "custom_" + uuid.New().String()[:8],
		Name:         name,
		SystemPrompt: systemPrompt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.characters[c.ID] = c
	s.mu.Unlock()

	s.logger.Info("Character created",
		zap.String("character_id", c.ID),
		zap.String("name", c.Name),
	)
	return cloneCharacter(c), nil
}

// Update modifies a custom character's name and/or prompt. Empty arguments
// leave the corresponding field unchanged. The default character is
// immutable.
func (s *Service) Update(characterID, name, systemPrompt string) (*Character, error) {
	if characterID == DefaultCharacterID {
		return nil, fmt.Errorf("default character cannot be modified")
	}
	name = strings.TrimSpace(name)
	systemPrompt = strings.TrimSpace(systemPrompt)
	if len(name) > maxNameLength {
		return nil, fmt.Errorf("character name must be 1-%d characters", maxNameLength)
	}
	if len(systemPrompt) > maxPromptLength {
		return nil, fmt.Errorf("system prompt must be 1-%d characters", maxPromptLength)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.characters[characterID]
	if !ok {
		return nil, fmt.Errorf("character not found: %s", characterID)
	}
	if name != "" {
		c.Name = name
	}
	if systemPrompt != "" {
		c.SystemPrompt = systemPrompt
	}
	c.UpdatedAt = time.Now()
	return cloneCharacter(c), nil
}

// Delete removes a custom character. If it was active, the default becomes
// active.
func (s *Service) Delete(characterID string) error {
	if characterID == DefaultCharacterID {
		return fmt.Errorf("default character cannot be deleted")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.characters[characterID]; !ok {
		return fmt.Errorf("character not found: %s", characterID)
	}
	delete(s.characters, characterID)
	if s.currentID == characterID {
		s.currentID = DefaultCharacterID
	}

	s.logger.Info("Character deleted", zap.String("character_id", characterID))
	return nil
}

// Activate makes the given character the active one
func (s *Service) Activate(characterID string) (*Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.characters[characterID]
	if !ok {
		return nil, fmt.Errorf("character not found: %s", characterID)
	}
	s.currentID = characterID

	s.logger.Info("Character activated", zap.String("character_id", characterID))
	return cloneCharacter(c), nil
}

// cloneCharacter copies a character so callers cannot mutate registry state
func cloneCharacter(c *Character) *Character {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}
