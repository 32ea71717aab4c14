package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"epsilon-voice/backend/internal/llm"
	"epsilon-voice/backend/internal/memory"
	"epsilon-voice/backend/internal/tts"
	"go.uber.org/zap"
)

const (
	contextLineLimit   = 10
	memoryWriteTimeout = 2 * time.Minute
)

var validTextLangs = map[string]bool{
	"zh": true, "en": true, "ja": true, "ko": true, "yue": true,
}

var validMediaTypes = map[string]bool{
	"wav": true, "raw": true, "ogg": true, "aac": true, "fmp4": true,
}

// ChatConfig carries the synthesis parameters for one chat turn
type ChatConfig struct {
	RefAudioPath     string   `json:"ref_audio_path"`
	PromptText       string   `json:"prompt_text"`
	PromptLang       string   `json:"prompt_lang"`
	TextLang         string   `json:"text_lang"`
	TextSplitMethod  string   `json:"text_split_method"`
	SpeedFactor      float64  `json:"speed_factor"`
	FragmentInterval float64  `json:"fragment_interval"`
	TopK             int      `json:"top_k"`
	TopP             float64  `json:"top_p"`
	Temperature      float64  `json:"temperature"`
	StreamingMode    int      `json:"streaming_mode"`
	MediaType        string   `json:"media_type"`
	AuxRefAudioPaths []string `json:"aux_ref_audio_paths"`
}

// ChatRequest is the chat endpoint's request body
type ChatRequest struct {
	Message        string        `json:"message"`
	History        []llm.Message `json:"history"`
	UserID         string        `json:"user_id"`
	ConversationID string        `json:"conversation_id"`
	Config         ChatConfig    `json:"config"`
}

// handleChat streams one chat turn over SSE: text fragments while the reply
// generates, a completion event with the full text, then synthesized audio
// chunks. Memory and transcript writes happen in the background after the
// stream ends.
func (s *Server) handleChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Message must not be empty"})
		return
	}
	if req.Config.RefAudioPath == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Reference audio path must not be empty"})
		return
	}
	if !validTextLangs[req.Config.TextLang] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported text language"})
		return
	}
	if req.Config.StreamingMode < 0 || req.Config.StreamingMode > 3 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "streaming_mode must be 0-3"})
		return
	}
	if req.Config.MediaType != "" && !validMediaTypes[req.Config.MediaType] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported media_type, expected one of: wav, raw, ogg, aac, fmp4"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)

	ctx := c.Request.Context()
	currentCharacter := s.characters.Current()
	systemPrompt := s.buildSystemPrompt(ctx, currentCharacter.SystemPrompt, req.UserID, req.Message)

	var fullText strings.Builder
	err := s.llm.StreamChat(ctx, systemPrompt, req.History, req.Message, func(chunk string) error {
		fullText.WriteString(chunk)
		return s.sendEvent(c, gin.H{"type": "text", "content": chunk})
	})
	if err != nil {
		s.logger.Error("Chat stream failed", zap.Error(err))
		s.sendEvent(c, gin.H{"type": "error", "error": fmt.Sprintf("Reply generation failed: %v", err)})
		return
	}

	if err := s.sendEvent(c, gin.H{"type": "complete", "text": fullText.String()}); err != nil {
		return
	}

	s.streamAudio(c, fullText.String(), req.Config)

	// The client already has the full reply; persistence must not hold the
	// stream open or be cancelled with the request context.
	go s.persistTurn(req, currentCharacter.ID, fullText.String())
}

// buildSystemPrompt augments the character prompt with graph memory context
// relevant to the user's message
func (s *Server) buildSystemPrompt(ctx context.Context, basePrompt, userID, message string) string {
	if userID == "" || s.memory == nil || !s.memory.Initialized() {
		return basePrompt
	}

	memCtx := s.memory.QueryRelatedContext(ctx, userID, message, contextLineLimit)
	if memCtx == "" {
		return basePrompt
	}

	return basePrompt + "\n\nWhat you remember about this user:\n" + memCtx
}

// streamAudio synthesizes the reply and forwards audio chunks as SSE events.
// Synthesis failure is reported inline on the stream, never as an HTTP
// error.
func (s *Server) streamAudio(c *gin.Context, text string, cfg ChatConfig) {
	if err := s.sendEvent(c, gin.H{"type": "audio_start"}); err != nil {
		return
	}

	opts := tts.Options{
		TextLang:         cfg.TextLang,
		RefAudioPath:     cfg.RefAudioPath,
		PromptText:       cfg.PromptText,
		PromptLang:       cfg.PromptLang,
		TextSplitMethod:  cfg.TextSplitMethod,
		SpeedFactor:      cfg.SpeedFactor,
		FragmentInterval: cfg.FragmentInterval,
		TopK:             cfg.TopK,
		TopP:             cfg.TopP,
		Temperature:      cfg.Temperature,
		MediaType:        cfg.MediaType,
		StreamingMode:    cfg.StreamingMode,
		AuxRefAudioPaths: cfg.AuxRefAudioPaths,
	}

	chunkIndex := 0
	err := s.tts.StreamSynthesize(c.Request.Context(), text, opts, func(chunk []byte) error {
		encoded := base64.StdEncoding.EncodeToString(chunk)
		if err := s.sendEvent(c, gin.H{
			"type":  "audio_chunk",
			"data":  encoded,
			"index": chunkIndex,
			"size":  len(chunk),
		}); err != nil {
			return err
		}
		chunkIndex++
		return nil
	})
	if err != nil {
		s.logger.Error("TTS streaming failed", zap.Error(err))
		s.sendEvent(c, gin.H{"type": "error", "error": fmt.Sprintf("Audio generation failed: %v", err)})
		return
	}

	s.sendEvent(c, gin.H{"type": "audio_complete", "total_chunks": chunkIndex})
}

// persistTurn writes the finished turn to graph memory and the transcript
// store. Both writes are best effort.
func (s *Server) persistTurn(req ChatRequest, characterID, reply string) {
	ctx, cancel := context.WithTimeout(context.Background(), memoryWriteTimeout)
	defer cancel()

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	if s.history != nil && req.UserID != "" {
		if err := s.history.CreateConversation(ctx, conversationID, req.UserID, conversationTitle(req.Message)); err != nil {
			s.logger.Warn("Transcript conversation write failed", zap.Error(err))
		} else {
			if _, err := s.history.AddMessage(ctx, conversationID, "user", req.Message); err != nil {
				s.logger.Warn("Transcript message write failed", zap.Error(err))
			}
			if _, err := s.history.AddMessage(ctx, conversationID, "assistant", reply); err != nil {
				s.logger.Warn("Transcript message write failed", zap.Error(err))
			}
		}
	}

	if s.memory == nil || !s.memory.Initialized() || req.UserID == "" {
		return
	}

	messages := []memory.Message{
		{Role: "user", Content: req.Message},
		{Role: "assistant", Content: reply},
	}
	if _, err := s.memory.WriteConversation(ctx, req.UserID, characterID, conversationID, messages); err != nil {
		s.logger.Warn("Background memory write failed",
			zap.Error(err),
			zap.String("user_id", req.UserID),
		)
	}
}

// conversationTitle derives a short title from the opening message,
// truncating on rune boundaries so multibyte text is never split mid-rune.
func conversationTitle(message string) string {
	const maxTitleRunes = 50
	runes := []rune(message)
	if len(runes) <= maxTitleRunes {
		return message
	}
	return string(runes[:maxTitleRunes])
}

// sendEvent writes one SSE data event and flushes it to the client
func (s *Server) sendEvent(c *gin.Context, payload gin.H) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
