package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"epsilon-voice/backend/internal/character"
	"epsilon-voice/backend/internal/history"
	"epsilon-voice/backend/internal/llm"
	"epsilon-voice/backend/internal/memory"
	"epsilon-voice/backend/internal/tts"
	"epsilon-voice/backend/pkg/config"
	"epsilon-voice/backend/pkg/logger"
	"go.uber.org/zap"
)

// LLMClient is the completion surface the handlers consume
type LLMClient interface {
	Chat(ctx context.Context, systemPrompt string, history []llm.Message, message string) (string, error)
	StreamChat(ctx context.Context, systemPrompt string, history []llm.Message, message string, fn func(chunk string) error) error
	SetModel(model string)
	GetModel() string
}

// TTSClient is the synthesis surface the handlers consume
type TTSClient interface {
	Synthesize(ctx context.Context, text string, opts tts.Options) ([]byte, error)
	StreamSynthesize(ctx context.Context, text string, opts tts.Options, fn func(chunk []byte) error) error
	SetReferAudio(ctx context.Context, path string) error
	SetGPTWeights(ctx context.Context, path string) error
	SetSoVITSWeights(ctx context.Context, path string) error
}

// MemoryService is the graph memory surface the handlers consume. A nil
// service means graph memory is disabled or failed to initialize.
type MemoryService interface {
	Initialized() bool
	WriteConversation(ctx context.Context, userID, characterID, conversationID string, messages []memory.Message) (*memory.WriteResult, error)
	QueryRelatedContext(ctx context.Context, userID, query string, limit int) string
	QueryGraph(ctx context.Context, userID string, depth int, entityTypes, relationTypes []string) (*memory.GraphData, error)
	Stats(ctx context.Context, userID string) (*memory.GraphStats, error)
	NodeDetails(ctx context.Context, nodeID string) (*memory.NodeDetails, error)
}

// Server wires the HTTP API to the underlying services
type Server struct {
	cfg        *config.Config
	llm        LLMClient
	tts        TTSClient
	characters *character.Service
	memory     MemoryService
	history    *history.Store
	logger     *zap.Logger

	ttsDefaultsMu sync.RWMutex
	ttsDefaults   tts.Options
}

// New creates a server. memorySvc and historyStore may be nil when the
// corresponding subsystem is disabled.
func New(cfg *config.Config, llmClient LLMClient, ttsClient TTSClient, characters *character.Service, memorySvc MemoryService, historyStore *history.Store) *Server {
	return &Server{
		cfg:        cfg,
		llm:        llmClient,
		tts:        ttsClient,
		characters: characters,
		memory:     memorySvc,
		history:    historyStore,
		logger:     logger.Get(),
		ttsDefaults: tts.Options{
			PromptLang:       "zh",
			TextLang:         "zh",
			TextSplitMethod:  "cut5",
			SpeedFactor:      1.0,
			FragmentInterval: 0.3,
			TopK:             5,
			TopP:             1.0,
			Temperature:      1.0,
		},
	}
}

// SetupRouter builds the gin engine with all routes and middleware
func (s *Server) SetupRouter() *gin.Engine {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(s.logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(s.cfg.FrontendURL))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.POST("/chat", s.handleChat)

		api.GET("/characters", s.handleListCharacters)
		api.GET("/characters/current", s.handleCurrentCharacter)
		api.GET("/characters/:id", s.handleGetCharacter)
		api.POST("/characters", s.handleCreateCharacter)
		api.PUT("/characters/:id", s.handleUpdateCharacter)
		api.DELETE("/characters/:id", s.handleDeleteCharacter)
		api.POST("/characters/:id/activate", s.handleActivateCharacter)

		api.POST("/memory/write", s.handleWriteMemory)
		api.GET("/memory/context", s.handleQueryContext)
		api.GET("/graph/query", s.handleQueryGraph)
		api.GET("/graph/stats", s.handleGraphStats)
		api.GET("/graph/node/:id", s.handleNodeDetails)

		api.GET("/conversations", s.handleListConversations)
		api.GET("/conversations/:id", s.handleGetConversation)
		api.GET("/conversations/:id/messages", s.handleGetMessages)
		api.DELETE("/conversations/:id", s.handleDeleteConversation)

		api.POST("/upload/audio", s.handleUploadAudio)

		api.GET("/config", s.handleGetConfig)
		api.POST("/config", s.handleUpdateConfig)
		api.GET("/model", s.handleGetModel)
		api.PUT("/model", s.handleSetModel)
	}

	return router
}

// memoryUnavailableReason explains a 503 on the memory endpoints in terms of
// what the operator needs to fix.
func (s *Server) memoryUnavailableReason() string {
	reason := "Memory service not initialized. "
	switch {
	case !s.cfg.GraphMemoryEnabled:
		reason += "Enable GRAPH_MEMORY_ENABLED in the environment."
	case s.cfg.Neo4jPassword == "":
		reason += "Configure NEO4J_PASSWORD in the environment."
	default:
		reason += "Neo4j connection may have failed. Check server logs for details."
	}
	return reason
}

// memoryAvailable aborts with 503 and returns false when graph memory is
// unusable
func (s *Server) memoryAvailable(c *gin.Context) bool {
	if s.memory == nil || !s.memory.Initialized() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": s.memoryUnavailableReason()})
		return false
	}
	return true
}

func corsMiddleware(frontendURL string) gin.HandlerFunc {
	origin := "*"
	if frontendURL != "" {
		origin = frontendURL
	}
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
