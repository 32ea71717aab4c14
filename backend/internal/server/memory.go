package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"epsilon-voice/backend/internal/memory"
	"epsilon-voice/backend/pkg/errors"
	"go.uber.org/zap"
)

// WriteMemoryRequest is the explicit memory write request body
type WriteMemoryRequest struct {
	UserID         string           `json:"user_id" binding:"required"`
	ConversationID string           `json:"conversation_id"`
	CharacterID    string           `json:"character_id"`
	Messages       []memory.Message `json:"messages" binding:"required"`
}

// handleWriteMemory extracts and stores graph memory from a supplied
// transcript. Extraction failure after validation is reported in the body
// with success=false rather than an error status, so clients can fire and
// forget.
func (s *Server) handleWriteMemory(c *gin.Context) {
	if !s.memoryAvailable(c) {
		return
	}

	var req WriteMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.memory.WriteConversation(c.Request.Context(), req.UserID, req.CharacterID, req.ConversationID, req.Messages)
	if err != nil {
		s.logger.Error("Memory write failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"entities_count":  result.EntitiesCount,
		"relations_count": result.RelationsCount,
	})
}

// handleQueryContext returns prompt-ready context lines for a query
func (s *Server) handleQueryContext(c *gin.Context) {
	if !s.memoryAvailable(c) {
		return
	}

	userID := c.Query("user_id")
	query := c.Query("query")
	if userID == "" || query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and query are required"})
		return
	}

	limit := 10
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	context := s.memory.QueryRelatedContext(c.Request.Context(), userID, query, limit)
	c.JSON(http.StatusOK, gin.H{"context": context})
}

// handleQueryGraph returns the user's subgraph for visualization
func (s *Server) handleQueryGraph(c *gin.Context) {
	if !s.memoryAvailable(c) {
		return
	}

	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	depth := 2
	if raw := c.Query("depth"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			depth = parsed
		}
	}

	entityTypes := splitCSV(c.Query("entity_types"))
	relationTypes := splitCSV(c.Query("relation_types"))

	data, err := s.memory.QueryGraph(c.Request.Context(), userID, depth, entityTypes, relationTypes)
	if err != nil {
		s.logger.Error("Graph query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Graph query failed"})
		return
	}

	c.JSON(http.StatusOK, data)
}

// splitCSV parses a comma-separated query parameter into trimmed,
// non-empty values
func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	var values []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

// handleGraphStats returns aggregate counts for the user's subgraph
func (s *Server) handleGraphStats(c *gin.Context) {
	if !s.memoryAvailable(c) {
		return
	}

	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	stats, err := s.memory.Stats(c.Request.Context(), userID)
	if err != nil {
		s.logger.Error("Stats query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// handleNodeDetails returns one node with its direct relations
func (s *Server) handleNodeDetails(c *gin.Context) {
	if !s.memoryAvailable(c) {
		return
	}

	nodeID := c.Param("id")
	details, err := s.memory.NodeDetails(c.Request.Context(), nodeID)
	if err != nil {
		if _, ok := err.(*errors.ErrNodeNotFound); ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Node not found"})
			return
		}
		s.logger.Error("Node lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get node details"})
		return
	}

	c.JSON(http.StatusOK, details)
}
