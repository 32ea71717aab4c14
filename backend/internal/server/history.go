package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"epsilon-voice/backend/pkg/errors"
	"go.uber.org/zap"
)

// historyAvailable aborts with 503 and returns false when the transcript
// store is not configured
func (s *Server) historyAvailable(c *gin.Context) bool {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "History store not configured. Set DATABASE_URL in the environment."})
		return false
	}
	return true
}

func (s *Server) handleListConversations(c *gin.Context) {
	if !s.historyAvailable(c) {
		return
	}

	userID := c.Query("user_id")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	conversations, err := s.history.GetUserConversations(c.Request.Context(), userID, limit)
	if err != nil {
		s.logger.Error("Conversation list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, conversations)
}

func (s *Server) handleGetConversation(c *gin.Context) {
	if !s.historyAvailable(c) {
		return
	}

	conv, err := s.history.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if _, ok := err.(*errors.ErrConversationNotFound); ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
			return
		}
		s.logger.Error("Conversation lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get conversation"})
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (s *Server) handleGetMessages(c *gin.Context) {
	if !s.historyAvailable(c) {
		return
	}

	messages, err := s.history.GetMessages(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.logger.Error("Message list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get messages"})
		return
	}
	c.JSON(http.StatusOK, messages)
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	if !s.historyAvailable(c) {
		return
	}

	if err := s.history.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		if _, ok := err.(*errors.ErrConversationNotFound); ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
			return
		}
		s.logger.Error("Conversation delete failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete conversation"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
