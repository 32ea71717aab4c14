package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CharacterRequest is the create/update request body
type CharacterRequest struct {
	Name         string `json:"name"`
	SystemPrompt string `json:"system_prompt"`
}

func (s *Server) handleListCharacters(c *gin.Context) {
	c.JSON(http.StatusOK, s.characters.List())
}

func (s *Server) handleCurrentCharacter(c *gin.Context) {
	c.JSON(http.StatusOK, s.characters.Current())
}

func (s *Server) handleGetCharacter(c *gin.Context) {
	char := s.characters.Get(c.Param("id"))
	if char == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Character not found"})
		return
	}
	c.JSON(http.StatusOK, char)
}

func (s *Server) handleCreateCharacter(c *gin.Context) {
	var req CharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	char, err := s.characters.Create(req.Name, req.SystemPrompt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, char)
}

func (s *Server) handleUpdateCharacter(c *gin.Context) {
	var req CharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	char, err := s.characters.Update(c.Param("id"), req.Name, req.SystemPrompt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, char)
}

func (s *Server) handleDeleteCharacter(c *gin.Context) {
	if err := s.characters.Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) handleActivateCharacter(c *gin.Context) {
	char, err := s.characters.Activate(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, char)
}
