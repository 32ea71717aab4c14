package server

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// allowedAudioExtensions are the reference audio formats the synthesis
// engine accepts
var allowedAudioExtensions = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true, ".m4a": true,
}

// handleUploadAudio stores a reference audio file and returns its path for
// use as ref_audio_path in chat requests
func (s *Server) handleUploadAudio(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file"})
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	if !allowedAudioExtensions[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file format, expected one of: .wav, .mp3, .flac, .ogg, .m4a"})
		return
	}

	uploadDir := s.cfg.UploadDir
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		s.logger.Error("Upload directory creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
		return
	}

	filename := uuid.New().String() + ext
	dst := filepath.Join(uploadDir, filename)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		s.logger.Error("Upload save failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
		return
	}

	s.logger.Info("Audio file uploaded",
		zap.String("filename", file.Filename),
		zap.String("path", dst),
	)
	c.JSON(http.StatusOK, gin.H{
		"filename": filename,
		"path":     dst,
		"size":     file.Size,
	})
}
