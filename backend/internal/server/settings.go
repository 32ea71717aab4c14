package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ConfigUpdateRequest carries synthesis defaults plus optional engine weight
// switches. Zero-value fields leave the stored default unchanged.
type ConfigUpdateRequest struct {
	RefAudioPath      string  `json:"ref_audio_path"`
	PromptText        string  `json:"prompt_text"`
	PromptLang        string  `json:"prompt_lang"`
	TextLang          string  `json:"text_lang"`
	TextSplitMethod   string  `json:"text_split_method"`
	SpeedFactor       float64 `json:"speed_factor"`
	FragmentInterval  float64 `json:"fragment_interval"`
	TopK              int     `json:"top_k"`
	TopP              float64 `json:"top_p"`
	Temperature       float64 `json:"temperature"`
	GPTWeightsPath    string  `json:"gpt_weights_path"`
	SoVITSWeightsPath string  `json:"sovits_weights_path"`
}

// handleGetConfig returns the stored synthesis defaults
func (s *Server) handleGetConfig(c *gin.Context) {
	s.ttsDefaultsMu.RLock()
	defaults := s.ttsDefaults
	s.ttsDefaultsMu.RUnlock()

	c.JSON(http.StatusOK, defaults)
}

// handleUpdateConfig updates the synthesis defaults and applies weight and
// reference audio changes to the engine
func (s *Server) handleUpdateConfig(c *gin.Context) {
	var req ConfigUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if req.TextLang != "" && !validTextLangs[req.TextLang] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported text language"})
		return
	}

	s.ttsDefaultsMu.Lock()
	if req.RefAudioPath != "" {
		s.ttsDefaults.RefAudioPath = req.RefAudioPath
	}
	if req.PromptText != "" {
		s.ttsDefaults.PromptText = req.PromptText
	}
	if req.PromptLang != "" {
		s.ttsDefaults.PromptLang = req.PromptLang
	}
	if req.TextLang != "" {
		s.ttsDefaults.TextLang = req.TextLang
	}
	if req.TextSplitMethod != "" {
		s.ttsDefaults.TextSplitMethod = req.TextSplitMethod
	}
	if req.SpeedFactor > 0 {
		s.ttsDefaults.SpeedFactor = req.SpeedFactor
	}
	if req.FragmentInterval > 0 {
		s.ttsDefaults.FragmentInterval = req.FragmentInterval
	}
	if req.TopK > 0 {
		s.ttsDefaults.TopK = req.TopK
	}
	if req.TopP > 0 {
		s.ttsDefaults.TopP = req.TopP
	}
	if req.Temperature > 0 {
		s.ttsDefaults.Temperature = req.Temperature
	}
	s.ttsDefaultsMu.Unlock()

	ctx := c.Request.Context()
	if req.GPTWeightsPath != "" {
		if err := s.tts.SetGPTWeights(ctx, req.GPTWeightsPath); err != nil {
			s.logger.Error("GPT weights switch failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to set GPT weights"})
			return
		}
	}
	if req.SoVITSWeightsPath != "" {
		if err := s.tts.SetSoVITSWeights(ctx, req.SoVITSWeightsPath); err != nil {
			s.logger.Error("SoVITS weights switch failed", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to set SoVITS weights"})
			return
		}
	}
	if req.RefAudioPath != "" {
		if err := s.tts.SetReferAudio(ctx, req.RefAudioPath); err != nil {
			// Not every engine build supports the endpoint; the path still
			// works per request.
			s.logger.Warn("Reference audio switch failed", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// handleGetModel returns the completion model currently in use
func (s *Server) handleGetModel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"model": s.llm.GetModel()})
}

// handleSetModel switches the completion model at runtime
func (s *Server) handleSetModel(c *gin.Context) {
	var req struct {
		Model string `json:"model" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model is required"})
		return
	}

	s.llm.SetModel(req.Model)
	s.logger.Info("Model updated", zap.String("model", req.Model))
	c.JSON(http.StatusOK, gin.H{"model": s.llm.GetModel()})
}
