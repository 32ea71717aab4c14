package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"epsilon-voice/backend/pkg/errors"
	"epsilon-voice/backend/pkg/logger"
	"go.uber.org/zap"
)

const (
	defaultTimeout  = 30 * time.Second
	maxRetries      = 3
	streamChunkSize = 32 * 1024
)

// leadingPunctuation are characters stripped from the start of synthesis
// text; the synthesis engine mishandles fragments that open with them.
var leadingPunctuation = "，,。.！!？?、"

// Options configures a synthesis request. Zero-value fields fall back to the
// engine defaults applied in payload construction.
type Options struct {
	TextLang         string   `json:"text_lang"`
	RefAudioPath     string   `json:"ref_audio_path"`
	PromptText       string   `json:"prompt_text"`
	PromptLang       string   `json:"prompt_lang"`
	TextSplitMethod  string   `json:"text_split_method"`
	SpeedFactor      float64  `json:"speed_factor"`
	FragmentInterval float64  `json:"fragment_interval"`
	TopK             int      `json:"top_k"`
	TopP             float64  `json:"top_p"`
	Temperature      float64  `json:"temperature"`
	MediaType        string   `json:"media_type"`
	StreamingMode    int      `json:"streaming_mode"`
	AuxRefAudioPaths []string `json:"aux_ref_audio_paths"`
}

// Client talks to a GPT-SoVITS inference server over HTTP
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a synthesis client for the given base URL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger.Get(),
	}
}

// cleanText strips whitespace and leading punctuation. Returns "" when
// nothing synthesizable remains.
func cleanText(text string) string {
	text = strings.TrimSpace(text)
	for text != "" {
		r := []rune(text)[0]
		if !strings.ContainsRune(leadingPunctuation, r) {
			break
		}
		text = strings.TrimSpace(text[len(string(r)):])
	}
	return text
}

// buildPayload merges the request options over the engine defaults
func buildPayload(text string, opts Options) map[string]interface{} {
	if opts.PromptLang == "" {
		opts.PromptLang = "zh"
	}
	if opts.TextSplitMethod == "" {
		opts.TextSplitMethod = "cut5"
	}
	if opts.SpeedFactor == 0 {
		opts.SpeedFactor = 1.0
	}
	if opts.FragmentInterval == 0 {
		opts.FragmentInterval = 0.3
	}
	if opts.TopK == 0 {
		opts.TopK = 5
	}
	if opts.TopP == 0 {
		opts.TopP = 1.0
	}
	if opts.Temperature == 0 {
		opts.Temperature = 1.0
	}
	if opts.MediaType == "" {
		opts.MediaType = "wav"
	}
	if opts.AuxRefAudioPaths == nil {
		opts.AuxRefAudioPaths = []string{}
	}

	return map[string]interface{}{
		"text":                text,
		"text_lang":           strings.ToLower(opts.TextLang),
		"ref_audio_path":      opts.RefAudioPath,
		"prompt_lang":         strings.ToLower(opts.PromptLang),
		"prompt_text":         strings.TrimSpace(opts.PromptText),
		"top_k":               opts.TopK,
		"top_p":               opts.TopP,
		"temperature":         opts.Temperature,
		"text_split_method":   opts.TextSplitMethod,
		"batch_size":          1,
		"batch_threshold":     0.75,
		"split_bucket":        opts.StreamingMode == 0,
		"speed_factor":        opts.SpeedFactor,
		"fragment_interval":   opts.FragmentInterval,
		"seed":                -1,
		"media_type":          opts.MediaType,
		"parallel_infer":      true,
		"repetition_penalty":  1.35,
		"sample_steps":        32,
		"super_sampling":      false,
		"streaming_mode":      opts.StreamingMode > 0,
		"overlap_length":      2,
		"min_chunk_length":    16,
		"aux_ref_audio_paths": opts.AuxRefAudioPaths,
	}
}

// Synthesize converts text to audio in one request and returns the raw audio
// bytes. Server errors >= 500 and timeouts are retried with exponential
// backoff; 4xx responses fail immediately.
func (c *Client) Synthesize(ctx context.Context, text string, opts Options) ([]byte, error) {
	text = cleanText(text)
	if text == "" {
		return nil, errors.NewTTSFailed(0, fmt.Errorf("text is empty after cleaning"))
	}

	opts.StreamingMode = 0
	body, err := json.Marshal(buildPayload(text, opts))
	if err != nil {
		return nil, errors.NewTTSFailed(0, err)
	}

	var lastStatus int
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			c.logger.Info("Retrying TTS request",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		audio, status, err := c.post(ctx, text, body)
		if err == nil {
			c.logger.Info("TTS conversion successful", zap.Int("text_length", len(text)))
			return audio, nil
		}
		lastStatus, lastErr = status, err

		// 4xx means the payload is wrong; retrying cannot help.
		if status >= 400 && status < 500 {
			break
		}
	}

	return nil, errors.NewTTSFailed(lastStatus, lastErr)
}

func (c *Client) post(ctx context.Context, text string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("TTS API error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(errBody)),
			zap.String("text", truncate(text, 100)),
		)
		return nil, resp.StatusCode, fmt.Errorf("tts request failed with status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return audio, resp.StatusCode, nil
}

// StreamSynthesize converts text to audio with the engine in streaming mode
// and invokes fn for each audio chunk as it arrives. A non-nil error from fn
// stops the stream. Streaming requests are not retried; a partially
// delivered stream cannot be resumed.
func (c *Client) StreamSynthesize(ctx context.Context, text string, opts Options, fn func(chunk []byte) error) error {
	text = cleanText(text)
	if text == "" {
		return errors.NewTTSFailed(0, fmt.Errorf("text is empty after cleaning"))
	}

	if opts.StreamingMode <= 0 {
		opts.StreamingMode = 1
	}
	body, err := json.Marshal(buildPayload(text, opts))
	if err != nil {
		return errors.NewTTSFailed(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts", bytes.NewReader(body))
	if err != nil {
		return errors.NewTTSFailed(0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	// The default client timeout would cut long streams short.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return errors.NewTTSFailed(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("TTS streaming error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(errBody)),
		)
		return errors.NewTTSFailed(resp.StatusCode, fmt.Errorf("tts stream failed with status %d", resp.StatusCode))
	}

	buf := make([]byte, streamChunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if cbErr := fn(chunk); cbErr != nil {
				return cbErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.NewTTSFailed(resp.StatusCode, err)
		}
	}
}

// SetReferAudio sets the engine's global reference audio
func (c *Client) SetReferAudio(ctx context.Context, path string) error {
	return c.getWithParam(ctx, "/set_refer_audio", "refer_audio_path", path)
}

// SetGPTWeights switches the engine's GPT model weights
func (c *Client) SetGPTWeights(ctx context.Context, path string) error {
	path = strings.Trim(strings.TrimSpace(path), `"'`)
	if path == "" {
		return errors.NewTTSFailed(0, fmt.Errorf("weights path is empty"))
	}
	return c.getWithParam(ctx, "/set_gpt_weights", "weights_path", path)
}

// SetSoVITSWeights switches the engine's SoVITS model weights
func (c *Client) SetSoVITSWeights(ctx context.Context, path string) error {
	path = strings.Trim(strings.TrimSpace(path), `"'`)
	if path == "" {
		return errors.NewTTSFailed(0, fmt.Errorf("weights path is empty"))
	}
	return c.getWithParam(ctx, "/set_sovits_weights", "weights_path", path)
}

func (c *Client) getWithParam(ctx context.Context, endpoint, key, value string) error {
	params := url.Values{}
	params.Set(key, value)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return errors.NewTTSFailed(0, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NewTTSFailed(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("TTS engine configuration failed",
			zap.String("endpoint", endpoint),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(errBody)),
		)
		return errors.NewTTSFailed(resp.StatusCode, fmt.Errorf("%s failed with status %d", endpoint, resp.StatusCode))
	}

	c.logger.Info("TTS engine configured",
		zap.String("endpoint", endpoint),
		zap.String(key, value),
	)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
