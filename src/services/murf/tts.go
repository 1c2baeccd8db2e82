// Package murf implements text-to-speech on the Murf.ai API, requesting
// raw 8 kHz 16-bit mono PCM so the result can be streamed to the switch
// without conversion.
package murf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ligai-voice/ligai/src/logger"
)

// DefaultBaseURL is the Murf API endpoint.
const DefaultBaseURL = "https://api.murf.ai/v1"

// Option configures the TTS provider.
type Option func(*TTS)

// WithBaseURL sets a custom base URL (for testing or proxying).
func WithBaseURL(url string) Option {
	return func(t *TTS) {
		t.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(t *TTS) {
		t.httpClient = client
	}
}

// Config holds the voice settings for synthesis.
type Config struct {
	APIKey  string
	VoiceID string // e.g. "Isadora"
	Style   string // e.g. "Conversational"
	Model   string // e.g. "GEN2"
}

// TTS synthesizes reply audio through Murf.ai.
type TTS struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// New creates a Murf TTS provider.
func New(cfg Config, opts ...Option) *TTS {
	t := &TTS{
		cfg:        cfg,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		log:        logger.WithPrefix("MurfTTS"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type speechRequest struct {
	Text        string `json:"text"`
	VoiceID     string `json:"voiceId"`
	Style       string `json:"style,omitempty"`
	Model       string `json:"model,omitempty"`
	Format      string `json:"format"`
	SampleRate  int    `json:"sampleRate"`
	ChannelType string `json:"channelType"`
}

// Synthesize converts text to raw PCM. Blank text yields an empty, non-error
// result.
func (t *TTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	payload, err := json.Marshal(speechRequest{
		Text:        text,
		VoiceID:     t.cfg.VoiceID,
		Style:       t.cfg.Style,
		Model:       t.cfg.Model,
		Format:      "PCM",
		SampleRate:  8000,
		ChannelType: "MONO",
	})
	if err != nil {
		return nil, fmt.Errorf("murf: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/speech/stream", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("murf: build request: %w", err)
	}
	req.Header.Set("api-key", t.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("murf: synthesize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("murf: synthesize: status %d: %s", resp.StatusCode, snippet)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("murf: read audio: %w", err)
	}

	t.log.Debug("synthesized %d bytes for %d chars", len(pcm), len(text))
	return pcm, nil
}
