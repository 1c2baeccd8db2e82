// Package groq implements speech-to-text on the Groq Whisper API. Groq
// exposes an OpenAI-compatible surface, so transcription is a multipart
// upload to /audio/transcriptions.
package groq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ligai-voice/ligai/src/logger"
)

// DefaultBaseURL is the Groq API endpoint.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// DefaultModel is the Whisper model used for call transcription.
const DefaultModel = "whisper-large-v3"

// Option configures the STT provider.
type Option func(*STT)

// WithBaseURL sets a custom base URL (for testing or proxying).
func WithBaseURL(url string) Option {
	return func(s *STT) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *STT) {
		s.httpClient = client
	}
}

// WithModel overrides the Whisper model.
func WithModel(model string) Option {
	return func(s *STT) {
		s.model = model
	}
}

// STT transcribes WAV audio through the Groq Whisper API.
type STT struct {
	apiKey     string
	model      string
	language   string
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// New creates a Groq STT provider. Language defaults to Brazilian
// Portuguese, matching the calls this system places.
func New(apiKey string, opts ...Option) *STT {
	s := &STT{
		apiKey:     apiKey,
		model:      DefaultModel,
		language:   "pt",
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		log:        logger.WithPrefix("GroqSTT"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads the WAV buffer and returns the transcript text.
func (s *STT) Transcribe(ctx context.Context, wav []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", fmt.Errorf("groq: build upload: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("groq: build upload: %w", err)
	}
	mw.WriteField("model", s.model)
	mw.WriteField("language", s.language)
	mw.WriteField("response_format", "json")
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("groq: build upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("groq: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("groq: transcribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("groq: transcribe: status %d: %s", resp.StatusCode, snippet)
	}

	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("groq: decode response: %w", err)
	}

	text := strings.TrimSpace(tr.Text)
	s.log.Debug("transcribed %d bytes -> %q", len(wav), text)
	return text, nil
}
