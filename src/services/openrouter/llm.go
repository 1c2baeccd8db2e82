// Package openrouter implements the conversational backend on the
// OpenRouter chat-completions API (OpenAI-compatible). Conversation history
// is kept per session id and must be released with ResetConversation when
// the call ends.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/ligai-voice/ligai/src/logger"
)

// DefaultBaseURL is the OpenRouter API endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// maxHistoryMessages caps the non-system history sent per request; older
// turns are dropped from the front.
const maxHistoryMessages = 20

// Option configures the LLM provider.
type Option func(*LLM)

// WithBaseURL sets a custom base URL (for testing or proxying).
func WithBaseURL(url string) Option {
	return func(l *LLM) {
		l.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(l *LLM) {
		l.httpClient = client
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type conversation struct {
	system   string
	messages []message
}

// LLM drives multi-turn conversations through OpenRouter.
type LLM struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger

	mu            sync.Mutex
	conversations map[string]*conversation
}

// New creates an OpenRouter provider for the given model.
func New(apiKey, model string, opts ...Option) *LLM {
	l := &LLM{
		apiKey:        apiKey,
		model:         model,
		baseURL:       DefaultBaseURL,
		httpClient:    &http.Client{},
		log:           logger.WithPrefix("OpenRouter"),
		conversations: make(map[string]*conversation),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetSystemPrompt sets (or replaces) the system prompt for a session.
func (l *LLM) SetSystemPrompt(sessionID, prompt string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	conv := l.conversations[sessionID]
	if conv == nil {
		conv = &conversation{}
		l.conversations[sessionID] = conv
	}
	conv.system = prompt
}

// ResetConversation releases the history held for a session.
func (l *LLM) ResetConversation(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.conversations, sessionID)
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Converse appends the caller's text to the session history, requests a
// completion, records the reply in the history, and returns it.
func (l *LLM) Converse(ctx context.Context, sessionID, text string) (string, error) {
	l.mu.Lock()
	conv := l.conversations[sessionID]
	if conv == nil {
		conv = &conversation{}
		l.conversations[sessionID] = conv
	}
	conv.messages = append(conv.messages, message{Role: "user", Content: text})

	msgs := make([]message, 0, len(conv.messages)+1)
	if conv.system != "" {
		msgs = append(msgs, message{Role: "system", Content: conv.system})
	}
	msgs = append(msgs, conv.messages...)
	l.mu.Unlock()

	payload, err := json.Marshal(chatRequest{
		Model:       l.model,
		Messages:    msgs,
		Temperature: 0.7,
		MaxTokens:   150,
	})
	if err != nil {
		return "", fmt.Errorf("openrouter: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		l.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("openrouter: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+l.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("HTTP-Referer", "https://github.com/ligai-voice/ligai")
	req.Header.Set("X-Title", "LigAI")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openrouter: chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("openrouter: chat: status %d: %s", resp.StatusCode, snippet)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", fmt.Errorf("openrouter: decode response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("openrouter: empty completion")
	}

	reply := strings.TrimSpace(cr.Choices[0].Message.Content)

	l.mu.Lock()
	if conv, ok := l.conversations[sessionID]; ok {
		conv.messages = append(conv.messages, message{Role: "assistant", Content: reply})
		if len(conv.messages) > maxHistoryMessages {
			conv.messages = conv.messages[len(conv.messages)-maxHistoryMessages:]
		}
	}
	l.mu.Unlock()

	l.log.Debug("session %s: %d history messages", sessionID, len(msgs))
	return reply, nil
}
