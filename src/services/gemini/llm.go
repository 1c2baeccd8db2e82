// Package gemini implements the conversational backend on the Google
// Gemini API, as an alternative to OpenRouter (selected with
// AI_PROVIDER=gemini). History is kept per session id in Gemini's
// content format.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/ligai-voice/ligai/src/logger"
)

// maxHistoryContents caps the per-session history; older turns are dropped
// from the front.
const maxHistoryContents = 20

type conversation struct {
	system   string
	contents []*genai.Content
}

// LLM drives multi-turn conversations through the Gemini API.
type LLM struct {
	client *genai.Client
	model  string
	log    *logger.Logger

	mu            sync.Mutex
	conversations map[string]*conversation
}

// New creates a Gemini provider for the given model.
func New(ctx context.Context, apiKey, model string) (*LLM, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &LLM{
		client:        client,
		model:         model,
		log:           logger.WithPrefix("Gemini"),
		conversations: make(map[string]*conversation),
	}, nil
}

// SetSystemPrompt sets (or replaces) the system instruction for a session.
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

// Converse sends the session history plus the caller's text and returns the
// model reply.
func (l *LLM) Converse(ctx context.Context, sessionID, text string) (string, error) {
	l.mu.Lock()
	conv := l.conversations[sessionID]
	if conv == nil {
		conv = &conversation{}
		l.conversations[sessionID] = conv
	}
	contents := make([]*genai.Content, 0, len(conv.contents)+1)
	contents = append(contents, conv.contents...)
	contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	system := conv.system
	l.mu.Unlock()

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.7),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := l.client.Models.GenerateContent(ctx, l.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}

	reply := strings.TrimSpace(resp.Text())
	if reply == "" {
		return "", fmt.Errorf("gemini: empty completion")
	}

	l.mu.Lock()
	if conv, ok := l.conversations[sessionID]; ok {
		conv.contents = append(conv.contents,
			genai.NewContentFromText(text, genai.RoleUser),
			genai.NewContentFromText(reply, genai.RoleModel))
		if len(conv.contents) > maxHistoryContents {
			conv.contents = conv.contents[len(conv.contents)-maxHistoryContents:]
		}
	}
	l.mu.Unlock()

	l.log.Debug("session %s: %d history contents", sessionID, len(contents))
	return reply, nil
}
