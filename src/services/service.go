// Package services defines the AI collaborator contracts the call
// orchestrator depends on. Each provider under services/ implements one of
// them; the orchestrator only ever sees these interfaces.
package services

import "context"

// Transcriber converts a WAV-wrapped utterance to text. An empty or blank
// transcript is a valid result for silence.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Conversationalist produces an assistant reply for a caller utterance. It
// is stateful per session: providers keep the multi-turn context keyed by
// session id, and the orchestrator must call ResetConversation when the
// call ends. Replies may embed the [END_CALL] termination marker.
type Conversationalist interface {
	Converse(ctx context.Context, sessionID, text string) (string, error)
	SetSystemPrompt(sessionID, prompt string)
	ResetConversation(sessionID string)
}

// Synthesizer converts reply text to raw 8 kHz 16-bit mono PCM. An empty
// result means "nothing to say" and is not an error.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}
