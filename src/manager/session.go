package manager

import (
	"sync"
	"time"

	"github.com/ligai-voice/ligai/src/store"
)

// Voice-activity tuning. Energy is the RMS of a 20ms frame of 16-bit
// samples; the byte thresholds are raw 8 kHz mono PCM, so 16000 bytes is
// one second of speech.
const (
	speechEnergyThreshold = 40.0
	silenceTolerance      = 700 * time.Millisecond
	processThreshold      = 20000
	minProcessBytes       = 8000
	quietTimeout          = 1000 * time.Millisecond
)

// hangupDelay gives the switch time to flush the tail of the farewell
// audio before the channel is torn down.
const hangupDelay = 500 * time.Millisecond

// endCallMarker is emitted by the language model when the conversation
// reached a natural end. It is stripped before synthesis.
const endCallMarker = "[END_CALL]"

// callSession tracks the live state of one audio session. All fields are
// guarded by mu except the channels and ids, which are set once.
type callSession struct {
	mu sync.Mutex

	id     string // server-assigned, known from accept
	callID string // switch-assigned, known after handshake

	meta       store.CallMeta
	hasMeta    bool
	answered   bool
	answeredAt time.Time
	ended      bool

	// Utterance assembly.
	audioBuffer  []byte
	lastHighTime time.Time

	// At most one pipeline pass runs at a time; frames received while the
	// bot is speaking are not treated as caller speech.
	processing      bool
	sendingGreeting bool
	sendingResponse bool

	// Full-call recording, appended from every inbound frame.
	recording []byte

	transcripts []store.TranscriptEntry

	hangupTimer *time.Timer
	startedAt   time.Time
}

func newCallSession(id string) *callSession {
	now := time.Now()
	return &callSession{
		id:           id,
		lastHighTime: now,
		startedAt:    now,
	}
}

// ingestFrame records a frame and decides whether a buffered utterance is
// ready for the pipeline. It returns the utterance to process, or nil.
//
// Only speech frames are buffered, plus trailing frames inside the silence
// tolerance so short pauses stay in the same utterance. Pure silence never
// enters the buffer, so a quiet line costs no transcription round-trips.
func (s *callSession) ingestFrame(frame []byte, energy float64, now time.Time) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recording = append(s.recording, frame...)

	if s.sendingGreeting || s.sendingResponse || s.processing {
		return nil
	}

	hasSpeech := energy > speechEnergyThreshold
	if hasSpeech {
		s.lastHighTime = now
	}
	quiet := now.Sub(s.lastHighTime)

	if hasSpeech || (quiet <= silenceTolerance && len(s.audioBuffer) > 0) {
		s.audioBuffer = append(s.audioBuffer, frame...)
	}

	// A full buffer flushes immediately, even mid-speech; a shorter one
	// waits for the long quiet timeout.
	ready := len(s.audioBuffer) >= processThreshold ||
		(len(s.audioBuffer) >= minProcessBytes && quiet > quietTimeout)
	if !ready {
		return nil
	}

	utterance := s.audioBuffer
	s.audioBuffer = nil
	s.processing = true
	return utterance
}

// markEnded flags the session as torn down so in-flight pipeline passes
// discard their results instead of applying them to a removed session.
func (s *callSession) markEnded() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}

func (s *callSession) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *callSession) doneProcessing() {
	s.mu.Lock()
	s.processing = false
	s.lastHighTime = time.Now()
	s.mu.Unlock()
}

func (s *callSession) addTranscript(role, content string) {
	s.mu.Lock()
	s.transcripts = append(s.transcripts, store.TranscriptEntry{
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	})
	s.mu.Unlock()
}

func (s *callSession) transcriptCopy() []store.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.TranscriptEntry, len(s.transcripts))
	copy(out, s.transcripts)
	return out
}

func (s *callSession) recordingCopy() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.recording))
	copy(out, s.recording)
	return out
}

// cancelHangup stops a scheduled hangup, if any. Safe to call during
// teardown regardless of timer state.
func (s *callSession) cancelHangup() {
	s.mu.Lock()
	if s.hangupTimer != nil {
		s.hangupTimer.Stop()
		s.hangupTimer = nil
	}
	s.mu.Unlock()
}
