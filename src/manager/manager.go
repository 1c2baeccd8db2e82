// Package manager orchestrates live calls. It consumes AudioSocket
// transport events on a single loop and joins the AMI originator, the
// speech pipeline (STT, LLM, TTS), the store, the dashboard broadcaster
// and the webhook notifier around each call session.
package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ligai-voice/ligai/src/ami"
	"github.com/ligai-voice/ligai/src/audio"
	"github.com/ligai-voice/ligai/src/audiosocket"
	"github.com/ligai-voice/ligai/src/logger"
	"github.com/ligai-voice/ligai/src/services"
	"github.com/ligai-voice/ligai/src/store"
)

// pendingTTL bounds how long an origination waits for its audio session to
// arrive before the metadata is discarded.
const pendingTTL = 2 * time.Minute

// greetingText is spoken (and transcribed) as the bot's opening line.
const greetingText = "Olá, aqui é da Addebitare, você tem precatórios para vender?"

// systemPrompt frames every conversation. The model signals a finished
// conversation by appending the end marker to its last reply.
const systemPrompt = `Você é uma atendente virtual da Addebitare, empresa especializada na compra de precatórios.
Seu objetivo é descobrir se a pessoa possui precatórios e tem interesse em vendê-los.
Seja cordial, objetiva e fale em português do Brasil, com respostas curtas adequadas a uma ligação telefônica.
Se a pessoa demonstrar interesse, diga que um especialista entrará em contato e encerre.
Se a pessoa não tiver precatórios ou não quiser falar, agradeça e encerre educadamente.
Quando a conversa chegar ao fim, termine sua última frase com [END_CALL].`

// Originator places outbound calls through the switch.
type Originator interface {
	OriginateCall(ctx context.Context, phone string) (ami.Message, error)
	Connected() bool
}

// AudioTransport is the slice of the AudioSocket server the manager drives.
type AudioTransport interface {
	Events() <-chan audiosocket.Event
	SendAudio(sessionID string, pcm []byte) error
	SendHangup(sessionID string) error
	StopSilence(sessionID string)
	EndSession(sessionID string) error
}

// Broadcaster pushes dashboard events. A nil broadcaster disables pushes.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Config holds the orchestrator's media settings.
type Config struct {
	GreetingPath  string
	RecordingsDir string
}

type pendingOrigination struct {
	meta store.CallMeta
	at   time.Time
}

// Manager owns all live call sessions and the pending origination queue.
type Manager struct {
	cfg         Config
	transport   AudioTransport
	originator  Originator
	store       store.Store
	stt         services.Transcriber
	llm         services.Conversationalist
	tts         services.Synthesizer
	broadcaster Broadcaster
	notifier    *Notifier
	log         *logger.Logger

	greeting []byte

	mu       sync.Mutex
	sessions map[string]*callSession
	pending  []*pendingOrigination

	wg sync.WaitGroup
}

// New wires the orchestrator. The greeting clip is loaded eagerly; a
// missing file only disables the spoken greeting.
func New(cfg Config, transport AudioTransport, originator Originator, st store.Store,
	stt services.Transcriber, llm services.Conversationalist, tts services.Synthesizer,
	broadcaster Broadcaster) *Manager {

	m := &Manager{
		cfg:         cfg,
		transport:   transport,
		originator:  originator,
		store:       st,
		stt:         stt,
		llm:         llm,
		tts:         tts,
		broadcaster: broadcaster,
		notifier:    NewNotifier(),
		log:         logger.WithPrefix("CallManager"),
		sessions:    make(map[string]*callSession),
	}

	if cfg.GreetingPath != "" {
		clip, err := os.ReadFile(cfg.GreetingPath)
		if err != nil {
			m.log.Warn("greeting clip unavailable (%v), calls start without greeting", err)
		} else {
			m.greeting = clip
			m.log.Info("loaded greeting clip (%d bytes)", len(clip))
		}
	}
	return m
}

// Run consumes transport events until the context is cancelled or the
// event channel closes. All session mutations happen on this goroutine;
// the speech pipeline runs on per-utterance goroutines.
func (m *Manager) Run(ctx context.Context) {
	m.log.Info("call manager running")
	for {
		select {
		case <-ctx.Done():
			m.log.Info("call manager stopping")
			m.wg.Wait()
			return
		case ev, ok := <-m.transport.Events():
			if !ok {
				m.log.Info("audio transport closed")
				m.wg.Wait()
				return
			}
			m.dispatch(ctx, ev)
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, ev audiosocket.Event) {
	switch ev.Kind {
	case audiosocket.EventStarted:
		m.handleStarted(ctx, ev)
	case audiosocket.EventHandshake:
		m.handleHandshake(ctx, ev)
	case audiosocket.EventFrame:
		m.handleFrame(ctx, ev)
	case audiosocket.EventEnded:
		m.handleEnded(ctx, ev)
	}
}

func (m *Manager) handleStarted(ctx context.Context, ev audiosocket.Event) {
	sess := newCallSession(ev.SessionID)

	if meta, ok := m.takePending(); ok {
		sess.meta = meta
		sess.hasMeta = true
	}

	m.mu.Lock()
	m.sessions[ev.SessionID] = sess
	m.mu.Unlock()

	m.log.Info("call %s started (phone=%s)", ev.SessionID, orUnknown(sess.meta.Phone))

	var err error
	if sess.hasMeta {
		err = m.store.CreateCallWithMeta(ctx, ev.SessionID, sess.meta)
	} else {
		err = m.store.CreateCall(ctx, ev.SessionID, "unknown")
	}
	if err != nil {
		m.log.Error("persist call %s: %v", ev.SessionID, err)
	}

	m.broadcast("call:started", map[string]any{
		"callId":      ev.SessionID,
		"phoneNumber": orUnknown(sess.meta.Phone),
		"leadId":      sess.meta.LeadID,
		"startedAt":   sess.startedAt,
	})
}

func (m *Manager) handleHandshake(ctx context.Context, ev audiosocket.Event) {
	sess := m.session(ev.SessionID)
	if sess == nil {
		return
	}

	now := time.Now()
	sess.mu.Lock()
	sess.callID = ev.CallID
	sess.answered = true
	sess.answeredAt = now
	sess.mu.Unlock()

	m.log.Info("call %s answered (channel uuid %s)", ev.SessionID, ev.CallID)

	if err := m.store.SetAnsweredAt(ctx, ev.SessionID, now); err != nil {
		m.log.Error("persist answered_at for %s: %v", ev.SessionID, err)
	}

	m.llm.SetSystemPrompt(ev.SessionID, systemPrompt)

	if len(m.greeting) == 0 {
		return
	}

	sess.mu.Lock()
	sess.sendingGreeting = true
	sess.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			sess.mu.Lock()
			sess.sendingGreeting = false
			sess.lastHighTime = time.Now()
			sess.mu.Unlock()
		}()

		m.transport.StopSilence(ev.SessionID)
		if err := m.transport.SendAudio(ev.SessionID, m.greeting); err != nil {
			m.log.Warn("greeting for %s aborted: %v", ev.SessionID, err)
			return
		}
		m.recordTranscript(ctx, sess, "assistant", greetingText)
	}()
}

func (m *Manager) handleFrame(ctx context.Context, ev audiosocket.Event) {
	sess := m.session(ev.SessionID)
	if sess == nil {
		return
	}

	energy := audio.RMS(ev.Frame)
	utterance := sess.ingestFrame(ev.Frame, energy, time.Now())
	if utterance == nil {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.processUtterance(ctx, sess, utterance)
	}()
}

// processUtterance runs one STT -> LLM -> TTS pass for a buffered
// utterance. Exactly one pass runs per session at a time. The call can end
// while a service round-trip is in flight, so the session's liveness is
// re-checked after every await and late results are discarded.
func (m *Manager) processUtterance(ctx context.Context, sess *callSession, pcm []byte) {
	defer sess.doneProcessing()

	text, err := m.stt.Transcribe(ctx, audio.PCMToWAV(pcm))
	if err != nil {
		m.log.Error("transcribe %s: %v", sess.id, err)
		return
	}
	if sess.isEnded() {
		m.log.Debug("call %s ended mid-transcription, discarding", sess.id)
		return
	}
	if strings.TrimSpace(text) == "" {
		m.log.Debug("call %s: empty transcription, skipping", sess.id)
		return
	}

	m.log.Info("call %s caller: %s", sess.id, text)
	m.recordTranscript(ctx, sess, "caller", text)

	reply, err := m.llm.Converse(ctx, sess.id, text)
	if err != nil {
		m.log.Error("converse %s: %v", sess.id, err)
		return
	}
	if sess.isEnded() {
		m.log.Debug("call %s ended mid-conversation, discarding", sess.id)
		return
	}

	endRequested := strings.Contains(reply, endCallMarker)
	reply = strings.TrimSpace(strings.ReplaceAll(reply, endCallMarker, ""))

	if reply != "" {
		m.log.Info("call %s assistant: %s", sess.id, reply)
		m.recordTranscript(ctx, sess, "assistant", reply)

		speech, err := m.tts.Synthesize(ctx, reply)
		if err != nil {
			m.log.Error("synthesize %s: %v", sess.id, err)
		} else if len(speech) > 0 && !sess.isEnded() {
			sess.mu.Lock()
			sess.sendingResponse = true
			sess.mu.Unlock()

			m.transport.StopSilence(sess.id)
			if err := m.transport.SendAudio(sess.id, speech); err != nil {
				m.log.Warn("send response to %s aborted: %v", sess.id, err)
			}

			sess.mu.Lock()
			sess.sendingResponse = false
			sess.mu.Unlock()
		}
	}

	if endRequested {
		sess.mu.Lock()
		if sess.ended {
			sess.mu.Unlock()
			return
		}
		sess.hangupTimer = time.AfterFunc(hangupDelay, func() {
			if err := m.transport.SendHangup(sess.id); err != nil {
				m.log.Debug("hangup %s: %v", sess.id, err)
			}
			if err := m.transport.EndSession(sess.id); err != nil {
				m.log.Debug("end session %s: %v", sess.id, err)
			}
		})
		sess.mu.Unlock()
		m.log.Info("call %s: conversation complete, hanging up", sess.id)
	}
}

func (m *Manager) handleEnded(ctx context.Context, ev audiosocket.Event) {
	m.mu.Lock()
	sess := m.sessions[ev.SessionID]
	delete(m.sessions, ev.SessionID)
	m.mu.Unlock()
	if sess == nil {
		return
	}

	sess.markEnded()
	sess.cancelHangup()

	sess.mu.Lock()
	answered := sess.answered
	meta := sess.meta
	started := sess.startedAt
	sess.mu.Unlock()

	result := "not_answered"
	if answered {
		result = "answered"
	}
	duration := int(time.Since(started).Seconds())

	m.log.Info("call %s ended (%s, result=%s, %ds)", ev.SessionID, ev.Reason, result, duration)

	audioPath := m.saveRecording(ctx, sess)

	if err := m.store.UpdateCallResult(ctx, ev.SessionID, result); err != nil {
		m.log.Error("persist result for %s: %v", ev.SessionID, err)
	}
	if err := m.store.EndCall(ctx, ev.SessionID, ev.Reason); err != nil {
		m.log.Error("persist end for %s: %v", ev.SessionID, err)
	}

	if meta.WebhookURL != "" {
		payload := WebhookPayload{
			Event:       "call_ended",
			CallID:      ev.SessionID,
			LeadID:      meta.LeadID,
			Step:        meta.Step,
			PhoneNumber: meta.Phone,
			Status:      "completed",
			CallResult:  result,
			Duration:    duration,
			Transcript:  sess.transcriptCopy(),
			AudioURL:    audioPath,
			Context:     meta.Context,
			Timestamp:   time.Now(),
		}
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.notifier.Send(ctx, meta.WebhookURL, payload)
		}()
	}

	m.broadcast("call:ended", map[string]any{
		"callId":     ev.SessionID,
		"callResult": result,
		"duration":   duration,
		"reason":     ev.Reason,
	})

	m.llm.ResetConversation(ev.SessionID)
}

// saveRecording writes the call's inbound audio as a WAV file and records
// its path. Returns the path, or "" when there was nothing to save.
func (m *Manager) saveRecording(ctx context.Context, sess *callSession) string {
	rec := sess.recordingCopy()
	if len(rec) == 0 || m.cfg.RecordingsDir == "" {
		return ""
	}
	if err := os.MkdirAll(m.cfg.RecordingsDir, 0o755); err != nil {
		m.log.Error("create recordings dir: %v", err)
		return ""
	}
	path := filepath.Join(m.cfg.RecordingsDir, sess.id+".wav")
	if err := os.WriteFile(path, audio.PCMToWAV(rec), 0o644); err != nil {
		m.log.Error("save recording for %s: %v", sess.id, err)
		return ""
	}
	if err := m.store.SetAudioPath(ctx, sess.id, path); err != nil {
		m.log.Error("persist audio path for %s: %v", sess.id, err)
	}
	m.log.Debug("saved recording %s (%d bytes)", path, len(rec))
	return path
}

// OriginateCall queues the call metadata and asks the switch to dial. The
// metadata is attached to the next audio session to arrive, in FIFO order.
func (m *Manager) OriginateCall(ctx context.Context, meta store.CallMeta) error {
	if !m.originator.Connected() {
		return fmt.Errorf("manager: switch link is down")
	}

	p := &pendingOrigination{meta: meta, at: time.Now()}
	m.mu.Lock()
	m.purgePendingLocked(time.Now())
	m.pending = append(m.pending, p)
	m.mu.Unlock()

	if _, err := m.originator.OriginateCall(ctx, meta.Phone); err != nil {
		m.removePending(p)
		return fmt.Errorf("manager: originate %s: %w", meta.Phone, err)
	}

	m.log.Info("originated call to %s (lead=%s)", meta.Phone, meta.LeadID)
	return nil
}

// takePending pops the oldest live pending origination.
func (m *Manager) takePending() (store.CallMeta, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.purgePendingLocked(time.Now())
	if len(m.pending) == 0 {
		return store.CallMeta{}, false
	}
	p := m.pending[0]
	m.pending = m.pending[1:]
	return p.meta, true
}

func (m *Manager) purgePendingLocked(now time.Time) {
	kept := m.pending[:0]
	for _, p := range m.pending {
		if now.Sub(p.at) < pendingTTL {
			kept = append(kept, p)
		}
	}
	m.pending = kept
}

// removePending drops exactly the given entry. Concurrent originations may
// have appended behind it, so the tail is not assumed to be ours.
func (m *Manager) removePending(p *pendingOrigination) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, q := range m.pending {
		if q == p {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

// EndCall terminates a live session on request (e.g. from the API).
func (m *Manager) EndCall(id string) error {
	if m.session(id) == nil {
		return fmt.Errorf("manager: no active call %s", id)
	}
	if err := m.transport.SendHangup(id); err != nil {
		m.log.Debug("hangup %s: %v", id, err)
	}
	return m.transport.EndSession(id)
}

// ActiveCalls snapshots the live sessions for the dashboard.
func (m *Manager) ActiveCalls() []store.Call {
	m.mu.Lock()
	sessions := make([]*callSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	calls := make([]store.Call, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		c := store.Call{
			ID:          s.id,
			PhoneNumber: orUnknown(s.meta.Phone),
			LeadID:      s.meta.LeadID,
			Step:        s.meta.Step,
			Context:     s.meta.Context,
			Status:      "active",
			StartedAt:   s.startedAt,
		}
		if s.answered {
			at := s.answeredAt
			c.AnsweredAt = &at
		}
		s.mu.Unlock()
		c.Transcripts = s.transcriptCopy()
		calls = append(calls, c)
	}
	return calls
}

func (m *Manager) session(id string) *callSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

func (m *Manager) recordTranscript(ctx context.Context, sess *callSession, role, content string) {
	sess.addTranscript(role, content)
	if err := m.store.AddTranscript(ctx, sess.id, role, content); err != nil {
		m.log.Error("persist transcript for %s: %v", sess.id, err)
	}
	m.broadcast("call:transcript", map[string]any{
		"callId":  sess.id,
		"role":    role,
		"content": content,
	})
}

func (m *Manager) broadcast(event string, payload any) {
	if m.broadcaster != nil {
		m.broadcaster.Broadcast(event, payload)
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
