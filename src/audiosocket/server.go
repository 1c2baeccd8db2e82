package audiosocket

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ligai-voice/ligai/src/logger"
)

// ErrSessionClosed is returned for operations on a session that has ended.
var ErrSessionClosed = errors.New("audiosocket: session closed")

// handshakeTimeout bounds how long a connection may sit unidentified.
const handshakeTimeout = 5 * time.Second

// EventKind tags the lifecycle events emitted by the server.
type EventKind int

const (
	// EventStarted fires when a connection is accepted, before the handshake.
	EventStarted EventKind = iota + 1
	// EventHandshake fires once the call UUID has been exchanged.
	EventHandshake
	// EventFrame carries one inbound PCM audio frame.
	EventFrame
	// EventEnded fires when the connection closes for any reason.
	EventEnded
)

// Event is a tagged lifecycle notification. SessionID identifies the
// connection across its whole life; CallID is the UUID the switch sent in
// the handshake (set on EventHandshake and later events); Frame is set on
// EventFrame; Reason is set on EventEnded.
type Event struct {
	Kind      EventKind
	SessionID string
	CallID    string
	Frame     []byte
	Reason    string
}

// Config holds listener settings for the AudioSocket server.
type Config struct {
	Host string
	Port int
}

// Server accepts one TCP connection per call and exchanges framed PCM audio
// with Asterisk. All lifecycle notifications are delivered in order on a
// single events channel consumed by one dispatch loop.
type Server struct {
	addr string
	log  *logger.Logger

	mu       sync.RWMutex
	ln       net.Listener
	sessions map[string]*session
	closed   bool

	events chan Event
	quit   chan struct{}
	wg     sync.WaitGroup
}

type session struct {
	id     string
	callID string
	conn   net.Conn

	writeMu sync.Mutex

	silenceMu sync.Mutex
	silenceOn bool

	done     chan struct{}
	doneOnce sync.Once
}

func (s *session) close() {
	s.doneOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// NewServer creates an AudioSocket server bound to cfg.
func NewServer(cfg Config) *Server {
	return &Server{
		addr:     net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		log:      logger.WithPrefix("AudioSocket"),
		sessions: make(map[string]*session),
		events:   make(chan Event, 512),
		quit:     make(chan struct{}),
	}
}

// Events returns the ordered event stream for all sessions.
func (s *Server) Events() <-chan Event {
	return s.events
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start begins accepting connections. It returns once the listener is bound;
// accepting runs in the background until Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("audiosocket: listen %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.ln = ln
	s.closed = false
	s.mu.Unlock()

	s.log.Info("listening on %s", s.addr)

	s.wg.Add(1)
	go s.acceptLoop(ln)
	return nil
}

// Stop closes the listener and every live session, then closes the events
// channel once all connection goroutines have drained.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	ln := s.ln
	live := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	close(s.quit)
	for _, sess := range live {
		sess.close()
	}
	s.wg.Wait()
	close(s.events)
	s.log.Info("stopped")
}

// SendAudio streams PCM to the switch in 20 ms frames. It returns once the
// whole buffer has been written, or fails when the session closes mid-send.
func (s *Server) SendAudio(sessionID string, pcm []byte) error {
	sess := s.session(sessionID)
	if sess == nil {
		return ErrSessionClosed
	}

	ticker := time.NewTicker(frameIntervalMs * time.Millisecond)
	defer ticker.Stop()

	for offset := 0; offset < len(pcm); offset += FrameSize {
		end := offset + FrameSize
		if end > len(pcm) {
			end = len(pcm)
		}

		sess.writeMu.Lock()
		err := writeMessage(sess.conn, KindSlin, pcm[offset:end])
		sess.writeMu.Unlock()
		if err != nil {
			return fmt.Errorf("audiosocket: write audio: %w", err)
		}

		select {
		case <-ticker.C:
		case <-sess.done:
			return ErrSessionClosed
		}
	}
	return nil
}

// SendHangup signals the switch to terminate the call leg.
func (s *Server) SendHangup(sessionID string) error {
	sess := s.session(sessionID)
	if sess == nil {
		return ErrSessionClosed
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	return writeMessage(sess.conn, KindHangup, nil)
}

// StopSilence suppresses the silence filler injected while the session
// waits, typically called immediately before playback.
func (s *Server) StopSilence(sessionID string) {
	sess := s.session(sessionID)
	if sess == nil {
		return
	}
	sess.silenceMu.Lock()
	sess.silenceOn = false
	sess.silenceMu.Unlock()
}

// EndSession forcibly closes the session's connection. The Ended event is
// emitted by the connection's read loop.
func (s *Server) EndSession(sessionID string) error {
	sess := s.session(sessionID)
	if sess == nil {
		return ErrSessionClosed
	}
	sess.close()
	return nil
}

func (s *Server) session(id string) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// emit hands an event to the dispatch loop. Once Stop begins the consumer
// may already be gone, so pending sends abort instead of blocking the
// connection goroutines (and with them Stop's wait).
func (s *Server) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.RLock()
			closed := s.closed
			s.mu.RUnlock()
			if !closed {
				s.log.Error("accept: %v", err)
			}
			return
		}

		sess := &session{
			id:   uuid.New().String(),
			conn: conn,
			done: make(chan struct{}),
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.sessions[sess.id] = sess
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(sess)
	}
}

func (s *Server) handleConnection(sess *session) {
	defer s.wg.Done()

	s.log.Info("call connected: %s (%s)", sess.id, sess.conn.RemoteAddr())
	s.emit(Event{Kind: EventStarted, SessionID: sess.id})

	reason := s.runSession(sess)

	sess.close()
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	s.log.Info("call ended: %s (%s)", sess.id, reason)
	s.emit(Event{Kind: EventEnded, SessionID: sess.id, CallID: sess.callID, Reason: reason})
}

// runSession performs the handshake and pumps inbound messages until the
// connection dies. It returns the end reason.
func (s *Server) runSession(sess *session) string {
	sess.conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	kind, payload, err := readMessage(sess.conn)
	if err != nil {
		return "handshake read failed"
	}
	if kind != KindID {
		s.log.Error("handshake error on %s: expected ID message, got 0x%02x", sess.id, kind)
		return "handshake error"
	}
	callID, err := uuid.FromBytes(payload)
	if err != nil {
		s.log.Error("handshake error on %s: bad UUID payload (%d bytes)", sess.id, len(payload))
		return "handshake error"
	}
	sess.conn.SetReadDeadline(time.Time{})
	sess.callID = callID.String()

	s.emit(Event{Kind: EventHandshake, SessionID: sess.id, CallID: sess.callID})

	sess.silenceMu.Lock()
	sess.silenceOn = true
	sess.silenceMu.Unlock()
	go s.silenceLoop(sess)

	for {
		kind, payload, err := readMessage(sess.conn)
		if err != nil {
			select {
			case <-sess.done:
				return "local close"
			default:
			}
			if errors.Is(err, io.EOF) {
				return "peer closed"
			}
			return "read error"
		}

		switch kind {
		case KindSlin:
			s.emit(Event{Kind: EventFrame, SessionID: sess.id, CallID: sess.callID, Frame: payload})
		case KindHangup:
			return "hangup"
		case KindError:
			s.log.Error("peer error on %s: %x", sess.id, payload)
			return "peer error"
		case KindSilence:
			// Keepalive filler from the switch; nothing to do.
		default:
			s.log.Error("protocol error on %s: unknown kind 0x%02x", sess.id, kind)
			return "protocol error"
		}
	}
}

// silenceLoop feeds zero PCM frames to the switch so the stream keeps
// flowing while the session has nothing to play. It exits when silence is
// suppressed or the session ends.
func (s *Server) silenceLoop(sess *session) {
	frame := make([]byte, FrameSize)
	ticker := time.NewTicker(frameIntervalMs * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sess.done:
			return
		case <-ticker.C:
		}

		sess.silenceMu.Lock()
		on := sess.silenceOn
		sess.silenceMu.Unlock()
		if !on {
			return
		}

		sess.writeMu.Lock()
		err := writeMessage(sess.conn, KindSlin, frame)
		sess.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}
