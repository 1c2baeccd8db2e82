package ami

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/ligai-voice/ligai/src/logger"
)

var (
	// ErrNotConnected is returned when an action is sent before authentication.
	ErrNotConnected = errors.New("ami: not connected")
	// ErrActionTimeout is returned when Asterisk never answers an action.
	ErrActionTimeout = errors.New("ami: action timeout")
	// ErrDisconnected is returned for actions in flight when the socket drops.
	ErrDisconnected = errors.New("ami: connection lost")
	// ErrAuthFailed is returned when Asterisk rejects the credentials.
	ErrAuthFailed = errors.New("ami: authentication failed")
)

// Event is an unsolicited manager event.
type Event struct {
	Name   string
	Fields Message
}

// Config holds connection settings for the manager client.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// DialCtx is the dialplan context outbound calls are placed into.
	DialCtx string
	// CountryCode is prefixed to numbers dialed without one.
	CountryCode string

	ConnectTimeout time.Duration
	ActionTimeout  time.Duration
	ReconnectDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.DialCtx == "" {
		c.DialCtx = "outbound-calls-ai"
	}
	if c.CountryCode == "" {
		c.CountryCode = "55"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ActionTimeout == 0 {
		c.ActionTimeout = 30 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
}

type pendingAction struct {
	ch chan actionResult
}

type actionResult struct {
	msg Message
	err error
}

// Client maintains one authenticated TCP connection to the Asterisk manager
// port. Responses are correlated to actions by ActionID; unsolicited events
// are delivered on the Events channel. After an authenticated connection
// drops unexpectedly the client reconnects indefinitely with a fixed delay.
type Client struct {
	cfg Config
	log *logger.Logger

	mu            sync.Mutex
	conn          net.Conn
	authenticated bool
	closed        bool
	seq           uint64
	pending       map[string]*pendingAction
	authCh        chan error
	reconnect     *time.Timer

	events chan Event
}

// NewClient creates a manager client. Call Connect before sending actions.
func NewClient(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:     cfg,
		log:     logger.WithPrefix("AMI"),
		pending: make(map[string]*pendingAction),
		events:  make(chan Event, 64),
	}
}

// Events returns the channel unsolicited manager events are delivered on.
// Events are dropped when the consumer falls behind.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connected reports whether the client holds an authenticated connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// Connect dials the manager port, waits for the banner, logs in, and
// returns once authentication is accepted. It fails with ErrAuthFailed on
// bad credentials or a timeout error if the exchange does not finish within
// the connect timeout.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.closed = false
	authCh := make(chan error, 1)
	c.authCh = authCh
	c.mu.Unlock()

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	conn, err := net.DialTimeout("tcp", addr, c.cfg.ConnectTimeout)
	if err != nil {
		return fmt.Errorf("ami: dial %s: %w", addr, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)

	timer := time.NewTimer(c.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case err := <-authCh:
		if err != nil {
			conn.Close()
			return err
		}
		c.log.Info("connected to Asterisk at %s", addr)
		return nil
	case <-timer.C:
		conn.Close()
		return fmt.Errorf("ami: timed out waiting for authentication")
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}
}

// Disconnect logs off and closes the connection. Auto-reconnect is
// suppressed until the next Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	authenticated := c.authenticated
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if authenticated {
		// Best-effort goodbye; the close below is what matters.
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		c.SendAction(ctx, Action{Name: "Logoff"}) //nolint:errcheck
	}
	conn.Close()
	c.log.Info("disconnected")
}

// SendAction serializes the action with a fresh ActionID, sends it, and
// waits for the matching response. A non-Success response, context
// cancellation, or the per-action timeout all fail the call; the pending
// entry is removed on every path.
func (c *Client) SendAction(ctx context.Context, action Action) (Message, error) {
	c.mu.Lock()
	if !c.authenticated || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.seq++
	actionID := fmt.Sprintf("ligai-%d", c.seq)
	p := &pendingAction{ch: make(chan actionResult, 1)}
	c.pending[actionID] = p
	conn := c.conn
	c.mu.Unlock()

	if _, err := conn.Write(action.marshal(actionID)); err != nil {
		c.removePending(actionID)
		return nil, fmt.Errorf("ami: write action %s: %w", action.Name, err)
	}

	timer := time.NewTimer(c.cfg.ActionTimeout)
	defer timer.Stop()

	select {
	case res := <-p.ch:
		return res.msg, res.err
	case <-timer.C:
		c.removePending(actionID)
		return nil, ErrActionTimeout
	case <-ctx.Done():
		c.removePending(actionID)
		return nil, ctx.Err()
	}
}

// OriginateCall normalizes the number and asks Asterisk to place an
// outbound call into the configured dialplan context. The normalized number
// travels on the LIGAI_PHONE channel variable so the dialplan (and any
// future correlation logic) can see it.
func (c *Client) OriginateCall(ctx context.Context, phoneNumber string) (Message, error) {
	number := NormalizeNumber(phoneNumber, c.cfg.CountryCode)
	if number == "" {
		return nil, fmt.Errorf("ami: no digits in phone number %q", phoneNumber)
	}

	msg, err := c.SendAction(ctx, Action{
		Name: "Originate",
		Fields: map[string]string{
			"Channel":     fmt.Sprintf("Local/%s@%s", number, c.cfg.DialCtx),
			"Application": "Wait",
			"Data":        "60",
			"CallerID":    fmt.Sprintf("LigAI <%s>", number),
			"Timeout":     "30000",
			"Async":       "true",
		},
		Variables: map[string]string{
			"LIGAI_PHONE": number,
		},
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("originated call to %s", number)
	return msg, nil
}

// Hangup asks Asterisk to tear down the given channel.
func (c *Client) Hangup(ctx context.Context, channel string) (Message, error) {
	return c.SendAction(ctx, Action{
		Name:   "Hangup",
		Fields: map[string]string{"Channel": channel},
	})
}

// Ping sends a keepalive action.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.SendAction(ctx, Action{Name: "Ping"})
	return err
}

// NormalizeNumber strips non-digits and prefixes the country code when the
// remaining number is short enough to be a national direct-dial number.
func NormalizeNumber(phone, countryCode string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	number := b.String()
	if number == "" {
		return ""
	}
	if !strings.HasPrefix(number, countryCode) && len(number) <= 11 {
		number = countryCode + number
	}
	return number
}

func (c *Client) removePending(actionID string) *pendingAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.pending[actionID]
	delete(c.pending, actionID)
	return p
}

func (c *Client) readLoop(conn net.Conn) {
	var p parser
	buf := make([]byte, 4096)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			banner, msgs := p.feed(buf[:n])
			if banner != "" {
				c.login(conn, banner)
			}
			for _, msg := range msgs {
				c.handleMessage(msg)
			}
		}
		if err != nil {
			c.handleDisconnect(conn, err)
			return
		}
	}
}

// login is sent raw, without a pending entry: the result is observed
// through the "Authentication accepted/failed" response message.
func (c *Client) login(conn net.Conn, banner string) {
	c.log.Debug("banner: %s", banner)
	msg := fmt.Sprintf("Action: Login\r\nUsername: %s\r\nSecret: %s\r\n\r\n",
		c.cfg.Username, c.cfg.Password)
	if _, err := conn.Write([]byte(msg)); err != nil {
		c.log.Error("login write failed: %v", err)
	}
}

func (c *Client) handleMessage(msg Message) {
	if resp := msg.Get("Response"); resp != "" {
		if id := msg.Get("ActionID"); id != "" {
			if p := c.removePending(id); p != nil {
				if msg.IsSuccess() {
					p.ch <- actionResult{msg: msg}
				} else {
					reason := msg.Get("Message")
					if reason == "" {
						reason = "action failed"
					}
					p.ch <- actionResult{err: fmt.Errorf("ami: %s", reason)}
				}
			}
		}

		switch msg.Get("Message") {
		case "Authentication accepted":
			c.mu.Lock()
			c.authenticated = true
			authCh := c.authCh
			c.mu.Unlock()
			if authCh != nil {
				select {
				case authCh <- nil:
				default:
				}
			}
		case "Authentication failed":
			c.mu.Lock()
			authCh := c.authCh
			c.mu.Unlock()
			if authCh != nil {
				select {
				case authCh <- ErrAuthFailed:
				default:
				}
			}
		}
	}

	if name := msg.Get("Event"); name != "" {
		select {
		case c.events <- Event{Name: name, Fields: msg}:
		default:
			c.log.Debug("event channel full, dropping %s", name)
		}
	}
}

func (c *Client) handleDisconnect(conn net.Conn, cause error) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		// A newer connection replaced this one; nothing to do.
		c.mu.Unlock()
		return
	}
	wasAuthenticated := c.authenticated
	closed := c.closed
	c.conn = nil
	c.authenticated = false

	stale := c.pending
	c.pending = make(map[string]*pendingAction)
	c.mu.Unlock()

	for _, p := range stale {
		p.ch <- actionResult{err: ErrDisconnected}
	}

	if closed {
		return
	}
	if !wasAuthenticated {
		c.log.Warn("connection closed before authentication: %v", cause)
		return
	}

	c.log.Warn("connection lost (%v), reconnecting in %s", cause, c.cfg.ReconnectDelay)
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.reconnect != nil {
		return
	}
	c.reconnect = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.mu.Lock()
		c.reconnect = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		if err := c.Connect(context.Background()); err != nil {
			c.log.Error("reconnect failed: %v", err)
			c.scheduleReconnect()
			return
		}
		c.log.Info("reconnected")
	})
}
