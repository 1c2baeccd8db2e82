package ami

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeAsterisk is a minimal manager endpoint: it writes the banner,
// accepts any login, and hands each subsequent action to handle.
type fakeAsterisk struct {
	ln      net.Listener
	accept  bool // accept the login
	handle  func(conn net.Conn, action map[string]string)
	actions chan map[string]string
}

func newFakeAsterisk(t *testing.T, acceptLogin bool, handle func(net.Conn, map[string]string)) *fakeAsterisk {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	f := &fakeAsterisk{ln: ln, accept: acceptLogin, handle: handle, actions: make(chan map[string]string, 8)}
	go f.serve()
	t.Cleanup(func() { ln.Close() })
	return f
}

func (f *fakeAsterisk) port() int {
	return f.ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeAsterisk) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.session(conn)
	}
}

func (f *fakeAsterisk) session(conn net.Conn) {
	defer conn.Close()
	conn.Write([]byte("Asterisk Call Manager/5.0.2\r\n"))

	r := bufio.NewReader(conn)
	for {
		action, err := readAction(r)
		if err != nil {
			return
		}
		if action["Action"] == "Login" {
			if f.accept {
				conn.Write([]byte("Response: Success\r\nMessage: Authentication accepted\r\n\r\n"))
			} else {
				conn.Write([]byte("Response: Error\r\nMessage: Authentication failed\r\n\r\n"))
			}
			continue
		}
		select {
		case f.actions <- action:
		default:
		}
		if f.handle != nil {
			f.handle(conn, action)
		}
	}
}

func readAction(r *bufio.Reader) (map[string]string, error) {
	action := make(map[string]string)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return action, nil
		}
		if i := strings.Index(line, ":"); i > 0 {
			action[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
}

func respondSuccess(conn net.Conn, action map[string]string) {
	conn.Write([]byte("Response: Success\r\nActionID: " + action["ActionID"] + "\r\n\r\n"))
}

func newTestClient(port int) *Client {
	return NewClient(Config{
		Host:           "127.0.0.1",
		Port:           port,
		Username:       "ligai",
		Password:       "secret",
		ConnectTimeout: 2 * time.Second,
		ActionTimeout:  2 * time.Second,
	})
}

func TestClientConnectAndAuth(t *testing.T) {
	srv := newFakeAsterisk(t, true, respondSuccess)
	c := newTestClient(srv.port())
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.Connected() {
		t.Fatal("Connected() = false after successful auth")
	}
}

func TestClientAuthFailure(t *testing.T) {
	srv := newFakeAsterisk(t, false, nil)
	c := newTestClient(srv.port())

	err := c.Connect(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Connect err = %v, want ErrAuthFailed", err)
	}
	if c.Connected() {
		t.Fatal("Connected() = true after rejected auth")
	}
}

func TestClientSendActionBeforeConnect(t *testing.T) {
	c := newTestClient(1)
	if err := c.Ping(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Ping err = %v, want ErrNotConnected", err)
	}
}

func TestClientActionResponse(t *testing.T) {
	srv := newFakeAsterisk(t, true, respondSuccess)
	c := newTestClient(srv.port())
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	c.mu.Lock()
	n := len(c.pending)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("%d pending actions left after response", n)
	}
}

func TestClientActionTimeoutRemovesPending(t *testing.T) {
	srv := newFakeAsterisk(t, true, nil) // swallow actions
	c := newTestClient(srv.port())
	c.cfg.ActionTimeout = 50 * time.Millisecond
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, ErrActionTimeout) {
		t.Fatalf("Ping err = %v, want ErrActionTimeout", err)
	}

	c.mu.Lock()
	n := len(c.pending)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("%d pending actions leaked after timeout", n)
	}
}

func TestClientOriginateWireFormat(t *testing.T) {
	srv := newFakeAsterisk(t, true, respondSuccess)
	c := newTestClient(srv.port())
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := c.OriginateCall(context.Background(), "(11) 99999-0000"); err != nil {
		t.Fatalf("OriginateCall: %v", err)
	}

	select {
	case action := <-srv.actions:
		if action["Action"] != "Originate" {
			t.Fatalf("Action = %q", action["Action"])
		}
		if action["Channel"] != "Local/5511999990000@outbound-calls-ai" {
			t.Fatalf("Channel = %q", action["Channel"])
		}
		if action["Async"] != "true" {
			t.Fatalf("Async = %q", action["Async"])
		}
		if action["Variable"] != "LIGAI_PHONE=5511999990000" {
			t.Fatalf("Variable = %q", action["Variable"])
		}
	case <-time.After(time.Second):
		t.Fatal("server never saw the Originate action")
	}
}

func TestClientEventDelivery(t *testing.T) {
	srv := newFakeAsterisk(t, true, func(conn net.Conn, action map[string]string) {
		respondSuccess(conn, action)
		conn.Write([]byte("Event: Hangup\r\nChannel: Local/123@ctx\r\n\r\n"))
	})
	c := newTestClient(srv.port())
	defer c.Disconnect()

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	select {
	case ev := <-c.Events():
		if ev.Name != "Hangup" {
			t.Fatalf("event = %q, want Hangup", ev.Name)
		}
		if ev.Fields.Get("Channel") != "Local/123@ctx" {
			t.Fatalf("Channel = %q", ev.Fields.Get("Channel"))
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}
