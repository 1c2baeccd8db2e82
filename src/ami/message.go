// Package ami implements a client for the Asterisk Manager Interface: a
// line-oriented TCP protocol of colon-delimited Key: Value messages used to
// originate calls and receive asynchronous call-progress events.
package ami

import (
	"sort"
	"strings"
)

// bannerSignature is the literal prefix Asterisk writes on connect. The
// banner line is terminated by a single CRLF; every message after it is
// terminated by a blank line (double CRLF).
const bannerSignature = "Asterisk Call Manager"

// Message is a parsed manager message, either an action response or an
// unsolicited event. Keys keep their wire capitalization.
type Message map[string]string

// Get returns the value for key, or "" when absent.
func (m Message) Get(key string) string {
	return m[key]
}

// IsSuccess reports whether a response message indicates success.
func (m Message) IsSuccess() bool {
	return m["Response"] == "Success"
}

// Action is a manager action to be sent to Asterisk. Variables serialize as
// repeated "Variable: key=value" lines, everything else as "Key: Value".
type Action struct {
	Name      string
	Fields    map[string]string
	Variables map[string]string
}

// marshal renders the action in wire format with the given ActionID.
// Field order is sorted for determinism; Asterisk does not care.
func (a Action) marshal(actionID string) []byte {
	var b strings.Builder
	b.WriteString("Action: ")
	b.WriteString(a.Name)
	b.WriteString("\r\n")
	b.WriteString("ActionID: ")
	b.WriteString(actionID)
	b.WriteString("\r\n")

	keys := make([]string, 0, len(a.Fields))
	for k := range a.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(a.Fields[k])
		b.WriteString("\r\n")
	}

	vkeys := make([]string, 0, len(a.Variables))
	for k := range a.Variables {
		vkeys = append(vkeys, k)
	}
	sort.Strings(vkeys)
	for _, k := range vkeys {
		b.WriteString("Variable: ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(a.Variables[k])
		b.WriteString("\r\n")
	}

	b.WriteString("\r\n")
	return []byte(b.String())
}

// parser accumulates raw socket reads and yields complete messages. It
// buffers partial reads; incomplete trailing data stays in the buffer until
// more bytes arrive.
type parser struct {
	buf        strings.Builder
	bannerSeen bool
}

// feed appends data and returns the banner (once, if just completed) and
// any complete messages.
func (p *parser) feed(data []byte) (banner string, msgs []Message) {
	p.buf.Write(data)
	buffered := p.buf.String()

	if !p.bannerSeen {
		if !strings.Contains(buffered, bannerSignature) {
			// Nothing sensible before login; wait for the banner.
			return "", nil
		}
		end := strings.Index(buffered, "\r\n")
		if end < 0 {
			return "", nil
		}
		banner = buffered[:end]
		buffered = buffered[end+2:]
		p.bannerSeen = true
	}

	parts := strings.Split(buffered, "\r\n\r\n")
	rest := parts[len(parts)-1]
	for _, part := range parts[:len(parts)-1] {
		if strings.TrimSpace(part) == "" {
			continue
		}
		msgs = append(msgs, parseMessage(part))
	}

	p.buf.Reset()
	p.buf.WriteString(rest)
	return banner, msgs
}

func parseMessage(raw string) Message {
	m := make(Message)
	for _, line := range strings.Split(raw, "\r\n") {
		i := strings.Index(line, ":")
		if i <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:i])
		value := strings.TrimSpace(line[i+1:])
		m[key] = value
	}
	return m
}
