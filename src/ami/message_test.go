package ami

import (
	"strings"
	"testing"
)

func TestParserBannerThenMessage(t *testing.T) {
	var p parser

	banner, msgs := p.feed([]byte("Asterisk Call Manager/5.0.2\r\n"))
	if banner != "Asterisk Call Manager/5.0.2" {
		t.Fatalf("banner = %q", banner)
	}
	if len(msgs) != 0 {
		t.Fatalf("unexpected messages with banner: %v", msgs)
	}

	banner, msgs = p.feed([]byte("Response: Success\r\nMessage: Authentication accepted\r\n\r\n"))
	if banner != "" {
		t.Fatalf("banner reported twice: %q", banner)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if !msgs[0].IsSuccess() {
		t.Fatalf("IsSuccess = false for %v", msgs[0])
	}
	if got := msgs[0].Get("Message"); got != "Authentication accepted" {
		t.Fatalf("Message = %q", got)
	}
}

func TestParserPartialFeeds(t *testing.T) {
	var p parser
	wire := "Asterisk Call Manager/5.0.2\r\nEvent: Hangup\r\nChannel: Local/55119@outbound-calls-ai\r\n\r\n"

	var all []Message
	// One byte at a time; nothing may be lost or duplicated.
	for i := 0; i < len(wire); i++ {
		_, msgs := p.feed([]byte{wire[i]})
		all = append(all, msgs...)
	}
	if len(all) != 1 {
		t.Fatalf("got %d messages, want 1", len(all))
	}
	if got := all[0].Get("Event"); got != "Hangup" {
		t.Fatalf("Event = %q", got)
	}
	if got := all[0].Get("Channel"); got != "Local/55119@outbound-calls-ai" {
		t.Fatalf("Channel = %q", got)
	}
}

func TestParserMultipleMessagesInOneRead(t *testing.T) {
	var p parser
	p.feed([]byte("Asterisk Call Manager/5.0.2\r\n"))

	_, msgs := p.feed([]byte(
		"Event: Newchannel\r\n\r\nEvent: Newstate\r\n\r\nEvent: Hang"))
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Get("Event") != "Newchannel" || msgs[1].Get("Event") != "Newstate" {
		t.Fatalf("messages out of order: %v", msgs)
	}

	_, msgs = p.feed([]byte("up\r\n\r\n"))
	if len(msgs) != 1 || msgs[0].Get("Event") != "Hangup" {
		t.Fatalf("trailing partial not completed: %v", msgs)
	}
}

func TestParserIgnoresJunkBeforeBanner(t *testing.T) {
	var p parser
	banner, msgs := p.feed([]byte("garbage noise\r\n"))
	if banner != "" || len(msgs) != 0 {
		t.Fatalf("parser acted on junk: banner=%q msgs=%v", banner, msgs)
	}
}

func TestActionMarshalVariables(t *testing.T) {
	a := Action{
		Name:   "Originate",
		Fields: map[string]string{"Channel": "Local/5511@ctx", "Async": "true"},
		Variables: map[string]string{
			"LIGAI_PHONE": "5511999990000",
			"A_FIRST":     "1",
		},
	}
	wire := string(a.marshal("ligai-7"))

	if !strings.HasPrefix(wire, "Action: Originate\r\nActionID: ligai-7\r\n") {
		t.Fatalf("bad prefix: %q", wire)
	}
	if !strings.HasSuffix(wire, "\r\n\r\n") {
		t.Fatalf("missing terminating blank line: %q", wire)
	}
	if !strings.Contains(wire, "Variable: LIGAI_PHONE=5511999990000\r\n") {
		t.Fatalf("missing variable line: %q", wire)
	}
	if !strings.Contains(wire, "Variable: A_FIRST=1\r\n") {
		t.Fatalf("missing variable line: %q", wire)
	}
	// Variables come after plain fields.
	if strings.Index(wire, "Variable: A_FIRST") < strings.Index(wire, "Channel:") {
		t.Fatalf("variables serialized before fields: %q", wire)
	}
}

func TestNormalizeNumber(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"(11) 99999-0000", "5511999990000"},
		{"5511999990000", "5511999990000"},
		{"11 3333-4444", "551133334444"},
		{"+55 11 99999-0000", "5511999990000"},
		{"abc", ""},
	}
	for _, tc := range tests {
		if got := NormalizeNumber(tc.in, "55"); got != tc.want {
			t.Errorf("NormalizeNumber(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
