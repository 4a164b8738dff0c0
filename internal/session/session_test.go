package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/timvw/sisqo/internal/conftree"
	"github.com/timvw/sisqo/internal/events"
	"github.com/timvw/sisqo/internal/logging"
)

func TestNewDefaults(t *testing.T) {
	s, err := New(&fakeDevice{}, Options{Host: "core1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.State() != Unauthenticated {
		t.Errorf("state = %v, want unauthenticated", s.State())
	}
	if s.timeout != DefaultTimeout || s.pollInterval != DefaultPollInterval || s.maxAuth != DefaultMaxAuthAttempts {
		t.Errorf("defaults not applied: %v %v %d", s.timeout, s.pollInterval, s.maxAuth)
	}
	rows, cols := s.emu.Screen().Size()
	if rows != DefaultRows || cols != DefaultCols {
		t.Errorf("screen = %dx%d, want %dx%d", rows, cols, DefaultRows, DefaultCols)
	}
	if _, err := uuid.Parse(s.ID()); err != nil {
		t.Errorf("ID %q is not a uuid: %v", s.ID(), err)
	}
	if s.Host() != "core1" {
		t.Errorf("host = %q", s.Host())
	}
}

func TestNewRejectsBadPatterns(t *testing.T) {
	if _, err := New(&fakeDevice{}, Options{PromptPattern: "("}); err == nil {
		t.Error("expected error for invalid prompt pattern")
	}
	if _, err := New(&fakeDevice{}, Options{MorePattern: "[z-a]"}); err == nil {
		t.Error("expected error for invalid more pattern")
	}
}

func TestDefaultPatterns(t *testing.T) {
	promptRe, _ := CompilePattern(DefaultPromptPattern)
	moreRe, _ := CompilePattern(DefaultMorePattern)
	tests := []struct {
		line   string
		prompt bool
		more   bool
	}{
		{"R1#", true, false},
		{"core-sw01>", true, false},
		{"R1(config-if)#", true, false},
		{"R1# ", true, false},
		{" --More-- ", false, true},
		{"-- MORE --", false, true},
		{"Building configuration...", false, false},
		{"Password:", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := promptRe.MatchString(tt.line); got != tt.prompt {
				t.Errorf("prompt match = %v, want %v", got, tt.prompt)
			}
			if got := moreRe.MatchString(tt.line); got != tt.more {
				t.Errorf("more match = %v, want %v", got, tt.more)
			}
		})
	}
}

func TestWriteThenReadDropsEcho(t *testing.T) {
	dev := &fakeDevice{reply: replies(map[string][]string{
		"show version\n": {"show version\r\nCisco IOS Software, Version 15.2\r\nuptime is 1 week\r\nR1#"},
	})}
	s := loggedIn(t, dev, Options{})
	ctx := context.Background()

	if err := s.Write(ctx, "show version", WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := s.Read(ctx, ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := "Cisco IOS Software, Version 15.2\nuptime is 1 week"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
	if strings.Contains(out, "show version") {
		t.Error("output contains the echoed command")
	}
	if s.TimedOut() {
		t.Error("read should have ended at the prompt")
	}
}

func TestReadChunkedOutput(t *testing.T) {
	dev := &fakeDevice{}
	s := loggedIn(t, dev, Options{})
	dev.push("Interface  Status\r\nGi0/1", "      up\r\nGi0/2      do", "wn\r\nR", "1#")

	out, err := s.Read(context.Background(), ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := "Interface  Status\nGi0/1      up\nGi0/2      down"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
}

func TestReadKeepPrompt(t *testing.T) {
	dev := &fakeDevice{}
	s := loggedIn(t, dev, Options{})
	dev.push("\r\n\r\nclock: 12:00\r\nR1#")

	out, err := s.Read(context.Background(), ReadOptions{KeepPrompt: true})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out != "clock: 12:00\nR1#" {
		t.Errorf("got %q", out)
	}
}

// erasePager is what IOS prints after a continuation to wipe " --More-- ".
var erasePager = strings.Repeat("\b", 9) + strings.Repeat(" ", 9) + strings.Repeat("\b", 9)

func TestReadFollowsMorePages(t *testing.T) {
	pages := []string{
		erasePager + "line3\r\nline4\r\n --More-- ",
		erasePager + "line5\r\n --More-- ",
		erasePager + "line6\r\nR1#",
	}
	dev := &fakeDevice{reply: replies(map[string][]string{
		"show run\n": {"show run\r\nline1\r\nline2\r\n --More-- "},
		" ":          pages,
	})}
	s := loggedIn(t, dev, Options{})
	ctx := context.Background()

	if err := s.Write(ctx, "show run", WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := s.Read(ctx, ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	want := "line1\nline2\nline3\nline4\nline5\nline6"
	if out != want {
		t.Errorf("got %q, want %q", out, want)
	}
	if strings.Contains(strings.ToLower(out), "more") {
		t.Error("output contains a pagination marker")
	}

	spaces := 0
	for _, c := range dev.sentCommands() {
		if c == " " {
			spaces++
		}
	}
	if spaces != 3 {
		t.Errorf("sent %d continuations, want 3", spaces)
	}
}

func TestReadPaginationDoesNotExtendDeadline(t *testing.T) {
	n := 0
	dev := &fakeDevice{reply: func(sent string) []string {
		n++
		return []string{erasePager + "more output\r\n --More-- "}
	}}
	s := loggedIn(t, dev, Options{})
	dev.push("first page\r\n --More-- ")

	timeout := 150 * time.Millisecond
	start := time.Now()
	out, err := s.Read(context.Background(), ReadOptions{Timeout: timeout})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !s.TimedOut() {
		t.Error("expected the read to time out")
	}
	if n < 2 {
		t.Errorf("only %d pages followed", n)
	}
	if elapsed > timeout+500*time.Millisecond {
		t.Errorf("read took %v, deadline was %v", elapsed, timeout)
	}
	if !strings.HasPrefix(out, "first page\nmore output") {
		t.Errorf("got %q", out)
	}
}

func TestReadTimeoutReturnsPartialOutput(t *testing.T) {
	dev := &fakeDevice{}
	s := loggedIn(t, dev, Options{})
	dev.push("partial output\r\nstill going")

	out, err := s.Read(context.Background(), ReadOptions{Timeout: 60 * time.Millisecond})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out != "partial output\nstill going" {
		t.Errorf("got %q", out)
	}
	if !s.TimedOut() {
		t.Error("TimedOut should be true")
	}
}

func TestReadContextCanceled(t *testing.T) {
	s := loggedIn(t, &fakeDevice{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Read(ctx, ReadOptions{}); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestReadContextDeadlineCapsTimeout(t *testing.T) {
	s := loggedIn(t, &fakeDevice{}, Options{Timeout: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Read(ctx, ReadOptions{})
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Read: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("context deadline did not cap the read")
	}
}

func TestWriteEscapesQuestionMark(t *testing.T) {
	dev := &fakeDevice{}
	s := loggedIn(t, dev, Options{})
	ctx := context.Background()

	if err := s.Write(ctx, "show ip ?", WriteOptions{SkipEcho: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s.writePending = false
	if err := s.Write(ctx, "pa?ss", WriteOptions{SkipEcho: true, Mask: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	equalStrings(t, dev.sentCommands(), []string{"show ip \x16?\n", "pa?ss\n"})
}

func TestMaskedWriteIsNotLogged(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(&buf, "debug")
	if err != nil {
		t.Fatal(err)
	}
	dev := &fakeDevice{}
	s := loggedIn(t, dev, Options{Logger: logger})

	if err := s.Write(context.Background(), "hunter2", WriteOptions{SkipEcho: true, Mask: true}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("secret leaked into log: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "*******") {
		t.Errorf("expected masked payload in log: %q", buf.String())
	}
}

func TestWriteReadsPreviousOutputFirst(t *testing.T) {
	dev := &fakeDevice{reply: replies(map[string][]string{
		"terminal length 0\n": {"terminal length 0\r\nR1#"},
		"show clock\n":        {"show clock\r\n12:00:00 UTC\r\nR1#"},
	})}
	s := loggedIn(t, dev, Options{})
	ctx := context.Background()

	if err := s.Write(ctx, "terminal length 0", WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Write(ctx, "show clock", WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := s.Read(ctx, ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out != "12:00:00 UTC" {
		t.Errorf("got %q, want %q", out, "12:00:00 UTC")
	}
}

func TestWriteDiscardsStaleOutput(t *testing.T) {
	dev := &fakeDevice{reply: replies(map[string][]string{
		"show clock\n": {"show clock\r\n12:00:00 UTC\r\nR1#"},
	})}
	s := loggedIn(t, dev, Options{})
	dev.push("%LINK-3-UPDOWN: Interface Gi0/1, changed state to up\r\n")

	out, err := s.Exec(context.Background(), "show clock")
	if err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if out != "12:00:00 UTC" {
		t.Errorf("got %q", out)
	}
}

func TestStateErrors(t *testing.T) {
	ctx := context.Background()
	s := newTestSession(t, &fakeDevice{}, Options{})

	if err := s.Write(ctx, "x", WriteOptions{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Write: got %v, want ErrNotAuthenticated", err)
	}
	if _, err := s.Read(ctx, ReadOptions{}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Read: got %v, want ErrNotAuthenticated", err)
	}
	if err := s.Enable(ctx, "x"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Enable: got %v, want ErrNotAuthenticated", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Write(ctx, "x", WriteOptions{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write after close: got %v", err)
	}
	if _, err := s.Read(ctx, ReadOptions{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Read after close: got %v", err)
	}
	if err := s.Enable(ctx, "x"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Enable after close: got %v", err)
	}
	if err := s.Authenticate(ctx, &Credentials{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Authenticate after close: got %v", err)
	}
	if _, err := s.ShowRunningConfig(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ShowRunningConfig after close: got %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	var seen []events.Event
	dev := &fakeDevice{}
	s := loggedIn(t, dev, Options{OnStateChange: func(e events.Event) { seen = append(seen, e) }})

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if dev.closes != 1 {
		t.Errorf("transport closed %d times, want 1", dev.closes)
	}
	if s.State() != Closed {
		t.Errorf("state = %v", s.State())
	}
	if len(seen) != 1 || seen[0].State != events.StateClosed {
		t.Fatalf("events = %+v, want one closed event", seen)
	}
	if err := seen[0].Validate(); err != nil {
		t.Errorf("event invalid: %v", err)
	}
}

func TestEOFClosesSession(t *testing.T) {
	dev := &fakeDevice{}
	s := loggedIn(t, dev, Options{})
	dev.push("Connection closing...\r\n", eof)

	out, err := s.Read(context.Background(), ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out != "Connection closing..." {
		t.Errorf("got %q", out)
	}
	if s.State() != Closed {
		t.Errorf("state = %v, want closed", s.State())
	}
	if dev.closes != 1 {
		t.Errorf("transport closed %d times, want 1", dev.closes)
	}
	if err := s.Write(context.Background(), "show clock", WriteOptions{}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Write after EOF: got %v, want ErrNotConnected", err)
	}
}

func TestSendFailureIsNotConnected(t *testing.T) {
	broken := errors.New("broken pipe")
	dev := &fakeDevice{sendErr: broken}
	s := loggedIn(t, dev, Options{})

	err := s.Write(context.Background(), "show clock", WriteOptions{})
	if !errors.Is(err, ErrNotConnected) || !errors.Is(err, broken) {
		t.Errorf("got %v, want ErrNotConnected wrapping broken pipe", err)
	}
	if s.State() != Closed {
		t.Errorf("state = %v, want closed", s.State())
	}
}

func TestShowRunningConfig(t *testing.T) {
	config := "Building configuration...\r\n\r\nCurrent configuration : 120 bytes\r\n!\r\nhostname R1\r\n!\r\ninterface Gi0/1\r\n shutdown\r\n!\r\nend\r\n\r\nR1#"
	dev := &fakeDevice{reply: replies(map[string][]string{
		"show running-config\n": {"show running-config\r\n" + config},
	})}
	s := loggedIn(t, dev, Options{})

	tree, err := s.ShowRunningConfig(context.Background())
	if err != nil {
		t.Fatalf("ShowRunningConfig: %v", err)
	}
	first := tree.Children()[0]
	if first.Value() != "!" {
		t.Errorf("first line = %q, want !", first.Value())
	}
	intf := tree.FindChild(conftree.MustCompile(`^interface Gi0/1$`))
	if intf == nil {
		t.Fatal("interface not found")
	}
	if kids := intf.Children(); len(kids) != 1 || kids[0].Value() != "shutdown" {
		t.Errorf("children = %v", kids)
	}
}

func TestSetPatterns(t *testing.T) {
	dev := &fakeDevice{}
	s := loggedIn(t, dev, Options{})
	if err := s.SetPromptPattern(`^\[admin@fw01\]\s*$`); err != nil {
		t.Fatalf("SetPromptPattern: %v", err)
	}
	if err := s.SetMorePattern(`^<space> for more$`); err != nil {
		t.Fatalf("SetMorePattern: %v", err)
	}
	if err := s.SetPromptPattern("("); err == nil {
		t.Error("expected error for invalid pattern")
	}

	dev.reply = replies(map[string][]string{" ": {"\r                \rrule 2\r\n[admin@fw01]"}})
	dev.push("rule 1\r\n<space> for more")

	out, err := s.Read(context.Background(), ReadOptions{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if out != "rule 1\nrule 2" {
		t.Errorf("got %q", out)
	}
}

func TestPrompt(t *testing.T) {
	dev := &fakeDevice{reply: replies(map[string][]string{"\n": {"\r\nR1#"}})}
	s := loggedIn(t, dev, Options{})

	got, err := s.Prompt(context.Background())
	if err != nil {
		t.Fatalf("Prompt: %v", err)
	}
	if got != "R1#" {
		t.Errorf("got %q, want %q", got, "R1#")
	}
}

func TestPromptTimeout(t *testing.T) {
	dev := &fakeDevice{}
	s := loggedIn(t, dev, Options{Timeout: 50 * time.Millisecond})

	if _, err := s.Prompt(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("got %v, want ErrNotConnected", err)
	}
}
