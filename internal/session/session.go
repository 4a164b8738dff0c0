// Package session drives an interactive CLI session on a network device.
//
// Device output is fed through a terminal emulator and the session looks at
// the rendered screen, not the raw byte stream, to decide when the device
// is showing its prompt or a pagination marker. This makes prompt
// detection independent of how the output happens to be chunked and of
// the cursor tricks devices play while paginating.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/sisqo/internal/conftree"
	"github.com/timvw/sisqo/internal/events"
	"github.com/timvw/sisqo/internal/logging"
	sqotel "github.com/timvw/sisqo/internal/otel"
	"github.com/timvw/sisqo/internal/prompt"
	"github.com/timvw/sisqo/internal/vt"
)

var tracer = otel.Tracer("sisqo")

// Transport is the byte stream to the device.
//
// Receive returns at most maxBytes bytes, waiting until deadline for data
// to arrive. It returns an empty slice and a nil error when the deadline
// passes without data, and io.EOF once the stream has ended. Data and an
// error may be returned together.
type Transport interface {
	Send(p []byte) (int, error)
	Receive(maxBytes int, deadline time.Time) ([]byte, error)
	Close() error
}

const (
	receiveChunk = 4096
	// maxDrain bounds how many reads a pre-write drain performs so a device
	// that never stops talking cannot stall a write.
	maxDrain = 1024
	// continueKey answers a pagination marker.
	continueKey = " "
	// literalNext makes the device CLI take the next character literally,
	// so "?" is sent instead of opening context help.
	literalNext = "\x16"
)

var (
	anyLine    = regexp.MustCompile(`.+`)
	maskSecret = regexp.MustCompile(`[^\r\n]`)
)

// Session is one interactive CLI session. It is not safe for concurrent
// use.
type Session struct {
	t       Transport
	emu     *vt.Emulator
	host    string
	id      string
	log     *log.Logger
	metrics *sqotel.Metrics
	observe func(events.Event)

	timeout      time.Duration
	pollInterval time.Duration
	maxAuth      int

	promptExpr string
	prompt     *regexp.Regexp
	more       *regexp.Regexp

	state State
	// writePending is set by a write and cleared by a read. A write while
	// it is set first reads the previous command's output to the prompt.
	writePending bool
	timedOut     bool

	closeOnce sync.Once
	closeErr  error
}

// New creates a session over t, which it takes ownership of. The session
// starts Unauthenticated.
func New(t Transport, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	promptRe, err := CompilePattern(opts.PromptPattern)
	if err != nil {
		return nil, fmt.Errorf("compiling prompt pattern %q: %w", opts.PromptPattern, err)
	}
	moreRe, err := CompilePattern(opts.MorePattern)
	if err != nil {
		return nil, fmt.Errorf("compiling more pattern %q: %w", opts.MorePattern, err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Session{
		t:            t,
		emu:          vt.NewEmulator(opts.Rows, opts.Cols, opts.Scrollback),
		host:         opts.Host,
		id:           uuid.NewString(),
		log:          logger.With("host", opts.Host),
		metrics:      opts.Metrics,
		observe:      opts.OnStateChange,
		timeout:      opts.Timeout,
		pollInterval: opts.PollInterval,
		maxAuth:      opts.MaxAuthAttempts,
		promptExpr:   opts.PromptPattern,
		prompt:       promptRe,
		more:         moreRe,
		state:        Unauthenticated,
	}, nil
}

// Host returns the device name the session was created for.
func (s *Session) Host() string { return s.host }

// ID returns a unique identifier for this session.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// TimedOut reports whether the most recent read ended at its deadline
// instead of at a prompt.
func (s *Session) TimedOut() bool { return s.timedOut }

// SetPromptPattern replaces the prompt pattern.
func (s *Session) SetPromptPattern(expr string) error {
	re, err := CompilePattern(expr)
	if err != nil {
		return fmt.Errorf("compiling prompt pattern %q: %w", expr, err)
	}
	s.promptExpr = expr
	s.prompt = re
	return nil
}

// SetMorePattern replaces the pagination pattern.
func (s *Session) SetMorePattern(expr string) error {
	re, err := CompilePattern(expr)
	if err != nil {
		return fmt.Errorf("compiling more pattern %q: %w", expr, err)
	}
	s.more = re
	return nil
}

func (s *Session) setState(st State, msg string) {
	if s.state == st {
		return
	}
	s.state = st
	if s.observe != nil {
		s.observe(events.Event{
			Device:    s.host,
			SessionID: s.id,
			State:     st.String(),
			TS:        time.Now().UTC(),
			Message:   msg,
		})
	}
}

func (s *Session) requireReady() error {
	switch s.state {
	case Closed:
		return ErrNotConnected
	case Unauthenticated:
		return ErrNotAuthenticated
	}
	return nil
}

// Close closes the transport. It is safe to call more than once; only the
// first call can return an error.
func (s *Session) Close() error {
	err := s.closeTransport()
	s.setState(Closed, "closed")
	return err
}

func (s *Session) closeTransport() error {
	var err error
	s.closeOnce.Do(func() {
		s.closeErr = s.t.Close()
		err = s.closeErr
	})
	return err
}

// markDisconnected records that the stream ended underneath us.
func (s *Session) markDisconnected(cause error) {
	if s.state == Closed {
		return
	}
	msg := "connection closed by remote"
	if cause != nil && !errors.Is(cause, io.EOF) {
		msg = cause.Error()
	}
	s.log.Info("disconnected", "reason", msg)
	s.setState(Closed, msg)
	_ = s.closeTransport()
}

func (s *Session) feed(ctx context.Context, data []byte) {
	s.log.Debugf("RECV %q", data)
	s.metrics.RecordBytes(ctx, s.host, len(data))
	s.emu.Feed(data)
}

func (s *Session) send(ctx context.Context, data string, mask bool) error {
	shown := data
	if mask {
		shown = maskSecret.ReplaceAllString(data, "*")
	}
	s.log.Debugf("SEND %q", shown)

	if _, err := s.t.Send([]byte(data)); err != nil {
		s.markDisconnected(err)
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// Write sends command followed by a newline.
//
// If the previous operation was also a Write, the output of that command
// is read to the prompt and discarded first; otherwise whatever output is
// already waiting is discarded. Unless opts.Mask is set, "?" is escaped so
// the device does not open context help.
func (s *Session) Write(ctx context.Context, command string, opts WriteOptions) error {
	if err := s.requireReady(); err != nil {
		return err
	}
	return s.write(ctx, command, opts)
}

func (s *Session) write(ctx context.Context, command string, opts WriteOptions) error {
	if s.writePending {
		if _, err := s.read(ctx, ReadOptions{}); err != nil {
			return err
		}
	} else {
		s.drain(ctx)
	}
	if s.state == Closed {
		return ErrNotConnected
	}

	payload := command
	if !opts.Mask {
		payload = strings.ReplaceAll(payload, "?", literalNext+"?")
	}
	if err := s.send(ctx, payload+"\n", opts.Mask); err != nil {
		return err
	}
	s.metrics.RecordCommand(ctx, s.host)
	s.writePending = true

	if !opts.SkipEcho {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = s.timeout
		}
		// The device echoes the command as typed, without the escapes.
		s.consumeEcho(ctx, len(command)+1, timeout)
	}
	return nil
}

// drain discards output that is already waiting.
func (s *Session) drain(ctx context.Context) {
	for i := 0; i < maxDrain; i++ {
		data, err := s.t.Receive(receiveChunk, time.Now())
		if len(data) > 0 {
			s.log.Debugf("DISCARD %q", data)
			s.metrics.RecordBytes(ctx, s.host, len(data))
		}
		if err != nil {
			s.markDisconnected(err)
			return
		}
		if len(data) == 0 {
			return
		}
	}
}

// consumeEcho reads up to n bytes of command echo, or until the timeout.
func (s *Session) consumeEcho(ctx context.Context, n int, timeout time.Duration) {
	deadline := s.deadline(ctx, timeout)
	for n > 0 && ctx.Err() == nil {
		data, err := s.t.Receive(n, deadline)
		if len(data) > 0 {
			s.feed(ctx, data)
			n -= len(data)
		}
		if err != nil {
			s.markDisconnected(err)
			return
		}
		if len(data) == 0 && !time.Now().Before(deadline) {
			return
		}
	}
}

func (s *Session) deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		d = cd
	}
	return d
}

// Read collects output until the cursor line shows the prompt, following
// pagination markers on the way. Running out of time is not an error: the
// output received so far is returned and TimedOut reports true. If the
// device closes the stream the output so far is returned and the session
// becomes Closed.
func (s *Session) Read(ctx context.Context, opts ReadOptions) (string, error) {
	if err := s.requireReady(); err != nil {
		return "", err
	}
	return s.read(ctx, opts)
}

func (s *Session) read(ctx context.Context, opts ReadOptions) (string, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	promptRe := opts.Prompt
	if promptRe == nil {
		promptRe = s.prompt
	}
	moreRe := opts.More
	if moreRe == nil {
		moreRe = s.more
	}

	ctx, span := tracer.Start(ctx, "session.read",
		trace.WithAttributes(
			attribute.String("device", s.host),
			attribute.String("session.id", s.id),
		))
	defer span.End()

	s.writePending = false
	s.timedOut = false
	s.emu.Reset()

	deadline := s.deadline(ctx, timeout)
	matched := false
	pages := 0

loop:
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		now := time.Now()
		if !now.Before(deadline) {
			s.timedOut = true
			break
		}

		wait := now.Add(s.pollInterval)
		if deadline.Before(wait) {
			wait = deadline
		}
		data, err := s.t.Receive(receiveChunk, wait)
		if len(data) > 0 {
			s.feed(ctx, data)
		}
		if err != nil {
			s.markDisconnected(err)
			break
		}
		if len(data) > 0 {
			continue
		}

		// Quiet: the device is waiting for something.
		line := strings.TrimSpace(s.emu.CursorLine())
		switch {
		case line == "":
		case moreRe.MatchString(line):
			s.emu.EraseCursorLine()
			if err := s.send(ctx, continueKey, false); err != nil {
				break loop
			}
			pages++
			s.metrics.RecordPage(ctx, s.host)
		case promptRe.MatchString(line):
			matched = true
			break loop
		}
	}

	if s.timedOut {
		s.log.Info("read timed out before prompt", "timeout", timeout)
		s.metrics.RecordReadTimeout(ctx, s.host)
	}

	lines := s.emu.LinesThroughCursor()
	if matched && !opts.KeepPrompt && len(lines) > 0 {
		lines = lines[:len(lines)-1]
	}
	out := strings.Join(trimBlankLines(lines), "\n")

	span.SetAttributes(
		attribute.Int("session.pages", pages),
		attribute.Bool("session.prompt_matched", matched),
		attribute.Bool("session.timed_out", s.timedOut),
		attribute.Int("session.output_bytes", len(out)),
	)
	return out, nil
}

func trimBlankLines(lines []string) []string {
	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[start:end]
}

// Exec writes command and reads its output.
func (s *Session) Exec(ctx context.Context, command string) (string, error) {
	if err := s.Write(ctx, command, WriteOptions{}); err != nil {
		return "", err
	}
	return s.Read(ctx, ReadOptions{})
}

// Prompt sends an empty line and returns the prompt the device answers
// with.
func (s *Session) Prompt(ctx context.Context) (string, error) {
	if err := s.Write(ctx, "", WriteOptions{}); err != nil {
		return "", err
	}
	out, err := s.Read(ctx, ReadOptions{KeepPrompt: true})
	if err != nil {
		return "", err
	}
	if s.timedOut || s.state == Closed {
		return "", fmt.Errorf("%w: no prompt", ErrNotConnected)
	}
	lines := strings.Split(out, "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// ShowRunningConfig fetches and parses the running configuration.
func (s *Session) ShowRunningConfig(ctx context.Context) (*conftree.Tree, error) {
	return s.showConfig(ctx, "show running-config")
}

// ShowStartupConfig fetches and parses the startup configuration.
func (s *Session) ShowStartupConfig(ctx context.Context) (*conftree.Tree, error) {
	return s.showConfig(ctx, "show startup-config")
}

func (s *Session) showConfig(ctx context.Context, command string) (*conftree.Tree, error) {
	out, err := s.Exec(ctx, command)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", command, err)
	}
	return conftree.Parse(conftree.TrimPreamble(out)), nil
}

// Authenticate answers login prompts until the device shows its command
// prompt. Each prompt is passed to answerer; the answer is sent masked and
// without echo consumption.
func (s *Session) Authenticate(ctx context.Context, answerer PromptAnswerer) error {
	switch s.state {
	case Closed:
		return ErrNotConnected
	case Authenticated, Enabled:
		return ErrAlreadyAuthenticated
	}

	state := &AuthState{Tries: make(map[string]int)}
	for {
		text, err := s.read(ctx, ReadOptions{Prompt: anyLine, KeepPrompt: true})
		if err != nil {
			return err
		}

		if s.state == Closed {
			if prompt.IsRejection(text) {
				return s.authFailed(ctx, "remote closed the connection after rejecting credentials")
			}
			return fmt.Errorf("%w: closed during authentication", ErrNotConnected)
		}

		lines := trimBlankLines(strings.Split(text, "\n"))
		if len(lines) > 0 && s.prompt.MatchString(strings.TrimSpace(lines[len(lines)-1])) {
			s.log.Info("authenticated")
			s.setState(Authenticated, "authenticated")
			return nil
		}

		if prompt.Rejected(text) {
			return s.authFailed(ctx, "credentials rejected")
		}
		if state.Attempts >= s.maxAuth {
			return s.authFailed(ctx, fmt.Sprintf("gave up after %d prompts", state.Attempts))
		}

		answer, ok := answerer.AnswerPrompt(ctx, text, state)
		if !ok {
			return s.authFailed(ctx, "no answer for prompt")
		}
		state.Attempts++
		if err := s.send(ctx, answer+"\n", true); err != nil {
			return err
		}
	}
}

func (s *Session) authFailed(ctx context.Context, reason string) error {
	s.log.Error("authentication failed", "reason", reason)
	s.metrics.RecordAuthFailure(ctx, s.host)
	return fmt.Errorf("%w: %s", ErrBadAuthentication, reason)
}

// maxEnableRetries bounds how many empty answers are sent to leave a
// password prompt after a rejected enable secret.
const maxEnableRetries = 3

// Enable enters privileged mode. A device that does not ask for a password
// is taken at its word.
func (s *Session) Enable(ctx context.Context, password string) error {
	switch s.state {
	case Closed:
		return ErrNotConnected
	case Unauthenticated:
		return ErrNotAuthenticated
	case Enabled:
		return nil
	}

	passwordOrPrompt, err := CompilePattern(`(?:^.*password:.*$)|(?:` + s.promptExpr + `)`)
	if err != nil {
		return fmt.Errorf("compiling enable pattern: %w", err)
	}
	isPasswordPrompt := func(out string) bool {
		return strings.Contains(strings.ToLower(out), "password:")
	}

	if err := s.write(ctx, "enable", WriteOptions{}); err != nil {
		return err
	}
	out, err := s.read(ctx, ReadOptions{Prompt: passwordOrPrompt, KeepPrompt: true})
	if err != nil {
		return err
	}
	if s.state == Closed {
		return ErrNotConnected
	}
	if !isPasswordPrompt(out) {
		s.log.Warn("device did not ask for an enable password")
		s.setState(Enabled, "enabled without password")
		return nil
	}

	if err := s.write(ctx, password, WriteOptions{SkipEcho: true, Mask: true}); err != nil {
		return err
	}
	out, err = s.read(ctx, ReadOptions{Prompt: passwordOrPrompt, KeepPrompt: true})
	if err != nil {
		return err
	}
	if s.state == Closed {
		return ErrNotConnected
	}
	if isPasswordPrompt(out) || prompt.IsRejection(out) {
		s.leavePasswordPrompt(ctx, out, passwordOrPrompt)
		return s.authFailed(ctx, "enable secret rejected")
	}

	s.log.Info("enabled")
	s.setState(Enabled, "enabled")
	return nil
}

// leavePasswordPrompt answers a re-prompt with empty lines until the
// device gives up and shows its command prompt again.
func (s *Session) leavePasswordPrompt(ctx context.Context, out string, re *regexp.Regexp) {
	for i := 0; i < maxEnableRetries; i++ {
		lines := trimBlankLines(strings.Split(out, "\n"))
		if len(lines) == 0 || !strings.Contains(strings.ToLower(lines[len(lines)-1]), "password:") {
			return
		}
		if err := s.write(ctx, "", WriteOptions{SkipEcho: true, Mask: true}); err != nil {
			return
		}
		var err error
		if out, err = s.read(ctx, ReadOptions{Prompt: re, KeepPrompt: true}); err != nil || s.state == Closed {
			return
		}
	}
}
