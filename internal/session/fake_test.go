package session

import (
	"io"
	"sync"
	"testing"
	"time"
)

// eof in a fake device queue makes Receive report io.EOF.
const eof = "\x00<EOF>"

// fakeDevice is a scripted Transport. Chunks queued with push are returned
// one per Receive; reply is consulted on every Send and its chunks are
// queued as the device's response.
type fakeDevice struct {
	mu      sync.Mutex
	queue   []string
	sent    []string
	reply   func(sent string) []string
	sendErr error
	closes  int
}

func (f *fakeDevice) push(chunks ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, chunks...)
}

func (f *fakeDevice) Send(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closes > 0 {
		return 0, io.ErrClosedPipe
	}
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sent = append(f.sent, string(p))
	if f.reply != nil {
		f.queue = append(f.queue, f.reply(string(p))...)
	}
	return len(p), nil
}

func (f *fakeDevice) Receive(maxBytes int, deadline time.Time) ([]byte, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		c := f.queue[0]
		if c == eof {
			f.mu.Unlock()
			return nil, io.EOF
		}
		if len(c) > maxBytes {
			f.queue[0] = c[maxBytes:]
			c = c[:maxBytes]
		} else {
			f.queue = f.queue[1:]
		}
		f.mu.Unlock()
		return []byte(c), nil
	}
	f.mu.Unlock()
	if d := time.Until(deadline); d > 0 {
		time.Sleep(d)
	}
	return nil, nil
}

func (f *fakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeDevice) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// replies maps each sent payload to a queue of responses, consumed in order.
func replies(m map[string][]string) func(string) []string {
	var mu sync.Mutex
	return func(sent string) []string {
		mu.Lock()
		defer mu.Unlock()
		chunks, ok := m[sent]
		if !ok || len(chunks) == 0 {
			return nil
		}
		m[sent] = chunks[1:]
		return []string{chunks[0]}
	}
}

func newTestSession(t *testing.T, dev *fakeDevice, opts Options) *Session {
	t.Helper()
	if opts.Host == "" {
		opts.Host = "r1"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.Rows == 0 {
		opts.Rows, opts.Cols = 24, 80
	}
	s, err := New(dev, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// loggedIn returns a session already past authentication.
func loggedIn(t *testing.T, dev *fakeDevice, opts Options) *Session {
	t.Helper()
	s := newTestSession(t, dev, opts)
	s.state = Authenticated
	return s
}

func equalStrings(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d]: got %q, want %q", i, got[i], want[i])
		}
	}
}
