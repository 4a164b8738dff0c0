package transport

import (
	"errors"
	"io"
	"syscall"
	"testing"
	"time"
)

func newPipeStream(t *testing.T) (*Stream, *io.PipeWriter, *io.PipeReader) {
	t.Helper()
	devOut, toSession := io.Pipe()
	fromSession, devIn := io.Pipe()
	s := NewStream(devOut, devIn, func() error {
		devOut.Close()
		return devIn.Close()
	})
	t.Cleanup(func() { s.Close() })
	return s, toSession, fromSession
}

func receiveAll(t *testing.T, s *Stream, want int) string {
	t.Helper()
	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < want && time.Now().Before(deadline) {
		data, err := s.Receive(4096, deadline)
		if err != nil {
			t.Fatalf("Receive: %v", err)
		}
		got = append(got, data...)
	}
	return string(got)
}

func TestStreamReceive(t *testing.T) {
	s, dev, _ := newPipeStream(t)
	go dev.Write([]byte("R1>"))

	if got := receiveAll(t, s, 3); got != "R1>" {
		t.Errorf("got %q, want %q", got, "R1>")
	}
}

func TestStreamReceiveHonorsMaxBytes(t *testing.T) {
	s, dev, _ := newPipeStream(t)
	go dev.Write([]byte("abcdef"))

	deadline := time.Now().Add(2 * time.Second)
	var first []byte
	for len(first) == 0 && time.Now().Before(deadline) {
		first, _ = s.Receive(2, deadline)
	}
	if len(first) != 2 {
		t.Fatalf("got %d bytes, want 2", len(first))
	}
	rest := receiveAll(t, s, 6-len(first))
	if got := string(first) + rest; got != "abcdef" {
		t.Errorf("got %q, want %q", got, "abcdef")
	}
}

func TestStreamReceiveDeadline(t *testing.T) {
	s, _, _ := newPipeStream(t)

	start := time.Now()
	data, err := s.Receive(4096, start.Add(30*time.Millisecond))
	if err != nil || len(data) != 0 {
		t.Fatalf("got %q, %v, want no data and no error", data, err)
	}
	if waited := time.Since(start); waited < 25*time.Millisecond {
		t.Errorf("returned after %v, before the deadline", waited)
	}

	// A deadline in the past does not block.
	start = time.Now()
	if data, err := s.Receive(4096, start.Add(-time.Second)); err != nil || len(data) != 0 {
		t.Fatalf("got %q, %v", data, err)
	}
	if waited := time.Since(start); waited > 20*time.Millisecond {
		t.Errorf("past deadline blocked for %v", waited)
	}
}

func TestStreamEOFAfterData(t *testing.T) {
	s, dev, _ := newPipeStream(t)
	go func() {
		dev.Write([]byte("bye\r\n"))
		dev.Close()
	}()

	if got := receiveAll(t, s, 5); got != "bye\r\n" {
		t.Fatalf("got %q", got)
	}
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for err == nil && time.Now().Before(deadline) {
		_, err = s.Receive(4096, deadline)
	}
	if !errors.Is(err, io.EOF) {
		t.Fatalf("got %v, want io.EOF", err)
	}
	// The end of stream is sticky.
	if _, err := s.Receive(4096, time.Now()); !errors.Is(err, io.EOF) {
		t.Errorf("second receive: got %v, want io.EOF", err)
	}
}

func TestStreamSendAndClose(t *testing.T) {
	s, _, dev := newPipeStream(t)

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := dev.Read(buf)
		got <- string(buf[:n])
	}()
	if _, err := s.Send([]byte("show clock\n")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if g := <-got; g != "show clock\n" {
		t.Errorf("got %q, want %q", g, "show clock\n")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := s.Send([]byte("x")); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Send after Close: got %v, want io.ErrClosedPipe", err)
	}
}

func TestStreamCloseCallsCloserOnce(t *testing.T) {
	r, w := io.Pipe()
	calls := 0
	s := NewStream(r, io.Discard, func() error {
		calls++
		return w.Close()
	})
	s.Close()
	s.Close()
	if calls != 1 {
		t.Errorf("closer called %d times, want 1", calls)
	}
}

func TestNormalizeReadErr(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"eof", io.EOF, io.EOF},
		{"closed pipe", io.ErrClosedPipe, io.EOF},
		{"pty eio", syscall.EIO, io.EOF},
		{"other", boom, boom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeReadErr(tt.in); !errors.Is(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
