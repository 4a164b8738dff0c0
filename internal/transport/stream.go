// Package transport provides the byte streams sessions talk to devices over.
//
// This package is pure transport. It moves bytes between a device and the
// session without looking at them; prompt detection and terminal emulation
// happen in the session.
package transport

import (
	"errors"
	"io"
	"sync"
	"syscall"
	"time"
)

const readChunk = 4096

// Stream adapts a blocking reader and writer to the session's
// deadline-bounded Receive. A background goroutine reads into a buffer;
// Receive hands out buffered bytes or waits for more until its deadline.
type Stream struct {
	w       io.Writer
	closeFn func() error

	mu     sync.Mutex
	buf    []byte
	err    error
	closed bool
	notify chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// NewStream starts reading r in the background. closeFn releases whatever
// backs r and w; it is called once, by the first Close.
func NewStream(r io.Reader, w io.Writer, closeFn func() error) *Stream {
	s := &Stream{
		w:       w,
		closeFn: closeFn,
		notify:  make(chan struct{}, 1),
	}
	go s.readLoop(r)
	return s
}

func (s *Stream) readLoop(r io.Reader) {
	chunk := make([]byte, readChunk)
	for {
		n, err := r.Read(chunk)
		s.mu.Lock()
		if n > 0 {
			s.buf = append(s.buf, chunk[:n]...)
		}
		if err != nil {
			s.err = normalizeReadErr(err)
		}
		s.mu.Unlock()
		s.wake()
		if err != nil {
			return
		}
	}
}

func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// normalizeReadErr maps the ways a finished stream reports itself to io.EOF.
// Reading a pty master after the child exited gives EIO on Linux.
func normalizeReadErr(err error) error {
	if errors.Is(err, syscall.EIO) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

// Receive returns up to maxBytes buffered bytes, waiting until deadline for
// some to arrive. It returns nil, nil when the deadline passes without
// data. Once the stream has ended and the buffer is empty it returns the
// read error, io.EOF for a normal end.
func (s *Stream) Receive(maxBytes int, deadline time.Time) ([]byte, error) {
	for {
		s.mu.Lock()
		if len(s.buf) > 0 {
			n := len(s.buf)
			if maxBytes > 0 && n > maxBytes {
				n = maxBytes
			}
			out := make([]byte, n)
			copy(out, s.buf)
			s.buf = s.buf[n:]
			s.mu.Unlock()
			return out, nil
		}
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return nil, err
		}
		s.mu.Unlock()

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-s.notify:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		}
	}
}

// Send writes p to the device.
func (s *Stream) Send(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, io.ErrClosedPipe
	}
	return s.w.Write(p)
}

// Close releases the stream. Later calls return the first call's result.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.closeFn != nil {
			s.closeErr = s.closeFn()
		}
	})
	return s.closeErr
}
