// internal/tube/tube.go

//go:build linux

// Package tube is a one-way packet channel between the dispatcher and a
// client. It is a SOCK_SEQPACKET socket pair: every Send is delivered as
// exactly one packet, so the reader never has to reframe records.
package tube

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultBufferSize is applied to both socket buffers.
const DefaultBufferSize = 16 * 1024

var (
	// ErrClosed is returned once either end of the tube is gone.
	ErrClosed = errors.New("tube: closed")
	// ErrWouldBlock means the reader is not keeping up and the packet was not sent.
	ErrWouldBlock = errors.New("tube: would block")
)

// Tube owns the sending end and, until it is handed out, the receiving end.
type Tube struct {
	mu      sync.Mutex
	sendFd  int
	closed  bool
	cleanup runtime.Cleanup
	recv    *os.File
}

// New creates a connected pair. bufSize <= 0 selects DefaultBufferSize.
func New(bufSize int) (*Tube, error) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("tube: socketpair: %w", err)
	}
	for _, fd := range fds {
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bufSize)
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bufSize)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return nil, fmt.Errorf("tube: set nonblock: %w", err)
		}
	}

	t := &Tube{
		sendFd: fds[1],
		recv:   os.NewFile(uintptr(fds[0]), "tube-recv"),
	}
	// the owner may drop the tube without closing it
	t.cleanup = runtime.AddCleanup(t, func(fd int) { unix.Close(fd) }, fds[1])
	return t, nil
}

// Send writes one packet without blocking.
func (t *Tube) Send(b []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	for {
		err := unix.Sendto(t.sendFd, b, unix.MSG_NOSIGNAL|unix.MSG_DONTWAIT, nil)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return ErrWouldBlock
		case errors.Is(err, unix.EPIPE), errors.Is(err, unix.ECONNREFUSED), errors.Is(err, unix.ECONNRESET):
			return fmt.Errorf("%w: %v", ErrClosed, err)
		default:
			return fmt.Errorf("tube: write: %w", err)
		}
	}
}

// TakeReceiver hands the receiving end to the caller. It succeeds once.
func (t *Tube) TakeReceiver() (*Receiver, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.recv == nil {
		return nil, ErrClosed
	}
	r := &Receiver{f: t.recv}
	t.recv = nil
	return r, nil
}

// Close closes the sending end and any receiving end still held.
func (t *Tube) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.cleanup.Stop()
	err := unix.Close(t.sendFd)
	if t.recv != nil {
		_ = t.recv.Close()
		t.recv = nil
	}
	return err
}

// Receiver is the reading end held by a client.
type Receiver struct {
	f *os.File
}

// Read reads one packet into b. Once the sending end is closed and drained
// it returns ErrClosed.
func (r *Receiver) Read(b []byte) (int, error) {
	n, err := r.f.Read(b)
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, os.ErrDeadlineExceeded):
		return 0, err
	default:
		return n, fmt.Errorf("%w: %v", ErrClosed, err)
	}
}

// SetReadDeadline bounds the next Read calls.
func (r *Receiver) SetReadDeadline(t time.Time) error { return r.f.SetReadDeadline(t) }

// Close drops the client's end; later sends fail with ErrClosed.
func (r *Receiver) Close() error { return r.f.Close() }
