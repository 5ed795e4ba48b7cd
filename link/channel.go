package link

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

// Channel is the byte channel every link is built on: a socket or a device
// descriptor whose reads and writes can be bounded by deadlines.
//
// net.Conn and *os.File implement Channel.
type Channel interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// WithoutDeadlines adapts a port that cannot honor deadlines, such as a
// serial port whose read timeout is configured when it is opened.
// Deadline calls on the returned Channel are accepted and ignored.
func WithoutDeadlines(rwc io.ReadWriteCloser) Channel {
	return &nopDeadlineChannel{ReadWriteCloser: rwc}
}

type nopDeadlineChannel struct {
	io.ReadWriteCloser
}

func (*nopDeadlineChannel) SetReadDeadline(time.Time) error  { return nil }
func (*nopDeadlineChannel) SetWriteDeadline(time.Time) error { return nil }

// SetReadWait bounds the next read on ch by wait. A non-positive wait clears
// the deadline. Descriptors that never block (regular files) are accepted.
func SetReadWait(ch Channel, wait time.Duration) error {
	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}

	return ignoreNoDeadline(ch.SetReadDeadline(deadline))
}

// SetWriteWait bounds the next write on ch by wait.
func SetWriteWait(ch Channel, wait time.Duration) error {
	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}

	return ignoreNoDeadline(ch.SetWriteDeadline(deadline))
}

func ignoreNoDeadline(err error) error {
	if errors.Is(err, os.ErrNoDeadline) {
		return nil
	}

	return err
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsInterrupted reports whether err is an interrupted system call, which is
// retried transparently.
func IsInterrupted(err error) bool {
	return errors.Is(err, syscall.EINTR)
}

// IsClosed reports whether err was caused by using a closed channel.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed)
}
