package link

import (
	"errors"
	"fmt"
	"strings"
	"syscall"
)

// Sentinel errors, one per error kind.
var (
	ErrCreate   = errors.New("link: create error")
	ErrConn     = errors.New("link: connection error")
	ErrSend     = errors.New("link: send error")
	ErrReceive  = errors.New("link: receiving error")
	ErrTimeout  = errors.New("link: timeout")
	ErrProtocol = errors.New("link: protocol error")

	// ErrClosed is returned when I/O is attempted on a closed or not yet
	// initialized link. It is reported with KindConn.
	ErrClosed = errors.New("link: connection closed")
)

// Kind classifies an Error.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindCreate
	KindConn
	KindSend
	KindReceive
	KindTimeout
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindConn:
		return "conn"
	case KindSend:
		return "send"
	case KindReceive:
		return "receive"
	case KindTimeout:
		return "timeout"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindCreate:
		return ErrCreate
	case KindConn:
		return ErrConn
	case KindSend:
		return ErrSend
	case KindReceive:
		return ErrReceive
	case KindTimeout:
		return ErrTimeout
	case KindProtocol:
		return ErrProtocol
	default:
		return nil
	}
}

// Error is the error type raised by links. It carries the identity of the
// failing link and operation and, for OS failures, the error code.
type Error struct {
	Kind  Kind
	Conn  string        // link identity, e.g. "dome.local:4000" or "/dev/ttyS0"
	Op    string        // failing operation, e.g. "connect", "send"
	Errno syscall.Errno // 0 when the failure did not come from the OS
	Err   error
}

var _ error = (*Error)(nil)

// NewError creates an Error of the given kind. The OS error code is
// extracted from err when present.
func NewError(kind Kind, conn, op string, err error) *Error {
	e := &Error{Kind: kind, Conn: conn, Op: op, Err: err}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Errno = errno
	}

	return e
}

// Protocolf creates a KindProtocol error wrapping a formatted cause.
func Protocolf(conn, op string, format string, args ...any) *Error {
	return NewError(KindProtocol, conn, op, fmt.Errorf(format, args...))
}

func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString("link: ")
	sb.WriteString(e.Kind.String())
	sb.WriteString(" error")

	if e.Conn != "" {
		sb.WriteString(" [")
		sb.WriteString(e.Conn)
		sb.WriteString("]")
	}

	if e.Op != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Op)
	}

	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}

	if e.Errno != 0 {
		fmt.Fprintf(&sb, " (errno %d)", int(e.Errno))
	}

	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of this error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()

	return s != nil && target == s
}

// KindOf returns the kind of the first Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}
