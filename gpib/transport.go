package gpib

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout is the I/O timeout used when Config.Timeout is zero.
const DefaultTimeout = 3 * time.Second

// DefaultEndDelimiter terminates replies when Config leaves the delimiter
// unset.
const DefaultEndDelimiter byte = '\n'

// DefaultReplySize is the reply buffer size used by the query helpers.
const DefaultReplySize = 1024

// ErrNotInitialized is returned by I/O on a device whose Init has not
// succeeded yet.
var ErrNotInitialized = errors.New("gpib: device not initialized")

// Transport is the set of GPIB operations a device driver relies on.
//
// Init must succeed before any other I/O method is called. Implementations
// are not safe for concurrent use by independent request/reply exchanges.
type Transport interface {
	// Init opens the underlying link and prepares the device.
	Init(ctx context.Context) error
	// WriteBuffer sends cmd to the device as is.
	WriteBuffer(ctx context.Context, cmd []byte) error
	// Write sends a text command to the device.
	Write(ctx context.Context, cmd string) error
	// Read reads one reply into buf and returns its length.
	Read(ctx context.Context, buf []byte) (int, error)
	// WriteRead sends cmd and reads the reply into buf.
	WriteRead(ctx context.Context, cmd string, buf []byte) (int, error)
	// WaitSRQ waits until the device asserts a service request.
	WaitSRQ(ctx context.Context) error
	// DevClear sends the selected device clear message.
	DevClear(ctx context.Context) error
	// Timeout returns the current I/O timeout.
	Timeout() time.Duration
	// SetTimeout changes the I/O timeout of the device.
	SetTimeout(ctx context.Context, d time.Duration) error
	// IsSerial reports whether the device is a serial instrument reached
	// through the GPIB interface, so drivers can adapt command formatting.
	IsSerial() bool
	// Close releases the underlying link.
	Close() error
}

// Config holds the per-device settings of a Transport.
type Config struct {
	// Timeout bounds every read and write; zero selects DefaultTimeout.
	Timeout time.Duration
	// Debug logs every command and reply.
	Debug bool
	// EndDelimiter terminates replies on text transports. A zero value
	// selects DefaultEndDelimiter unless HasEndDelimiter is set.
	EndDelimiter byte
	// HasEndDelimiter marks EndDelimiter as set, which makes NUL usable.
	HasEndDelimiter bool
}

// WithDefaults returns a copy of cfg with zero fields replaced by defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.EndDelimiter == 0 && !cfg.HasEndDelimiter {
		cfg.EndDelimiter = DefaultEndDelimiter
	}
	cfg.HasEndDelimiter = true

	return cfg
}
