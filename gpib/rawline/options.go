package rawline

import (
	"errors"

	"github.com/arloliu/go-obslink/logger"
)

type options struct {
	baud       int
	terminator string
	logger     logger.Logger
}

// Option is a functional option for configuring a Device.
type Option interface {
	apply(*options) error
}

type optFunc func(*options) error

func (f optFunc) apply(o *options) error { return f(o) }

// WithBaud opens the path as a serial port at the given baud rate. Without
// it the path is opened as a plain file, e.g. a tty configured elsewhere.
func WithBaud(baud int) Option {
	return optFunc(func(o *options) error {
		if baud <= 0 {
			return errors.New("rawline: baud rate must be positive")
		}
		o.baud = baud

		return nil
	})
}

// WithTerminator appends s to every command sent with Write. WriteBuffer
// always sends its bytes unchanged.
func WithTerminator(s string) Option {
	return optFunc(func(o *options) error {
		o.terminator = s
		return nil
	})
}

// WithLogger sets the logger of the device.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(o *options) error {
		if l == nil {
			return errors.New("rawline: logger must not be nil")
		}
		o.logger = l

		return nil
	})
}
