package enet

import (
	"errors"
	"time"

	"github.com/arloliu/go-obslink/logger"
	"github.com/arloliu/go-obslink/tcpconn"
)

// DefaultResponseMargin is added to the bus timeout when waiting for a
// bridge response, since the bridge only answers after the bus operation
// completed or timed out.
const DefaultResponseMargin = time.Second

type options struct {
	eot            bool
	eos            byte
	eosEnabled     bool
	responseMargin time.Duration
	logger         logger.Logger
	connOpts       []tcpconn.ConnOption
}

// Option is a functional option for configuring a Bridge.
type Option interface {
	apply(*options) error
}

type optFunc func(*options) error

func (f optFunc) apply(o *options) error { return f(o) }

// WithEOT controls whether EOI is asserted with the last byte of each write.
// It is enabled by default.
func WithEOT(enabled bool) Option {
	return optFunc(func(o *options) error {
		o.eot = enabled
		return nil
	})
}

// WithEOS makes writes and reads end on the given end-of-string character.
func WithEOS(char byte) Option {
	return optFunc(func(o *options) error {
		o.eos = char
		o.eosEnabled = true

		return nil
	})
}

// WithResponseMargin sets how long to wait for a response beyond the bus
// timeout.
func WithResponseMargin(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d < 0 {
			return errors.New("enet: response margin must not be negative")
		}
		o.responseMargin = d

		return nil
	})
}

// WithLogger sets the logger of the bridge and its connection.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(o *options) error {
		if l == nil {
			return errors.New("enet: logger must not be nil")
		}
		o.logger = l

		return nil
	})
}

// WithConnOptions passes options to the underlying TCP connection, e.g. a
// reconnect delay or connect timeout.
func WithConnOptions(opts ...tcpconn.ConnOption) Option {
	return optFunc(func(o *options) error {
		o.connOpts = append(o.connOpts, opts...)
		return nil
	})
}
