package seqline

import (
	"errors"
	"time"

	"github.com/arloliu/go-obslink/logger"
	"github.com/arloliu/go-obslink/tcpconn"
)

// DefaultWait bounds each read of a reply.
const DefaultWait = 3 * time.Second

type options struct {
	wait      time.Duration
	delimiter byte
	debug     bool
	logger    logger.Logger
	connOpts  []tcpconn.ConnOption
}

// Option is a functional option for configuring a Client.
type Option interface {
	apply(*options) error
}

type optFunc func(*options) error

func (f optFunc) apply(o *options) error { return f(o) }

// WithWait sets how long a read of the reply may wait for data.
func WithWait(d time.Duration) Option {
	return optFunc(func(o *options) error {
		if d <= 0 {
			return errors.New("seqline: wait must be positive")
		}
		o.wait = d

		return nil
	})
}

// WithDelimiter sets the byte terminating request and reply lines.
// The default is '\n'.
func WithDelimiter(delim byte) Option {
	return optFunc(func(o *options) error {
		o.delimiter = delim
		return nil
	})
}

// WithDebug logs every request and reply line.
func WithDebug(enabled bool) Option {
	return optFunc(func(o *options) error {
		o.debug = enabled
		return nil
	})
}

// WithLogger sets the logger of the client and its connections.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(o *options) error {
		if l == nil {
			return errors.New("seqline: logger must not be nil")
		}
		o.logger = l

		return nil
	})
}

// WithConnOptions passes options to the TCP connection of each round trip.
func WithConnOptions(opts ...tcpconn.ConnOption) Option {
	return optFunc(func(o *options) error {
		o.connOpts = append(o.connOpts, opts...)
		return nil
	})
}
