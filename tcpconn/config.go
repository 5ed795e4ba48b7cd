package tcpconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-obslink/internal/rxbuf"
	"github.com/arloliu/go-obslink/link"
	"github.com/arloliu/go-obslink/logger"
)

const (
	DefaultConnectRetries = 3                // connect attempts on network-unreachable
	DefaultRetryPause     = 1 * time.Second  // pause between connect attempts
	DefaultConnectTimeout = 10 * time.Second // TCP dial timeout per attempt
	DefaultReconnectDelay = 60 * time.Second // delay of the one-shot reconnect
	DefaultAcceptPoll     = 1 * time.Second  // accept deadline per iteration (listen mode)

	DefaultInitialBufferSize = rxbuf.DefaultInitialSize
	DefaultMaxBufferSize     = rxbuf.DefaultMaxSize

	MaxConnectRetries = 10
)

// DialFunc opens a TCP connection. It has the signature of net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config holds the configuration of a framed TCP connection.
//
// An empty host selects the server role: Init listens on the port on all
// interfaces and peers are taken with Accept.
type Config struct {
	host string
	port int

	connectRetries int
	retryPause     time.Duration
	connectTimeout time.Duration
	reconnectDelay time.Duration
	sendTimeout    time.Duration
	acceptPoll     time.Duration

	// debug enables verbatim logging of the bytes sent and received;
	// binary selects hex rendering instead of quoted text.
	debug  bool
	binary bool

	initialBufSize int
	maxBufSize     int

	scheduler link.Scheduler
	dial      DialFunc
	logger    logger.Logger
}

// NewConfig creates a connection configuration for host:port.
//
// opts are functional options applied in order; see With* functions.
func NewConfig(host string, port int, opts ...ConnOption) (*Config, error) {
	cfg := &Config{
		connectRetries: DefaultConnectRetries,
		retryPause:     DefaultRetryPause,
		connectTimeout: DefaultConnectTimeout,
		reconnectDelay: DefaultReconnectDelay,
		acceptPoll:     DefaultAcceptPoll,
		initialBufSize: DefaultInitialBufferSize,
		maxBufSize:     DefaultMaxBufferSize,
		scheduler:      link.DefaultScheduler(),
		logger:         logger.GetLogger(),
	}

	cfg.setHost(host)
	if err := cfg.setPort(port); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.dial == nil {
		dialer := &net.Dialer{Timeout: cfg.connectTimeout, KeepAlive: 30 * time.Second}
		cfg.dial = dialer.DialContext
	}

	return cfg, nil
}

// Host names are resolved by Init so that a resolve failure is reported as
// a create error of the connection rather than a configuration error.
func (cfg *Config) setHost(host string) {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, ".")
	host = strings.TrimSuffix(host, ".")
	cfg.host = host
}

func (cfg *Config) setPort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("tcpconn: port %d out of range [0, 65535]", port)
	}
	cfg.port = port

	return nil
}

func (cfg *Config) clone() *Config {
	c := *cfg

	return &c
}

// Host returns the configured host; empty in listen mode.
func (cfg *Config) Host() string { return cfg.host }

// Port returns the configured TCP port.
func (cfg *Config) Port() int { return cfg.port }

// Addr returns "host:port".
func (cfg *Config) Addr() string { return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port)) }

// IsListen reports whether the configuration selects the server role.
func (cfg *Config) IsListen() bool { return cfg.host == "" }

// Debug reports whether traffic dumps are enabled.
func (cfg *Config) Debug() bool { return cfg.debug }

// ReconnectDelay returns the delay of the one-shot reconnect; 0 means disabled.
func (cfg *Config) ReconnectDelay() time.Duration { return cfg.reconnectDelay }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// ConnOption is a functional option for configuring a Config.
type ConnOption interface {
	apply(*Config) error
}

type connOptFunc func(*Config) error

func (f connOptFunc) apply(cfg *Config) error { return f(cfg) }

// WithDebug enables logging of the bytes sent and received at debug level.
func WithDebug(enabled bool) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		cfg.debug = enabled
		return nil
	})
}

// WithBinary renders traffic dumps as hex. Use it for binary framed peers.
func WithBinary(enabled bool) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		cfg.binary = enabled
		return nil
	})
}

// WithConnectRetries sets the number of connect attempts made while the
// network is unreachable. Must be in [1, MaxConnectRetries].
func WithConnectRetries(n int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if n < 1 || n > MaxConnectRetries {
			return fmt.Errorf("tcpconn: connect retries %d out of range [1, %d]", n, MaxConnectRetries)
		}
		cfg.connectRetries = n

		return nil
	})
}

// WithRetryPause sets the pause between connect attempts.
func WithRetryPause(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("tcpconn: retry pause must not be negative")
		}
		cfg.retryPause = d

		return nil
	})
}

// WithConnectTimeout sets the TCP dial timeout of each connect attempt.
func WithConnectTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("tcpconn: connect timeout must be positive")
		}
		cfg.connectTimeout = d

		return nil
	})
}

// WithReconnectDelay sets the delay of the reconnect scheduled after a hard
// I/O failure. Zero disables reconnection.
func WithReconnectDelay(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("tcpconn: reconnect delay must not be negative")
		}
		cfg.reconnectDelay = d

		return nil
	})
}

// WithSendTimeout bounds each SendData call. Zero means no bound other than
// the caller's context.
func WithSendTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("tcpconn: send timeout must not be negative")
		}
		cfg.sendTimeout = d

		return nil
	})
}

// WithAcceptPoll sets how often a blocked Accept checks its context.
func WithAcceptPoll(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if d <= 0 {
			return errors.New("tcpconn: accept poll must be positive")
		}
		cfg.acceptPoll = d

		return nil
	})
}

// WithBufferSize sets the initial and maximum size of the receive buffer.
// A delimited message longer than max is rejected as a protocol error.
func WithBufferSize(initial, max int) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if initial < 1 || max < initial {
			return fmt.Errorf("tcpconn: invalid buffer size initial=%d max=%d", initial, max)
		}
		cfg.initialBufSize = initial
		cfg.maxBufSize = max

		return nil
	})
}

// WithScheduler sets the timer facility used for reconnects.
func WithScheduler(s link.Scheduler) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if s == nil {
			return errors.New("tcpconn: scheduler must not be nil")
		}
		cfg.scheduler = s

		return nil
	})
}

// WithDialer replaces the function used to open client connections.
func WithDialer(dial DialFunc) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if dial == nil {
			return errors.New("tcpconn: dialer must not be nil")
		}
		cfg.dial = dial

		return nil
	})
}

// WithLogger sets the logger for the connection.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("tcpconn: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
