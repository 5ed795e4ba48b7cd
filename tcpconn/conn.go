package tcpconn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/arloliu/go-obslink/internal/pool"
	"github.com/arloliu/go-obslink/internal/rxbuf"
	"github.com/arloliu/go-obslink/link"
	"github.com/arloliu/go-obslink/logger"
)

// connSeq makes scheduler tokens unique when several connections target the
// same endpoint.
var connSeq atomic.Uint64

// Conn is a framed TCP connection.
//
// A Conn is owned by one driver. Operations are serialized internally so the
// reconnect timer can safely re-run Init, but a Conn is not meant to be shared
// between independent request/reply exchanges.
type Conn struct {
	cfg    *Config
	id     string
	token  string
	logger logger.Logger

	// opMu serializes Init, I/O operations and the reconnect callback.
	opMu sync.Mutex
	rbuf *rxbuf.Buffer

	connMu   sync.RWMutex
	netConn  net.Conn
	listener net.Listener

	state  link.AtomicState
	broken atomic.Bool // a hard I/O failure happened since the last Init
	closed atomic.Bool // Close was called

	metrics ConnectionMetrics
}

// New creates a connection for cfg. No socket is opened until Init.
func New(cfg *Config) (*Conn, error) {
	if cfg == nil {
		return nil, errors.New("tcpconn: config is nil")
	}

	id := cfg.Addr()
	if cfg.IsListen() {
		id = "listen:" + strconv.Itoa(cfg.port)
	}

	return newConn(cfg, id), nil
}

func newConn(cfg *Config, id string) *Conn {
	return &Conn{
		cfg:    cfg,
		id:     id,
		token:  fmt.Sprintf("%s#%d", id, connSeq.Add(1)),
		logger: cfg.logger.With("conn", id),
		rbuf:   rxbuf.New(cfg.initialBufSize, cfg.maxBufSize),
	}
}

// ID returns the identity of the connection used in logs and errors.
func (c *Conn) ID() string { return c.id }

// State returns the connection state.
func (c *Conn) State() link.State { return c.state.Get() }

// IsConnected reports whether the connection holds an open handle.
func (c *Conn) IsConnected() bool { return c.state.IsConnected() }

// Config returns the connection configuration.
func (c *Conn) Config() *Config { return c.cfg }

// GetLogger returns the logger associated with the connection.
func (c *Conn) GetLogger() logger.Logger { return c.logger }

// GetMetrics returns the metrics associated with the connection.
func (c *Conn) GetMetrics() *ConnectionMetrics { return &c.metrics }

// LocalAddr returns the local address of the socket or listener, or nil.
func (c *Conn) LocalAddr() net.Addr {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	switch {
	case c.netConn != nil:
		return c.netConn.LocalAddr()
	case c.listener != nil:
		return c.listener.Addr()
	default:
		return nil
	}
}

// RemoteAddr returns the peer address, or nil when not connected.
func (c *Conn) RemoteAddr() net.Addr {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if c.netConn == nil {
		return nil
	}

	return c.netConn.RemoteAddr()
}

// Init opens the connection.
//
// With an empty host it listens on the configured port on all interfaces.
// Otherwise it resolves the host and connects, retrying up to the configured
// number of attempts while the network is unreachable; any other connect
// failure is fatal. Calling Init on an open connection drops the old socket
// and opens a new one.
//
// Init fails with link.ErrCreate on resolve or listen failures and with
// link.ErrConn on other connect failures.
func (c *Conn) Init(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.initLocked(ctx)
}

func (c *Conn) initLocked(ctx context.Context) error {
	c.closed.Store(false)
	_ = c.closeSocket()
	c.state.Set(link.ConnectingState)

	var err error
	if c.cfg.IsListen() {
		err = c.listen(ctx)
	} else {
		err = c.connect(ctx)
	}

	if err != nil {
		c.state.ToClosed()
		c.logger.Error("tcpconn: init failed", "error", err)

		return err
	}

	c.rbuf.Reset()
	c.broken.Store(false)
	c.state.ToConnected()

	c.logger.Info("tcpconn: connection ready", "local", c.LocalAddr(), "listen", c.cfg.IsListen())

	return nil
}

func (c *Conn) listen(ctx context.Context) error {
	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort("", strconv.Itoa(c.cfg.port)))
	if err != nil {
		return link.NewError(link.KindCreate, c.id, "listen", err)
	}

	c.connMu.Lock()
	c.listener = ln
	c.connMu.Unlock()

	return nil
}

func (c *Conn) connect(ctx context.Context) error {
	addrs, err := net.DefaultResolver.LookupHost(ctx, c.cfg.host)
	if err != nil {
		return link.NewError(link.KindCreate, c.id, "resolve", err)
	}
	if len(addrs) == 0 {
		return link.NewError(link.KindCreate, c.id, "resolve", fmt.Errorf("no address for %q", c.cfg.host))
	}

	address := net.JoinHostPort(addrs[0], strconv.Itoa(c.cfg.port))

	for attempt := 1; ; attempt++ {
		conn, err := c.dialOnce(ctx, address)
		if err == nil {
			c.connMu.Lock()
			c.netConn = conn
			c.connMu.Unlock()

			c.logger.Debug("tcpconn: connected", "address", address, "attempt", attempt)

			return nil
		}

		if !isNetUnreachable(err) || attempt >= c.cfg.connectRetries {
			return link.NewError(link.KindConn, c.id, "connect", err)
		}

		c.metrics.incConnectRetryCount()
		c.logger.Warn("tcpconn: network unreachable, retrying connect",
			"address", address,
			"attempt", attempt,
			"maxAttempts", c.cfg.connectRetries,
			"pause", c.cfg.retryPause)

		if err := pool.Sleep(ctx, c.cfg.retryPause); err != nil {
			return link.NewError(link.KindConn, c.id, "connect", err)
		}
	}
}

func (c *Conn) dialOnce(ctx context.Context, address string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.connectTimeout)
	defer cancel()

	return c.cfg.dial(dialCtx, "tcp", address)
}

func isNetUnreachable(err error) bool {
	return errors.Is(err, syscall.ENETUNREACH)
}

// Accept waits for a peer on a listening connection and returns a new Conn
// for the accepted socket. The returned Conn shares the configuration but
// never schedules reconnects, since a server cannot re-open a peer socket.
func (c *Conn) Accept(ctx context.Context) (*Conn, error) {
	c.connMu.RLock()
	ln := c.listener
	c.connMu.RUnlock()

	if ln == nil {
		return nil, link.NewError(link.KindConn, c.id, "accept", link.ErrClosed)
	}

	tcpLn, _ := ln.(*net.TCPListener)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if tcpLn != nil {
			if err := tcpLn.SetDeadline(time.Now().Add(c.cfg.acceptPoll)); err != nil {
				return nil, link.NewError(link.KindConn, c.id, "accept", err)
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if link.IsTimeout(err) {
				continue
			}

			return nil, link.NewError(link.KindConn, c.id, "accept", err)
		}

		cfg := c.cfg.clone()
		cfg.reconnectDelay = 0

		peer := newConn(cfg, conn.RemoteAddr().String())
		peer.netConn = conn
		peer.state.Set(link.ConnectedState)

		c.logger.Info("tcpconn: peer accepted", "remote", conn.RemoteAddr())

		return peer, nil
	}
}

// Close closes the socket or listener and cancels a pending reconnect.
// Close may be called while another operation is blocked on the socket;
// that operation then fails.
func (c *Conn) Close() error {
	c.closed.Store(true)
	c.cfg.scheduler.Cancel(c.token)

	err := c.closeSocket()
	if c.state.ToClosed() {
		c.logger.Debug("tcpconn: connection closed")
	}

	return err
}

func (c *Conn) closeSocket() error {
	c.connMu.Lock()
	conn, ln := c.netConn, c.listener
	c.netConn, c.listener = nil, nil
	c.connMu.Unlock()

	var errs []error
	if conn != nil {
		if err := conn.Close(); err != nil && !link.IsClosed(err) {
			errs = append(errs, err)
		}
	}
	if ln != nil {
		if err := ln.Close(); err != nil && !link.IsClosed(err) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (c *Conn) getNetConn() net.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return c.netConn
}
