package tcpconn

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/arloliu/go-obslink/internal/rxbuf"
	"github.com/arloliu/go-obslink/internal/util"
	"github.com/arloliu/go-obslink/link"
)

// SendData writes all of p, retrying short writes and interrupted calls.
//
// Any other write failure is returned as link.ErrSend and schedules the
// one-shot reconnect.
func (c *Conn) SendData(ctx context.Context, p []byte) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.sendLocked(ctx, p)
}

func (c *Conn) sendLocked(ctx context.Context, p []byte) error {
	conn := c.getNetConn()
	if conn == nil {
		return link.NewError(link.KindConn, c.id, "send", link.ErrClosed)
	}

	stop := watchContext(ctx, conn)
	defer stop()

	if err := armDeadline(ctx, conn.SetWriteDeadline, c.cfg.sendTimeout); err != nil {
		return c.ioFailure(ctx, link.KindSend, "send", err)
	}

	for written := 0; written < len(p); {
		n, err := conn.Write(p[written:])
		written += n
		c.metrics.addBytesSent(n)

		if err != nil {
			if link.IsInterrupted(err) {
				continue
			}

			return c.ioFailure(ctx, link.KindSend, "send", err)
		}
	}

	if c.cfg.debug {
		c.logger.Debug("tcpconn: send", "data", util.DumpPayload(p, c.cfg.binary))
	}

	return nil
}

// ReceiveData reads exactly len(buf) bytes. Bytes left in the receive buffer
// by ReceiveUntil are consumed first.
//
// Each read waits at most wait for data; when it elapses ReceiveData fails
// with link.ErrTimeout and returns the number of bytes already stored in buf.
// A hard read failure is returned as link.ErrReceive and schedules the
// one-shot reconnect.
func (c *Conn) ReceiveData(ctx context.Context, buf []byte, wait time.Duration) (int, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	n := copy(buf, c.rbuf.Bytes())
	c.rbuf.Discard(n)

	if n == len(buf) {
		return n, nil
	}

	conn := c.getNetConn()
	if conn == nil {
		return n, link.NewError(link.KindConn, c.id, "receive", link.ErrClosed)
	}

	stop := watchContext(ctx, conn)
	defer stop()

	for n < len(buf) {
		if err := armDeadline(ctx, conn.SetReadDeadline, wait); err != nil {
			return n, c.ioFailure(ctx, link.KindReceive, "receive", err)
		}

		m, err := conn.Read(buf[n:])
		n += m
		c.metrics.addBytesRecv(m)

		if err != nil {
			if link.IsInterrupted(err) {
				continue
			}

			return n, c.ioFailure(ctx, link.KindReceive, "receive", err)
		}
	}

	if c.cfg.debug {
		c.logger.Debug("tcpconn: receive", "data", util.DumpPayload(buf, c.cfg.binary))
	}

	return n, nil
}

// ReceiveUntil returns the next message terminated by delim, without the
// delimiter. The delimiter and everything before it are removed from the
// receive buffer; bytes after it stay pending for the next call.
//
// wait bounds each read attempt, not the whole call; use a context deadline
// for an overall budget. On timeout the bytes received so far stay pending.
// A message that does not fit the maximum buffer size fails with
// link.ErrProtocol and the pending bytes are dropped.
func (c *Conn) ReceiveUntil(ctx context.Context, delim byte, wait time.Duration) ([]byte, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.receiveUntilLocked(ctx, delim, wait)
}

func (c *Conn) receiveUntilLocked(ctx context.Context, delim byte, wait time.Duration) ([]byte, error) {
	if msg, ok := c.rbuf.Next(delim); ok {
		c.received(msg)

		return msg, nil
	}

	conn := c.getNetConn()
	if conn == nil {
		return nil, link.NewError(link.KindConn, c.id, "receive", link.ErrClosed)
	}

	stop := watchContext(ctx, conn)
	defer stop()

	scanFrom := c.rbuf.Len()

	for {
		free, err := c.rbuf.Free(1)
		if err != nil {
			pending := c.rbuf.Len()
			c.rbuf.Reset()

			return nil, link.Protocolf(c.id, "receive", "too long reply, no delimiter 0x%02X in %d bytes: %w",
				delim, pending, rxbuf.ErrFull)
		}

		if err := armDeadline(ctx, conn.SetReadDeadline, wait); err != nil {
			return nil, c.ioFailure(ctx, link.KindReceive, "receive", err)
		}

		n, err := conn.Read(free)
		if n > 0 {
			c.rbuf.Commit(n)
			c.metrics.addBytesRecv(n)

			if pos := c.rbuf.Index(delim, scanFrom); pos >= 0 {
				msg := c.rbuf.Take(pos)
				c.received(msg)

				return msg, nil
			}

			scanFrom = c.rbuf.Len()
		}

		if err != nil {
			if link.IsInterrupted(err) {
				continue
			}

			return nil, c.ioFailure(ctx, link.KindReceive, "receive", err)
		}
	}
}

func (c *Conn) received(msg []byte) {
	c.metrics.incMsgRecvCount()

	if c.cfg.debug {
		c.logger.Debug("tcpconn: receive", "data", util.DumpPayload(msg, c.cfg.binary), "pending", c.rbuf.Len())
	}
}

// WriteRead sends p and receives the reply terminated by delim into out.
//
// The reply is truncated to len(out)-1 bytes and NUL terminated; the number
// of bytes captured (without the NUL) is returned.
func (c *Conn) WriteRead(ctx context.Context, p []byte, out []byte, delim byte, wait time.Duration) (int, error) {
	reply, err := c.Query(ctx, p, delim, wait)
	if err != nil {
		return 0, err
	}

	if len(out) == 0 {
		return 0, nil
	}

	n := copy(out[:len(out)-1], reply)
	out[n] = 0

	return n, nil
}

// Query sends p and returns the reply terminated by delim.
func (c *Conn) Query(ctx context.Context, p []byte, delim byte, wait time.Duration) ([]byte, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.sendLocked(ctx, p); err != nil {
		return nil, err
	}

	return c.receiveUntilLocked(ctx, delim, wait)
}

// Result is the outcome of an asynchronous query.
type Result struct {
	Reply []byte
	Err   error
}

// QueryAsync runs Query in its own goroutine and delivers the outcome on the
// returned channel, which receives exactly one Result.
//
// It lets a server talking to several instruments wait for one of them
// without stalling the others.
func (c *Conn) QueryAsync(ctx context.Context, p []byte, delim byte, wait time.Duration) <-chan Result {
	ch := make(chan Result, 1)

	go func() {
		reply, err := c.Query(ctx, p, delim, wait)
		ch <- Result{Reply: reply, Err: err}
	}()

	return ch
}

// Pending returns the number of received bytes not yet consumed.
func (c *Conn) Pending() int {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	return c.rbuf.Len()
}

// Flush drops received bytes not yet consumed, e.g. a late reply to a
// request that timed out.
func (c *Conn) Flush() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if n := c.rbuf.Len(); n > 0 {
		c.logger.Debug("tcpconn: flushed pending bytes", "count", n)
		c.rbuf.Reset()
	}
}

// ioFailure classifies an I/O error. Cancellation of ctx is returned as is,
// deadline expiry as link.ErrTimeout and anything else as a hard failure of
// the given kind, which schedules a reconnect.
func (c *Conn) ioFailure(ctx context.Context, kind link.Kind, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			c.metrics.incTimeoutCount()

			return link.NewError(link.KindTimeout, c.id, op, ctxErr)
		}

		return ctxErr
	}

	if link.IsTimeout(err) && kind == link.KindReceive {
		c.metrics.incTimeoutCount()
		c.logger.Debug("tcpconn: receive timeout", "pending", c.rbuf.Len())

		return link.NewError(link.KindTimeout, c.id, op, err)
	}

	if kind == link.KindSend {
		c.metrics.incSendErrCount()
	} else {
		c.metrics.incRecvErrCount()
	}

	c.logger.Error("tcpconn: "+op+" failed", "error", err)
	c.scheduleReconnect()

	return link.NewError(kind, c.id, op, err)
}

// watchContext forces pending I/O on conn to return once ctx is done.
func watchContext(ctx context.Context, conn net.Conn) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
}

// armDeadline sets the deadline of the next I/O call to now+wait, or to the
// context deadline when that is earlier. A non-positive wait leaves only the
// context deadline.
func armDeadline(ctx context.Context, set func(time.Time) error, wait time.Duration) error {
	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}

	if err := set(deadline); err != nil {
		return err
	}

	// A context cancelled before the deadline was set would otherwise be
	// overwritten by it.
	return ctx.Err()
}
