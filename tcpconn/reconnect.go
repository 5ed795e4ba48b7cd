package tcpconn

import (
	"context"
	"time"
)

// scheduleReconnect arms the one-shot reconnect after a hard I/O failure.
//
// Nothing is scheduled when reconnection is disabled, the connection was
// closed, or the socket handle is already gone. While a reconnect is pending
// further failures do not schedule another one.
func (c *Conn) scheduleReconnect() {
	if c.cfg.reconnectDelay <= 0 || c.closed.Load() || c.getNetConn() == nil {
		return
	}

	c.broken.Store(true)

	if c.cfg.scheduler.ScheduleOnce(c.cfg.reconnectDelay, c.token, c.onReconnectTimer) {
		c.logger.Warn("tcpconn: reconnect scheduled", "delay", c.cfg.reconnectDelay)
	}
}

// onReconnectTimer re-runs Init for a broken connection. It is a no-op when
// the connection was closed or re-established in the meantime, so a
// duplicate firing never opens a second socket. Failures are logged only.
func (c *Conn) onReconnectTimer(token string) {
	if c.closed.Load() || !c.broken.Load() {
		c.logger.Debug("tcpconn: reconnect not needed", "token", token)
		return
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.closed.Load() || !c.broken.Load() {
		return
	}

	c.metrics.incReconnectCount()
	c.logger.Info("tcpconn: reconnecting", "token", token)

	ctx, cancel := context.WithTimeout(context.Background(), c.reconnectBudget())
	defer cancel()

	if err := c.initLocked(ctx); err != nil {
		c.logger.Error("tcpconn: reconnect failed", "error", err)
	}
}

// reconnectBudget bounds a background Init: every connect attempt plus the
// pauses between them.
func (c *Conn) reconnectBudget() time.Duration {
	n := time.Duration(c.cfg.connectRetries)

	return n*c.cfg.connectTimeout + n*c.cfg.retryPause
}
