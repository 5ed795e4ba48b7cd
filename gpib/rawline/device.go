package rawline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tarm/serial"

	"github.com/arloliu/go-obslink/gpib"
	"github.com/arloliu/go-obslink/internal/util"
	"github.com/arloliu/go-obslink/link"
	"github.com/arloliu/go-obslink/logger"
)

// ErrReplyTooLong is returned by Read when the reply does not fit the
// caller buffer. It is classified as link.ErrProtocol.
var ErrReplyTooLong = errors.New("rawline: reply too long")

// Device is a SCPI instrument on a raw line.
type Device struct {
	path     string
	cfg      gpib.Config
	opts     options
	logger   logger.Logger
	injected bool

	mu      sync.Mutex
	ch      link.Channel
	timeout time.Duration
}

var _ gpib.Transport = (*Device)(nil)

// New creates a device for the serial port or file at path. Nothing is
// opened until Init.
func New(path string, cfg gpib.Config, opts ...Option) (*Device, error) {
	if path == "" {
		return nil, errors.New("rawline: device path is required")
	}

	return newDevice(path, cfg, opts)
}

// NewWithChannel creates a device on an already open channel, e.g. a pipe or
// a port opened by the caller. id names the device in logs and errors.
// Init only checks that the channel is still open.
func NewWithChannel(id string, ch link.Channel, cfg gpib.Config, opts ...Option) (*Device, error) {
	if ch == nil {
		return nil, errors.New("rawline: channel must not be nil")
	}

	d, err := newDevice(id, cfg, opts)
	if err != nil {
		return nil, err
	}

	d.ch = ch
	d.injected = true

	return d, nil
}

func newDevice(path string, cfg gpib.Config, opts []Option) (*Device, error) {
	o := options{logger: logger.GetLogger()}
	for _, opt := range opts {
		if err := opt.apply(&o); err != nil {
			return nil, err
		}
	}

	cfg = cfg.WithDefaults()

	return &Device{
		path:    path,
		cfg:     cfg,
		opts:    o,
		logger:  o.logger.With("gpib", path),
		timeout: cfg.Timeout,
	}, nil
}

// Init opens the device path for reading and writing. An open device is
// closed and opened again.
func (d *Device) Init(_ context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.injected {
		if d.ch == nil {
			return link.NewError(link.KindCreate, d.path, "open", link.ErrClosed)
		}

		return nil
	}

	if d.ch != nil {
		_ = d.ch.Close()
		d.ch = nil
	}

	return d.openLocked()
}

func (d *Device) openLocked() error {
	var (
		ch  link.Channel
		err error
	)

	if d.opts.baud > 0 {
		var port *serial.Port
		port, err = serial.OpenPort(&serial.Config{
			Name:        d.path,
			Baud:        d.opts.baud,
			ReadTimeout: d.timeout,
		})
		if err == nil {
			ch = link.WithoutDeadlines(port)
		}
	} else {
		var f *os.File
		f, err = os.OpenFile(d.path, os.O_RDWR, 0)
		if err == nil {
			ch = f
		}
	}

	if err != nil {
		d.logger.Error("rawline: open failed", "error", err)
		return link.NewError(link.KindCreate, d.path, "open", err)
	}

	d.ch = ch
	d.logger.Info("rawline: device opened", "baud", d.opts.baud, "timeout", d.timeout)

	return nil
}

// WriteBuffer writes cmd verbatim, retrying partial and interrupted writes.
func (d *Device) WriteBuffer(ctx context.Context, cmd []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch == nil {
		return gpib.ErrNotInitialized
	}

	stop := d.watchContext(ctx)
	defer stop()

	if err := link.SetWriteWait(d.ch, d.wait(ctx)); err != nil {
		return link.NewError(link.KindSend, d.path, "write", err)
	}
	if err := ctx.Err(); err != nil {
		return d.ioFailure(ctx, link.KindSend, "write", err)
	}

	for written := 0; written < len(cmd); {
		n, err := d.ch.Write(cmd[written:])
		written += n

		if err != nil {
			if link.IsInterrupted(err) {
				continue
			}

			return d.ioFailure(ctx, link.KindSend, "write", err)
		}
	}

	if d.cfg.Debug {
		d.logger.Debug("rawline: write", "data", util.DumpPayload(cmd, false))
	}

	return nil
}

// Write sends cmd followed by the configured terminator.
func (d *Device) Write(ctx context.Context, cmd string) error {
	return d.WriteBuffer(ctx, []byte(cmd+d.opts.terminator))
}

// Read reads the reply one byte at a time until the end delimiter, which is
// not stored. The reply is NUL terminated in buf. When buf fills up before
// the delimiter arrives, the len(buf)-1 bytes read are returned with
// ErrReplyTooLong.
func (d *Device) Read(ctx context.Context, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, errors.New("rawline: read buffer is empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch == nil {
		return 0, gpib.ErrNotInitialized
	}

	stop := d.watchContext(ctx)
	defer stop()

	if err := link.SetReadWait(d.ch, d.wait(ctx)); err != nil {
		return 0, link.NewError(link.KindReceive, d.path, "read", err)
	}
	if err := ctx.Err(); err != nil {
		return 0, d.ioFailure(ctx, link.KindReceive, "read", err)
	}

	var one [1]byte
	n := 0
	limit := len(buf) - 1

	for {
		if n == limit {
			buf[n] = 0
			return n, link.Protocolf(d.path, "read", "%w: no delimiter 0x%02X in %d bytes", ErrReplyTooLong, d.cfg.EndDelimiter, n)
		}

		m, err := d.ch.Read(one[:])
		if m == 1 {
			if one[0] == d.cfg.EndDelimiter {
				break
			}
			buf[n] = one[0]
			n++

			continue
		}

		if err != nil {
			if link.IsInterrupted(err) {
				continue
			}

			buf[n] = 0

			return n, d.ioFailure(ctx, link.KindReceive, "read", err)
		}
	}

	buf[n] = 0

	if d.cfg.Debug {
		d.logger.Debug("rawline: read", "data", util.DumpPayload(buf[:n], false))
	}

	return n, nil
}

// WriteRead writes cmd and reads the reply into buf.
func (d *Device) WriteRead(ctx context.Context, cmd string, buf []byte) (int, error) {
	if err := d.Write(ctx, cmd); err != nil {
		return 0, err
	}

	return d.Read(ctx, buf)
}

// WaitSRQ returns immediately: a raw line has no service request.
func (d *Device) WaitSRQ(context.Context) error { return d.checkOpen() }

// DevClear does nothing: a raw line has no device clear.
func (d *Device) DevClear(context.Context) error { return d.checkOpen() }

// Timeout returns the read and write timeout.
func (d *Device) Timeout() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.timeout
}

// SetTimeout changes the read and write timeout. A serial port opened with
// WithBaud has its read timeout fixed at open time and is reopened.
func (d *Device) SetTimeout(_ context.Context, t time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.timeout = t

	if d.opts.baud > 0 && d.ch != nil && !d.injected {
		_ = d.ch.Close()
		d.ch = nil

		return d.openLocked()
	}

	return nil
}

// IsSerial reports true; commands may need serial formatting.
func (d *Device) IsSerial() bool { return true }

// Close closes the device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch == nil {
		return nil
	}

	err := d.ch.Close()
	d.ch = nil

	if err != nil && !link.IsClosed(err) {
		return link.NewError(link.KindConn, d.path, "close", err)
	}

	return nil
}

func (d *Device) checkOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch == nil {
		return gpib.ErrNotInitialized
	}

	return nil
}

// wait returns the timeout of the next operation, shortened to the context
// deadline. The caller holds mu.
func (d *Device) wait(ctx context.Context) time.Duration {
	wait := d.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); wait <= 0 || until < wait {
			wait = max(until, time.Nanosecond)
		}
	}

	return wait
}

// watchContext makes blocked I/O return once ctx is done. Channels without
// deadline support only notice between bytes.
func (d *Device) watchContext(ctx context.Context) func() bool {
	ch := d.ch

	return context.AfterFunc(ctx, func() {
		now := time.Now()
		_ = ch.SetReadDeadline(now)
		_ = ch.SetWriteDeadline(now)
	})
}

func (d *Device) ioFailure(ctx context.Context, kind link.Kind, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return link.NewError(link.KindTimeout, d.path, op, ctxErr)
		}

		return ctxErr
	}

	// A serial port opened with a read timeout reports an expired timeout
	// as end of file.
	if link.IsTimeout(err) || (errors.Is(err, io.EOF) && d.opts.baud > 0) {
		return link.NewError(link.KindTimeout, d.path, op, fmt.Errorf("no data within %s: %w", d.timeout, err))
	}

	d.logger.Error("rawline: "+op+" failed", "error", err)

	return link.NewError(kind, d.path, op, err)
}
