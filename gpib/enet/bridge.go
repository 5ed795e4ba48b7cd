package enet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-obslink/gpib"
	"github.com/arloliu/go-obslink/link"
	"github.com/arloliu/go-obslink/logger"
	"github.com/arloliu/go-obslink/tcpconn"
)

// Bridge is a GPIB device reached through a GPIB-to-Ethernet adapter.
type Bridge struct {
	conn   *tcpconn.Conn
	pad    byte
	sad    byte
	cfg    gpib.Config
	opts   options
	logger logger.Logger

	// mu keeps request and response frames of one exchange together.
	mu          sync.Mutex
	timeout     time.Duration
	initialized atomic.Bool
}

var _ gpib.Transport = (*Bridge)(nil)

// discardChunk bounds the scratch buffer used to skip an oversized payload.
const discardChunk = 4096

// New creates a bridge device for the instrument at primary address pad and
// secondary address sad (0 for none, otherwise 96..126) behind the adapter
// at host:port. No connection is opened until Init.
func New(host string, port int, pad, sad int, cfg gpib.Config, opts ...Option) (*Bridge, error) {
	if pad < 0 || pad > 30 {
		return nil, fmt.Errorf("enet: primary address %d out of range [0, 30]", pad)
	}
	if sad != 0 && (sad < 0x60 || sad > 0x7E) {
		return nil, fmt.Errorf("enet: secondary address %d out of range [96, 126]", sad)
	}
	if host == "" {
		return nil, fmt.Errorf("enet: bridge host is required")
	}

	o := options{
		eot:            true,
		responseMargin: DefaultResponseMargin,
		logger:         logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(&o); err != nil {
			return nil, err
		}
	}

	cfg = cfg.WithDefaults()

	connOpts := append([]tcpconn.ConnOption{
		tcpconn.WithBinary(true),
		tcpconn.WithDebug(cfg.Debug),
		tcpconn.WithLogger(o.logger),
	}, o.connOpts...)

	connCfg, err := tcpconn.NewConfig(host, port, connOpts...)
	if err != nil {
		return nil, err
	}

	conn, err := tcpconn.New(connCfg)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		conn:    conn,
		pad:     byte(pad),
		sad:     byte(sad),
		cfg:     cfg,
		opts:    o,
		logger:  o.logger.With("gpib", fmt.Sprintf("%s/%d", conn.ID(), pad)),
		timeout: cfg.Timeout,
	}, nil
}

// Conn returns the underlying TCP connection.
func (b *Bridge) Conn() *tcpconn.Conn { return b.conn }

// Init connects to the adapter, initializes the device address and sets
// the configured bus timeout.
func (b *Bridge) Init(ctx context.Context) error {
	b.initialized.Store(false)

	if err := b.conn.Init(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	_, _, err := b.exchange(ctx, CmdInit, []byte{b.pad, b.sad}, nil)
	b.mu.Unlock()

	if err != nil {
		return err
	}

	b.initialized.Store(true)

	return b.SetTimeout(ctx, b.cfg.Timeout)
}

// WriteBuffer writes cmd to the device. Commands longer than one frame are
// split; EOI is asserted with the last byte only.
func (b *Bridge) WriteBuffer(ctx context.Context, cmd []byte) error {
	if !b.initialized.Load() {
		return gpib.ErrNotInitialized
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var flags byte
	if b.opts.eosEnabled {
		flags |= FlagEOS
	}

	for off := 0; ; off += MaxWriteChunk {
		end := min(off+MaxWriteChunk, len(cmd))
		chunk := cmd[off:end]
		last := end == len(cmd)

		chunkFlags := flags
		if last && b.opts.eot {
			chunkFlags |= FlagEOI
		}

		hdr, _, err := b.exchange(ctx, CmdWrite, writeArgs(b.pad, b.sad, chunkFlags, b.opts.eos, chunk), nil)
		if err != nil {
			return err
		}

		if int(hdr.Count) != len(chunk) {
			return link.Protocolf(b.conn.ID(), "write", "short write, %d of %d bytes", hdr.Count, len(chunk))
		}

		if last {
			break
		}
	}

	if b.cfg.Debug {
		b.logger.Debug("enet: write", "cmd", string(cmd))
	}

	return nil
}

// Write writes a text command to the device.
func (b *Bridge) Write(ctx context.Context, cmd string) error {
	return b.WriteBuffer(ctx, []byte(cmd))
}

// Read reads one reply into buf and NUL terminates it. At most len(buf)-1
// bytes are requested from the device; a response announcing more is a
// protocol error.
func (b *Bridge) Read(ctx context.Context, buf []byte) (int, error) {
	if !b.initialized.Load() {
		return 0, gpib.ErrNotInitialized
	}
	if len(buf) < 2 {
		return 0, fmt.Errorf("enet: read buffer of %d bytes is too small", len(buf))
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	maxLen := min(len(buf)-1, MaxPayload)

	var flags byte
	if b.opts.eosEnabled {
		flags |= FlagEOS
	}

	hdr, n, err := b.exchange(ctx, CmdRead, readArgs(b.pad, b.sad, uint16(maxLen), flags, b.opts.eos), buf[:maxLen]) //nolint:gosec // bounded by MaxPayload
	if err != nil {
		return 0, err
	}

	buf[n] = 0

	if b.cfg.Debug {
		b.logger.Debug("enet: read", "reply", string(buf[:n]), "end", hdr.Flags&RespEND != 0)
	}

	return n, nil
}

// WriteRead writes cmd and reads the reply into buf.
func (b *Bridge) WriteRead(ctx context.Context, cmd string, buf []byte) (int, error) {
	if err := b.Write(ctx, cmd); err != nil {
		return 0, err
	}

	return b.Read(ctx, buf)
}

// WaitSRQ waits until the device asserts SRQ or the bus timeout elapses.
func (b *Bridge) WaitSRQ(ctx context.Context) error {
	if !b.initialized.Load() {
		return gpib.ErrNotInitialized
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	hdr, _, err := b.exchange(ctx, CmdWaitSRQ, []byte{b.pad, b.sad}, nil)
	if err != nil {
		return err
	}

	if hdr.Flags&RespSRQ == 0 {
		return link.NewError(link.KindTimeout, b.conn.ID(), "waitsrq", fmt.Errorf("no service request within %s", b.timeout))
	}

	return nil
}

// DevClear sends the selected device clear message.
func (b *Bridge) DevClear(ctx context.Context) error {
	if !b.initialized.Load() {
		return gpib.ErrNotInitialized
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	_, _, err := b.exchange(ctx, CmdClear, []byte{b.pad, b.sad}, nil)

	return err
}

// Timeout returns the bus timeout as last set.
func (b *Bridge) Timeout() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.timeout
}

// SetTimeout sets the bus timeout. The bridge only knows the IEEE-488
// timeout codes, so d is rounded up to the next code.
func (b *Bridge) SetTimeout(ctx context.Context, d time.Duration) error {
	if !b.initialized.Load() {
		return gpib.ErrNotInitialized
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	code := EncodeTimeout(d)
	if _, _, err := b.exchange(ctx, CmdSetTimeout, []byte{b.pad, b.sad, byte(code)}, nil); err != nil {
		return err
	}

	b.timeout = d
	b.logger.Debug("enet: timeout set", "timeout", d, "code", code.Duration())

	return nil
}

// IsSerial returns false: the device is a native GPIB instrument.
func (b *Bridge) IsSerial() bool { return false }

// Close closes the connection to the adapter.
func (b *Bridge) Close() error {
	b.initialized.Store(false)

	return b.conn.Close()
}

// exchange sends one request and receives its response. A response payload
// is stored in payload, which bounds its length; n is the number of payload
// bytes received. The caller holds mu.
func (b *Bridge) exchange(ctx context.Context, cmd Command, args []byte, payload []byte) (Header, int, error) {
	frame, err := EncodeRequest(cmd, args)
	if err != nil {
		return Header{}, 0, link.Protocolf(b.conn.ID(), cmd.String(), "%w", err)
	}

	if err := b.conn.SendData(ctx, frame); err != nil {
		return Header{}, 0, err
	}

	wait := b.responseWait()

	var raw [HeaderSize]byte
	if _, err := b.conn.ReceiveData(ctx, raw[:], wait); err != nil {
		return Header{}, 0, err
	}

	hdr, err := DecodeHeader(raw[:])
	if err != nil {
		return Header{}, 0, b.protocolFault(cmd, err)
	}
	if hdr.Command != cmd {
		return hdr, 0, b.protocolFault(cmd, fmt.Errorf("%w: sent %s, got %s", ErrCommandEcho, cmd, hdr.Command))
	}
	if int(hdr.Length) > len(payload) {
		// The header is valid, so the payload is consumed to keep the stream
		// on a frame boundary.
		if err := b.discard(ctx, int(hdr.Length), wait); err != nil {
			return hdr, 0, err
		}

		return hdr, 0, b.protocolFault(cmd, fmt.Errorf("%w: %d payload bytes, room for %d", ErrLength, hdr.Length, len(payload)))
	}

	n := int(hdr.Length)
	if _, err := b.conn.ReceiveData(ctx, payload[:n], wait); err != nil {
		return hdr, 0, err
	}

	if hdr.Status != 0 {
		return hdr, n, link.Protocolf(b.conn.ID(), cmd.String(), "%w: status 0x%02X, error 0x%02X", ErrStatus, hdr.Status, hdr.Error)
	}
	if hdr.Flags&RespTIMO != 0 && cmd != CmdWaitSRQ {
		return hdr, n, link.NewError(link.KindTimeout, b.conn.ID(), cmd.String(), fmt.Errorf("bus timeout after %s", b.timeout))
	}

	return hdr, n, nil
}

// discard reads and drops n payload bytes.
func (b *Bridge) discard(ctx context.Context, n int, wait time.Duration) error {
	scratch := make([]byte, min(n, discardChunk))
	for n > 0 {
		m := min(n, len(scratch))
		if _, err := b.conn.ReceiveData(ctx, scratch[:m], wait); err != nil {
			return err
		}
		n -= m
	}

	return nil
}

// protocolFault drops the bytes the connection has buffered but not yet
// consumed. Bytes still in flight on the socket are left alone, so a response
// with a corrupt header may leave the stream off a frame boundary until Init.
func (b *Bridge) protocolFault(cmd Command, err error) error {
	b.conn.Flush()
	b.logger.Error("enet: malformed response", "cmd", cmd, "error", err)

	return link.Protocolf(b.conn.ID(), cmd.String(), "%w", err)
}

func (b *Bridge) responseWait() time.Duration {
	if b.timeout <= 0 {
		return 0
	}

	return b.timeout + b.opts.responseMargin
}
