package seqline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/arloliu/go-obslink/link"
	"github.com/arloliu/go-obslink/logger"
	"github.com/arloliu/go-obslink/tcpconn"
)

// Verbs of the request line.
const (
	VerbCommand = "COMMAND"
	VerbRequest = "REQUEST"
)

// ErrSequenceMismatch is wrapped by SequenceMismatchError.
var ErrSequenceMismatch = errors.New("seqline: reply sequence mismatch")

// SequenceMismatchError reports a reply whose prefix differs from the one
// the request carried. It matches ErrSequenceMismatch and link.ErrProtocol.
type SequenceMismatchError struct {
	Expected string // expected prefix, e.g. "BIG61 UDOME 7 "
	Reply    *Reply
}

func (e *SequenceMismatchError) Error() string {
	return fmt.Sprintf("seqline: reply sequence mismatch, expected prefix %q, got %q", e.Expected, e.Reply.Line)
}

func (e *SequenceMismatchError) Is(target error) bool {
	return target == ErrSequenceMismatch || target == link.ErrProtocol
}

// Client talks to one subsystem of a gateway.
//
// A Client serializes its round trips; it is safe for concurrent use.
type Client struct {
	host   string
	port   int
	obsID  string
	subID  string
	opts   options
	logger logger.Logger

	mu    sync.Mutex
	seq   uint64
	state atomicState
}

// NewClient creates a client for subsystem subID of observatory obsID
// behind the gateway at host:port.
func NewClient(host string, port int, obsID, subID string, opts ...Option) (*Client, error) {
	if host == "" {
		return nil, errors.New("seqline: gateway host is required")
	}
	if obsID == "" || subID == "" || strings.ContainsAny(obsID+subID, " \t\r\n") {
		return nil, fmt.Errorf("seqline: invalid ids %q %q", obsID, subID)
	}

	o := options{
		wait:      DefaultWait,
		delimiter: '\n',
		logger:    logger.GetLogger(),
	}
	for _, opt := range opts {
		if err := opt.apply(&o); err != nil {
			return nil, err
		}
	}

	// Validate the connection options once instead of on every round trip.
	if _, err := tcpconn.NewConfig(host, port, o.connOpts...); err != nil {
		return nil, err
	}

	return &Client{
		host:   host,
		port:   port,
		obsID:  obsID,
		subID:  subID,
		opts:   o,
		logger: o.logger.With("gateway", fmt.Sprintf("%s:%d", host, port), "subsystem", subID),
	}, nil
}

// Seq returns the sequence number the next request will carry.
func (c *Client) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.seq
}

// State returns the phase of the round trip in progress.
func (c *Client) State() State { return c.state.Get() }

// Command sends a COMMAND line, e.g. Command(ctx, "SLIT OPEN").
func (c *Client) Command(ctx context.Context, arg string) (*Reply, error) {
	return c.Do(ctx, VerbCommand, arg)
}

// Request sends a REQUEST line, e.g. Request(ctx, "RA").
func (c *Client) Request(ctx context.Context, arg string) (*Reply, error) {
	return c.Do(ctx, VerbRequest, arg)
}

// GetInt requests arg and decodes the reply as an integer.
func (c *Client) GetInt(ctx context.Context, arg string) (int64, error) {
	return requestValue(ctx, c, arg, (*Reply).Int)
}

// GetSexadecimalHours requests arg and decodes an hhmmss.ss reply into
// degrees.
func (c *Client) GetSexadecimalHours(ctx context.Context, arg string) (float64, error) {
	return requestValue(ctx, c, arg, (*Reply).Hours)
}

// GetSexadecimalTime requests arg and decodes an hh:mm:ss.ss reply into
// degrees.
func (c *Client) GetSexadecimalTime(ctx context.Context, arg string) (float64, error) {
	return requestValue(ctx, c, arg, (*Reply).Time)
}

// GetSexadecimalAngle requests arg and decodes a ±dddmmss.ss reply into
// degrees.
func (c *Client) GetSexadecimalAngle(ctx context.Context, arg string) (float64, error) {
	return requestValue(ctx, c, arg, (*Reply).Angle)
}

// requestValue requests arg and decodes the reply with decode. A reply with a
// mismatched prefix is still decoded; its value is returned together with
// the *SequenceMismatchError.
func requestValue[T any](ctx context.Context, c *Client, arg string, decode func(*Reply) (T, error)) (T, error) {
	var zero T

	reply, err := c.Request(ctx, arg)
	if reply == nil {
		return zero, err
	}

	v, decodeErr := decode(reply)
	if decodeErr != nil {
		return zero, decodeErr
	}

	return v, err
}

// Result is the outcome of an asynchronous round trip.
type Result struct {
	Reply *Reply
	Err   error
}

// DoAsync runs Do in its own goroutine; the returned channel receives
// exactly one Result.
func (c *Client) DoAsync(ctx context.Context, verb, arg string) <-chan Result {
	ch := make(chan Result, 1)

	go func() {
		reply, err := c.Do(ctx, verb, arg)
		ch <- Result{Reply: reply, Err: err}
	}()

	return ch
}

// Do performs one round trip: it connects, sends
// "<obsID> <subID> <seq> <verb> <arg>", reads the reply line and closes the
// connection.
//
// The sequence counter advances once a reply line was received. A reply
// with another prefix is returned together with a *SequenceMismatchError.
// I/O failures leave the counter unchanged.
func (c *Client) Do(ctx context.Context, verb, arg string) (*Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.state.Set(IdleState)

	seq := c.seq
	line := c.requestLine(seq, verb, arg)

	c.state.Set(RequestSentState)

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if c.opts.debug {
		c.logger.Debug("seqline: request", "line", strings.TrimRight(line, "\r\n"))
	}

	if err := conn.SendData(ctx, []byte(line)); err != nil {
		return nil, err
	}

	c.state.Set(ReplyPendingState)

	raw, err := conn.ReceiveUntil(ctx, c.opts.delimiter, c.opts.wait)
	if err != nil {
		return nil, err
	}

	c.seq++

	if c.opts.debug {
		c.logger.Debug("seqline: reply", "line", string(raw))
	}

	return c.parseReply(conn.ID(), seq, raw)
}

func (c *Client) requestLine(seq uint64, verb, arg string) string {
	var sb strings.Builder

	sb.WriteString(c.prefix(seq))
	sb.WriteString(verb)
	if arg != "" {
		sb.WriteByte(' ')
		sb.WriteString(arg)
	}
	sb.WriteByte(c.opts.delimiter)

	return sb.String()
}

// prefix returns "<obsID> <subID> <seq> ".
func (c *Client) prefix(seq uint64) string {
	return c.obsID + " " + c.subID + " " + strconv.FormatUint(seq, 10) + " "
}

func (c *Client) parseReply(connID string, seq uint64, raw []byte) (*Reply, error) {
	line := strings.TrimRight(string(raw), "\r\x00")
	reply := &Reply{Seq: seq, Line: line, conn: connID}

	expected := c.prefix(seq)
	rest, ok := strings.CutPrefix(line, expected)
	if !ok {
		// A bare "<obsID> <subID> <seq>" reply carries no value.
		if line == strings.TrimSuffix(expected, " ") {
			return reply, nil
		}

		reply.text = valueAfterPrefix(line)
		c.logger.Warn("seqline: reply sequence mismatch", "expected", expected, "reply", line)

		return reply, &SequenceMismatchError{Expected: expected, Reply: reply}
	}

	reply.text = strings.TrimSpace(rest)

	return reply, nil
}

func (c *Client) dial(ctx context.Context) (*tcpconn.Conn, error) {
	connOpts := append([]tcpconn.ConnOption{
		tcpconn.WithLogger(c.opts.logger),
		tcpconn.WithDebug(c.opts.debug),
	}, c.opts.connOpts...)
	// Connections live for a single round trip and are never reconnected.
	connOpts = append(connOpts, tcpconn.WithReconnectDelay(0))

	cfg, err := tcpconn.NewConfig(c.host, c.port, connOpts...)
	if err != nil {
		return nil, err
	}

	conn, err := tcpconn.New(cfg)
	if err != nil {
		return nil, err
	}

	if err := conn.Init(ctx); err != nil {
		return nil, err
	}

	return conn, nil
}

// valueAfterPrefix returns the text after the first three fields of line,
// or the whole line when it has fewer.
func valueAfterPrefix(line string) string {
	rest := strings.TrimSpace(line)
	for i := 0; i < 3; i++ {
		_, after, ok := strings.Cut(rest, " ")
		if !ok {
			return strings.TrimSpace(line)
		}
		rest = strings.TrimLeft(after, " ")
	}

	return strings.TrimSpace(rest)
}
