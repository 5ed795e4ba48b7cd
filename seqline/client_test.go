package seqline

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-obslink/link"
	"github.com/arloliu/go-obslink/logger"
	"github.com/arloliu/go-obslink/tcpconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeGateway answers each request line with handler(line) on its own
// connection, then closes it. An empty answer leaves the client waiting.
type fakeGateway struct {
	ln       net.Listener
	handler  func(line string) string
	accepted atomic.Int32

	mu    sync.Mutex
	lines []string
}

func startGateway(t *testing.T, handler func(line string) string) *fakeGateway {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	g := &fakeGateway{ln: ln, handler: handler}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			g.accepted.Add(1)
			go g.serve(conn)
		}
	}()

	return g
}

func (g *fakeGateway) serve(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	line = strings.TrimSuffix(line, "\n")

	g.mu.Lock()
	g.lines = append(g.lines, line)
	g.mu.Unlock()

	answer := g.handler(line)
	if answer == "" {
		// Hold the connection open until the client gives up.
		_, _ = conn.Read(make([]byte, 1))
		return
	}

	_, _ = conn.Write([]byte(answer))
}

func (g *fakeGateway) port() int {
	return g.ln.Addr().(*net.TCPAddr).Port
}

func (g *fakeGateway) received() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]string(nil), g.lines...)
}

// echo answers with the request prefix followed by value.
func echo(value string) func(line string) string {
	return func(line string) string {
		fields := strings.Fields(line)
		return fmt.Sprintf("%s %s %s %s\n", fields[0], fields[1], fields[2], value)
	}
}

func newTestClient(t *testing.T, g *fakeGateway, opts ...Option) *Client {
	t.Helper()

	c, err := NewClient("127.0.0.1", g.port(), "BIG61", "UDOME", opts...)
	require.NoError(t, err)

	return c
}

func TestClient_PrefixAccepted(t *testing.T) {
	g := startGateway(t, func(string) string { return "BIG61 UDOME 0 done\n" })
	c := newTestClient(t, g)

	require.Equal(t, uint64(0), c.Seq())

	reply, err := c.Command(context.Background(), "SLIT OPEN")
	require.NoError(t, err)
	assert.Equal(t, "done", reply.Text())
	assert.Equal(t, uint64(0), reply.Seq)
	assert.Equal(t, "BIG61 UDOME 0 done", reply.Line)

	assert.Equal(t, []string{"BIG61 UDOME 0 COMMAND SLIT OPEN"}, g.received())
	assert.Equal(t, uint64(1), c.Seq())
	assert.Equal(t, IdleState, c.State())
}

func TestClient_SequenceAdvances(t *testing.T) {
	g := startGateway(t, echo("  42\r"))
	c := newTestClient(t, g)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		v, err := c.GetInt(ctx, "AZ")
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)
		assert.Equal(t, uint64(i+1), c.Seq())
	}

	assert.Equal(t, []string{
		"BIG61 UDOME 0 REQUEST AZ",
		"BIG61 UDOME 1 REQUEST AZ",
		"BIG61 UDOME 2 REQUEST AZ",
	}, g.received())
}

func TestClient_OneConnectionPerRoundTrip(t *testing.T) {
	g := startGateway(t, echo("OK"))
	c := newTestClient(t, g)

	_, err := c.Request(context.Background(), "STATUS")
	require.NoError(t, err)
	_, err = c.Request(context.Background(), "STATUS")
	require.NoError(t, err)

	assert.Equal(t, int32(2), g.accepted.Load())
}

func TestClient_SequenceMismatch(t *testing.T) {
	g := startGateway(t, func(string) string { return "BIG61 UDOME 5 done\n" })
	c := newTestClient(t, g)

	reply, err := c.Command(context.Background(), "HOME")
	require.ErrorIs(t, err, ErrSequenceMismatch)
	assert.ErrorIs(t, err, link.ErrProtocol)

	var mismatch *SequenceMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "BIG61 UDOME 0 ", mismatch.Expected)
	assert.Equal(t, "BIG61 UDOME 5 done", mismatch.Reply.Line)
	require.NotNil(t, reply)
	assert.Same(t, mismatch.Reply, reply)

	// The counter advances regardless of the mismatch.
	assert.Equal(t, uint64(1), c.Seq())
}

func TestClient_MismatchIsLogged(t *testing.T) {
	g := startGateway(t, func(string) string { return "BIG61 UDOME 3 done\n" })

	log := logger.NewMockLogger().AllowAll()
	c := newTestClient(t, g, WithLogger(log))

	_, err := c.Command(context.Background(), "HOME")
	require.ErrorIs(t, err, ErrSequenceMismatch)
	log.AssertCalled(t, "Warn", "seqline: reply sequence mismatch", mock.Anything)
}

func TestClient_MismatchStillDecoded(t *testing.T) {
	g := startGateway(t, func(string) string { return "BIG61 UDOME 9  17\n" })
	c := newTestClient(t, g)

	v, err := c.GetInt(context.Background(), "FOCUS")
	require.ErrorIs(t, err, ErrSequenceMismatch)
	assert.Equal(t, int64(17), v)
}

func TestClient_OtherSubsystemIsMismatch(t *testing.T) {
	g := startGateway(t, func(string) string { return "BIG61 TCS 0 done\n" })
	c := newTestClient(t, g)

	_, err := c.Command(context.Background(), "HOME")
	require.ErrorIs(t, err, ErrSequenceMismatch)
}

func TestClient_BareReply(t *testing.T) {
	g := startGateway(t, func(string) string { return "BIG61 UDOME 0\n" })
	c := newTestClient(t, g)

	reply, err := c.Command(context.Background(), "STOP")
	require.NoError(t, err)
	assert.Empty(t, reply.Text())
}

func TestClient_Timeout(t *testing.T) {
	g := startGateway(t, func(string) string { return "" })
	c := newTestClient(t, g, WithWait(50*time.Millisecond))

	start := time.Now()
	_, err := c.Request(context.Background(), "RA")
	require.ErrorIs(t, err, link.ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Equal(t, uint64(0), c.Seq(), "no reply, no advance")
	assert.Equal(t, IdleState, c.State())
}

func TestClient_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	c, err := NewClient("127.0.0.1", port, "BIG61", "UDOME",
		WithConnOptions(tcpconn.WithRetryPause(time.Millisecond)))
	require.NoError(t, err)

	_, err = c.Request(context.Background(), "RA")
	require.ErrorIs(t, err, link.ErrConn)
	assert.Equal(t, uint64(0), c.Seq())
}

func TestClient_SexagesimalShortcuts(t *testing.T) {
	values := map[string]string{
		"RA":   "120000.00",
		"ST":   "02:30:00",
		"DEC":  "-453030.0",
		"HA":   "1234",
		"NAME": "dome",
	}
	g := startGateway(t, func(line string) string {
		fields := strings.Fields(line)
		return echo(values[fields[4]])(line)
	})
	c := newTestClient(t, g)
	ctx := context.Background()

	ra, err := c.GetSexadecimalHours(ctx, "RA")
	require.NoError(t, err)
	assert.InDelta(t, 180.0, ra, 1e-9)

	st, err := c.GetSexadecimalTime(ctx, "ST")
	require.NoError(t, err)
	assert.InDelta(t, 37.5, st, 1e-9)

	dec, err := c.GetSexadecimalAngle(ctx, "DEC")
	require.NoError(t, err)
	assert.InDelta(t, -(45 + 30.0/60 + 30.0/3600), dec, 1e-9)

	_, err = c.GetSexadecimalHours(ctx, "HA")
	require.ErrorIs(t, err, ErrParse)
	assert.ErrorIs(t, err, link.ErrProtocol)

	_, err = c.GetInt(ctx, "NAME")
	require.ErrorIs(t, err, ErrParse)
}

func TestClient_DoAsync(t *testing.T) {
	g := startGateway(t, echo("CLOSED"))
	c := newTestClient(t, g)

	select {
	case res := <-c.DoAsync(context.Background(), VerbRequest, "SLIT"):
		require.NoError(t, res.Err)
		assert.Equal(t, "CLOSED", res.Reply.Text())
	case <-time.After(5 * time.Second):
		t.Fatal("no result")
	}
}

func TestClient_Delimiter(t *testing.T) {
	g := startGateway(t, func(line string) string { return "BIG61 UDOME 0 OK\r" })
	c := newTestClient(t, g, WithDelimiter('\r'))

	// The gateway reads up to '\n', so send one inside the argument.
	reply, err := c.Command(context.Background(), "X\n")
	require.NoError(t, err)
	assert.Equal(t, "OK", reply.Text())
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient("", 1, "BIG61", "UDOME")
	require.Error(t, err)

	_, err = NewClient("gw", 1, "BIG 61", "UDOME")
	require.Error(t, err)

	_, err = NewClient("gw", 1, "BIG61", "")
	require.Error(t, err)

	_, err = NewClient("gw", 70000, "BIG61", "UDOME")
	require.Error(t, err)

	_, err = NewClient("gw", 1, "BIG61", "UDOME", WithWait(0))
	require.Error(t, err)
}
