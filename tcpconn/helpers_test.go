package tcpconn

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeScheduler records scheduled callbacks so tests can fire them by hand.
type fakeScheduler struct {
	mu      sync.Mutex
	pending map[string]scheduledCall
	history []scheduledCall
}

type scheduledCall struct {
	delay time.Duration
	token string
	fn    func(string)
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{pending: make(map[string]scheduledCall)}
}

func (s *fakeScheduler) ScheduleOnce(delay time.Duration, token string, fn func(string)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[token]; ok {
		return false
	}

	call := scheduledCall{delay: delay, token: token, fn: fn}
	s.pending[token] = call
	s.history = append(s.history, call)

	return true
}

func (s *fakeScheduler) Cancel(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.pending[token]
	delete(s.pending, token)

	return ok
}

func (s *fakeScheduler) scheduled() []scheduledCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]scheduledCall(nil), s.history...)
}

func (s *fakeScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pending)
}

// fire runs the callback of the i-th scheduled call as the timer would.
func (s *fakeScheduler) fire(i int) {
	s.mu.Lock()
	call := s.history[i]
	delete(s.pending, call.token)
	s.mu.Unlock()

	call.fn(call.token)
}

// testServer is a loopback TCP server handing accepted sockets to the test.
type testServer struct {
	ln       net.Listener
	accepted chan net.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &testServer{ln: ln, accepted: make(chan net.Conn, 8)}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			srv.accepted <- conn
		}
	}()

	t.Cleanup(func() {
		_ = ln.Close()
		for {
			select {
			case conn := <-srv.accepted:
				_ = conn.Close()
			default:
				return
			}
		}
	})

	return srv
}

func (srv *testServer) port() int {
	return srv.ln.Addr().(*net.TCPAddr).Port
}

func (srv *testServer) next(t *testing.T) net.Conn {
	t.Helper()

	select {
	case conn := <-srv.accepted:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func (srv *testServer) noneAccepted(t *testing.T) {
	t.Helper()

	select {
	case conn := <-srv.accepted:
		_ = conn.Close()
		t.Fatal("unexpected connection accepted")
	case <-time.After(50 * time.Millisecond):
	}
}

// newTestConn creates and initializes a client Conn to srv.
func newTestConn(t *testing.T, srv *testServer, opts ...ConnOption) (*Conn, *fakeScheduler) {
	t.Helper()

	sched := newFakeScheduler()
	defaults := []ConnOption{WithScheduler(sched), WithRetryPause(10 * time.Millisecond)}

	cfg, err := NewConfig("127.0.0.1", srv.port(), append(defaults, opts...)...)
	require.NoError(t, err)

	c, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Init(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	return c, sched
}

func mustWrite(t *testing.T, conn net.Conn, data string) {
	t.Helper()

	_, err := conn.Write([]byte(data))
	require.NoError(t, err)
}

// readLine reads one '\n' terminated line from conn. It is safe to call from
// a peer goroutine: failures are reported with assert and end the line.
func readLine(t *testing.T, conn net.Conn) string {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var out []byte
	buf := make([]byte, 1)
	for {
		if _, err := conn.Read(buf); !assert.NoError(t, err) {
			return string(out)
		}
		if buf[0] == '\n' {
			return string(out)
		}
		out = append(out, buf[0])
	}
}
