package tcpconn

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/arloliu/go-obslink/link"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendData(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestConn(t, srv, WithDebug(true))
	peer := srv.next(t)

	require.NoError(t, c.SendData(context.Background(), []byte("OPEN SLIT\n")))
	assert.Equal(t, "OPEN SLIT", readLine(t, peer))
	assert.Equal(t, uint64(10), c.GetMetrics().BytesSent.Load())
}

func TestSendData_Large(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestConn(t, srv)
	peer := srv.next(t)

	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i)
	}

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, len(payload))
		_, _ = io.ReadFull(peer, buf)
		got <- buf
	}()

	require.NoError(t, c.SendData(context.Background(), payload))
	assert.Equal(t, payload, <-got)
}

// TestReceiveUntil_ByteAtATime feeds "A\nB\nC" one byte per segment.
func TestReceiveUntil_ByteAtATime(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestConn(t, srv, WithBufferSize(2, 64))
	peer := srv.next(t)

	go func() {
		for _, b := range []byte("A\nB\nC") {
			_, _ = peer.Write([]byte{b})
			time.Sleep(5 * time.Millisecond)
		}
	}()

	ctx := context.Background()

	msg, err := c.ReceiveUntil(ctx, '\n', time.Second)
	require.NoError(t, err)
	assert.Equal(t, "A", string(msg))

	msg, err = c.ReceiveUntil(ctx, '\n', time.Second)
	require.NoError(t, err)
	assert.Equal(t, "B", string(msg))

	_, err = c.ReceiveUntil(ctx, '\n', 100*time.Millisecond)
	require.ErrorIs(t, err, link.ErrTimeout)
	assert.Equal(t, 1, c.Pending(), `"C" stays pending`)
	assert.Equal(t, uint64(2), c.GetMetrics().MsgRecvCount.Load())
}

func TestReceiveUntil_SeveralMessagesInOneSegment(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestConn(t, srv)
	peer := srv.next(t)

	mustWrite(t, peer, "ONE\x00TWO\x00THR")

	ctx := context.Background()
	for _, want := range []string{"ONE", "TWO"} {
		msg, err := c.ReceiveUntil(ctx, 0, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, string(msg))
	}

	mustWrite(t, peer, "EE\x00")
	msg, err := c.ReceiveUntil(ctx, 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "THREE", string(msg))
	assert.Zero(t, c.Pending())
}

func TestReceiveUntil_TimeoutLeavesConnectionUsable(t *testing.T) {
	srv := newTestServer(t)
	c, sched := newTestConn(t, srv)
	peer := srv.next(t)

	begin := time.Now()
	_, err := c.ReceiveUntil(context.Background(), '\n', 80*time.Millisecond)
	require.ErrorIs(t, err, link.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(begin), 70*time.Millisecond)
	assert.Equal(t, link.KindTimeout, link.KindOf(err))

	assert.Zero(t, c.Pending())
	assert.Empty(t, sched.scheduled(), "a timeout is not a hard failure")
	assert.True(t, c.IsConnected())
	assert.Equal(t, uint64(1), c.GetMetrics().TimeoutCount.Load())

	mustWrite(t, peer, "READY\n")
	msg, err := c.ReceiveUntil(context.Background(), '\n', time.Second)
	require.NoError(t, err)
	assert.Equal(t, "READY", string(msg))
}

func TestReceiveUntil_WaitAppliesPerRead(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestConn(t, srv)
	peer := srv.next(t)

	// Each byte arrives within the per-read wait although the whole message
	// takes longer than it.
	go func() {
		for _, b := range []byte("SLOW\n") {
			time.Sleep(40 * time.Millisecond)
			_, _ = peer.Write([]byte{b})
		}
	}()

	msg, err := c.ReceiveUntil(context.Background(), '\n', 150*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "SLOW", string(msg))
}

func TestReceiveUntil_ContextDeadlineIsOverallBudget(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestConn(t, srv)
	peer := srv.next(t)

	go func() {
		for i := 0; i < 20; i++ {
			time.Sleep(20 * time.Millisecond)
			if _, err := peer.Write([]byte{'x'}); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.ReceiveUntil(ctx, '\n', time.Second)
	assert.ErrorIs(t, err, link.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReceiveUntil_Cancelled(t *testing.T) {
	srv := newTestServer(t)
	c, sched := newTestConn(t, srv)
	srv.next(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := c.ReceiveUntil(ctx, '\n', 5*time.Second)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, sched.scheduled())
	assert.True(t, c.IsConnected())
}

func TestReceiveUntil_TooLongReply(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestConn(t, srv, WithBufferSize(4, 16))
	peer := srv.next(t)

	mustWrite(t, peer, "0123456789ABCDEFGHIJ\n")

	_, err := c.ReceiveUntil(context.Background(), '\n', time.Second)
	require.ErrorIs(t, err, link.ErrProtocol)
	assert.Contains(t, err.Error(), "too long reply")

	// The rest of the oversized line is then read as its own message.
	msg, err := c.ReceiveUntil(context.Background(), '\n', time.Second)
	require.NoError(t, err)
	assert.Equal(t, "GHIJ", string(msg))
}

func TestReceiveData_FixedLength(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestConn(t, srv, WithBinary(true), WithDebug(true))
	peer := srv.next(t)

	go func() {
		_, _ = peer.Write([]byte{0x01, 0x02})
		time.Sleep(10 * time.Millisecond)
		_, _ = peer.Write([]byte{0x03, 0x04, 0x05})
	}()

	buf := make([]byte, 5)
	n, err := c.ReceiveData(context.Background(), buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, buf)
}

func TestReceiveData_ConsumesPendingBytesFirst(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestConn(t, srv)
	peer := srv.next(t)

	mustWrite(t, peer, "HDR\nABC")

	msg, err := c.ReceiveUntil(context.Background(), '\n', time.Second)
	require.NoError(t, err)
	assert.Equal(t, "HDR", string(msg))

	mustWrite(t, peer, "DE")

	buf := make([]byte, 5)
	n, err := c.ReceiveData(context.Background(), buf, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "ABCDE", string(buf))
	assert.Zero(t, c.Pending())
}

func TestReceiveData_Timeout(t *testing.T) {
	srv := newTestServer(t)
	c, sched := newTestConn(t, srv)
	peer := srv.next(t)

	mustWrite(t, peer, "AB")

	buf := make([]byte, 4)
	n, err := c.ReceiveData(context.Background(), buf, 50*time.Millisecond)
	require.ErrorIs(t, err, link.ErrTimeout)
	assert.Equal(t, 2, n)
	assert.Equal(t, "AB", string(buf[:n]))
	assert.Empty(t, sched.scheduled())
}

func TestWriteRead(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestConn(t, srv)
	peer := srv.next(t)

	go func() {
		if readLine(t, peer) == "POS?" {
			_, _ = peer.Write([]byte("POSITION 12345\r"))
		}
	}()

	out := make([]byte, 9)
	n, err := c.WriteRead(context.Background(), []byte("POS?\n"), out, '\r', time.Second)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, "POSITION", string(out[:n]))
	assert.Equal(t, byte(0), out[n], "reply is NUL terminated")
}

func TestWriteRead_ShortReply(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestConn(t, srv)
	peer := srv.next(t)

	go func() {
		readLine(t, peer)
		_, _ = peer.Write([]byte("OK\n"))
	}()

	out := make([]byte, 16)
	for i := range out {
		out[i] = 0xFF
	}

	n, err := c.WriteRead(context.Background(), []byte("STOP\n"), out, '\n', time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []byte{'O', 'K', 0}, out[:3])
}

func TestQueryAsync(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestConn(t, srv)
	peer := srv.next(t)

	go func() {
		readLine(t, peer)
		time.Sleep(20 * time.Millisecond)
		_, _ = peer.Write([]byte("21.5\n"))
	}()

	select {
	case res := <-c.QueryAsync(context.Background(), []byte("TEMP?\n"), '\n', time.Second):
		require.NoError(t, res.Err)
		assert.Equal(t, "21.5", string(res.Reply))
	case <-time.After(2 * time.Second):
		t.Fatal("async query did not complete")
	}
}

func TestFlush(t *testing.T) {
	srv := newTestServer(t)
	c, _ := newTestConn(t, srv)
	peer := srv.next(t)

	mustWrite(t, peer, "LATE\npartial")

	msg, err := c.ReceiveUntil(context.Background(), '\n', time.Second)
	require.NoError(t, err)
	assert.Equal(t, "LATE", string(msg))

	require.Eventually(t, func() bool {
		_, _ = c.ReceiveUntil(context.Background(), '\n', 10*time.Millisecond)
		return c.Pending() == len("partial")
	}, time.Second, 10*time.Millisecond)

	c.Flush()
	assert.Zero(t, c.Pending())
}
