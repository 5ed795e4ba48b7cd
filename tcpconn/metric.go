package tcpconn

import (
	"sync/atomic"
)

// ConnectionMetrics contains atomic metrics for a framed TCP connection.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type ConnectionMetrics struct {
	// BytesSent indicates the number of bytes written to the socket.
	BytesSent atomic.Uint64
	// BytesRecv indicates the number of bytes read from the socket.
	BytesRecv atomic.Uint64
	// MsgRecvCount indicates the number of delimited messages extracted.
	MsgRecvCount atomic.Uint64

	// SendErrCount indicates the number of hard send failures.
	SendErrCount atomic.Uint64
	// RecvErrCount indicates the number of hard receive failures.
	RecvErrCount atomic.Uint64
	// TimeoutCount indicates the number of receive calls that timed out.
	TimeoutCount atomic.Uint64

	// ConnectRetryCount indicates the number of connect attempts retried
	// because the network was unreachable.
	ConnectRetryCount atomic.Uint64
	// ReconnectCount indicates the number of reconnect timers that fired
	// and re-ran Init.
	ReconnectCount atomic.Uint64
}

func (m *ConnectionMetrics) addBytesSent(n int) {
	m.BytesSent.Add(uint64(n)) //nolint:gosec // n is a non-negative write count
}

func (m *ConnectionMetrics) addBytesRecv(n int) {
	m.BytesRecv.Add(uint64(n)) //nolint:gosec // n is a non-negative read count
}

func (m *ConnectionMetrics) incMsgRecvCount() {
	m.MsgRecvCount.Add(1)
}

func (m *ConnectionMetrics) incSendErrCount() {
	m.SendErrCount.Add(1)
}

func (m *ConnectionMetrics) incRecvErrCount() {
	m.RecvErrCount.Add(1)
}

func (m *ConnectionMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *ConnectionMetrics) incConnectRetryCount() {
	m.ConnectRetryCount.Add(1)
}

func (m *ConnectionMetrics) incReconnectCount() {
	m.ReconnectCount.Add(1)
}
