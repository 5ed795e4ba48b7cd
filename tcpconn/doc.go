// Package tcpconn implements a framed TCP connection for instrument links.
//
// A [Conn] is either a client, connecting to an instrument or gateway, or a
// server listening for a single peer (empty host). On top of the socket it
// offers fixed-length reads ([Conn.ReceiveData]), delimiter framed reads
// backed by a growable receive buffer ([Conn.ReceiveUntil]) and the
// send-then-read-reply composition used by line protocols
// ([Conn.WriteRead], [Conn.Query]).
//
// # Blocking and timeouts
//
// Every receive waits for data with a per-read bound and honors the caller's
// context. The calling goroutine blocks while it waits; a process serving
// several instruments runs one goroutine per instrument or uses
// [Conn.QueryAsync], so a silent instrument never stalls the others.
//
// # Reconnection
//
// A hard send or receive failure (anything other than a timeout or a
// cancelled context) schedules exactly one reconnect on the configured
// [link.Scheduler], after [DefaultReconnectDelay] by default. When the timer
// fires Init runs again; a failure is logged and not reported to any caller.
// The callback is idempotent: if the connection was closed or re-initialized
// in the meantime it does nothing.
package tcpconn
