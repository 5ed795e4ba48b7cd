// Package enet drives GPIB instruments through a GPIB-to-Ethernet adapter.
//
// The adapter is reached over a tcpconn connection and speaks a binary frame
// protocol. Requests are
//
//	[0x01][length][command][args...][checksum]
//
// where length counts the command byte and the arguments and the checksum
// makes all frame bytes sum to zero modulo 256. Every request is answered by
// a 10 byte header followed by exactly the announced number of payload bytes:
//
//	[0x01][command|0x80][flags][length hi][length lo][status][error][count hi][count lo][checksum]
//
// Malformed responses (start byte, checksum, command echo, length) and a
// non-zero status are reported as link.ErrProtocol and never retried; the
// driver decides whether to re-run Init. Socket failures are reported as
// link.ErrSend or link.ErrReceive and trigger the connection's reconnect.
package enet
