// Package link holds the pieces shared by every instrument link in go-obslink:
// the error taxonomy, the connection state machine, the byte channel
// abstraction and the timer facility used to schedule reconnects.
//
// # Errors
//
// Every failure raised by a link is a [*Error] tagged with a [Kind]:
//
//   - KindCreate: socket, resolve, bind or listen setup failure
//   - KindConn: other OS level failure while establishing a connection
//   - KindSend: write failure
//   - KindReceive: read failure
//   - KindTimeout: a deadline elapsed with no data
//   - KindProtocol: framing faults (bad checksum, bad length, echo mismatch,
//     malformed reply)
//
// Callers test the kind with errors.Is against the matching sentinel, e.g.
// errors.Is(err, link.ErrTimeout), and recover the OS error code from
// [Error.Errno].
//
// # Channels
//
// A [Channel] is a socket or descriptor on which reads and writes are bounded
// by deadlines. net.Conn and *os.File satisfy it directly; ports without
// deadline support are adapted with [WithoutDeadlines].
package link
