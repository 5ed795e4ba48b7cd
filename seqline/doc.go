// Package seqline implements the sequenced line protocol spoken by telescope
// control system gateways.
//
// Every request is one text line carrying the observatory id, the subsystem
// id and a sequence number:
//
//	BIG61 UDOME 0 REQUEST SLIT
//
// The gateway answers with a line starting with the same three fields,
// followed by the value:
//
//	BIG61 UDOME 0 OPEN
//
// A Client keeps the sequence counter, which starts at 0 and advances once per
// reply received, whether or not the reply echoed the expected prefix. A
// mismatched prefix is reported as a *SequenceMismatchError; the caller
// decides whether to use the reply anyway.
//
// The request carries the current counter value, not the next one, and the
// reply must echo that same value. Gateways that answer with the request's
// sequence number work unchanged. A gateway expecting requests numbered one
// ahead of the reply sees the first request as 0 rather than 1.
//
// Each round trip opens its own TCP connection and closes it once the reply
// arrived. The gateway therefore never sees a stale session, at the cost of
// a connect per request.
package seqline
