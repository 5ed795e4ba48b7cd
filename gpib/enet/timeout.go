package enet

import "time"

// TimeoutCode is the IEEE-488 driver encoding of a bus timeout.
type TimeoutCode byte

const (
	TNONE TimeoutCode = iota
	T10us
	T30us
	T100us
	T300us
	T1ms
	T3ms
	T10ms
	T30ms
	T100ms
	T300ms
	T1s
	T3s
	T10s
	T30s
	T100s
	T300s
	T1000s
)

var timeoutTable = [...]time.Duration{
	TNONE:  0,
	T10us:  10 * time.Microsecond,
	T30us:  30 * time.Microsecond,
	T100us: 100 * time.Microsecond,
	T300us: 300 * time.Microsecond,
	T1ms:   time.Millisecond,
	T3ms:   3 * time.Millisecond,
	T10ms:  10 * time.Millisecond,
	T30ms:  30 * time.Millisecond,
	T100ms: 100 * time.Millisecond,
	T300ms: 300 * time.Millisecond,
	T1s:    time.Second,
	T3s:    3 * time.Second,
	T10s:   10 * time.Second,
	T30s:   30 * time.Second,
	T100s:  100 * time.Second,
	T300s:  300 * time.Second,
	T1000s: 1000 * time.Second,
}

// Duration returns the time represented by c; TNONE and unknown codes
// return 0, meaning no timeout.
func (c TimeoutCode) Duration() time.Duration {
	if int(c) >= len(timeoutTable) {
		return 0
	}

	return timeoutTable[c]
}

// EncodeTimeout returns the smallest code whose duration is at least d.
// A non-positive d disables the timeout; anything above 1000s saturates.
func EncodeTimeout(d time.Duration) TimeoutCode {
	if d <= 0 {
		return TNONE
	}

	for code := T10us; code < T1000s; code++ {
		if timeoutTable[code] >= d {
			return code
		}
	}

	return T1000s
}
