package util

import (
	"encoding/hex"
	"strconv"
	"strings"
)

// CloneSlice clones slice with cloneSize.
// This function will use src length as the clone size if cloneSize is 0.
func CloneSlice[T any](src []T, cloneSize int) []T {
	if cloneSize == 0 {
		cloneSize = len(src)
	}
	clone := make([]T, cloneSize)
	copy(clone, src)

	return clone
}

// maxDumpSize limits the number of payload bytes rendered in a log record.
const maxDumpSize = 256

// DumpPayload renders bytes for a debug log record: space separated hex for
// binary payloads, a quoted string otherwise. Long payloads are cut at
// maxDumpSize bytes and suffixed with the total length.
func DumpPayload(p []byte, binary bool) string {
	total := len(p)
	if total > maxDumpSize {
		p = p[:maxDumpSize]
	}

	var sb strings.Builder
	if binary {
		sb.Grow(len(p) * 3)
		for i, v := range p {
			if i > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(hex.EncodeToString([]byte{v}))
		}
	} else {
		sb.WriteString(strconv.Quote(string(p)))
	}

	if total > len(p) {
		sb.WriteString("...(")
		sb.WriteString(strconv.Itoa(total))
		sb.WriteString(" bytes)")
	}

	return sb.String()
}

// TrimReply strips the line terminators and padding instruments append to
// ASCII replies.
func TrimReply(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), "\x00")
}
