package enet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// StartByte opens every frame in both directions.
const StartByte byte = 0x01

// ToComputer is set in the command byte of frames sent by the bridge.
const ToComputer byte = 0x80

// HeaderSize is the size of the fixed response header, checksum included.
const HeaderSize = 10

// MaxArgs is the largest argument block a request frame can carry: the
// length byte counts the command byte and the arguments.
const MaxArgs = 0xFF - 1

// MaxPayload is the largest payload a response can announce.
const MaxPayload = 0xFFFF

// Command identifies a bridge operation.
type Command byte

const (
	CmdInit       Command = 0x10 // [pad][sad]
	CmdWrite      Command = 0x11 // [pad][sad][flags][eos][data...]
	CmdRead       Command = 0x12 // [pad][sad][max hi][max lo][flags][eos]
	CmdClear      Command = 0x13 // [pad][sad]
	CmdWaitSRQ    Command = 0x14 // [pad][sad]
	CmdSetTimeout Command = 0x15 // [pad][sad][timeout code]
)

func (c Command) String() string {
	switch c {
	case CmdInit:
		return "init"
	case CmdWrite:
		return "write"
	case CmdRead:
		return "read"
	case CmdClear:
		return "clear"
	case CmdWaitSRQ:
		return "waitsrq"
	case CmdSetTimeout:
		return "settimeout"
	default:
		return fmt.Sprintf("cmd(0x%02X)", byte(c))
	}
}

// Flags of write and read requests.
const (
	FlagEOI byte = 0x01 // assert EOI with the last byte of a write
	FlagEOS byte = 0x02 // end a write or read on the EOS character
)

// Response flags.
const (
	RespEND  byte = 0x01 // the read ended on EOI or EOS
	RespSRQ  byte = 0x02 // the device asserts SRQ
	RespTIMO byte = 0x04 // the bus operation timed out
)

// writeArgsSize is the number of argument bytes of a write request before
// the data.
const writeArgsSize = 4

// MaxWriteChunk is the number of data bytes a single write frame carries.
const MaxWriteChunk = MaxArgs - writeArgsSize

var (
	// ErrStartByte is returned for a frame that does not begin with StartByte.
	ErrStartByte = errors.New("enet: invalid start byte")
	// ErrChecksum is returned for a frame whose bytes do not sum to zero.
	ErrChecksum = errors.New("enet: checksum mismatch")
	// ErrCommandEcho is returned when a response answers another command.
	ErrCommandEcho = errors.New("enet: unexpected command echo")
	// ErrLength is returned for an invalid length field.
	ErrLength = errors.New("enet: invalid length")
	// ErrStatus is returned when the bridge reports a failed operation.
	ErrStatus = errors.New("enet: bridge reported failure")
)

// checksum returns the byte that makes the sum of p and itself zero.
func checksum(p []byte) byte {
	var sum byte
	for _, b := range p {
		sum += b
	}

	return -sum
}

func sumIsZero(p []byte) bool {
	var sum byte
	for _, b := range p {
		sum += b
	}

	return sum == 0
}

// EncodeRequest builds the request frame
//
//	[StartByte][1+len(args)][cmd][args...][checksum]
func EncodeRequest(cmd Command, args []byte) ([]byte, error) {
	if len(args) > MaxArgs {
		return nil, fmt.Errorf("%w: %d argument bytes, max %d", ErrLength, len(args), MaxArgs)
	}

	frame := make([]byte, 0, len(args)+4)
	frame = append(frame, StartByte, byte(1+len(args)), byte(cmd))
	frame = append(frame, args...)
	frame = append(frame, checksum(frame))

	return frame, nil
}

// DecodeRequest validates a complete request frame and returns its command
// and arguments. The arguments alias frame.
func DecodeRequest(frame []byte) (Command, []byte, error) {
	if len(frame) < 4 {
		return 0, nil, fmt.Errorf("%w: short frame of %d bytes", ErrLength, len(frame))
	}
	if frame[0] != StartByte {
		return 0, nil, fmt.Errorf("%w: 0x%02X", ErrStartByte, frame[0])
	}

	length := int(frame[1])
	if length == 0 || len(frame) != length+3 {
		return 0, nil, fmt.Errorf("%w: length byte %d for %d bytes", ErrLength, length, len(frame))
	}
	if !sumIsZero(frame) {
		return 0, nil, ErrChecksum
	}

	return Command(frame[2]), frame[3 : len(frame)-1], nil
}

// Header is the fixed part of a bridge response.
type Header struct {
	Command Command // command answered, without ToComputer
	Flags   byte    // RespEND, RespSRQ, RespTIMO
	Length  uint16  // number of payload bytes following the header
	Status  byte    // 0 on success
	Error   byte    // bridge error code when Status is not 0
	Count   uint16  // bytes transferred on the bus
}

// EncodeHeader renders h as the 10 byte wire header:
//
//	[StartByte][cmd|ToComputer][flags][len hi][len lo][status][error][count hi][count lo][checksum]
func EncodeHeader(h Header) [HeaderSize]byte {
	var buf [HeaderSize]byte

	buf[0] = StartByte
	buf[1] = byte(h.Command) | ToComputer
	buf[2] = h.Flags
	binary.BigEndian.PutUint16(buf[3:5], h.Length)
	buf[5] = h.Status
	buf[6] = h.Error
	binary.BigEndian.PutUint16(buf[7:9], h.Count)
	buf[9] = checksum(buf[:9])

	return buf
}

// DecodeHeader validates and decodes a response header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("%w: header of %d bytes", ErrLength, len(buf))
	}
	if buf[0] != StartByte {
		return Header{}, fmt.Errorf("%w: 0x%02X", ErrStartByte, buf[0])
	}
	if !sumIsZero(buf) {
		return Header{}, fmt.Errorf("%w: header % X", ErrChecksum, buf)
	}
	if buf[1]&ToComputer == 0 {
		return Header{}, fmt.Errorf("%w: 0x%02X lacks the to-computer flag", ErrCommandEcho, buf[1])
	}

	return Header{
		Command: Command(buf[1] &^ ToComputer),
		Flags:   buf[2],
		Length:  binary.BigEndian.Uint16(buf[3:5]),
		Status:  buf[5],
		Error:   buf[6],
		Count:   binary.BigEndian.Uint16(buf[7:9]),
	}, nil
}

// EncodeResponse renders a full response, header followed by payload.
// The header length is taken from payload.
func EncodeResponse(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload of %d bytes, max %d", ErrLength, len(payload), MaxPayload)
	}

	h.Length = uint16(len(payload)) //nolint:gosec // bounded above
	hdr := EncodeHeader(h)

	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, hdr[:]...)

	return append(out, payload...), nil
}

func writeArgs(pad, sad, flags, eos byte, data []byte) []byte {
	args := make([]byte, 0, writeArgsSize+len(data))
	args = append(args, pad, sad, flags, eos)

	return append(args, data...)
}

func readArgs(pad, sad byte, maxLen uint16, flags, eos byte) []byte {
	args := []byte{pad, sad, 0, 0, flags, eos}
	binary.BigEndian.PutUint16(args[2:4], maxLen)

	return args
}
