package gpib

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/arloliu/go-obslink/internal/util"
	"github.com/arloliu/go-obslink/link"
)

// ErrParse is returned when a reply cannot be decoded into the requested
// type. It is classified as link.ErrProtocol.
var ErrParse = errors.New("gpib: cannot parse reply")

// QueryString sends cmd and returns the reply without line terminators.
func QueryString(ctx context.Context, t Transport, cmd string) (string, error) {
	buf := make([]byte, DefaultReplySize)

	n, err := t.WriteRead(ctx, cmd, buf)
	if err != nil {
		return "", err
	}

	return util.TrimReply(string(buf[:n])), nil
}

// QueryFloat64 sends cmd and decodes the reply as a number.
func QueryFloat64(ctx context.Context, t Transport, cmd string) (float64, error) {
	reply, err := QueryString(ctx, t, cmd)
	if err != nil {
		return 0, err
	}

	return ParseFloat(reply, 64)
}

// QueryFloat32 sends cmd and decodes the reply as a single precision number.
func QueryFloat32(ctx context.Context, t Transport, cmd string) (float32, error) {
	reply, err := QueryString(ctx, t, cmd)
	if err != nil {
		return 0, err
	}

	v, err := ParseFloat(reply, 32)

	return float32(v), err
}

// QueryInt sends cmd and decodes the reply as an integer. Instruments that
// report integers in exponent notation ("+1.00000E+01") are accepted when
// the value is integral.
func QueryInt(ctx context.Context, t Transport, cmd string) (int64, error) {
	reply, err := QueryString(ctx, t, cmd)
	if err != nil {
		return 0, err
	}

	return ParseInt(reply)
}

// QueryBool sends cmd and decodes the reply as a boolean.
func QueryBool(ctx context.Context, t Transport, cmd string) (bool, error) {
	reply, err := QueryString(ctx, t, cmd)
	if err != nil {
		return false, err
	}

	return ParseBool(reply)
}

// QuerySelection sends cmd and returns the index of the reply in choices.
//
// Choices may be written in SCPI long form with the short form in upper
// case, e.g. "VOLTage"; the instrument may answer with either form in any
// case.
func QuerySelection(ctx context.Context, t Transport, cmd string, choices []string) (int, error) {
	reply, err := QueryString(ctx, t, cmd)
	if err != nil {
		return -1, err
	}

	return ParseSelection(reply, choices)
}

// WriteValue sends "<cmd> <value>" with value formatted the way SCPI
// instruments expect: booleans as ON/OFF, floats in shortest form.
func WriteValue(ctx context.Context, t Transport, cmd string, value any) error {
	var arg string

	switch v := value.(type) {
	case bool:
		arg = "OFF"
		if v {
			arg = "ON"
		}
	case float64:
		arg = strconv.FormatFloat(v, 'G', -1, 64)
	case float32:
		arg = strconv.FormatFloat(float64(v), 'G', -1, 32)
	case int:
		arg = strconv.Itoa(v)
	case int64:
		arg = strconv.FormatInt(v, 10)
	case uint:
		arg = strconv.FormatUint(uint64(v), 10)
	case string:
		arg = v
	case fmt.Stringer:
		arg = v.String()
	default:
		return fmt.Errorf("gpib: unsupported value type %T", value)
	}

	return t.Write(ctx, cmd+" "+arg)
}

// ParseFloat decodes a SCPI numeric reply such as "+1.23450E+01".
// bitSize is 32 or 64 as for strconv.ParseFloat.
func ParseFloat(s string, bitSize int) (float64, error) {
	s = util.TrimReply(s)

	v, err := strconv.ParseFloat(s, bitSize)
	if err != nil {
		return 0, parseError("number", s, err)
	}

	return v, nil
}

// ParseInt decodes an integer reply.
func ParseInt(s string) (int64, error) {
	s = util.TrimReply(s)

	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, parseError("integer", s, err)
	}
	if f != float64(int64(f)) {
		return 0, parseError("integer", s, errors.New("not integral"))
	}

	return int64(f), nil
}

// ParseBool decodes ON/OFF, 1/0 and TRUE/FALSE in any case.
func ParseBool(s string) (bool, error) {
	s = util.TrimReply(s)

	switch strings.ToUpper(s) {
	case "1", "ON", "TRUE", "+1":
		return true, nil
	case "0", "OFF", "FALSE", "+0":
		return false, nil
	default:
		return false, parseError("boolean", s, nil)
	}
}

// ParseSelection returns the index of s in choices, see QuerySelection.
func ParseSelection(s string, choices []string) (int, error) {
	s = util.TrimReply(s)

	for i, choice := range choices {
		if strings.EqualFold(s, choice) {
			return i, nil
		}
		if short := shortForm(choice); short != "" && strings.EqualFold(s, short) {
			return i, nil
		}
	}

	return -1, parseError("selection", s, nil)
}

// shortForm returns the leading upper case part of a SCPI mnemonic.
func shortForm(mnemonic string) string {
	for i, r := range mnemonic {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			return mnemonic[:i]
		}
	}

	return mnemonic
}

func parseError(what, reply string, cause error) error {
	if cause != nil {
		return link.Protocolf("", "parse", "%w: %s from %q: %w", ErrParse, what, reply, cause)
	}

	return link.Protocolf("", "parse", "%w: %s from %q", ErrParse, what, reply)
}
