package seqline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/arloliu/go-obslink/link"
)

// ErrParse is returned when a reply value cannot be decoded.
var ErrParse = errors.New("seqline: cannot parse reply")

// minSexagesimalLen is the shortest text accepted as a sexagesimal value.
const minSexagesimalLen = 6

// Reply is a reply line of the gateway.
type Reply struct {
	// Seq is the sequence number the request carried.
	Seq uint64
	// Line is the reply line without the delimiter.
	Line string

	text string
	conn string
}

// Text returns the value part of the reply: everything after the echoed
// prefix, without surrounding white space. When the prefix did not match,
// the first three fields are skipped all the same.
func (r *Reply) Text() string { return r.text }

// Int decodes the value as a decimal integer.
func (r *Reply) Int() (int64, error) {
	v, err := strconv.ParseInt(r.text, 10, 64)
	if err != nil {
		return 0, r.parseError(fmt.Errorf("%w: integer from %q: %w", ErrParse, r.text, err))
	}

	return v, nil
}

// Hours decodes an hhmmss.ss value and returns it in degrees.
func (r *Reply) Hours() (float64, error) {
	v, err := ParseHours(r.text)
	return v, r.parseError(err)
}

// Time decodes an hh:mm:ss.ss value and returns it in degrees.
func (r *Reply) Time() (float64, error) {
	v, err := ParseTime(r.text)
	return v, r.parseError(err)
}

// Angle decodes a ±dddmmss.ss value and returns it in degrees.
func (r *Reply) Angle() (float64, error) {
	v, err := ParseAngle(r.text)
	return v, r.parseError(err)
}

func (r *Reply) parseError(err error) error {
	if err == nil {
		return nil
	}

	return link.NewError(link.KindProtocol, r.conn, "parse", err)
}

// ParseHours decodes hours written as hhmmss.ss and converts them to
// degrees, 15 degrees per hour. A leading sign is accepted.
func ParseHours(s string) (float64, error) {
	v, err := parseCompact(s)
	return v * 15, err
}

// ParseAngle decodes an angle written as dddmmss.ss, with an optional sign
// and any number of degree digits, and returns degrees.
func ParseAngle(s string) (float64, error) {
	return parseCompact(s)
}

// ParseTime decodes hours written as hh:mm:ss.ss and converts them to
// degrees.
func ParseTime(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if err := checkLen(s); err != nil {
		return 0, err
	}

	neg, body := splitSign(s)

	fields := strings.Split(body, ":")
	if len(fields) != 3 {
		return 0, fmt.Errorf("%w: %q is not hh:mm:ss", ErrParse, s)
	}

	v, err := combine(s, neg, fields[0], fields[1], fields[2])

	return v * 15, err
}

// parseCompact decodes [sign]d...dmmss[.ss] into units of its leading field.
func parseCompact(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if err := checkLen(s); err != nil {
		return 0, err
	}

	neg, body := splitSign(s)

	whole, frac, _ := strings.Cut(body, ".")
	if len(whole) < 5 {
		return 0, fmt.Errorf("%w: %q has too few digits", ErrParse, s)
	}

	n := len(whole)
	sec := whole[n-2:]
	if frac != "" {
		sec += "." + frac
	}

	return combine(s, neg, whole[:n-4], whole[n-4:n-2], sec)
}

func combine(s string, neg bool, major, minutes, seconds string) (float64, error) {
	d, err := strconv.ParseUint(major, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrParse, s, err)
	}

	m, err := strconv.ParseUint(minutes, 10, 8)
	if err != nil || m >= 60 {
		return 0, fmt.Errorf("%w: %q has invalid minutes", ErrParse, s)
	}

	sec, err := strconv.ParseFloat(seconds, 64)
	if err != nil || sec < 0 || sec >= 60 || strings.ContainsAny(seconds, "+-eE") {
		return 0, fmt.Errorf("%w: %q has invalid seconds", ErrParse, s)
	}

	v := float64(d) + float64(m)/60 + sec/3600
	if neg {
		v = -v
	}

	return v, nil
}

func checkLen(s string) error {
	if len(s) < minSexagesimalLen {
		return fmt.Errorf("%w: %q is shorter than %d characters", ErrParse, s, minSexagesimalLen)
	}

	return nil
}

func splitSign(s string) (bool, string) {
	switch {
	case strings.HasPrefix(s, "-"):
		return true, s[1:]
	case strings.HasPrefix(s, "+"):
		return false, s[1:]
	default:
		return false, s
	}
}
