// Package dsmr decodes DSMR P1 telegrams as emitted by Dutch and Belgian smart
// meters: a '/' identification line, COSEM objects of the form
// ref(value)(value)..., and a '!' trailer carrying a CRC16 checksum.
package dsmr

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrChecksum        = errors.New("dsmr: checksum mismatch")
	ErrMissingChecksum = errors.New("dsmr: telegram has no checksum")
	ErrMalformed       = errors.New("dsmr: malformed telegram")
	ErrTooLong         = errors.New("dsmr: telegram too long")
	ErrNotPresent      = errors.New("dsmr: object not present")
)

// MaxTelegramSize bounds a single frame. DSMR 5 telegrams are around 1 KiB.
const MaxTelegramSize = 8 << 10

// Object is one COSEM line. Values holds the contents of each parenthesised
// group in order.
type Object struct {
	Ref    string
	Values []string
}

type Telegram struct {
	Header  string
	Objects []Object
	index   map[string]int
}

// Parse validates and decodes a frame running from '/' through the checksum.
func Parse(raw []byte) (*Telegram, error) {
	raw = bytes.TrimRight(raw, "\r\n")
	if len(raw) == 0 || raw[0] != '/' {
		return nil, fmt.Errorf("%w: missing '/' start", ErrMalformed)
	}
	bang := bytes.LastIndexByte(raw, '!')
	if bang < 0 {
		return nil, fmt.Errorf("%w: missing '!' trailer", ErrMalformed)
	}

	crcText := string(raw[bang+1:])
	if crcText == "" {
		return nil, ErrMissingChecksum
	}
	want, err := strconv.ParseUint(crcText, 16, 16)
	if err != nil || len(crcText) != 4 {
		return nil, fmt.Errorf("%w: bad checksum %q", ErrMalformed, crcText)
	}
	if got := Checksum(raw[:bang+1]); got != uint16(want) {
		return nil, fmt.Errorf("%w: computed %04X, telegram says %04X", ErrChecksum, got, want)
	}

	lines := strings.Split(string(raw[1:bang]), "\n")
	t := &Telegram{
		Header: strings.TrimRight(lines[0], "\r"),
		index:  make(map[string]int),
	}
	for n, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// DSMR 2/3 meters wrap the gas reading onto its own line.
		if line[0] == '(' && len(t.Objects) > 0 {
			vals, err := groups(line)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, n+2, err)
			}
			last := &t.Objects[len(t.Objects)-1]
			last.Values = append(last.Values, vals...)
			continue
		}
		open := strings.IndexByte(line, '(')
		if open <= 0 {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformed, n+2, line)
		}
		vals, err := groups(line[open:])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, n+2, err)
		}
		ref := line[:open]
		t.index[ref] = len(t.Objects)
		t.Objects = append(t.Objects, Object{Ref: ref, Values: vals})
	}
	return t, nil
}

func groups(s string) ([]string, error) {
	var out []string
	for len(s) > 0 {
		if s[0] != '(' {
			return nil, fmt.Errorf("expected '(' at %q", s)
		}
		end := strings.IndexByte(s, ')')
		if end < 0 {
			return nil, fmt.Errorf("unterminated group %q", s)
		}
		out = append(out, s[1:end])
		s = s[end+1:]
	}
	return out, nil
}

// Lookup returns the value groups of the object with the given OBIS reference,
// e.g. "1-0:1.8.1".
func (t *Telegram) Lookup(ref string) ([]string, bool) {
	i, ok := t.index[ref]
	if !ok {
		return nil, false
	}
	return t.Objects[i].Values, true
}

// Measurement is a numeric COSEM value with its unit.
type Measurement struct {
	Value float64
	Unit  string
}

// ParseMeasurement parses values like "001234.567*kWh". The unit is optional.
func ParseMeasurement(s string) (Measurement, error) {
	num, unit, _ := strings.Cut(s, "*")
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return Measurement{}, fmt.Errorf("%w: value %q", ErrMalformed, s)
	}
	return Measurement{Value: v, Unit: unit}, nil
}

// Measurement parses the last value group of ref, which is where DSMR puts the
// reading for both plain objects and timestamped M-Bus ones.
func (t *Telegram) Measurement(ref string) (Measurement, error) {
	vals, ok := t.Lookup(ref)
	if !ok || len(vals) == 0 {
		return Measurement{}, fmt.Errorf("%w: %s", ErrNotPresent, ref)
	}
	m, err := ParseMeasurement(vals[len(vals)-1])
	if err != nil {
		return Measurement{}, fmt.Errorf("%s: %w", ref, err)
	}
	return m, nil
}

var (
	summerTime = time.FixedZone("CEST", 2*60*60)
	winterTime = time.FixedZone("CET", 60*60)
)

// ParseTimestamp decodes a DSMR TST value "YYMMDDhhmmssX" where X is S for
// summer time (UTC+2) or W for winter time (UTC+1). The result is in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if len(s) != 13 {
		return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, s)
	}
	var loc *time.Location
	switch s[12] {
	case 'S':
		loc = summerTime
	case 'W':
		loc = winterTime
	default:
		return time.Time{}, fmt.Errorf("%w: timestamp %q has no DST flag", ErrMalformed, s)
	}
	ts, err := time.ParseInLocation("060102150405", s[:12], loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q: %v", ErrMalformed, s, err)
	}
	return ts.UTC(), nil
}

// Checksum is CRC16/ARC (reflected polynomial 0xA001, initial value 0) as
// required by DSMR 4 and later.
func Checksum(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// Encode renders a telegram with a valid checksum, as a meter would send it.
func Encode(header string, objects []Object) []byte {
	var b bytes.Buffer
	b.WriteString("/" + header + "\r\n\r\n")
	for _, o := range objects {
		b.WriteString(o.Ref)
		for _, v := range o.Values {
			b.WriteString("(" + v + ")")
		}
		b.WriteString("\r\n")
	}
	b.WriteByte('!')
	fmt.Fprintf(&b, "%04X\r\n", Checksum(b.Bytes()))
	return b.Bytes()
}
