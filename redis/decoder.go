package redis

import (
	"bytes"
	"strconv"

	"github.com/joomcode/errorx"
)

// Mode selects how bulk values are presented to the caller.
type Mode int

const (
	// ModeText decodes bulk values to string, and opportunistically coerces
	// ones that look like base-10 integers or decimals to int64 or float64.
	ModeText Mode = iota
	// ModeRaw keeps bulk values as []byte without any coercion.
	ModeRaw
)

const (
	maxHeaderLine = 64 * 1024
	maxBulkLen    = 512 * 1024 * 1024
)

// Decoder is an incremental RESP decoder.
//
// Bytes are passed with Feed in chunks of arbitrary size, and completed top level values are
// returned in arrival order. Arrays are returned only when all nested values are complete.
// Output doesn't depend on the way the stream is split into chunks.
//
// Decoded values are:
// - string for status line, or for bulk value in ModeText,
// - int64 for integer, or for integer-looking bulk value in ModeText,
// - float64 for decimal-looking bulk value in ModeText,
// - []byte for bulk value in ModeRaw,
// - nil for null bulk and null array,
// - []interface{} for array,
// - *errorx.Error of ErrResult type for error reply, and of ErrResponse namespace for malformed frame.
//
// Malformed header line resolves only its own frame to an error, and decoding continues with the next line.
// Decoder is not safe for concurrent use.
type Decoder struct {
	Mode Mode

	buf    []byte
	want   int // bulk length + 1 while payload is awaited
	skip   bool
	stack  []frame
	out    []interface{}
	broken *errorx.Error
}

type frame struct {
	arr  []interface{}
	left int
}

// NewDecoder returns decoder in given mode.
func NewDecoder(mode Mode) *Decoder {
	return &Decoder{Mode: mode}
}

// Feed passes next chunk of bytes to decoder, and returns values completed by it.
// Returned slice is owned by caller.
func (d *Decoder) Feed(p []byte) []interface{} {
	d.buf = append(d.buf, p...)
	pos := 0
	for pos < len(d.buf) {
		if d.want > 0 {
			l := d.want - 1
			if len(d.buf)-pos < l+2 {
				break
			}
			data := d.buf[pos : pos+l]
			d.want = 0
			if d.buf[pos+l] != '\r' || d.buf[pos+l+1] != '\n' {
				d.push(d.fail(ErrNoFinalRN.NewWithNoMessage()))
				// rest of the line is garbage
				pos += l
				d.skip = true
				continue
			}
			pos += l + 2
			d.push(d.bulkValue(data))
			continue
		}

		idx := bytes.IndexByte(d.buf[pos:], '\n')
		if idx < 0 {
			if len(d.buf)-pos > maxHeaderLine {
				d.push(d.fail(ErrResponseFormat.New("header line too large")))
				pos = len(d.buf)
			}
			break
		}
		line := d.buf[pos : pos+idx]
		pos += idx + 1
		if d.skip {
			d.skip = false
			continue
		}
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		d.line(line)
	}
	// keep unconsumed tail only
	n := copy(d.buf, d.buf[pos:])
	d.buf = d.buf[:n]
	if cap(d.buf) > 256*1024 && n < 1024 {
		d.buf = append([]byte(nil), d.buf...)
	}

	out := d.out
	d.out = nil
	return out
}

// Buffered returns number of bytes received but not consumed yet.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Pending returns true if decoder is in the middle of a value.
func (d *Decoder) Pending() bool {
	return len(d.buf) > 0 || len(d.stack) > 0 || d.want > 0
}

// Broken returns first protocol error met by decoder, if any.
// Connection uses it to detect that stream is no longer trustworthy, even if broken frame were nested.
func (d *Decoder) Broken() *errorx.Error {
	return d.broken
}

func (d *Decoder) line(line []byte) {
	if len(line) == 0 {
		d.push(d.fail(ErrHeaderlineEmpty.NewWithNoMessage()))
		return
	}
	switch line[0] {
	case '+':
		d.push(string(line[1:]))
	case '-':
		d.push(ResultError(string(line[1:])))
	case ':':
		v, err := parseInt(line[1:])
		if err != nil {
			d.push(d.fail(err))
			return
		}
		d.push(v)
	case '$':
		v, err := parseInt(line[1:])
		switch {
		case err != nil:
			d.push(d.fail(err))
		case v < 0:
			d.push(nil)
		case v > maxBulkLen:
			d.push(d.fail(ErrResponseFormat.New("bulk length too large").
				WithProperty(EKLine, string(line))))
		default:
			d.want = int(v) + 1
		}
	case '*':
		v, err := parseInt(line[1:])
		switch {
		case err != nil:
			d.push(d.fail(err))
		case v < 0:
			d.push(nil)
		case v == 0:
			d.push([]interface{}{})
		case v > maxBulkLen:
			d.push(d.fail(ErrResponseFormat.New("array length too large").
				WithProperty(EKLine, string(line))))
		default:
			capa := int(v)
			if capa > 1024 {
				capa = 1024
			}
			d.stack = append(d.stack, frame{arr: make([]interface{}, 0, capa), left: int(v)})
		}
	default:
		d.push(d.fail(ErrUnknownHeaderType.NewWithNoMessage().
			WithProperty(EKLine, string(line))))
	}
}

// push appends completed value to its parent frame, completing parents recursively.
func (d *Decoder) push(v interface{}) {
	for {
		if len(d.stack) == 0 {
			d.out = append(d.out, v)
			return
		}
		top := &d.stack[len(d.stack)-1]
		top.arr = append(top.arr, v)
		top.left--
		if top.left > 0 {
			return
		}
		v = top.arr
		d.stack[len(d.stack)-1] = frame{}
		d.stack = d.stack[:len(d.stack)-1]
	}
}

func (d *Decoder) fail(err *errorx.Error) *errorx.Error {
	if d.broken == nil {
		d.broken = err
	}
	return err
}

func (d *Decoder) bulkValue(data []byte) interface{} {
	if d.Mode == ModeRaw {
		return append(make([]byte, 0, len(data)), data...)
	}
	return TextValue(data)
}

// TextValue converts bulk value the way ModeText does: numeric looking value
// becomes int64 or float64, anything else becomes string.
func TextValue(data []byte) interface{} {
	if v, ok := coerceNumber(data); ok {
		return v
	}
	return string(data)
}

// coerceNumber converts bulk that looks like base-10 integer or decimal.
// Decimal must have a dot, so "1e3" stays a string. Tokens "inf", "+inf", "-inf"
// and "nan" are left as is, though ParseFloat understands them.
func coerceNumber(data []byte) (interface{}, bool) {
	if len(data) == 0 || len(data) > 32 {
		return nil, false
	}
	i := 0
	if data[0] == '+' || data[0] == '-' {
		i++
	}
	whole := countDigits(data[i:])
	i += whole
	if i == len(data) {
		if whole == 0 {
			return nil, false
		}
		if v, err := strconv.ParseInt(string(data), 10, 64); err == nil {
			return v, true
		}
		return nil, false
	}
	if data[i] != '.' {
		return nil, false
	}
	i++
	frac := countDigits(data[i:])
	i += frac
	if whole+frac == 0 {
		return nil, false
	}
	if i < len(data) {
		if data[i] != 'e' && data[i] != 'E' {
			return nil, false
		}
		i++
		if i < len(data) && (data[i] == '+' || data[i] == '-') {
			i++
		}
		exp := countDigits(data[i:])
		if exp == 0 || i+exp != len(data) {
			return nil, false
		}
	}
	if v, err := strconv.ParseFloat(string(data), 64); err == nil {
		return v, true
	}
	return nil, false
}

func countDigits(data []byte) int {
	n := 0
	for n < len(data) && data[n] >= '0' && data[n] <= '9' {
		n++
	}
	return n
}

func parseInt(buf []byte) (int64, *errorx.Error) {
	if len(buf) == 0 {
		return 0, ErrIntegerParsing.NewWithNoMessage().WithProperty(EKLine, "")
	}

	neg := buf[0] == '-'
	digits := buf
	if neg {
		digits = buf[1:]
	}
	if len(digits) == 0 || len(digits) > 19 {
		return 0, ErrIntegerParsing.NewWithNoMessage().WithProperty(EKLine, string(buf))
	}
	v := int64(0)
	for _, b := range digits {
		if b < '0' || b > '9' {
			return 0, ErrIntegerParsing.NewWithNoMessage().WithProperty(EKLine, string(buf))
		}
		v *= 10
		v += int64(b - '0')
	}
	if v < 0 {
		return 0, ErrIntegerParsing.NewWithNoMessage().WithProperty(EKLine, string(buf))
	}
	if neg {
		v = -v
	}
	return v, nil
}
