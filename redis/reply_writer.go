package redis

import (
	"strconv"

	"github.com/joomcode/errorx"
)

// Status is a value that AppendReply writes as status line ("+OK\r\n").
type Status string

// AppendReply appends value in RESP reply form.
//
// string and []byte are written as bulk, Status as status line, integers as integer,
// floats as bulk, error as error line, nil as null bulk, []interface{}(nil) as null array,
// and []interface{} / []string as array. Other values are formatted as bulk with fmt rules
// of ArgToString; unsupported values become an error line.
func AppendReply(buf []byte, v interface{}) []byte {
	switch val := v.(type) {
	case nil:
		return append(buf, "$-1\r\n"...)
	case Status:
		buf = append(buf, '+')
		buf = append(buf, val...)
		return append(buf, '\r', '\n')
	case string:
		buf = appendHead(buf, '$', len(val))
		buf = append(buf, val...)
		return append(buf, '\r', '\n')
	case []byte:
		buf = appendHead(buf, '$', len(val))
		buf = append(buf, val...)
		return append(buf, '\r', '\n')
	case int:
		return appendIntLine(buf, int64(val))
	case int64:
		return appendIntLine(buf, val)
	case int32:
		return appendIntLine(buf, int64(val))
	case bool:
		if val {
			return appendIntLine(buf, 1)
		}
		return appendIntLine(buf, 0)
	case float64:
		str := strconv.FormatFloat(val, 'f', -1, 64)
		buf = appendHead(buf, '$', len(str))
		buf = append(buf, str...)
		return append(buf, '\r', '\n')
	case *errorx.Error:
		return appendErrorLine(buf, val.Message())
	case error:
		return appendErrorLine(buf, val.Error())
	case []interface{}:
		if val == nil {
			return append(buf, "*-1\r\n"...)
		}
		buf = appendHead(buf, '*', len(val))
		for _, el := range val {
			buf = AppendReply(buf, el)
		}
		return buf
	case []string:
		buf = appendHead(buf, '*', len(val))
		for _, el := range val {
			buf = AppendReply(buf, el)
		}
		return buf
	default:
		if str, ok := ArgToString(v); ok {
			return AppendReply(buf, str)
		}
		return appendErrorLine(buf, "ERR unsupported reply value")
	}
}

func appendIntLine(buf []byte, i int64) []byte {
	buf = append(buf, ':')
	buf = appendInt(buf, i)
	return append(buf, '\r', '\n')
}

func appendErrorLine(buf []byte, msg string) []byte {
	buf = append(buf, '-')
	for i := 0; i < len(msg); i++ {
		if c := msg[i]; c == '\r' || c == '\n' {
			buf = append(buf, ' ')
		} else {
			buf = append(buf, c)
		}
	}
	return append(buf, '\r', '\n')
}
