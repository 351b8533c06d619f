package redis

import (
	"strconv"
)

// AppendRequest appends request to byte slice as RESP request (ie as array of strings).
//
// It could fail if some request value is not nil, integer, float, string or byte slice.
// In case of error it still returns modified buffer, but truncated to original size, it could be used save reallocation.
//
// Note: command could contain single space. In that case, it will be split and last part will be prepended to arguments.
func AppendRequest(buf []byte, req Request) ([]byte, error) {
	oldSize := len(buf)
	space := -1
	for i, c := range []byte(req.Cmd) {
		if c == ' ' {
			space = i
			break
		}
	}
	if space == -1 {
		buf = appendHead(buf, '*', len(req.Args)+1)
		buf = appendHead(buf, '$', len(req.Cmd))
		buf = append(buf, req.Cmd...)
		buf = append(buf, '\r', '\n')
	} else {
		buf = appendHead(buf, '*', len(req.Args)+2)
		buf = appendHead(buf, '$', space)
		buf = append(buf, req.Cmd[:space]...)
		buf = append(buf, '\r', '\n')
		buf = appendHead(buf, '$', len(req.Cmd)-space-1)
		buf = append(buf, req.Cmd[space+1:]...)
		buf = append(buf, '\r', '\n')
	}
	for i, val := range req.Args {
		switch v := val.(type) {
		case string:
			buf = appendHead(buf, '$', len(v))
			buf = append(buf, v...)
		case []byte:
			buf = appendHead(buf, '$', len(v))
			buf = append(buf, v...)
		case int:
			buf = appendBulkInt(buf, int64(v))
		case uint:
			buf = appendBulkUint(buf, uint64(v))
		case int64:
			buf = appendBulkInt(buf, v)
		case uint64:
			buf = appendBulkUint(buf, v)
		case int32:
			buf = appendBulkInt(buf, int64(v))
		case uint32:
			buf = appendBulkInt(buf, int64(v))
		case int8:
			buf = appendBulkInt(buf, int64(v))
		case uint8:
			buf = appendBulkInt(buf, int64(v))
		case int16:
			buf = appendBulkInt(buf, int64(v))
		case uint16:
			buf = appendBulkInt(buf, int64(v))
		case bool:
			if v {
				buf = append(buf, "$1\r\n1"...)
			} else {
				buf = append(buf, "$1\r\n0"...)
			}
		case float32:
			str := strconv.FormatFloat(float64(v), 'f', -1, 32)
			buf = appendHead(buf, '$', len(str))
			buf = append(buf, str...)
		case float64:
			str := strconv.FormatFloat(v, 'f', -1, 64)
			buf = appendHead(buf, '$', len(str))
			buf = append(buf, str...)
		case nil:
			buf = append(buf, "$0\r\n"...)
		default:
			return buf[:oldSize], ErrArgumentType.NewWithNoMessage().
				WithProperty(EKVal, val).
				WithProperty(EKArgPos, i).
				WithProperty(EKRequest, req)
		}
		buf = append(buf, '\r', '\n')
	}
	return buf, nil
}

// CheckRequest checks requests command and arguments to be compatible with connector.
// If raw is true, text (string) arguments are rejected: connection decodes and encodes
// nothing but bytes.
func CheckRequest(req Request, raw bool) error {
	for i, val := range req.Args {
		switch val.(type) {
		case string:
			if raw {
				return ErrTextEncoding.New("string argument while connection is in raw bytes mode").
					WithProperty(EKArgPos, i).
					WithProperty(EKRequest, req)
			}
		case []byte, int, uint, int64, uint64, int32, uint32, int8, uint8, int16, uint16,
			bool, float32, float64, nil:
		default:
			return ErrArgumentType.NewWithNoMessage().
				WithProperty(EKVal, val).
				WithProperty(EKArgPos, i).
				WithProperty(EKRequest, req)
		}
	}
	return nil
}

// ArgToString returns string representation of an argument.
// Used in cluster to determine cluster slot.
// Have to be in sync with AppendRequest
func ArgToString(arg interface{}) (string, bool) {
	var bufarr [20]byte
	var buf []byte
	switch v := arg.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case int:
		buf = strconv.AppendInt(bufarr[:0], int64(v), 10)
	case uint:
		buf = strconv.AppendUint(bufarr[:0], uint64(v), 10)
	case int64:
		buf = strconv.AppendInt(bufarr[:0], v, 10)
	case uint64:
		buf = strconv.AppendUint(bufarr[:0], v, 10)
	case int32:
		buf = strconv.AppendInt(bufarr[:0], int64(v), 10)
	case uint32:
		buf = strconv.AppendInt(bufarr[:0], int64(v), 10)
	case int8:
		buf = strconv.AppendInt(bufarr[:0], int64(v), 10)
	case uint8:
		buf = strconv.AppendInt(bufarr[:0], int64(v), 10)
	case int16:
		buf = strconv.AppendInt(bufarr[:0], int64(v), 10)
	case uint16:
		buf = strconv.AppendInt(bufarr[:0], int64(v), 10)
	case bool:
		if v {
			return "1", true
		}
		return "0", true
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case nil:
		return "", true
	default:
		return "", false
	}
	return string(buf), true
}

func appendInt(b []byte, i int64) []byte {
	return strconv.AppendInt(b, i, 10)
}

func appendHead(b []byte, t byte, i int) []byte {
	b = append(b, t)
	b = strconv.AppendInt(b, int64(i), 10)
	return append(b, '\r', '\n')
}

func appendBulkInt(b []byte, i int64) []byte {
	if i >= -99999999 && i <= 999999999 {
		b = append(b, '$', '0', '\r', '\n')
	} else {
		b = append(b, '$', '0', '0', '\r', '\n')
	}
	l := len(b)
	b = appendInt(b, i)
	li := len(b) - l
	if li < 10 {
		b[l-3] = byte(li) + '0'
	} else {
		d := li / 10
		b[l-4] = byte(d) + '0'
		b[l-3] = byte(li-d*10) + '0'
	}
	return b
}

func appendBulkUint(b []byte, i uint64) []byte {
	if i <= 1<<63-1 {
		return appendBulkInt(b, int64(i))
	}
	str := strconv.FormatUint(i, 10)
	b = appendHead(b, '$', len(str))
	return append(b, str...)
}
