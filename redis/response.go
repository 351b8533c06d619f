package redis

import (
	"strconv"

	"github.com/joomcode/errorx"
)

// AsError casts interface to error (if it is error)
func AsError(v interface{}) error {
	e, _ := v.(error)
	return e
}

// AsErrorx casts interface to *errorx.Error.
// Foreign errors are decorated, so result is non-nil for any error value.
func AsErrorx(v interface{}) *errorx.Error {
	e, _ := v.(*errorx.Error)
	if e == nil {
		if _, ok := v.(error); ok {
			return errorx.Decorate(v.(error), "external error")
		}
	}
	return e
}

// ScanResponse parses response of Scan command, returns iterator and array of keys.
func ScanResponse(res interface{}) ([]byte, []string, error) {
	if err := AsError(res); err != nil {
		return nil, nil, err
	}
	var ok bool
	var arr []interface{}
	var it []byte
	var keys []interface{}
	var strs []string
	if arr, ok = res.([]interface{}); !ok || len(arr) != 2 {
		goto wrong
	}
	if it, ok = bytesOf(arr[0]); !ok {
		goto wrong
	}
	if keys, ok = arr[1].([]interface{}); !ok {
		goto wrong
	}
	strs = make([]string, len(keys))
	for i, k := range keys {
		var b []byte
		if b, ok = bytesOf(k); !ok {
			goto wrong
		}
		strs[i] = string(b)
	}
	return it, strs, nil

wrong:
	return nil, nil, ErrResponseUnexpected.NewWithNoMessage().WithProperty(EKResponse, res)
}

// TransactionResponse parses response of EXEC command, returns array of answers.
func TransactionResponse(res interface{}) ([]interface{}, error) {
	if arr, ok := res.([]interface{}); ok {
		return arr, nil
	}
	if res == nil {
		res = ErrWatchAborted.New("transaction aborted: watched key were modified")
	}
	if _, ok := res.(error); !ok {
		res = ErrResponseUnexpected.NewWithNoMessage().WithProperty(EKResponse, res)
	}
	return nil, res.(error)
}

// bytesOf returns textual form of bulk value decoded in any Mode.
func bytesOf(v interface{}) ([]byte, bool) {
	switch val := v.(type) {
	case []byte:
		return val, true
	case string:
		return []byte(val), true
	case int64:
		return strconv.AppendInt(nil, val, 10), true
	case float64:
		return strconv.AppendFloat(nil, val, 'f', -1, 64), true
	default:
		return nil, false
	}
}
