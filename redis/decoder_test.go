package redis_test

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/joomcode/redispool/redis"
)

func decodeRaw(lines ...string) []interface{} {
	return NewDecoder(ModeRaw).Feed([]byte(strings.Join(lines, "")))
}

func decodeOne(t *testing.T, mode Mode, lines ...string) interface{} {
	res := NewDecoder(mode).Feed([]byte(strings.Join(lines, "")))
	require.Len(t, res, 1)
	return res[0]
}

func checkErr(t *testing.T, res interface{}, typ *errorx.Type) bool {
	if assert.IsType(t, (*errorx.Error)(nil), res) {
		err := res.(*errorx.Error)
		return assert.True(t, err.IsOfType(typ), "%v is not of type %v", err, typ)
	}
	return false
}

// normalize replaces errors with their type and message, since errors are compared by identity.
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case *errorx.Error:
		return "error " + val.Type().FullName() + ": " + val.Message()
	case []interface{}:
		if val == nil {
			return nil
		}
		res := make([]interface{}, len(val))
		for i := range val {
			res[i] = normalize(val[i])
		}
		return res
	}
	return v
}

func TestDecoder_FormatErrors(t *testing.T) {
	var res []interface{}

	res = decodeRaw("\r\n", "+OK\r\n")
	require.Len(t, res, 2)
	checkErr(t, res[0], ErrHeaderlineEmpty)
	assert.Equal(t, "OK", res[1])

	res = decodeRaw("$\r\n", ":1\r\n")
	require.Len(t, res, 2)
	checkErr(t, res[0], ErrIntegerParsing)
	assert.Equal(t, int64(1), res[1])

	res = decodeRaw("/\r\n", ":2\r\n")
	require.Len(t, res, 2)
	checkErr(t, res[0], ErrUnknownHeaderType)
	assert.Equal(t, int64(2), res[1])

	for _, bad := range []string{":\r\n", ":1.1\r\n", ":a\r\n", "$a\r\n", "*a\r\n", ":99999999999999999999\r\n"} {
		res = decodeRaw(bad, "+next\r\n")
		require.Len(t, res, 2, bad)
		checkErr(t, res[0], ErrIntegerParsing)
		assert.Equal(t, "next", res[1])
	}

	res = decodeRaw("$1\r\nabc\r\n", "+OK\r\n")
	require.Len(t, res, 2)
	checkErr(t, res[0], ErrNoFinalRN)
	assert.Equal(t, "OK", res[1])

	// malformed child doesn't break position of the following frames
	res = decodeRaw("*2\r\n$x\r\n:5\r\n", "$2\r\nhi\r\n")
	require.Len(t, res, 2)
	if arr, ok := res[0].([]interface{}); assert.True(t, ok) && assert.Len(t, arr, 2) {
		checkErr(t, arr[0], ErrIntegerParsing)
		assert.Equal(t, int64(5), arr[1])
	}
	assert.Equal(t, []byte("hi"), res[1])

	res = decodeRaw("+" + strings.Repeat("A", 128*1024))
	require.Len(t, res, 1)
	checkErr(t, res[0], ErrResponseFormat)
}

func TestDecoder_Incomplete(t *testing.T) {
	d := NewDecoder(ModeRaw)
	for _, part := range []string{"$0\r\n", "$1\r\n", "$1\r\na", "*1\r\n", "*1\r\n$1\r\n", "*2\r\n:1\r\n"} {
		d = NewDecoder(ModeRaw)
		assert.Empty(t, d.Feed([]byte(part)), part)
		assert.True(t, d.Pending(), part)
	}
	assert.Nil(t, d.Broken())
}

func TestDecoder_Broken(t *testing.T) {
	d := NewDecoder(ModeRaw)
	d.Feed([]byte("+OK\r\n:1\r\n"))
	assert.Nil(t, d.Broken())
	d.Feed([]byte("*1\r\n?what\r\n"))
	checkErr(t, d.Broken(), ErrUnknownHeaderType)
	d.Feed([]byte("+OK\r\n"))
	checkErr(t, d.Broken(), ErrUnknownHeaderType)
}

func TestDecoder_Correct(t *testing.T) {
	var res interface{}

	res = decodeOne(t, ModeRaw, "+\r\n")
	assert.Equal(t, "", res)

	res = decodeOne(t, ModeRaw, "+asdf\r\n")
	assert.Equal(t, "asdf", res)

	res = decodeOne(t, ModeRaw, "+OK\r\n")
	assert.Equal(t, "OK", res)

	res = decodeOne(t, ModeRaw, "-\r\n")
	if checkErr(t, res, ErrResult) {
		assert.Equal(t, "", res.(*errorx.Error).Message())
	}

	res = decodeOne(t, ModeRaw, "-asdf\r\n")
	if checkErr(t, res, ErrResult) {
		assert.Equal(t, "asdf", res.(*errorx.Error).Message())
	}

	res = decodeOne(t, ModeRaw, "-LOADING\r\n")
	if checkErr(t, res, ErrLoading) {
		assert.Equal(t, "LOADING", res.(*errorx.Error).Message())
		assert.True(t, res.(*errorx.Error).IsOfType(ErrResult))
	}

	res = decodeOne(t, ModeRaw, "-NOSCRIPT No matching script. Please use EVAL.\r\n")
	checkErr(t, res, ErrNoScript)

	res = decodeOne(t, ModeRaw, "-NOTBUSY No scripts in execution right now.\r\n")
	checkErr(t, res, ErrNotBusy)

	res = decodeOne(t, ModeRaw, "-EXECABORT Transaction discarded because of previous errors.\r\n")
	checkErr(t, res, ErrExecAbort)

	for i := -1000; i <= 1000; i++ {
		res = decodeOne(t, ModeRaw, fmt.Sprintf(":%d\r\n", i))
		assert.Equal(t, int64(i), res)
	}

	res = decodeOne(t, ModeRaw, ":9223372036854775807\r\n")
	assert.Equal(t, int64(9223372036854775807), res)

	res = decodeOne(t, ModeRaw, ":-9223372036854775807\r\n")
	assert.Equal(t, int64(-9223372036854775807), res)

	res = decodeOne(t, ModeRaw, "$0\r\n", "\r\n")
	assert.Equal(t, []byte(""), res)

	res = decodeOne(t, ModeRaw, "$1\r\n", "a\r\n")
	assert.Equal(t, []byte("a"), res)

	res = decodeOne(t, ModeRaw, "$4\r\n", "a\r\nb\r\n")
	assert.Equal(t, []byte("a\r\nb"), res)

	big := strings.Repeat("a", 1024*1024)
	res = decodeOne(t, ModeRaw, fmt.Sprintf("$%d\r\n", len(big)), big, "\r\n")
	assert.Equal(t, []byte(big), res)

	res = decodeOne(t, ModeRaw, "*0\r\n")
	assert.Equal(t, []interface{}{}, res)

	res = decodeOne(t, ModeRaw, "*1\r\n", "+OK\r\n")
	assert.Equal(t, []interface{}{"OK"}, res)

	res = decodeOne(t, ModeRaw, "*2\r\n", "+OK\r\n", "*2\r\n", ":1\r\n", "+OK\r\n")
	assert.Equal(t, []interface{}{"OK", []interface{}{int64(1), "OK"}}, res)

	res = decodeOne(t, ModeRaw, "*2\r\n", "*1\r\n", "*1\r\n", "*0\r\n", "*-1\r\n")
	assert.Equal(t, []interface{}{[]interface{}{[]interface{}{[]interface{}{}}}, nil}, res)

	res = decodeOne(t, ModeRaw, "$-1\r\n")
	assert.Nil(t, res)

	res = decodeOne(t, ModeRaw, "*-1\r\n")
	assert.Nil(t, res)

	res = decodeOne(t, ModeText, "*3\r\n:1\r\n$-1\r\n$2\r\nhi\r\n")
	assert.Equal(t, []interface{}{int64(1), nil, "hi"}, res)
}

func TestDecoder_ErrorInsideArrayIsElement(t *testing.T) {
	res := decodeOne(t, ModeText, "*3\r\n", ":1\r\n", "-WRONGTYPE Operation against a key\r\n", "+OK\r\n")
	arr, ok := res.([]interface{})
	require.True(t, ok)
	require.Len(t, arr, 3)
	assert.Equal(t, int64(1), arr[0])
	if checkErr(t, arr[1], ErrResult) {
		assert.True(t, strings.HasPrefix(arr[1].(*errorx.Error).Message(), "WRONGTYPE"))
	}
	assert.Equal(t, "OK", arr[2])
}

func TestDecoder_TextCoercion(t *testing.T) {
	bulk := func(s string) string {
		return fmt.Sprintf("$%d\r\n%s\r\n", len(s), s)
	}

	assert.Equal(t, int64(12), decodeOne(t, ModeText, bulk("12")))
	assert.Equal(t, int64(-7), decodeOne(t, ModeText, bulk("-7")))
	assert.Equal(t, int64(7), decodeOne(t, ModeText, bulk("+7")))
	assert.Equal(t, 1.5, decodeOne(t, ModeText, bulk("1.50")))
	assert.Equal(t, -0.25, decodeOne(t, ModeText, bulk("-.25")))
	assert.Equal(t, 1500.0, decodeOne(t, ModeText, bulk("1.5e3")))
	assert.Equal(t, 0.015, decodeOne(t, ModeText, bulk("1.5E-2")))
	assert.Equal(t, 5.0, decodeOne(t, ModeText, bulk("5.")))

	// decimal needs a dot
	for _, s := range []string{"1e3", "-2E5", "1e+3"} {
		assert.Equal(t, s, decodeOne(t, ModeText, bulk(s)), s)
	}

	// float tokens are deliberately left untouched
	for _, s := range []string{"inf", "+inf", "-inf", "nan", "NaN", "Infinity", "-Inf"} {
		assert.Equal(t, s, decodeOne(t, ModeText, bulk(s)), s)
	}
	for _, s := range []string{"", "-", "+", ".", "e5", "1.2.3x", "0x10", "12 ", " 12", "1_000", "1.5e", "1.5e+", ".e3", "1-2", "1.5e3x"} {
		assert.Equal(t, s, decodeOne(t, ModeText, bulk(s)), s)
	}
	// does not fit int64
	assert.Equal(t, "123456789012345678901234", decodeOne(t, ModeText, bulk("123456789012345678901234")))

	// raw mode never coerces
	assert.Equal(t, []byte("12"), decodeOne(t, ModeRaw, bulk("12")))
}

func TestDecoder_ChunkingAgnostic(t *testing.T) {
	stream := strings.Join([]string{
		"+OK\r\n",
		":42\r\n",
		"$5\r\nhello\r\n",
		"$-1\r\n",
		"*3\r\n:1\r\n$-1\r\n$2\r\nhi\r\n",
		"-ERR something\r\n",
		"*2\r\n*2\r\n$1\r\na\r\n*0\r\n*-1\r\n",
		"$0\r\n\r\n",
		"*1\r\n-ERR nested\r\n",
		"$3\r\n1.5\r\n",
		"$x\r\n",
		"+after\r\n",
	}, "")

	for _, mode := range []Mode{ModeRaw, ModeText} {
		whole := NewDecoder(mode).Feed([]byte(stream))
		require.Len(t, whole, 12)
		assert.Equal(t, "after", whole[11])

		d := NewDecoder(mode)
		var bytewise []interface{}
		for i := 0; i < len(stream); i++ {
			bytewise = append(bytewise, d.Feed([]byte{stream[i]})...)
		}
		assert.Equal(t, normalize(whole), normalize(bytewise))
		assert.False(t, d.Pending())

		rnd := rand.New(rand.NewSource(1))
		for k := 0; k < 50; k++ {
			d := NewDecoder(mode)
			var chunked []interface{}
			for i := 0; i < len(stream); {
				j := i + 1 + rnd.Intn(9)
				if j > len(stream) {
					j = len(stream)
				}
				chunked = append(chunked, d.Feed([]byte(stream[i:j]))...)
				i = j
			}
			assert.Equal(t, normalize(whole), normalize(chunked))
		}
	}
}

func TestAppendReply_RoundTrip(t *testing.T) {
	values := []interface{}{
		Status("OK"),
		int64(17),
		int64(-3),
		[]byte("text"),
		[]byte(""),
		nil,
		[]interface{}{},
		[]interface{}{[]byte("a"), nil, []interface{}{}, []interface{}{int64(1), []byte("b")}},
		ErrResult.New("ERR bad thing"),
	}

	var buf []byte
	for _, v := range values {
		buf = AppendReply(buf, v)
	}
	res := NewDecoder(ModeRaw).Feed(buf)
	require.Len(t, res, len(values))
	for i, v := range values {
		switch val := v.(type) {
		case Status:
			assert.Equal(t, string(val), res[i])
		case *errorx.Error:
			if checkErr(t, res[i], ErrResult) {
				assert.Equal(t, val.Message(), res[i].(*errorx.Error).Message())
			}
		default:
			assert.Equal(t, v, res[i])
		}
	}

	assert.Equal(t, "*-1\r\n", string(AppendReply(nil, []interface{}(nil))))
	assert.Equal(t, "$-1\r\n", string(AppendReply(nil, nil)))
	assert.Equal(t, "+OK\r\n", string(AppendReply(nil, Status("OK"))))
	assert.Equal(t, "*2\r\n$1\r\na\r\n$1\r\nb\r\n", string(AppendReply(nil, []string{"a", "b"})))
}

func TestRequestDecodesAsArrayOfBulks(t *testing.T) {
	req, err := AppendRequest(nil, Req("SET", "foo", 12))
	require.NoError(t, err)
	res := decodeOne(t, ModeRaw, string(req))
	assert.Equal(t, []interface{}{[]byte("SET"), []byte("foo"), []byte("12")}, res)
}
