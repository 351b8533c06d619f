package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joomcode/redispool/redis"
)

func TestFormat(t *testing.T) {
	cases := []struct {
		res  interface{}
		want string
	}{
		{nil, "(nil)"},
		{"OK", `"OK"`},
		{[]byte("a\nb"), `"a\nb"`},
		{int64(42), "(integer) 42"},
		{1.5, "1.5"},
		{[]interface{}{}, "(empty array)"},
		{[]interface{}{"a", nil, int64(3)}, "1) \"a\"\n2) (nil)\n3) (integer) 3"},
		{[]interface{}{"x", []interface{}{"y", "z"}}, "1) \"x\"\n2) 1) \"y\"\n   2) \"z\""},
		{redis.ErrResult.New("ERR unknown command"), "(error) ERR unknown command"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, format(c.res))
	}

	long := make([]interface{}, 10)
	for i := range long {
		long[i] = int64(i)
	}
	assert.Contains(t, format(long), "\n 9) (integer) 8\n10) (integer) 9")
}
