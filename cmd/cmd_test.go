package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joomcode/redispool/testbed"
)

func run(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	RootCmd.SetArgs(args)
	err := RootCmd.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	srv1, err := testbed.NewServer()
	require.NoError(t, err)
	defer srv1.Stop()
	srv2, err := testbed.NewServer()
	require.NoError(t, err)
	defer srv2.Stop()

	single := "--endpoints=" + srv1.Addr
	both := "--endpoints=" + srv1.Addr + "," + srv2.Addr

	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "redispool v"+Version+"\n", out)

	out, err = run(t, "do", single, "SET", "key", "value")
	require.NoError(t, err)
	assert.Equal(t, "\"OK\"\n", out)
	assert.Equal(t, "value", srv1.Do("GET", "key"))

	out, err = run(t, "do", single, "--lazy", "INCR", "counter")
	require.NoError(t, err)
	assert.Equal(t, "(integer) 1\n", out)

	_, err = run(t, "do", single, "--lazy=false", "SELECT", "1")
	assert.Error(t, err)

	for _, k := range []string{"a", "b", "c", "d"} {
		_, err = run(t, "do", both, "SET", k, k+k)
		require.NoError(t, err)
	}
	out, err = run(t, "mget", both, "a", "missing", "d")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "a") && strings.HasSuffix(lines[0], `"aa"`), lines[0])
	assert.True(t, strings.HasSuffix(lines[1], "(nil)"), lines[1])
	assert.True(t, strings.HasSuffix(lines[2], `"dd"`), lines[2])

	out, err = run(t, "publish", single, "news", "hello")
	require.NoError(t, err)
	assert.Equal(t, "(integer) 0\n", out)

	out, err = run(t, "stats", single, "--repeat=50", "--parallel=4", "--prometheus", "INCR", "hits")
	require.NoError(t, err)
	assert.Contains(t, out, "50 requests")
	assert.Contains(t, out, "INCR")
	assert.Contains(t, out, "redispool_live_connections")
	assert.Equal(t, int64(50), srv1.Do("GET", "hits"))

	out, err = run(t, "config", both, "--pool-size=3")
	require.NoError(t, err)
	assert.Contains(t, out, srv2.Addr)
	assert.Contains(t, out, "3")

	_, err = run(t, "config", single, "--pool-size=0")
	assert.Error(t, err)
}
