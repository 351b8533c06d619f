package testbed

import (
	"net"
	"strings"
	"time"

	"github.com/joomcode/redispool/redis"
)

// Conn is a simple synchronous client, used to prepare and check server state in tests.
// It reconnects once if connection were broken.
type Conn struct {
	Addr string
	C    net.Conn
	dec  *redis.Decoder
}

// Do sends request and waits for answer. Answer is decoded in text mode.
func (c *Conn) Do(cmd string, args ...interface{}) interface{} {
	try := 1
	if c.C != nil {
		try = 2
	}
	var res interface{}
	for i := 0; i < try; i++ {
		if c.C == nil {
			conn, err := dial(c.Addr)
			if err != nil {
				return redis.ErrIO.Wrap(err, "dial")
			}
			c.C, c.dec = conn, redis.NewDecoder(redis.ModeText)
		}
		res = roundtrip(c.C, c.dec, cmd, args)
		if rerr := redis.AsErrorx(res); rerr == nil || rerr.IsOfType(redis.ErrResult) || rerr.IsOfType(redis.ErrArgumentType) {
			return res
		}
		c.C.Close()
		c.C = nil
	}
	return res
}

// Close closes connection.
func (c *Conn) Close() {
	if c.C != nil {
		c.C.Close()
		c.C = nil
	}
}

// Do sends single request through new connection.
func Do(addr string, cmd string, args ...interface{}) interface{} {
	conn, err := dial(addr)
	if err != nil {
		return redis.ErrIO.Wrap(err, "dial")
	}
	defer conn.Close()
	return roundtrip(conn, redis.NewDecoder(redis.ModeText), cmd, args)
}

func dial(addr string) (net.Conn, error) {
	network := "tcp"
	if strings.HasPrefix(addr, "/") || strings.HasPrefix(addr, ".") {
		network = "unix"
	}
	return net.DialTimeout(network, addr, 100*time.Millisecond)
}

func roundtrip(conn net.Conn, dec *redis.Decoder, cmd string, args []interface{}) interface{} {
	conn.SetDeadline(time.Now().Add(1 * time.Second))
	req, err := redis.AppendRequest(nil, redis.Req(cmd, args...))
	if err != nil {
		return err
	}
	if _, err = conn.Write(req); err != nil {
		return redis.ErrIO.Wrap(err, "write")
	}
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if vals := dec.Feed(buf[:n]); len(vals) > 0 {
				return vals[0]
			}
		}
		if err != nil {
			return redis.ErrIO.Wrap(err, "read")
		}
	}
}
