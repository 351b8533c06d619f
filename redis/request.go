package redis

import (
	"fmt"
	"strconv"
	"strings"
)

// Req - convenient wrapper to create Request.
func Req(cmd string, args ...interface{}) Request {
	return Request{Cmd: cmd, Args: args}
}

// Request represents request to be passed to redis.
type Request struct {
	// Cmd is a redis command name.
	Cmd string
	// Args are command arguments.
	Args []interface{}
	// Shape converts raw result into form expected by caller.
	// It is applied to successful results only, and for commands queued inside
	// MULTI it is applied to the corresponding element of EXEC result.
	Shape Shaper
}

// WithShape returns copy of request with result shaper set.
func (req Request) WithShape(shape Shaper) Request {
	req.Shape = shape
	return req
}

func (req Request) String() string {
	args := omitLongArgs(req.Args)
	return fmt.Sprintf("Req(%q, %v)", req.Cmd, args)
}

// Key returns first field of request that should be used as a key for sharding.
func (req Request) Key() (string, bool) {
	var n int
	switch req.Cmd {
	case "RANDOMKEY", "PING", "ECHO", "TIME", "DBSIZE", "INFO", "FLUSHDB", "FLUSHALL",
		"SCAN", "SCRIPT", "PUBLISH", "MULTI", "EXEC", "DISCARD", "UNWATCH":
		return "", false
	case "EVAL", "EVALSHA", "EVAL_RO", "EVALSHA_RO", "FCALL", "FCALL_RO",
		"BLMPOP", "BZMPOP", "ZUNION", "ZINTER", "ZDIFF", "SINTERCARD", "ZINTERCARD",
		"LMPOP", "ZMPOP", "XREAD", "XREADGROUP":
		keys, ok := req.Keys()
		if !ok {
			return "", false
		}
		return keys[0], true
	case "BITOP":
		n = 1
	}
	if len(req.Args) <= n {
		return "", false
	}
	return ArgToString(req.Args[n])
}

// Keys returns all keys of request if command is known to be multi-key.
// For single key commands it returns that single key.
func (req Request) Keys() ([]string, bool) {
	args := req.Args
	switch req.Cmd {
	case "MGET", "DEL", "EXISTS", "UNLINK", "TOUCH", "WATCH", "SDIFF", "SINTER", "SUNION",
		"PFCOUNT", "PFMERGE", "SDIFFSTORE", "SINTERSTORE", "SUNIONSTORE":
		return argKeys(args, 1)
	case "MSET", "MSETNX":
		return argKeys(args, 2)
	case "BITOP":
		if len(args) < 2 {
			return nil, false
		}
		return argKeys(args[1:], 1)
	case "RENAME", "RENAMENX", "RPOPLPUSH", "SMOVE", "LMOVE", "BRPOPLPUSH", "BLMOVE",
		"COPY", "LCS", "ZRANGESTORE", "GEOSEARCHSTORE":
		if len(args) < 2 {
			return nil, false
		}
		return argKeys(args[:2], 1)
	case "BLPOP", "BRPOP", "BZPOPMIN", "BZPOPMAX":
		// last argument is timeout
		if len(args) < 2 {
			return nil, false
		}
		return argKeys(args[:len(args)-1], 1)
	case "EVAL", "EVALSHA", "EVAL_RO", "EVALSHA_RO", "FCALL", "FCALL_RO", "BLMPOP", "BZMPOP":
		return numKeys(args, 1)
	case "ZUNION", "ZINTER", "ZDIFF", "SINTERCARD", "ZINTERCARD", "LMPOP", "ZMPOP":
		return numKeys(args, 0)
	case "ZUNIONSTORE", "ZINTERSTORE", "ZDIFFSTORE":
		keys, ok := numKeys(args, 1)
		if !ok {
			return nil, false
		}
		dst, ok := ArgToString(args[0])
		if !ok {
			return nil, false
		}
		return append([]string{dst}, keys...), true
	case "XREAD", "XREADGROUP":
		for i, a := range args {
			if s, ok := ArgToString(a); !ok || !strings.EqualFold(s, "STREAMS") {
				continue
			}
			// STREAMS key [key ...] id [id ...]
			rest := args[i+1:]
			if len(rest) == 0 || len(rest)%2 != 0 {
				return nil, false
			}
			return argKeys(rest[:len(rest)/2], 1)
		}
		return nil, false
	default:
		k, ok := req.Key()
		if !ok {
			return nil, false
		}
		return []string{k}, true
	}
}

// numKeys extracts keys of command with "numkeys key [key ...]" section,
// where numkeys is at position pos.
func numKeys(args []interface{}, pos int) ([]string, bool) {
	if len(args) <= pos {
		return nil, false
	}
	s, ok := ArgToString(args[pos])
	if !ok {
		return nil, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || len(args) < pos+1+n {
		return nil, false
	}
	return argKeys(args[pos+1:pos+1+n], 1)
}

func argKeys(args []interface{}, step int) ([]string, bool) {
	if len(args) == 0 {
		return nil, false
	}
	keys := make([]string, 0, (len(args)+step-1)/step)
	for i := 0; i < len(args); i += step {
		k, ok := ArgToString(args[i])
		if !ok {
			return nil, false
		}
		keys = append(keys, k)
	}
	return keys, true
}

// Future is interface accepted by Sender to signal request completion.
type Future interface {
	// Resolve is called by sender to pass result (or error) for particular request.
	// Single future could be used for accepting multiple results.
	// n argument is used then to distinguish request this result is for.
	Resolve(res interface{}, n uint64)
	// Cancelled method could inform sender that request is abandoned.
	// It is called usually before sending request, and if Cancelled returns non-nil error,
	// then Sender calls Resolve with ErrRequestCancelled error wrapped around returned error.
	Cancelled() error
}

// FuncFuture simple wrapper that makes Future from function.
type FuncFuture func(res interface{}, n uint64)

// Cancelled implements Future.Cancelled (always false).
func (f FuncFuture) Cancelled() error { return nil }

// Resolve implements Future.Resolve (by calling wrapped function).
func (f FuncFuture) Resolve(res interface{}, n uint64) { f(res, n) }

func omitLongArgs(args []interface{}) []interface{} {
	short := make([]interface{}, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case string:
			if len(v) > 32 {
				a = v[:32] + "..."
			}
		case []byte:
			if len(v) > 32 {
				a = string(v[:32]) + "..."
			} else {
				a = string(v)
			}
		}
		short = append(short, a)
	}
	return short
}
