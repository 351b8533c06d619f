package redisconn

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redispool/redis"
)

// ScriptHash returns SHA1 hex digest redis uses to identify script.
func ScriptHash(script string) string {
	sum := sha1.Sum([]byte(script))
	return hex.EncodeToString(sum[:])
}

// ScriptLoaded answers if script with given hash is known to be loaded to redis through this connection.
func (conn *Connection) ScriptLoaded(sha string) bool {
	_, ok := conn.scripts.Load(sha)
	return ok
}

// Eval runs Lua script.
// If script is known to be loaded, EVALSHA is sent, and on NOSCRIPT answer it is retried with EVAL.
// Note: retried EVAL is sent after requests issued meanwhile.
func (conn *Connection) Eval(script string, keys []string, args []interface{}, cb redis.Future, n uint64) {
	if cb == nil {
		cb = &dumb
	}
	ef := &evalFuture{Future: cb, conn: conn, script: script, sha: ScriptHash(script), keys: keys, args: args}
	// inside MULTI NOSCRIPT will come as EXEC element, so there is no chance to retry.
	ef.evalsha = conn.ScriptLoaded(ef.sha) && conn.TxState() != TxInMulti
	conn.Send(ef.request(), ef, n)
}

type evalFuture struct {
	redis.Future
	conn    *Connection
	script  string
	sha     string
	keys    []string
	args    []interface{}
	evalsha bool
}

func (f *evalFuture) request() redis.Request {
	args := make([]interface{}, 0, 2+len(f.keys)+len(f.args))
	// bytes are accepted in both encodings
	if f.evalsha {
		args = append(args, []byte(f.sha))
	} else {
		args = append(args, []byte(f.script))
	}
	args = append(args, len(f.keys))
	for _, k := range f.keys {
		args = append(args, []byte(k))
	}
	args = append(args, f.args...)
	cmd := "EVAL"
	if f.evalsha {
		cmd = "EVALSHA"
	}
	return redis.Request{Cmd: cmd, Args: args}
}

func (f *evalFuture) Resolve(res interface{}, n uint64) {
	err := redis.AsError(res)
	if f.evalsha && errorx.IsOfType(err, redis.ErrNoScript) {
		f.conn.scripts.Delete(f.sha)
		f.evalsha = false
		f.conn.Send(f.request(), f, n)
		return
	}
	if !f.evalsha && err == nil {
		f.conn.scripts.Store(f.sha, struct{}{})
	}
	f.Future.Resolve(res, n)
}

// observe tracks session state changed by successful answers.
func (conn *Connection) observe(req redis.Request, res interface{}) {
	if !strings.EqualFold(req.Cmd, "SCRIPT") && !strings.HasPrefix(strings.ToUpper(req.Cmd), "SCRIPT ") {
		return
	}
	sub := ""
	if i := strings.IndexByte(req.Cmd, ' '); i >= 0 {
		sub = strings.TrimSpace(req.Cmd[i+1:])
	} else if len(req.Args) > 0 {
		sub, _ = redis.ArgToString(req.Args[0])
	}
	switch strings.ToUpper(sub) {
	case "LOAD":
		switch sha := res.(type) {
		case string:
			conn.scripts.Store(sha, struct{}{})
		case []byte:
			conn.scripts.Store(string(sha), struct{}{})
		}
	case "FLUSH":
		conn.scripts.Clear()
	}
}
