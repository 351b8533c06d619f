package testbed

import (
	"crypto/sha1"
	"encoding/hex"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joomcode/redispool/redis"
)

var (
	okReply     = redis.Status("OK")
	errWrongTyp = errReply("WRONGTYPE Operation against a key holding the wrong kind of value")
	errNotInt   = errReply("ERR value is not an integer or out of range")
	errSyntax   = errReply("ERR syntax error")
)

// minimal number of arguments (command name included)
var arity = map[string]int{
	"PING": 1, "ECHO": 2, "AUTH": 2, "SELECT": 2, "QUIT": 1,
	"GET": 2, "SET": 3, "DEL": 2, "EXISTS": 2, "INCR": 2, "INCRBY": 3, "MGET": 2, "MSET": 3,
	"LPUSH": 3, "RPUSH": 3, "LRANGE": 4, "LLEN": 2, "LPOP": 2, "BLPOP": 3,
	"HSET": 4, "HGETALL": 2, "FLUSHDB": 1, "DBSIZE": 1, "SCAN": 2,
	"EVAL": 3, "EVALSHA": 3, "SCRIPT": 2, "PUBLISH": 3, "DEBUG": 2, "GARBAGE": 1,
	"WATCH": 2, "UNWATCH": 1, "MULTI": 1, "EXEC": 1, "DISCARD": 1,
	"SUBSCRIBE": 2, "PSUBSCRIBE": 2, "UNSUBSCRIBE": 1, "PUNSUBSCRIBE": 1,
}

func one(v interface{}) []interface{} {
	return []interface{}{v}
}

// exec executes command and returns its replies. Subscription commands have several replies.
func (cl *client) exec(args []string) []interface{} {
	s := cl.s
	cmd := strings.ToUpper(args[0])
	args = args[1:]

	if n, known := arity[cmd]; !known {
		s.mu.Lock()
		s.calls[cmd]++
		if cl.multi {
			cl.dirty = true
		}
		s.mu.Unlock()
		return one(errReply("ERR unknown command '" + strings.ToLower(cmd) + "'"))
	} else if len(args)+1 < n {
		s.mu.Lock()
		s.calls[cmd]++
		if cl.multi {
			cl.dirty = true
		}
		s.mu.Unlock()
		return one(errReply("ERR wrong number of arguments for '" + strings.ToLower(cmd) + "' command"))
	}

	if !cl.multi {
		switch cmd {
		case "BLPOP":
			return one(cl.blpop(args))
		case "DEBUG":
			s.mu.Lock()
			s.calls[cmd]++
			s.mu.Unlock()
			if strings.ToUpper(args[0]) == "SLEEP" && len(args) > 1 {
				f, _ := strconv.ParseFloat(args[1], 64)
				time.Sleep(time.Duration(f * float64(time.Second)))
				return one(okReply)
			}
			return one(errSyntax)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[cmd]++

	if s.Password != "" && !cl.authed && cmd != "AUTH" {
		return one(errReply("NOAUTH Authentication required."))
	}
	if len(cl.subs)+len(cl.psubs) > 0 {
		switch cmd {
		case "SUBSCRIBE", "PSUBSCRIBE", "UNSUBSCRIBE", "PUNSUBSCRIBE", "PING", "QUIT":
		default:
			return one(errReply("ERR Can't execute '" + strings.ToLower(cmd) +
				"': only (P)SUBSCRIBE / (P)UNSUBSCRIBE / PING / QUIT are allowed in this context"))
		}
	}

	switch cmd {
	case "MULTI":
		if cl.multi {
			return one(errReply("ERR MULTI calls can not be nested"))
		}
		cl.multi, cl.dirty, cl.queued = true, false, nil
		return one(okReply)
	case "EXEC":
		if !cl.multi {
			return one(errReply("ERR EXEC without MULTI"))
		}
		queued, dirty, watch := cl.queued, cl.dirty, cl.watch
		cl.multi, cl.dirty, cl.queued, cl.watch = false, false, nil, nil
		if dirty {
			return one(errReply("EXECABORT Transaction discarded because of previous errors."))
		}
		for k, v := range watch {
			if s.versions[k] != v {
				return one([]interface{}(nil))
			}
		}
		res := make([]interface{}, len(queued))
		for i, q := range queued {
			res[i] = cl.command(strings.ToUpper(q[0]), q[1:])
		}
		return one(res)
	case "DISCARD":
		if !cl.multi {
			return one(errReply("ERR DISCARD without MULTI"))
		}
		cl.multi, cl.dirty, cl.queued, cl.watch = false, false, nil, nil
		return one(okReply)
	case "WATCH":
		if cl.multi {
			return one(errReply("ERR WATCH inside MULTI is not allowed"))
		}
		if cl.watch == nil {
			cl.watch = make(map[string]uint64)
		}
		for _, k := range args {
			vk := versionKey(cl.db, k)
			cl.watch[vk] = s.versions[vk]
		}
		return one(okReply)
	case "SUBSCRIBE", "PSUBSCRIBE":
		return cl.subscribe(cmd, args)
	case "UNSUBSCRIBE", "PUNSUBSCRIBE":
		return cl.unsubscribe(cmd, args)
	}

	if cl.multi {
		cl.queued = append(cl.queued, append([]string{cmd}, args...))
		return one(redis.Status("QUEUED"))
	}
	return one(cl.command(cmd, args))
}

// command executes single reply command. Should be called with s.mu locked.
func (cl *client) command(cmd string, args []string) interface{} {
	s := cl.s
	db := s.db(cl.db)
	switch cmd {
	case "PING":
		if len(cl.subs)+len(cl.psubs) > 0 {
			msg := ""
			if len(args) > 0 {
				msg = args[0]
			}
			return []interface{}{"pong", msg}
		}
		if len(args) > 0 {
			return args[0]
		}
		return redis.Status("PONG")
	case "ECHO":
		return args[0]
	case "QUIT":
		return okReply
	case "UNWATCH":
		cl.watch = nil
		return okReply
	case "AUTH":
		if s.Password == "" {
			return errReply("ERR AUTH <password> called without any password configured for the default user.")
		}
		if args[len(args)-1] != s.Password {
			return errReply("WRONGPASS invalid username-password pair or user is disabled.")
		}
		cl.authed = true
		return okReply
	case "SELECT":
		n, err := strconv.Atoi(args[0])
		if err != nil {
			return errNotInt
		}
		if n < 0 || n > 15 {
			return errReply("ERR DB index is out of range")
		}
		cl.db = n
		return okReply
	case "GET":
		switch v := db[args[0]].(type) {
		case nil:
			return nil
		case string:
			return v
		default:
			return errWrongTyp
		}
	case "SET":
		nx, xx := false, false
		for i := 2; i < len(args); i++ {
			switch strings.ToUpper(args[i]) {
			case "NX":
				nx = true
			case "XX":
				xx = true
			case "EX", "PX":
				i++
			default:
				return errSyntax
			}
		}
		_, exists := db[args[0]]
		if (nx && exists) || (xx && !exists) {
			return nil
		}
		db[args[0]] = args[1]
		s.touch(cl.db, args[0])
		return okReply
	case "MSET":
		if len(args)%2 != 0 {
			return errReply("ERR wrong number of arguments for 'mset' command")
		}
		for i := 0; i < len(args); i += 2 {
			db[args[i]] = args[i+1]
			s.touch(cl.db, args[i])
		}
		return okReply
	case "MGET":
		res := make([]interface{}, len(args))
		for i, k := range args {
			if v, ok := db[k].(string); ok {
				res[i] = v
			}
		}
		return res
	case "DEL":
		n := 0
		for _, k := range args {
			if _, ok := db[k]; ok {
				delete(db, k)
				s.touch(cl.db, k)
				n++
			}
		}
		return n
	case "EXISTS":
		n := 0
		for _, k := range args {
			if _, ok := db[k]; ok {
				n++
			}
		}
		return n
	case "INCR", "INCRBY":
		by := int64(1)
		if cmd == "INCRBY" {
			var err error
			if by, err = strconv.ParseInt(args[1], 10, 64); err != nil {
				return errNotInt
			}
		}
		cur := int64(0)
		switch v := db[args[0]].(type) {
		case nil:
		case string:
			var err error
			if cur, err = strconv.ParseInt(v, 10, 64); err != nil {
				return errNotInt
			}
		default:
			return errWrongTyp
		}
		cur += by
		db[args[0]] = strconv.FormatInt(cur, 10)
		s.touch(cl.db, args[0])
		return cur
	case "LPUSH", "RPUSH":
		var list []string
		switch v := db[args[0]].(type) {
		case nil:
		case []string:
			list = v
		default:
			return errWrongTyp
		}
		for _, el := range args[1:] {
			if cmd == "LPUSH" {
				list = append([]string{el}, list...)
			} else {
				list = append(list, el)
			}
		}
		db[args[0]] = list
		s.touch(cl.db, args[0])
		return len(list)
	case "LPOP", "BLPOP":
		// BLPOP inside MULTI never blocks
		keys := args
		if cmd == "BLPOP" {
			keys = args[:len(args)-1]
		}
		for _, k := range keys {
			list, isList := db[k].([]string)
			if !isList || len(list) == 0 {
				continue
			}
			v := list[0]
			if len(list) == 1 {
				delete(db, k)
			} else {
				db[k] = list[1:]
			}
			s.touch(cl.db, k)
			if cmd == "LPOP" {
				return v
			}
			return []interface{}{k, v}
		}
		if cmd == "BLPOP" {
			return []interface{}(nil)
		}
		return nil
	case "LLEN":
		list, _ := db[args[0]].([]string)
		return len(list)
	case "LRANGE":
		list, _ := db[args[0]].([]string)
		from, err1 := strconv.Atoi(args[1])
		to, err2 := strconv.Atoi(args[2])
		if err1 != nil || err2 != nil {
			return errNotInt
		}
		if to < 0 {
			to += len(list)
		}
		if to >= len(list) {
			to = len(list) - 1
		}
		res := []interface{}{}
		for i := from; i <= to; i++ {
			res = append(res, list[i])
		}
		return res
	case "HSET":
		var h map[string]string
		switch v := db[args[0]].(type) {
		case nil:
			h = make(map[string]string)
			db[args[0]] = h
		case map[string]string:
			h = v
		default:
			return errWrongTyp
		}
		n := 0
		for i := 1; i+1 < len(args); i += 2 {
			if _, ok := h[args[i]]; !ok {
				n++
			}
			h[args[i]] = args[i+1]
		}
		s.touch(cl.db, args[0])
		return n
	case "HGETALL":
		h, _ := db[args[0]].(map[string]string)
		fields := make([]string, 0, len(h))
		for f := range h {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		res := make([]interface{}, 0, len(h)*2)
		for _, f := range fields {
			res = append(res, f, h[f])
		}
		return res
	case "FLUSHDB":
		for k := range db {
			s.touch(cl.db, k)
		}
		s.dbs[cl.db] = make(map[string]interface{})
		return okReply
	case "DBSIZE":
		return len(db)
	case "SCAN":
		return scan(db, args)
	case "EVAL", "EVALSHA":
		return cl.eval(cmd, args)
	case "SCRIPT":
		switch strings.ToUpper(args[0]) {
		case "LOAD":
			if len(args) < 2 {
				return errSyntax
			}
			sha := scriptHash(args[1])
			s.scripts[sha] = args[1]
			return sha
		case "FLUSH":
			s.scripts = make(map[string]string)
			return okReply
		case "EXISTS":
			res := make([]interface{}, 0, len(args)-1)
			for _, sha := range args[1:] {
				_, ok := s.scripts[sha]
				res = append(res, ok)
			}
			return res
		case "KILL":
			return errReply("NOTBUSY No scripts in execution right now.")
		}
		return errSyntax
	case "PUBLISH":
		return s.publish(args[0], args[1])
	case "GARBAGE":
		return rawReply("?garbage\r\n")
	}
	return errReply("ERR unknown command '" + strings.ToLower(cmd) + "'")
}

// eval doesn't run Lua: it answers with array of keys followed by arguments.
func (cl *client) eval(cmd string, args []string) interface{} {
	s := cl.s
	if cmd == "EVALSHA" {
		if _, ok := s.scripts[strings.ToLower(args[0])]; !ok {
			return errReply("NOSCRIPT No matching script. Please use EVAL.")
		}
	} else {
		s.scripts[scriptHash(args[0])] = args[0]
	}
	numkeys, err := strconv.Atoi(args[1])
	if err != nil || numkeys < 0 || numkeys > len(args)-2 {
		return errReply("ERR Number of keys can't be greater than number of args")
	}
	res := make([]interface{}, 0, len(args)-2)
	for _, a := range args[2:] {
		res = append(res, a)
	}
	return res
}

func scan(db map[string]interface{}, args []string) interface{} {
	cursor, err := strconv.Atoi(args[0])
	if err != nil {
		return errReply("ERR invalid cursor")
	}
	match, count := "", 10
	for i := 1; i+1 < len(args); i += 2 {
		switch strings.ToUpper(args[i]) {
		case "MATCH":
			match = args[i+1]
		case "COUNT":
			if count, err = strconv.Atoi(args[i+1]); err != nil || count <= 0 {
				return errSyntax
			}
		default:
			return errSyntax
		}
	}
	keys := make([]string, 0, len(db))
	for k := range db {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	res := []interface{}{}
	next := cursor + count
	if next >= len(keys) {
		next = 0
	}
	for i := cursor; i < len(keys) && i < cursor+count; i++ {
		if match != "" {
			if m, _ := path.Match(match, keys[i]); !m {
				continue
			}
		}
		res = append(res, keys[i])
	}
	return []interface{}{strconv.Itoa(next), res}
}

// blpop waits for element without holding server lock.
func (cl *client) blpop(args []string) interface{} {
	s := cl.s
	secs, err := strconv.ParseFloat(args[len(args)-1], 64)
	if err != nil || secs < 0 {
		s.mu.Lock()
		s.calls["BLPOP"]++
		s.mu.Unlock()
		return errReply("ERR timeout is not a float or out of range")
	}
	var deadline time.Time
	if secs > 0 {
		deadline = time.Now().Add(time.Duration(secs * float64(time.Second)))
	}
	s.mu.Lock()
	s.calls["BLPOP"]++
	s.mu.Unlock()
	for {
		s.mu.Lock()
		if cl.closed {
			s.mu.Unlock()
			return nil
		}
		res := cl.command("BLPOP", args)
		s.mu.Unlock()
		if arr, _ := res.([]interface{}); arr != nil {
			return arr
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return []interface{}(nil)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (cl *client) subscribe(cmd string, names []string) []interface{} {
	set := &cl.subs
	kind := "subscribe"
	if cmd == "PSUBSCRIBE" {
		set = &cl.psubs
		kind = "psubscribe"
	}
	if *set == nil {
		*set = make(map[string]struct{})
	}
	res := make([]interface{}, 0, len(names))
	for _, n := range names {
		(*set)[n] = struct{}{}
		res = append(res, []interface{}{kind, n, len(cl.subs) + len(cl.psubs)})
	}
	return res
}

func (cl *client) unsubscribe(cmd string, names []string) []interface{} {
	set := cl.subs
	kind := "unsubscribe"
	if cmd == "PUNSUBSCRIBE" {
		set = cl.psubs
		kind = "punsubscribe"
	}
	if len(names) == 0 {
		for n := range set {
			names = append(names, n)
		}
		sort.Strings(names)
	}
	if len(names) == 0 {
		return one([]interface{}{kind, nil, len(cl.subs) + len(cl.psubs)})
	}
	res := make([]interface{}, 0, len(names))
	for _, n := range names {
		delete(set, n)
		res = append(res, []interface{}{kind, n, len(cl.subs) + len(cl.psubs)})
	}
	return res
}

// publish should be called with s.mu locked.
func (s *Server) publish(channel, msg string) int {
	n := 0
	for c := range s.clients {
		if c.closed {
			continue
		}
		var frame []byte
		if _, ok := c.subs[channel]; ok {
			frame = redis.AppendReply(frame, []interface{}{"message", channel, msg})
			n++
		}
		for p := range c.psubs {
			if m, _ := path.Match(p, channel); m {
				frame = redis.AppendReply(frame, []interface{}{"pmessage", p, channel, msg})
				n++
			}
		}
		if len(frame) > 0 {
			c.write(frame)
		}
	}
	return n
}

// db should be called with s.mu locked.
func (s *Server) db(n int) map[string]interface{} {
	db := s.dbs[n]
	if db == nil {
		db = make(map[string]interface{})
		s.dbs[n] = db
	}
	return db
}

// touch marks key as modified for WATCH. Should be called with s.mu locked.
func (s *Server) touch(db int, key string) {
	s.versions[versionKey(db, key)]++
}

func versionKey(db int, key string) string {
	return strconv.Itoa(db) + ":" + key
}

func scriptHash(script string) string {
	sum := sha1.Sum([]byte(script))
	return hex.EncodeToString(sum[:])
}
