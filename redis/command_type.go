package redis

import (
	"strconv"
	"strings"
	"time"
)

// Blocking returns true if command is known to be blocking.
// Blocking commands occupy connection until server side timeout, so pooled handlers
// keep such connection borrowed until answer arrives.
func Blocking(str string) bool {
	switch strings.ToUpper(str) {
	case "BLPOP", "BRPOP", "BRPOPLPUSH", "BLMOVE", "BZPOPMIN", "BZPOPMAX", "BLMPOP", "BZMPOP",
		"XREAD", "XREADGROUP", "WAIT":
		return true
	}
	return false
}

// Dangerous returns true if command switches connection into special mode,
// or otherwise could not be used on shared pipelined connection.
func Dangerous(str string) bool {
	switch strings.ToUpper(str) {
	case "SUBSCRIBE", "PSUBSCRIBE", "UNSUBSCRIBE", "PUNSUBSCRIBE", "MONITOR", "SELECT", "QUIT",
		"CLIENT REPLY", "SYNC", "PSYNC":
		return true
	}
	return false
}

// PushAllowed returns true if command could be issued on connection in subscribed (push) mode.
func PushAllowed(str string) bool {
	switch strings.ToUpper(str) {
	case "SUBSCRIBE", "PSUBSCRIBE", "UNSUBSCRIBE", "PUNSUBSCRIBE", "PING", "QUIT":
		return true
	}
	return false
}

// BlockingTimeout returns server side timeout of blocking request.
// ok is false for non-blocking requests. Zero timeout means "wait forever".
func BlockingTimeout(req Request) (timeout time.Duration, ok bool) {
	cmd := strings.ToUpper(req.Cmd)
	if !Blocking(cmd) {
		return 0, false
	}
	switch cmd {
	case "XREAD", "XREADGROUP":
		// XREAD [COUNT n] [BLOCK ms] STREAMS ...
		for i := 0; i+1 < len(req.Args); i++ {
			s, _ := ArgToString(req.Args[i])
			if strings.EqualFold(s, "BLOCK") {
				ms, _ := ArgToString(req.Args[i+1])
				v, err := strconv.ParseInt(ms, 10, 64)
				if err != nil {
					return 0, true
				}
				return time.Duration(v) * time.Millisecond, true
			}
		}
		return 0, false
	case "WAIT":
		// WAIT numreplicas timeout-ms
		if len(req.Args) < 2 {
			return 0, true
		}
		ms, _ := ArgToString(req.Args[1])
		v, err := strconv.ParseInt(ms, 10, 64)
		if err != nil {
			return 0, true
		}
		return time.Duration(v) * time.Millisecond, true
	case "BLMPOP", "BZMPOP":
		// BLMPOP timeout numkeys key ...
		if len(req.Args) == 0 {
			return 0, true
		}
		return secondsArg(req.Args[0]), true
	default:
		// timeout is the last argument, in seconds
		if len(req.Args) == 0 {
			return 0, true
		}
		return secondsArg(req.Args[len(req.Args)-1]), true
	}
}

func secondsArg(arg interface{}) time.Duration {
	s, _ := ArgToString(arg)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}
