package redissub

import (
	"log"
	"time"

	"github.com/joomcode/redispool/redis"
	"github.com/joomcode/redispool/redisconn"
)

// Logger is used for logging subscriber events.
type Logger interface {
	Report(s *Subscriber, event LogEvent)
}

// LogEvent is a sumtype for events to be logged.
type LogEvent interface {
	logEvent()
}

// LogConnEvent wraps event of underlying connection.
type LogConnEvent struct {
	Conn  *redisconn.Connection
	Event redisconn.LogEvent
}

// LogReconnectScheduled is logged when connection is lost or could not be established,
// and next attempt is delayed.
type LogReconnectScheduled struct {
	Attempt int
	Delay   time.Duration
	Error   error
}

// LogReplayed is logged after subscriptions were restored on fresh connection.
type LogReplayed struct {
	Channels int
	Patterns int
	Error    error // first failed subscription, if any
}

// LogMessageDropped is logged when message of unknown shape is received.
type LogMessageDropped struct {
	Message []interface{}
}

func (LogConnEvent) logEvent()          {}
func (LogReconnectScheduled) logEvent() {}
func (LogReplayed) logEvent()           {}
func (LogMessageDropped) logEvent()     {}

// DefaultLogger prints events with standard log package.
type DefaultLogger struct{}

// Report implements Logger.Report
func (DefaultLogger) Report(s *Subscriber, event LogEvent) {
	switch ev := event.(type) {
	case LogConnEvent:
		switch cev := ev.Event.(type) {
		case redisconn.LogConnecting:
			log.Printf("redissub: connecting to %s", s.addr)
		case redisconn.LogConnected:
			log.Printf("redissub: connected to %s (localAddr: %s, remAddr: %s)",
				s.addr, cev.LocalAddr, cev.RemoteAddr)
		case redisconn.LogConnectFailed:
			log.Printf("redissub: connection to %s failed: %s", s.addr, cev.Error.Error())
		case redisconn.LogDisconnected:
			log.Printf("redissub: connection to %s broken: %s", s.addr, cev.Error.Error())
		case redisconn.LogContextClosed:
			log.Printf("redissub: connection to %s explicitly closed: %s", s.addr, cev.Error.Error())
		}
	case LogReconnectScheduled:
		log.Printf("redissub: reconnect to %s in %s (attempt %d): %v", s.addr, ev.Delay, ev.Attempt, ev.Error)
	case LogReplayed:
		if ev.Error != nil {
			log.Printf("redissub: restoring %d channels and %d patterns on %s failed: %s",
				ev.Channels, ev.Patterns, s.addr, ev.Error.Error())
		} else {
			log.Printf("redissub: restored %d channels and %d patterns on %s", ev.Channels, ev.Patterns, s.addr)
		}
	case LogMessageDropped:
		log.Printf("redissub: unexpected message from %s: %v", s.addr, ev.Message)
	}
}

// NoopLogger discards all events.
type NoopLogger struct{}

// Report implements Logger.Report
func (NoopLogger) Report(*Subscriber, LogEvent) {}

type connLogger struct {
	s *Subscriber
}

func (l connLogger) Report(conn *redisconn.Connection, event redisconn.LogEvent) {
	l.s.opts.Logger.Report(l.s, LogConnEvent{Conn: conn, Event: event})
}

func (l connLogger) ReqStat(conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
	if cl := l.s.opts.Conn.Logger; cl != nil {
		cl.ReqStat(conn, req, res, nanos)
	}
}
