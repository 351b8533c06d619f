package redispool

import (
	"log"
	"time"

	"github.com/joomcode/redispool/redis"
	"github.com/joomcode/redispool/redisconn"
)

// Logger is used for logging pool-related events and requests statistic.
type Logger interface {
	// Report will be called when some events happens during pool's lifetime.
	// Default implementation just prints this information using standard log package.
	Report(p *Pool, event LogEvent)
	// ReqStat is called after request receives it's answer with request/result information
	// and time spend to fulfill request.
	// Default implementation is no-op.
	ReqStat(p *Pool, conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64)
}

func (p *Pool) report(event LogEvent) {
	p.opts.Logger.Report(p, event)
}

// LogEvent is a sumtype for events to be logged.
type LogEvent interface {
	logEvent()
}

// LogConnEvent is a wrapper for per-connection event
type LogConnEvent struct {
	Conn  *redisconn.Connection // Connection which triggers event.
	Event redisconn.LogEvent
}

// LogReconnectScheduled is logged when slot's connection attempt failed or connection were lost,
// and next attempt is delayed.
type LogReconnectScheduled struct {
	Slot    int
	Attempt int
	Delay   time.Duration
	Error   error // reason: connect error or disconnect reason
}

// LogPoolDrained is logged when last pool's connection were closed, and no more will be established.
type LogPoolDrained struct{}

// LogContextClosed is logged when pool's context is closed.
type LogContextClosed struct{ Error error }

func (LogConnEvent) logEvent()          {}
func (LogReconnectScheduled) logEvent() {}
func (LogPoolDrained) logEvent()        {}
func (LogContextClosed) logEvent()      {}

// DefaultLogger is a default Logger implementation
type DefaultLogger struct{}

// Report implements Logger.Report.
func (d DefaultLogger) Report(p *Pool, event LogEvent) {
	switch ev := event.(type) {
	case LogConnEvent:
		switch cev := ev.Event.(type) {
		case redisconn.LogConnecting:
			log.Printf("redispool %s: connecting to %s", p.Name(), ev.Conn.Addr())
		case redisconn.LogConnected:
			log.Printf("redispool %s: connected to %s (localAddr: %s, remAddr: %s)",
				p.Name(), ev.Conn.Addr(), cev.LocalAddr, cev.RemoteAddr)
		case redisconn.LogConnectFailed:
			log.Printf("redispool %s: connection to %s failed: %s",
				p.Name(), ev.Conn.Addr(), cev.Error.Error())
		case redisconn.LogDisconnected:
			log.Printf("redispool %s: connection to %s broken (localAddr: %s, remAddr: %s): %s",
				p.Name(), ev.Conn.Addr(), cev.LocalAddr, cev.RemoteAddr, cev.Error.Error())
		case redisconn.LogContextClosed:
			log.Printf("redispool %s: connection to %s explicitly closed: %s",
				p.Name(), ev.Conn.Addr(), cev.Error.Error())
		default:
			log.Printf("redispool %s: unexpected connection event for %s: %#v",
				p.Name(), ev.Conn.Addr(), ev.Event)
		}
	case LogReconnectScheduled:
		log.Printf("redispool %s: slot %d reconnects in %s (attempt %d): %v",
			p.Name(), ev.Slot, ev.Delay, ev.Attempt, ev.Error)
	case LogPoolDrained:
		log.Printf("redispool %s: drained", p.Name())
	case LogContextClosed:
		log.Printf("redispool %s: shutting down (%s)", p.Name(), ev.Error)
	}
}

// ReqStat implements Logger.ReqStat
func (d DefaultLogger) ReqStat(p *Pool, conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
	// noop
}

// connLogger implements redisconn.Logger to log individual connection events in context of pool.
type connLogger struct {
	*Pool
}

// Report implements redisconn.Logger.Report
func (d connLogger) Report(conn *redisconn.Connection, event redisconn.LogEvent) {
	d.Pool.opts.Logger.Report(d.Pool, LogConnEvent{Conn: conn, Event: event})
}

// ReqStat implements redisconn.Logger.ReqStat
func (d connLogger) ReqStat(conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
	if l := d.Pool.opts.Conn.Logger; l != nil {
		l.ReqStat(conn, req, res, nanos)
	}
	d.Pool.opts.Logger.ReqStat(d.Pool, conn, req, res, nanos)
}

// NoopLogger implements Logger with no logging at all.
type NoopLogger struct{}

// Report implements Logger.Report
func (d NoopLogger) Report(p *Pool, event LogEvent) {}

// ReqStat implements Logger.ReqStat
func (d NoopLogger) ReqStat(p *Pool, conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
}
