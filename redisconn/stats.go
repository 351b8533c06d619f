package redisconn

import (
	"sort"
	"strings"
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/joomcode/redispool/redis"
)

// StatLogger is a Logger which collects per-command latency timers.
// Events are passed to wrapped Logger.
type StatLogger struct {
	Logger
	Registry gometrics.Registry
}

// NewStatLogger returns StatLogger over given logger with fresh registry.
// If logger is nil, DefaultLogger is used.
func NewStatLogger(logger Logger) *StatLogger {
	if logger == nil {
		logger = DefaultLogger{}
	}
	return &StatLogger{Logger: logger, Registry: gometrics.NewRegistry()}
}

// ReqStat implements Logger.ReqStat
func (s *StatLogger) ReqStat(conn *Connection, req redis.Request, res interface{}, nanos int64) {
	name := strings.ToUpper(req.Cmd)
	gometrics.GetOrRegisterTimer(name, s.Registry).Update(time.Duration(nanos))
	if _, ok := res.(error); ok {
		gometrics.GetOrRegisterCounter(name+".errors", s.Registry).Inc(1)
	}
	s.Logger.ReqStat(conn, req, res, nanos)
}

// CommandStat is a snapshot of single command timer.
type CommandStat struct {
	Cmd    string
	Count  int64
	Errors int64
	Mean   time.Duration
	P99    time.Duration
	Max    time.Duration
}

// Snapshot returns stats of all seen commands ordered by name.
func (s *StatLogger) Snapshot() []CommandStat {
	var stats []CommandStat
	s.Registry.Each(func(name string, m interface{}) {
		t, ok := m.(gometrics.Timer)
		if !ok {
			return
		}
		st := CommandStat{
			Cmd:   name,
			Count: t.Count(),
			Mean:  time.Duration(t.Mean()),
			P99:   time.Duration(t.Percentile(0.99)),
			Max:   time.Duration(t.Max()),
		}
		if c, ok := s.Registry.Get(name + ".errors").(gometrics.Counter); ok {
			st.Errors = c.Count()
		}
		stats = append(stats, st)
	})
	sort.Slice(stats, func(i, j int) bool { return stats[i].Cmd < stats[j].Cmd })
	return stats
}
