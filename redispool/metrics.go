package redispool

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

type poolMetrics struct {
	set           *metrics.Set
	acquire       *metrics.Counter
	wait          *metrics.Counter
	reconnect     *metrics.Counter
	acquireFailed *metrics.Counter
}

func newPoolMetrics(p *Pool) *poolMetrics {
	labels := fmt.Sprintf("{pool=%q}", p.opts.Name)
	set := metrics.NewSet()
	m := &poolMetrics{
		set:           set,
		acquire:       set.NewCounter("redispool_acquire_total" + labels),
		wait:          set.NewCounter("redispool_wait_total" + labels),
		reconnect:     set.NewCounter("redispool_reconnect_total" + labels),
		acquireFailed: set.NewCounter("redispool_acquire_failed_total" + labels),
	}
	set.NewGauge("redispool_live_connections"+labels, func() float64 {
		return float64(p.Live())
	})
	set.NewGauge("redispool_idle_connections"+labels, func() float64 {
		return float64(p.Idle())
	})
	set.NewGauge("redispool_waiters"+labels, func() float64 {
		return float64(p.Waiters())
	})
	return m
}

// WritePrometheus writes pool metrics in Prometheus text format:
// acquisitions, waits, failed acquisitions and reconnects counters,
// live and idle connections and waiters gauges.
func (p *Pool) WritePrometheus(w io.Writer) {
	p.metrics.set.WritePrometheus(w)
}

// Reconnects returns number of scheduled reconnection attempts.
func (p *Pool) Reconnects() uint64 {
	return p.metrics.reconnect.Get()
}
