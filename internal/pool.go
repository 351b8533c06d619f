// Package internal runs callbacks on shared worker goroutines, so network goroutines and
// mutex holders never execute user code.
package internal

import "sync/atomic"

const (
	workersN = 16
	queueLen = 2048
)

var (
	cursor uint32
	queues [workersN]chan func()
)

func init() {
	for i := range queues {
		q := make(chan func(), queueLen)
		queues[i] = q
		go work(q)
	}
}

func work(q chan func()) {
	for f := range q {
		f()
	}
}

// Go schedules f on one of the workers.
// Workers are chosen round robin, then two random ones are tried. When all of them are
// full, f gets its own goroutine: callbacks may schedule callbacks, so Go never blocks.
func Go(f func()) {
	n := atomic.AddUint32(&cursor, 1)
	select {
	case queues[n%workersN] <- f:
		return
	default:
	}
	a := nextRng(&n, workersN)
	b := (a + 1 + nextRng(&n, workersN-1)) % workersN
	select {
	case queues[a] <- f:
	case queues[b] <- f:
	default:
		go f()
	}
}

func nextRng(state *uint32, mod uint32) uint32 {
	v := *state
	*state = v*0x12345 + 1
	return (v ^ v>>16) % mod
}
