package internal

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoRunsEverything(t *testing.T) {
	const n = workersN*queueLen + 1000
	var wg sync.WaitGroup
	var cnt int32
	wg.Add(n)
	block := make(chan struct{})
	for i := 0; i < n; i++ {
		Go(func() {
			<-block
			atomic.AddInt32(&cnt, 1)
			wg.Done()
		})
	}
	close(block)
	wg.Wait()
	assert.Equal(t, int32(n), atomic.LoadInt32(&cnt))
}

func TestNextRngInRange(t *testing.T) {
	state := uint32(7)
	for i := 0; i < 1000; i++ {
		assert.Less(t, nextRng(&state, 5), uint32(5))
	}
}
