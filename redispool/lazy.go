package redispool

import (
	"context"
	"sync"

	"github.com/joomcode/redispool/redis"
)

// Lazy is a pool handle returned before pool is connected.
//
// Connection happens in background exactly as in Connect. Ready is closed when every slot made
// its first attempt, after that Wait returns Handler or the connection error immediately.
type Lazy struct {
	addr   string
	cancel context.CancelFunc
	ready  chan struct{}

	mu      sync.Mutex
	closed  bool
	handler *Handler
	err     error
}

// ConnectLazy starts connecting pool in background and returns at once.
func ConnectLazy(ctx context.Context, addr string, opts Opts) *Lazy {
	l := &Lazy{addr: addr, ready: make(chan struct{})}
	if ctx == nil {
		l.cancel = func() {}
		l.err = redis.ErrContextIsNil.New("context is not specified")
		close(l.ready)
		return l
	}
	ctx, l.cancel = context.WithCancel(ctx)
	go l.connect(ctx, opts)
	return l
}

func (l *Lazy) connect(ctx context.Context, opts Opts) {
	p, err := Connect(ctx, l.addr, opts)
	l.mu.Lock()
	switch {
	case l.closed:
		if p != nil {
			p.Close()
		}
		l.err = redis.ErrContextClosed.New("lazy pool is closed").WithProperty(redis.EKAddress, l.addr)
	case err != nil:
		l.err = err
	default:
		l.handler = NewHandler(p)
	}
	l.mu.Unlock()
	close(l.ready)
}

// Ready returns channel closed when connection attempt is finished.
func (l *Lazy) Ready() <-chan struct{} {
	return l.ready
}

// Wait waits for connection attempt to finish, and returns its result.
func (l *Lazy) Wait(ctx context.Context) (*Handler, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-l.ready:
	case <-ctx.Done():
		return nil, redis.ErrRequestCancelled.Wrap(ctx.Err(), "waiting for lazy pool").
			WithProperty(redis.EKAddress, l.addr)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.handler, l.err
}

// Do waits for pool and sends command through it.
func (l *Lazy) Do(ctx context.Context, cmd string, args ...interface{}) interface{} {
	h, err := l.Wait(ctx)
	if err != nil {
		return err
	}
	return h.Do(ctx, cmd, args...)
}

// Close cancels connection attempt if it is still in progress, and closes pool otherwise.
func (l *Lazy) Close() {
	l.mu.Lock()
	l.closed = true
	h := l.handler
	l.mu.Unlock()
	l.cancel()
	if h != nil {
		h.Close()
	}
}
