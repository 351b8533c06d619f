package redispool

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redispool/internal"
	"github.com/joomcode/redispool/redis"
	"github.com/joomcode/redispool/redisconn"
)

const defaultSize = 4

// Opts is options for Pool
type Opts struct {
	// Name of pool, used in logs and metrics. Default is address.
	Name string
	// Size is a number of connections. Default is 4.
	Size int
	// Conn is options for every connection.
	// Conn.Logger receives only ReqStat calls (for example *redisconn.StatLogger),
	// connection events are reported through pool's Logger.
	// Conn.Push and Conn.Handle are ignored.
	Conn redisconn.Opts
	// Retry is a reconnection policy for every slot.
	Retry RetryPolicy
	// Logger is used for logging pool events. Default is DefaultLogger.
	Logger Logger
}

// Pool keeps Size connections to single redis, and lends them to callers.
//
// Every connection lives in its own slot: slot's goroutine establishes connection, waits for it
// to be broken, and establishes new one according to RetryPolicy.
// Idle connections are handed out in FIFO order, and callers which found no idle connection wait
// in FIFO order as well. Borrowed connection is not lent to anyone else until Release, so
// transaction could be pinned to a connection.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc

	addr string
	opts Opts

	mu      sync.Mutex
	members map[*redisconn.Connection]int // connection -> slot
	idle    []*redisconn.Connection
	waiters list.List // of acquireCb
	closed  bool

	slots   sync.WaitGroup
	drained chan struct{}

	metrics *poolMetrics
}

// acquireCb receives either borrowed connection or an error.
type acquireCb func(conn *redisconn.Connection, err error)

// Connect creates pool, and waits for first connection attempt of every slot.
// It fails if no one slot were able to connect, returning last connection error.
// Slots that failed first attempt keep reconnecting in background.
func Connect(ctx context.Context, addr string, opts Opts) (*Pool, error) {
	p, first, err := newPool(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	var lastErr error
	connected := 0
	for i := 0; i < p.opts.Size; i++ {
		if err := <-first; err != nil {
			lastErr = err
		} else {
			connected++
		}
	}
	if connected == 0 {
		p.Close()
		return nil, lastErr
	}
	return p, nil
}

func newPool(ctx context.Context, addr string, opts Opts) (*Pool, chan error, error) {
	if ctx == nil {
		return nil, nil, redis.ErrContextIsNil.New("context is not specified")
	}
	if addr == "" {
		return nil, nil, redis.ErrNoAddressProvided.New("address is not specified")
	}
	if opts.Size <= 0 {
		opts.Size = defaultSize
	}
	if opts.Name == "" {
		opts.Name = addr
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger{}
	}
	opts.Retry = opts.Retry.normalize()

	p := &Pool{
		addr:    addr,
		opts:    opts,
		members: make(map[*redisconn.Connection]int, opts.Size),
		drained: make(chan struct{}),
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.metrics = newPoolMetrics(p)

	first := make(chan error, opts.Size)
	p.slots.Add(opts.Size)
	for i := 0; i < opts.Size; i++ {
		go p.slot(i, first)
	}
	go p.control()
	return p, first, nil
}

// Name returns configured name.
func (p *Pool) Name() string {
	return p.opts.Name
}

// Addr returns address of redis.
func (p *Pool) Addr() string {
	return p.addr
}

// Ctx returns context of this pool
func (p *Pool) Ctx() context.Context {
	return p.ctx
}

// Close closes pool: new acquisitions fail, waiting callers are resolved with ErrContextClosed,
// and all connections are closed. Drained is closed when last connection is gone.
func (p *Pool) Close() {
	p.cancel()
	p.mu.Lock()
	p.shut(p.closedErr())
	p.mu.Unlock()
}

// shut stops lending connections. Should be called with mu locked.
func (p *Pool) shut(err error) {
	p.closed = true
	p.failWaiters(err)
	p.idle = nil
}

// Drained returns channel closed after pool lost its last connection and will not establish new one:
// either pool were closed, or reconnection is disabled and all connections were lost.
func (p *Pool) Drained() <-chan struct{} {
	return p.drained
}

// Live returns number of established connections.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.members)
}

// Idle returns number of connections not borrowed at the moment.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Waiters returns number of callers waiting for connection.
func (p *Pool) Waiters() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiters.Len()
}

// String implements fmt.Stringer
func (p *Pool) String() string {
	return fmt.Sprintf("*redispool.Pool{name: %s, addr: %s}", p.opts.Name, p.addr)
}

// Acquire borrows connection. It waits while all live connections are borrowed.
// If pool has no live connection at all, it fails immediately with ErrPoolEmpty.
// Connection must be returned with Release.
func (p *Pool) Acquire(ctx context.Context) (*redisconn.Connection, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, p.errWrap(redis.ErrRequestCancelled, err)
	}
	type result struct {
		conn *redisconn.Connection
		err  error
	}
	ch := make(chan result, 1)
	el := p.acquire(func(conn *redisconn.Connection, err error) {
		ch <- result{conn, err}
	})
	if el == nil {
		r := <-ch
		return r.conn, r.err
	}
	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		if p.forget(el) {
			return nil, p.errWrap(redis.ErrRequestCancelled, ctx.Err())
		}
		// connection were handed to us meanwhile
		r := <-ch
		if r.conn != nil {
			p.Release(r.conn)
		}
		if r.err != nil {
			return nil, r.err
		}
		return nil, p.errWrap(redis.ErrRequestCancelled, ctx.Err())
	}
}

// acquire calls cb with idle connection, or with error, or queues cb until connection is released.
// It returns queue element when cb were queued, and nil if cb were already called.
// Queued callback is called from worker goroutine.
func (p *Pool) acquire(cb acquireCb) *list.Element {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.metrics.acquireFailed.Inc()
		cb(nil, p.closedErr())
		return nil
	}
	for len(p.idle) > 0 {
		conn := p.idle[0]
		copy(p.idle, p.idle[1:])
		p.idle[len(p.idle)-1] = nil
		p.idle = p.idle[:len(p.idle)-1]
		if !conn.ConnectedNow() {
			// broken, slot will remove it from members
			continue
		}
		p.mu.Unlock()
		p.metrics.acquire.Inc()
		cb(conn, nil)
		return nil
	}
	if len(p.members) == 0 {
		p.mu.Unlock()
		p.metrics.acquireFailed.Inc()
		cb(nil, p.err(ErrPoolEmpty))
		return nil
	}
	el := p.waiters.PushBack(cb)
	p.mu.Unlock()
	p.metrics.wait.Inc()
	return el
}

// forget removes waiter from queue. It returns false if waiter were already served.
func (p *Pool) forget(el *list.Element) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	// list.Remove ignores elements of other lists, and served element is already removed.
	for e := p.waiters.Front(); e != nil; e = e.Next() {
		if e == el {
			p.waiters.Remove(el)
			return true
		}
	}
	return false
}

// Release returns borrowed connection to the pool.
// Connection left in transaction is reset with DISCARD and/or UNWATCH first: the reset is
// pipelined before any request of next borrower.
// Broken connections and connections of other pools are ignored.
func (p *Pool) Release(conn *redisconn.Connection) {
	if conn.TxState() == redisconn.TxInMulti {
		// DISCARD forgets watched keys as well
		conn.Send(redis.Req("DISCARD"), nil, 0)
	}
	if conn.TxState() == redisconn.TxWatching {
		conn.Send(redis.Req("UNWATCH"), nil, 0)
	}

	p.mu.Lock()
	if _, ok := p.members[conn]; !ok || p.closed || !conn.ConnectedNow() {
		p.mu.Unlock()
		return
	}
	for _, c := range p.idle {
		if c == conn {
			// double release
			p.mu.Unlock()
			return
		}
	}
	p.handout(conn)
	p.mu.Unlock()
}

// handout gives connection to first waiter, or puts it to idle list. Should be called with mu locked.
func (p *Pool) handout(conn *redisconn.Connection) {
	if el := p.waiters.Front(); el != nil {
		cb := p.waiters.Remove(el).(acquireCb)
		p.metrics.acquire.Inc()
		internal.Go(func() { cb(conn, nil) })
		return
	}
	p.idle = append(p.idle, conn)
}

// failWaiters resolves all waiters with error. Should be called with mu locked.
func (p *Pool) failWaiters(err error) {
	for el := p.waiters.Front(); el != nil; el = p.waiters.Front() {
		cb := p.waiters.Remove(el).(acquireCb)
		p.metrics.acquireFailed.Inc()
		internal.Go(func() { cb(nil, err) })
	}
}

func (p *Pool) join(conn *redisconn.Connection, slot int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.members[conn] = slot
	p.handout(conn)
	return true
}

func (p *Pool) leave(conn *redisconn.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.members, conn)
	for i, c := range p.idle {
		if c == conn {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
	if len(p.members) == 0 && p.waiters.Len() > 0 {
		p.failWaiters(p.err(ErrPoolEmpty))
	}
}

// slot keeps one connection alive.
func (p *Pool) slot(n int, first chan<- error) {
	defer p.slots.Done()
	backoff := p.opts.Retry.Backoff()
	connOpts := p.opts.Conn
	connOpts.Logger = connLogger{p}
	connOpts.Push = nil
	connOpts.Handle = n

	for {
		conn, err := redisconn.Connect(p.ctx, p.addr, connOpts)
		if first != nil {
			first <- err
			first = nil
		}
		var reason error = err
		if err == nil {
			backoff.Reset()
			if !p.join(conn, n) {
				conn.Close()
				return
			}
			<-conn.Done()
			p.leave(conn)
			reason = conn.Err()
		}
		if p.ctx.Err() != nil || p.opts.Retry.Disabled {
			return
		}
		delay := backoff.Next()
		p.metrics.reconnect.Inc()
		p.report(LogReconnectScheduled{Slot: n, Attempt: backoff.Attempt(), Delay: delay, Error: reason})
		if !sleep(p.ctx, delay) {
			return
		}
	}
}

func (p *Pool) control() {
	finished := make(chan struct{})
	go func() {
		p.slots.Wait()
		close(finished)
	}()

	select {
	case <-p.ctx.Done():
	case <-finished:
	}

	p.mu.Lock()
	err := p.closedErr()
	if p.ctx.Err() == nil {
		// reconnection is disabled, and every connection is lost
		err = p.err(ErrPoolEmpty)
	}
	p.shut(err)
	p.mu.Unlock()

	if p.ctx.Err() != nil {
		p.report(LogContextClosed{Error: p.ctx.Err()})
	}
	<-finished
	p.cancel()
	p.report(LogPoolDrained{})
	close(p.drained)
}

func (p *Pool) closedErr() *errorx.Error {
	return p.errWrap(redis.ErrContextClosed, p.ctx.Err())
}

func (p *Pool) err(kind *errorx.Type) *errorx.Error {
	return p.addProps(kind.NewWithNoMessage())
}

func (p *Pool) errWrap(kind *errorx.Type, cause error) *errorx.Error {
	if cause == nil {
		return p.err(kind)
	}
	return p.addProps(kind.WrapWithNoMessage(cause))
}

func (p *Pool) addProps(err *errorx.Error) *errorx.Error {
	err = withNewProperty(err, EKPool, p.opts.Name)
	err = withNewProperty(err, redis.EKAddress, p.addr)
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
