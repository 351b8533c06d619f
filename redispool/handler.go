package redispool

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redispool/redis"
	"github.com/joomcode/redispool/redisconn"
)

// Handler is an implementation of redis.Sender over Pool.
//
// Every request borrows connection, is written to it, and connection is returned to the pool
// right after that, so other callers share it through pipelining. Blocking commands (BLPOP, XREAD
// with BLOCK, etc) keep connection borrowed until answer arrives, and their null answer is
// converted to ErrTimeout.
//
// Commands changing connection state (SELECT, QUIT, WATCH, MULTI, EXEC, DISCARD, UNWATCH,
// subscriptions) are rejected: transactions are done through Begin.
type Handler struct {
	p *Pool
}

// NewHandler returns Handler over pool.
func NewHandler(p *Pool) *Handler {
	return &Handler{p: p}
}

// Pool returns underlying pool.
func (h *Handler) Pool() *Pool {
	return h.p
}

// Close closes underlying pool.
func (h *Handler) Close() {
	h.p.Close()
}

// String implements fmt.Stringer
func (h *Handler) String() string {
	return "*redispool.Handler{" + h.p.String() + "}"
}

// Send implements redis.Sender.Send
func (h *Handler) Send(req redis.Request, cb redis.Future, n uint64) {
	if cb == nil {
		cb = dumb{}
	}
	if err := cb.Cancelled(); err != nil {
		cb.Resolve(h.p.errWrap(redis.ErrRequestCancelled, err).WithProperty(redis.EKRequest, req), n)
		return
	}
	if err := h.checkRequest(req); err != nil {
		cb.Resolve(err, n)
		return
	}
	h.p.acquire(func(conn *redisconn.Connection, err error) {
		if err != nil {
			cb.Resolve(errorx.Cast(err).WithProperty(redis.EKRequest, req), n)
			return
		}
		if blocking(req) {
			conn.Send(req, &borrowed{Future: cb, p: h.p, conn: conn, reqs: []redis.Request{req}, start: n, left: 1}, n)
			return
		}
		conn.Send(req, cb, n)
		h.p.Release(conn)
	})
}

// SendMany implements redis.Sender.SendMany
// All requests are pipelined through single connection.
func (h *Handler) SendMany(reqs []redis.Request, cb redis.Future, start uint64) {
	if len(reqs) == 0 {
		return
	}
	if cb == nil {
		cb = dumb{}
	}
	if err := cb.Cancelled(); err != nil {
		rerr := h.p.errWrap(redis.ErrRequestCancelled, err)
		for i, req := range reqs {
			cb.Resolve(rerr.WithProperty(redis.EKRequest, req), start+uint64(i))
		}
		return
	}
	hasBlocking := false
	for i, req := range reqs {
		if err := h.checkRequest(req); err != nil {
			batchErr := h.p.errWrap(redis.ErrBatchFormat, err).WithProperty(redis.EKRequests, reqs)
			for j, r := range reqs {
				if j == i {
					cb.Resolve(err, start+uint64(j))
				} else {
					cb.Resolve(batchErr.WithProperty(redis.EKRequest, r), start+uint64(j))
				}
			}
			return
		}
		hasBlocking = hasBlocking || blocking(req)
	}
	h.p.acquire(func(conn *redisconn.Connection, err error) {
		if err != nil {
			rerr := errorx.Cast(err).WithProperty(redis.EKRequests, reqs)
			for i, req := range reqs {
				cb.Resolve(rerr.WithProperty(redis.EKRequest, req), start+uint64(i))
			}
			return
		}
		if hasBlocking {
			conn.SendMany(reqs, &borrowed{Future: cb, p: h.p, conn: conn, reqs: reqs, start: start, left: int32(len(reqs))}, start)
			return
		}
		conn.SendMany(reqs, cb, start)
		h.p.Release(conn)
	})
}

// SendTransaction implements redis.Sender.SendTransaction
func (h *Handler) SendTransaction(reqs []redis.Request, cb redis.Future, n uint64) {
	if cb == nil {
		cb = dumb{}
	}
	for _, req := range reqs {
		if err := h.checkRequest(req); err != nil {
			cb.Resolve(err, n)
			return
		}
	}
	h.p.acquire(func(conn *redisconn.Connection, err error) {
		if err != nil {
			cb.Resolve(errorx.Cast(err).WithProperty(redis.EKRequests, reqs), n)
			return
		}
		conn.SendTransaction(reqs, cb, n)
		h.p.Release(conn)
	})
}

// Scanner implements redis.Sender.Scanner
func (h *Handler) Scanner(opts redis.ScanOpts) redis.Scanner {
	return &Scanner{ScannerBase: redis.ScannerBase{ScanOpts: opts}, h: h}
}

// EachShard implements redis.Sender.EachShard
func (h *Handler) EachShard(cb func(redis.Sender, error) bool) {
	cb(h, nil)
}

// Do sends single command and waits for result.
func (h *Handler) Do(ctx context.Context, cmd string, args ...interface{}) interface{} {
	return redis.SyncCtx{S: h}.Do(ctx, cmd, args...)
}

// Publish sends message to channel. Result is a number of subscribers received message.
func (h *Handler) Publish(ctx context.Context, channel string, message interface{}) interface{} {
	return h.Do(ctx, "PUBLISH", channel, message)
}

// Eval runs Lua script on one of connections, preferring EVALSHA (see redisconn.Connection.Eval).
func (h *Handler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) interface{} {
	conn, err := h.p.Acquire(ctx)
	if err != nil {
		return err
	}
	// NOSCRIPT answer is retried with EVAL on the same connection, so it is kept
	// borrowed until final answer.
	res := make(chan interface{}, 1)
	conn.Eval(script, keys, args, redis.FuncFuture(func(r interface{}, _ uint64) {
		res <- r
		h.p.Release(conn)
	}), 0)
	select {
	case r := <-res:
		return r
	case <-ctx.Done():
		return h.p.errWrap(redis.ErrRequestCancelled, ctx.Err())
	}
}

// Begin borrows connection for transaction. Connection is withheld from the pool until
// transaction is finished with Exec, Discard, Unwatch or Close.
func (h *Handler) Begin(ctx context.Context) (*Tx, error) {
	conn, err := h.p.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{ctx: ctx, p: h.p, conn: conn}, nil
}

func (h *Handler) checkRequest(req redis.Request) *errorx.Error {
	cmd := strings.ToUpper(req.Cmd)
	switch {
	case redis.Dangerous(cmd):
		return h.p.addProps(redis.ErrCommandForbidden.New("command is not allowed on pooled connection")).
			WithProperty(redis.EKRequest, req)
	case txCommand(cmd):
		return h.p.addProps(redis.ErrCommandForbidden.New("transactions should be done through Begin")).
			WithProperty(redis.EKRequest, req)
	}
	return nil
}

// blocking answers if request could wait on server side (BLPOP, XREAD with BLOCK, etc).
func blocking(req redis.Request) bool {
	_, ok := redis.BlockingTimeout(req)
	return ok
}

func txCommand(cmd string) bool {
	switch cmd {
	case "WATCH", "UNWATCH", "MULTI", "EXEC", "DISCARD":
		return true
	}
	return false
}

// borrowed keeps connection borrowed until all requests are answered.
type borrowed struct {
	redis.Future
	p     *Pool
	conn  *redisconn.Connection
	reqs  []redis.Request
	start uint64
	left  int32
}

func (b *borrowed) Resolve(res interface{}, n uint64) {
	if res == nil {
		if req := b.reqs[n-b.start]; blocking(req) {
			res = b.p.addProps(redis.ErrTimeout.New("blocking command timed out")).
				WithProperty(redis.EKRequest, req)
		}
	}
	b.Future.Resolve(res, n)
	if atomic.AddInt32(&b.left, -1) == 0 {
		b.p.Release(b.conn)
	}
}

// Scanner is an implementation of redis.Scanner over Handler.
// Every step could go through different connection.
type Scanner struct {
	redis.ScannerBase

	h *Handler
}

// Next implements redis.Scanner.Next
func (s *Scanner) Next(cb redis.Future) {
	if s.Err != nil {
		cb.Resolve(s.Err, 0)
		return
	}
	if s.IterLast() {
		cb.Resolve(nil, 0)
		return
	}
	s.DoNext(cb, s.h)
}

type dumb struct{}

func (dumb) Cancelled() error            { return nil }
func (dumb) Resolve(interface{}, uint64) {}
