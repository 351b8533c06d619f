package redisconn

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joomcode/errorx"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/joomcode/redispool/redis"
)

const (
	// DoTransaction is a flag for Connection.SendBatchFlags signalling to wrap bunch of requests into MULTI/EXEC.
	DoTransaction = 1

	connConnected = 1
	connClosed    = 2

	defaultIOTimeout   = 1 * time.Second
	defaultWritePause  = 50 * time.Microsecond
	defaultSetupTimout = 5 * time.Second
)

// Encoding selects how bulk replies are decoded, and which arguments are accepted.
type Encoding int

const (
	// EncodingText decodes bulk replies as strings, coercing numeric looking ones to int64/float64.
	EncodingText Encoding = iota
	// EncodingRaw keeps bulk replies as []byte, and rejects string arguments.
	EncodingRaw
)

func (e Encoding) String() string {
	if e == EncodingRaw {
		return "raw"
	}
	return "text"
}

// Opts - options for Connection
type Opts struct {
	// DB - database number
	DB int
	// Password for AUTH
	Password string
	// IOTimeout - timeout on read/write to socket.
	// If IOTimeout == 0, then it is set to 1 second
	// If IOTimeout < 0, then timeout is disabled
	// For blocking commands read timeout is extended with command's own timeout.
	IOTimeout time.Duration
	// DialTimeout is timeout for net.Dialer
	// If it is <= 0 or >= IOTimeout, then IOTimeout
	// If IOTimeout is disabled, then 5 seconds used
	DialTimeout time.Duration
	// TCPKeepAlive - KeepAlive parameter for net.Dialer
	// default is IOTimeout / 3
	TCPKeepAlive time.Duration
	// Handle is returned with Connection.Handle()
	Handle interface{}
	// WritePause - write loop pauses for this time to collect more requests.
	// Default is 50 microseconds.
	// Set < 0 to disable for single threaded use case.
	WritePause time.Duration
	// Logger
	Logger Logger
	// Encoding - text (default) or raw bytes.
	Encoding Encoding
	// Push turns connection into push mode: only subscription commands, PING and QUIT are allowed,
	// and "message"/"pmessage" frames are passed to Push instead of resolving requests.
	// Push is called from reader goroutine, so it should not block.
	Push func(msg []interface{})
}

// Connection is implementation of redis.Sender which represents single network session to single redis instance.
//
// Connection is not re-established: once socket is broken or Close is called, every outstanding
// request is resolved with error, and all following requests fail immediately. Done() is closed then,
// and owner (ie redispool.Pool) should create new Connection.
// Queries are not retried in case of connection errors.
// Connection is safe for multi-threaded usage, ie it doesn't need in synchronisation.
type Connection struct {
	ctx    context.Context
	cancel context.CancelFunc
	state  uint32

	addr  string
	c     net.Conn
	local string
	rem   string

	futures   []future
	futsignal chan struct{}
	futtimer  *time.Timer
	futmtx    sync.Mutex

	// transaction phase, changed under futmtx in send order
	tx     int32
	queued []redis.Shaper

	scripts *xsync.MapOf[string, struct{}]

	closeOnce sync.Once
	closeErr  *errorx.Error
	done      chan struct{}

	opts Opts
}

type futKind uint8

const (
	futPlain futKind = iota
	futQueued
	futExec
)

type future struct {
	Future redis.Future
	N      uint64
	start  int64
	req    redis.Request
	kind   futKind
	shapes []redis.Shaper
	// extra time redis may take to answer. -1 means "wait forever".
	block time.Duration
}

// Connect establishes new connection to redis server.
// AUTH, PING and SELECT are performed before Connect returns.
// Connect will be automatically closed if context will be cancelled or timeouted. But it could be closed explicitely
// as well.
func Connect(ctx context.Context, addr string, opts Opts) (conn *Connection, err error) {
	if ctx == nil {
		return nil, redis.ErrContextIsNil.New("context is not specified")
	}
	if addr == "" {
		return nil, redis.ErrNoAddressProvided.New("address is not specified")
	}
	conn = &Connection{
		addr:    addr,
		opts:    opts,
		scripts: xsync.NewMapOf[string, struct{}](),
		done:    make(chan struct{}),
	}
	conn.ctx, conn.cancel = context.WithCancel(ctx)

	conn.futsignal = make(chan struct{}, 1)
	conn.futtimer = time.NewTimer(24 * time.Hour)
	conn.futtimer.Stop()

	if conn.opts.IOTimeout == 0 {
		conn.opts.IOTimeout = defaultIOTimeout
	} else if conn.opts.IOTimeout < 0 {
		conn.opts.IOTimeout = 0
	}

	if conn.opts.DialTimeout <= 0 || (conn.opts.IOTimeout > 0 && conn.opts.DialTimeout > conn.opts.IOTimeout) {
		conn.opts.DialTimeout = conn.opts.IOTimeout
	}

	if conn.opts.TCPKeepAlive == 0 {
		conn.opts.TCPKeepAlive = conn.opts.IOTimeout / 3
	}
	if conn.opts.TCPKeepAlive < 0 {
		conn.opts.TCPKeepAlive = 0
	}

	if conn.opts.WritePause == 0 {
		conn.opts.WritePause = defaultWritePause
	}

	if conn.opts.Logger == nil {
		conn.opts.Logger = DefaultLogger{}
	}

	conn.report(LogConnecting{})
	one, derr := conn.dial()
	if derr != nil {
		conn.report(LogConnectFailed{Error: derr})
		conn.cancel()
		return nil, derr
	}
	atomic.StoreUint32(&conn.state, connConnected)
	conn.report(LogConnected{LocalAddr: conn.local, RemoteAddr: conn.rem})

	go conn.writer(one)
	go conn.reader(one)
	go conn.control()

	return conn, nil
}

// Ctx returns context of this connection
func (conn *Connection) Ctx() context.Context {
	return conn.ctx
}

// ConnectedNow answers if connection is still usable.
func (conn *Connection) ConnectedNow() bool {
	return atomic.LoadUint32(&conn.state) == connConnected
}

// Done returns channel which is closed when connection is closed or broken.
func (conn *Connection) Done() <-chan struct{} {
	return conn.done
}

// Err returns reason connection were closed, or nil if it is still alive.
func (conn *Connection) Err() error {
	select {
	case <-conn.done:
		return conn.closeErr
	default:
		return nil
	}
}

// Close closes connection forever.
// All outstanding requests are resolved with ErrContextClosed error.
func (conn *Connection) Close() {
	conn.cancel()
}

// RemoteAddr is address of Redis socket
func (conn *Connection) RemoteAddr() string {
	return conn.rem
}

// LocalAddr is outgoing socket addr
func (conn *Connection) LocalAddr() string {
	return conn.local
}

// Addr retuns configurred address
func (conn *Connection) Addr() string {
	return conn.addr
}

// Handle returns user specified handle from Opts
func (conn *Connection) Handle() interface{} {
	return conn.opts.Handle
}

// Encoding returns configured encoding.
func (conn *Connection) Encoding() Encoding {
	return conn.opts.Encoding
}

// Ping sends ping request synchronously
func (conn *Connection) Ping() error {
	res := redis.Sync{S: conn}.Do("PING")
	if err := redis.AsError(res); err != nil {
		return err
	}
	if str, ok := res.(string); !ok || str != "PONG" {
		if arr, ok := res.([]interface{}); ok && conn.opts.Push != nil && len(arr) == 2 {
			// subscribed connection answers with ["pong", ""]
			return nil
		}
		return conn.err(redis.ErrPing).WithProperty(redis.EKResponse, res)
	}
	return nil
}

// dumb redis.Future implementation
type dumbcb struct{}

func (d dumbcb) Cancelled() error            { return nil }
func (d dumbcb) Resolve(interface{}, uint64) {}

var dumb dumbcb

// Send implements redis.Sender.Send
// It sends request asynchronously. At some moment in a future it will call cb.Resolve(result, n)
// But if cb is cancelled, then cb.Resolve will be called immediately.
func (conn *Connection) Send(req redis.Request, cb redis.Future, n uint64) {
	if cb == nil {
		cb = &dumb
	}
	if err := conn.doSend(req, cb, n); err != nil {
		cb.Resolve(err.WithProperty(redis.EKRequest, req), n)
	}
}

func (conn *Connection) doSend(req redis.Request, cb redis.Future, n uint64) *errorx.Error {
	if err := cb.Cancelled(); err != nil {
		return conn.errWrap(redis.ErrRequestCancelled, err)
	}

	// Since we do not pack request here, we need to be sure it could be packed
	if err := conn.checkRequest(req); err != nil {
		return err
	}

	conn.futmtx.Lock()
	defer conn.futmtx.Unlock()

	if atomic.LoadUint32(&conn.state) == connClosed {
		return conn.closedErr()
	}
	kind, shapes, err := conn.advanceTx(req)
	if err != nil {
		return err
	}
	conn.enqueue(future{
		Future: cb,
		N:      n,
		start:  nownano(),
		req:    req,
		kind:   kind,
		shapes: shapes,
		block:  blockTime(req, kind),
	})
	return nil
}

// enqueue should be called with futmtx locked.
func (conn *Connection) enqueue(futs ...future) {
	// should notify writer about queue having requests.
	// Since we are under lock, it is safe to send notification before assigning futures.
	if len(conn.futures) == 0 {
		if conn.opts.WritePause > 0 {
			conn.futtimer.Reset(conn.opts.WritePause)
		} else {
			select {
			case conn.futsignal <- struct{}{}:
			default:
			}
		}
	}
	conn.futures = append(conn.futures, futs...)
}

// SendMany implements redis.Sender.SendMany
// Sends several requests asynchronously. Fills with cb.Resolve(res, n), cb.Resolve(res, n+1), ... etc.
func (conn *Connection) SendMany(requests []redis.Request, cb redis.Future, start uint64) {
	// split requests by chunks of 16 to not block futures for a long time.
	for i := 0; i < len(requests); i += 16 {
		j := i + 16
		if j > len(requests) {
			j = len(requests)
		}
		conn.SendBatch(requests[i:j], cb, start+uint64(i))
	}
}

// SendBatch sends several requests in preserved order.
// They will be serialized to network in the order passed.
func (conn *Connection) SendBatch(requests []redis.Request, cb redis.Future, start uint64) {
	conn.SendBatchFlags(requests, cb, start, 0)
}

// SendBatchFlags sends several requests in preserved order with addition MULTI+EXEC commands.
// If flag&DoTransaction != 0, then "MULTI" command is prepended, and "EXEC" command appended.
// Note: cb.Resolve will be also called with start+len(requests) index with result of EXEC command.
// It is mostly helper method for SendTransaction.
//
// Note: single wrong argument in single request will result in error for all commands in a batch.
func (conn *Connection) SendBatchFlags(requests []redis.Request, cb redis.Future, start uint64, flags int) {
	var err *errorx.Error
	var commonerr *errorx.Error
	errpos := -1
	// check arguments of all commands. If single request is malformed, then all requests will be aborted.
	for i, req := range requests {
		if rerr := conn.checkRequest(req); rerr != nil {
			err = rerr
			commonerr = conn.errWrap(redis.ErrBatchFormat, err)
			errpos = i
			break
		}
	}
	if cb == nil {
		cb = &dumb
	}
	if commonerr == nil {
		commonerr = conn.doSendBatch(requests, cb, start, flags)
	}
	if commonerr != nil {
		commonerr = commonerr.WithProperty(redis.EKRequests, requests)
		for i := 0; i < len(requests); i++ {
			if i != errpos {
				cb.Resolve(commonerr.WithProperty(redis.EKRequest, requests[i]), start+uint64(i))
			} else {
				cb.Resolve(err.WithProperty(redis.EKRequests, requests), start+uint64(i))
			}
		}
		if flags&DoTransaction != 0 {
			// resolve EXEC request as well
			cb.Resolve(commonerr, start+uint64(len(requests)))
		}
	}
}

func (conn *Connection) doSendBatch(requests []redis.Request, cb redis.Future, start uint64, flags int) *errorx.Error {
	if err := cb.Cancelled(); err != nil {
		return conn.errWrap(redis.ErrRequestCancelled, err)
	}

	if len(requests) == 0 {
		if flags&DoTransaction != 0 {
			cb.Resolve([]interface{}{}, start)
		}
		return nil
	}

	conn.futmtx.Lock()
	defer conn.futmtx.Unlock()

	if atomic.LoadUint32(&conn.state) == connClosed {
		return conn.closedErr()
	}

	now := nownano()
	futures := make([]future, 0, len(requests)+2)

	if flags&DoTransaction != 0 {
		if TxState(atomic.LoadInt32(&conn.tx)) == TxInMulti {
			return conn.err(redis.ErrTxState).WithProperty(EKTxState, TxInMulti)
		}
		// MULTI/EXEC wrapping is done here, not through advanceTx, to not record shapers twice.
		futures = append(futures, future{Future: &dumb, start: now, req: redis.Request{Cmd: "MULTI"}})
		shapes := make([]redis.Shaper, len(requests))
		for i, req := range requests {
			shapes[i] = req.Shape
			futures = append(futures, future{Future: cb, N: start + uint64(i), start: now, req: req, kind: futQueued})
		}
		futures = append(futures, future{
			Future: cb,
			N:      start + uint64(len(requests)),
			start:  now,
			req:    redis.Request{Cmd: "EXEC"},
			kind:   futExec,
			shapes: shapes,
		})
		// EXEC forgets all watched keys
		conn.setTx(TxNone)
	} else {
		savedTx, savedQueued := atomic.LoadInt32(&conn.tx), conn.queued
		for i, req := range requests {
			kind, shapes, err := conn.advanceTx(req)
			if err != nil {
				atomic.StoreInt32(&conn.tx, savedTx)
				conn.queued = savedQueued
				return err.WithProperty(redis.EKRequest, req)
			}
			futures = append(futures, future{
				Future: cb,
				N:      start + uint64(i),
				start:  now,
				req:    req,
				kind:   kind,
				shapes: shapes,
				block:  blockTime(req, kind),
			})
		}
	}

	conn.enqueue(futures...)
	return nil
}

// transactionFuture preserves Cancelled method of wrapped future, but redefines Resolve to react only on result of EXEC.
type transactionFuture struct {
	redis.Future
	l   int
	off uint64
}

func (cw transactionFuture) Resolve(res interface{}, n uint64) {
	if n == uint64(cw.l) {
		cw.Future.Resolve(res, cw.off)
	}
}

// SendTransaction implements redis.Sender.SendTransaction
// Result of EXEC is passed with shapers of requests applied to its elements,
// and nil EXEC result (watched key were changed) is passed as ErrWatchAborted error.
func (conn *Connection) SendTransaction(reqs []redis.Request, cb redis.Future, off uint64) {
	if cb == nil {
		cb = &dumb
	}
	conn.SendBatchFlags(reqs, transactionFuture{cb, len(reqs), off}, 0, DoTransaction)
}

// String implements fmt.Stringer
func (conn *Connection) String() string {
	return fmt.Sprintf("*redisconn.Connection{addr: %s}", conn.addr)
}

/********** private api **************/

func (conn *Connection) checkRequest(req redis.Request) *errorx.Error {
	cmd := strings.ToUpper(req.Cmd)
	if conn.opts.Push != nil {
		if !redis.PushAllowed(cmd) {
			return conn.addProps(redis.ErrCommandForbidden.New("only subscription commands are allowed on push connection")).
				WithProperty(redis.EKRequest, req)
		}
	} else {
		switch cmd {
		case "SUBSCRIBE", "PSUBSCRIBE", "UNSUBSCRIBE", "PUNSUBSCRIBE", "MONITOR":
			return conn.addProps(redis.ErrCommandForbidden.New("command needs connection in push mode")).
				WithProperty(redis.EKRequest, req)
		}
	}
	if err := redis.CheckRequest(req, conn.opts.Encoding == EncodingRaw); err != nil {
		return conn.addProps(err.(*errorx.Error))
	}
	return nil
}

// closedErr should be called with futmtx locked, after connection were closed.
func (conn *Connection) closedErr() *errorx.Error {
	if conn.closeErr.IsOfType(redis.ErrContextClosed) {
		return conn.closeErr
	}
	return conn.errWrap(ErrNotConnected, conn.closeErr)
}

func blockTime(req redis.Request, kind futKind) time.Duration {
	if kind != futPlain {
		return 0
	}
	block, ok := redis.BlockingTimeout(req)
	if !ok {
		return 0
	}
	if block == 0 {
		return -1
	}
	return block
}

func (conn *Connection) setupTimeout() time.Duration {
	if conn.opts.IOTimeout > 0 {
		return conn.opts.IOTimeout
	}
	return defaultSetupTimout
}

// dial establishes network connection and performs initial conversation with redis.
func (conn *Connection) dial() (*oneconn, *errorx.Error) {
	var connection net.Conn
	var err error

	// detect network and actual address
	network := "tcp"
	address := conn.addr
	timeout := conn.opts.DialTimeout
	if timeout <= 0 || timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	if address[0] == '.' || address[0] == '/' {
		network = "unix"
	} else if strings.HasPrefix(address, "unix://") {
		network = "unix"
		address = address[7:]
	} else if strings.HasPrefix(address, "tcp://") {
		network = "tcp"
		address = address[6:]
	}

	// dial to redis
	dialer := net.Dialer{
		Timeout:       timeout,
		FallbackDelay: timeout / 2,
		KeepAlive:     conn.opts.TCPKeepAlive,
	}
	connection, err = dialer.DialContext(conn.ctx, network, address)
	if err != nil {
		return nil, conn.errWrap(ErrDial, err)
	}

	dec := redis.NewDecoder(redis.ModeText)
	if conn.opts.Encoding == EncodingRaw {
		dec.Mode = redis.ModeRaw
	}

	// Password request
	var req []byte
	expect := 1
	if conn.opts.Password != "" {
		req, _ = redis.AppendRequest(req, redis.Req("AUTH", conn.opts.Password))
		expect++
	}
	const pingReq = "*1\r\n$4\r\nPING\r\n"
	// Ping request
	req = append(req, pingReq...)
	// Select request
	if conn.opts.DB != 0 {
		req, _ = redis.AppendRequest(req, redis.Req("SELECT", conn.opts.DB))
		expect++
	}
	connection.SetDeadline(time.Now().Add(conn.setupTimeout()))
	if _, err = connection.Write(req); err != nil {
		connection.Close()
		return nil, conn.errWrap(ErrConnSetup, err)
	}

	res, err := readReplies(connection, dec, expect)
	// Disarm timeout
	connection.SetDeadline(time.Time{})
	if err != nil {
		connection.Close()
		return nil, conn.errWrap(ErrConnSetup, err)
	}
	if rerr := dec.Broken(); rerr != nil {
		connection.Close()
		return nil, conn.errWrap(ErrConnSetup, rerr)
	}

	// Password response
	if conn.opts.Password != "" {
		if rerr := redis.AsErrorx(res[0]); rerr != nil {
			connection.Close()
			return nil, conn.errWrap(ErrAuth, rerr)
		}
		res = res[1:]
	}
	// PING Response
	if rerr := redis.AsErrorx(res[0]); rerr != nil {
		connection.Close()
		return nil, conn.errWrap(ErrInit, rerr)
	}
	if str, ok := res[0].(string); !ok || str != "PONG" {
		connection.Close()
		return nil, conn.addProps(ErrInit.New("ping response mismatch")).
			WithProperty(redis.EKResponse, res[0])
	}
	// SELECT DB Response
	if conn.opts.DB != 0 {
		if rerr := redis.AsErrorx(res[1]); rerr != nil {
			connection.Close()
			return nil, conn.errWrap(ErrInit, rerr).WithProperty(EKDb, conn.opts.DB)
		}
		if str, ok := res[1].(string); !ok || str != "OK" {
			connection.Close()
			return nil, conn.addProps(ErrInit.New("SELECT db response mismatch")).
				WithProperty(EKDb, conn.opts.DB).
				WithProperty(redis.EKResponse, res[1])
		}
	}

	conn.c = connection
	conn.local = connection.LocalAddr().String()
	conn.rem = connection.RemoteAddr().String()

	one := &oneconn{
		c:   connection,
		dec: dec,
		// We intentionally limit futures channel capacity:
		// this way we will force to write some first request eagerly to network,
		// and pause until first response returns.
		// During this time, many new request will be buffered, and then we will
		// be switching to steady state pipelining: new requests will be written
		// with the same speed responses will arrive.
		futures: make(chan []future, 64),
		futpool: make(chan []future, 128),
	}
	return one, nil
}

// readReplies reads from socket until n replies decoded.
func readReplies(c net.Conn, dec *redis.Decoder, n int) ([]interface{}, error) {
	var res []interface{}
	buf := make([]byte, 4096)
	for len(res) < n {
		l, err := c.Read(buf)
		if l > 0 {
			res = append(res, dec.Feed(buf[:l])...)
		}
		if err != nil && len(res) < n {
			return nil, err
		}
	}
	return res, nil
}

func (conn *Connection) control() {
	<-conn.ctx.Done()
	conn.shutdown(conn.errWrap(redis.ErrContextClosed, conn.ctx.Err()), true)
}

// shutdown closes connection forever. Only first call has effect.
// Outstanding requests are resolved by reader goroutine in their order.
func (conn *Connection) shutdown(err *errorx.Error, explicit bool) {
	conn.closeOnce.Do(func() {
		conn.futmtx.Lock()
		conn.closeErr = conn.addProps(err)
		atomic.StoreUint32(&conn.state, connClosed)
		conn.futtimer.Stop()
		// have to close futsignal under futmtx locked
		close(conn.futsignal)
		conn.futmtx.Unlock()

		if explicit {
			conn.report(LogContextClosed{Error: err.Cause()})
		} else {
			conn.report(LogDisconnected{
				Error:      conn.closeErr,
				LocalAddr:  conn.local,
				RemoteAddr: conn.rem,
			})
		}

		conn.c.Close()
		conn.cancel()
		close(conn.done)
	})
}

type oneconn struct {
	c       net.Conn
	dec     *redis.Decoder
	futures chan []future
	futpool chan []future
}

// writer is a core writer loop. It is part of oneconn pair.
// It doesn't write requests immediately to network, but throttles itself to accumulate more requests.
// It is root of good pipelined performance: trade latency for throughtput.
func (conn *Connection) writer(one *oneconn) {
	var packet []byte
	var futures []future
	var ok bool

	defer func() {
		// on method exit send last futures to read loop.
		// Read loop will revoke these requests with error.
		if len(futures) != 0 {
			one.futures <- futures
		}
		// connection is closed at this point, so no one could append to queue.
		conn.futmtx.Lock()
		rest := conn.futures
		conn.futures = nil
		conn.futmtx.Unlock()
		if len(rest) != 0 {
			one.futures <- rest
		}
		// And inform read loop that our reader-writer pair is dying.
		close(one.futures)
	}()

	round := 1023
	for {
		select {
		case _, ok = <-conn.futsignal:
			if !ok {
				// connection closed
				return
			}
		case <-conn.futtimer.C:
		}

		conn.futmtx.Lock()
		if atomic.LoadUint32(&conn.state) == connClosed {
			conn.futmtx.Unlock()
			return
		}
		// fetch requests, and replace it with empty buffer with non-zero capacity
		futures, conn.futures = conn.futures, futures
		conn.futmtx.Unlock()

		if len(futures) == 0 {
			continue
		}

		// serialize requests
		for _, fut := range futures {
			var err error
			if packet, err = redis.AppendRequest(packet, fut.req); err != nil {
				// since we checked arguments in doSend and doSendBatch, error here is a signal of programmer error.
				// lets just panic and die.
				panic(err)
			}
		}

		if conn.opts.IOTimeout > 0 {
			one.c.SetWriteDeadline(time.Now().Add(conn.opts.IOTimeout))
		}
		if _, err := one.c.Write(packet); err != nil {
			conn.shutdown(conn.errWrap(redis.ErrIO, err), false)
			return
		}

		// every 1023 writes check our buffer.
		// If it is too large, then lets GC to free it.
		if round--; round == 0 {
			round = 1023
			if cap(packet) > 128*1024 {
				packet = nil
			}
		}
		// otherwise, reuse buffer
		packet = packet[:0]

		one.futures <- futures

		select {
		// reuse request buffer
		case futures = <-one.futpool:
		default:
			// or allocate new one
			futures = make([]future, 0, len(futures)*2)
		}
	}
}

// reader is a core reader loop. It is the only place where futures are resolved after they were queued.
// Read deadline is computed for the oldest outstanding request, so blocking commands may wait for
// their own timeout. Without outstanding requests socket is polled, so server closing connection
// is noticed without sending anything.
func (conn *Connection) reader(one *oneconn) {
	var futures []future
	var i int
	var vals []interface{}
	var ok bool
	buf := make([]byte, 64*1024)

	for {
		if i == len(futures) && futures != nil {
			// this batch of requests exhausted, lets recycle it
			select {
			case one.futpool <- futures[:0]:
			default:
			}
			futures, i = nil, 0
		}
		if futures == nil {
			select {
			case futures, ok = <-one.futures:
				if !ok {
					goto exit
				}
			default:
			}
		}

		if len(vals) == 0 {
			idle := i == len(futures)
			var deadline time.Time
			if idle {
				if conn.opts.IOTimeout > 0 {
					deadline = time.Now().Add(conn.opts.IOTimeout)
				}
			} else if fut := futures[i]; fut.block >= 0 && conn.opts.IOTimeout > 0 {
				deadline = time.Now().Add(conn.opts.IOTimeout + fut.block)
			}
			one.c.SetReadDeadline(deadline)
			n, err := one.c.Read(buf)
			if n > 0 {
				vals = one.dec.Feed(buf[:n])
				if rerr := one.dec.Broken(); rerr != nil {
					// stream is not trustworthy anymore
					conn.shutdown(rerr, false)
					goto exit
				}
			}
			if err != nil {
				if ne, isNet := err.(net.Error); isNet && ne.Timeout() && idle && n == 0 {
					// nothing were waited for
					continue
				}
				conn.shutdown(conn.errWrap(redis.ErrIO, err), false)
				goto exit
			}
			continue
		}

		res := vals[0]
		vals[0] = nil
		vals = vals[1:]

		if conn.opts.Push != nil && isPushMessage(res) {
			conn.opts.Push(res.([]interface{}))
			continue
		}

		if i == len(futures) {
			// answer arrived before writer passed its request to us
			if futures, ok = <-one.futures; !ok {
				conn.shutdown(conn.err(redis.ErrResponseUnexpected).WithProperty(redis.EKResponse, res), false)
				goto exit
			}
			i = 0
		}
		// fetch request corresponding to answer
		fut := futures[i]
		futures[i] = future{}
		i++
		conn.resolveReply(fut, res)
	}

exit:
	// oops, connection is broken.
	// Should resolve already fetched requests with error.
	err := conn.closeErr
	for _, fut := range futures[i:] {
		conn.resolve(fut, err.WithProperty(redis.EKRequest, fut.req))
	}
	// And should resolve all remaining requests as well
	// (looping until writer closes channel).
	for futures := range one.futures {
		for _, fut := range futures {
			conn.resolve(fut, err.WithProperty(redis.EKRequest, fut.req))
		}
	}
}

func isPushMessage(res interface{}) bool {
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 3 {
		return false
	}
	var kind string
	switch v := arr[0].(type) {
	case string:
		kind = v
	case []byte:
		kind = string(v)
	}
	return (kind == "message" && len(arr) == 3) || (kind == "pmessage" && len(arr) == 4)
}

// resolveReply passes answer to future, applying transaction bookkeeping and shapers.
func (conn *Connection) resolveReply(fut future, res interface{}) {
	if rerr, ok := res.(*errorx.Error); ok {
		conn.resolve(fut, conn.addProps(rerr).WithProperty(redis.EKRequest, fut.req))
		return
	}
	switch fut.kind {
	case futPlain:
		conn.observe(fut.req, res)
		res = redis.Shape(fut.req.Shape, res)
	case futExec:
		res = conn.execResult(fut, res)
	}
	conn.resolve(fut, res)
}

func (conn *Connection) resolve(fut future, res interface{}) {
	conn.opts.Logger.ReqStat(conn, fut.req, res, nownano()-fut.start)
	fut.Future.Resolve(res, fut.N)
}

// create error with connection as an attribute.
func (conn *Connection) err(kind *errorx.Type) *errorx.Error {
	return conn.addProps(kind.NewWithNoMessage())
}

func (conn *Connection) errWrap(kind *errorx.Type, cause error) *errorx.Error {
	return conn.addProps(kind.WrapWithNoMessage(cause))
}

func (conn *Connection) addProps(err *errorx.Error) *errorx.Error {
	err = withNewProperty(err, EKConnection, conn)
	err = withNewProperty(err, redis.EKAddress, conn.Addr())
	return err
}

var epoch = time.Now()

func nownano() int64 {
	return int64(time.Since(epoch))
}
