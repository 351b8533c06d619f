package redisconn_test

import (
	"context"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/joomcode/redispool/redis"
	. "github.com/joomcode/redispool/redisconn"
	"github.com/joomcode/redispool/testbed"
)

type Suite struct {
	suite.Suite
	s *testbed.Server

	ctx       context.Context
	ctxcancel func()
}

func (s *Suite) SetupSuite() {
	var err error
	s.s, err = testbed.NewServer()
	s.r().NoError(err)
}

func (s *Suite) SetupTest() {
	s.r().NoError(s.s.Start())
	s.s.Hold(false)
	s.s.FlushAll()
	s.ctx, s.ctxcancel = context.WithTimeout(context.Background(), 20*time.Second)
}

func (s *Suite) TearDownTest() {
	s.ctxcancel()
	s.ctx, s.ctxcancel = nil, nil
}

func (s *Suite) TearDownSuite() {
	s.s.Stop()
}

func (s *Suite) r() *require.Assertions {
	return s.Require()
}

func (s *Suite) AsError(v interface{}) *errorx.Error {
	s.r().IsType((*errorx.Error)(nil), v)
	return v.(*errorx.Error)
}

var defopts = Opts{
	IOTimeout: 200 * time.Millisecond,
	Logger:    NoopLogger{},
}

func (s *Suite) connect(opts Opts) *Connection {
	conn, err := Connect(s.ctx, s.s.Addr, opts)
	s.r().NoError(err)
	return conn
}

func (s *Suite) waitDone(conn *Connection) {
	select {
	case <-conn.Done():
	case <-time.After(defopts.IOTimeout * 10):
		s.r().Fail("connection is not closed")
	}
}

func TestConn(t *testing.T) {
	suite.Run(t, new(Suite))
}

func (s *Suite) TestConnects() {
	conn := s.connect(defopts)
	defer conn.Close()

	s.True(conn.ConnectedNow())
	s.NoError(conn.Ping())
	s.Equal(s.s.Addr, conn.Addr())
	s.Equal(s.s.Addr, conn.RemoteAddr())
	s.NotEmpty(conn.LocalAddr())
	s.Nil(conn.Err())
	s.Equal(EncodingText, conn.Encoding())
}

func (s *Suite) TestConnectsDb() {
	conn := s.connect(Opts{DB: 2, IOTimeout: defopts.IOTimeout, Logger: NoopLogger{}})
	defer conn.Close()
	sconn := redis.SyncCtx{S: conn}

	s.Equal("OK", sconn.Do(s.ctx, "SET", "db:key", "two"))
	s.Equal("two", sconn.Do(s.ctx, "GET", "db:key"))

	// key is not visible from db 0
	s.Nil(s.s.Do("GET", "db:key"))

	conn0 := s.connect(defopts)
	defer conn0.Close()
	s.Nil(redis.SyncCtx{S: conn0}.Do(s.ctx, "GET", "db:key"))
}

func (s *Suite) TestFailedWithWrongDB() {
	conn, err := Connect(s.ctx, s.s.Addr, Opts{DB: 1024, Logger: NoopLogger{}})
	s.Nil(conn)
	s.r().Error(err)
	rerr := s.AsError(err)
	s.True(rerr.IsOfType(ErrInit))
	s.True(rerr.HasTrait(ErrTraitInitPermanent))
	db, ok := rerr.Property(EKDb)
	s.True(ok)
	s.Equal(1024, db)
}

func (s *Suite) TestAuth() {
	srv := &testbed.Server{Password: "secret"}
	s.r().NoError(srv.Start())
	defer srv.Stop()

	_, err := Connect(s.ctx, srv.Addr, Opts{Logger: NoopLogger{}})
	s.r().Error(err)
	s.True(s.AsError(err).IsOfType(ErrInit), "PING without AUTH fails: %v", err)

	_, err = Connect(s.ctx, srv.Addr, Opts{Password: "wrong", Logger: NoopLogger{}})
	s.r().Error(err)
	s.True(s.AsError(err).IsOfType(ErrAuth))
	s.True(s.AsError(err).HasTrait(ErrTraitInitPermanent))

	conn, err := Connect(s.ctx, srv.Addr, Opts{Password: "secret", Logger: NoopLogger{}})
	s.r().NoError(err)
	defer conn.Close()
	s.NoError(conn.Ping())
}

func (s *Suite) TestDialFailed() {
	srv, err := testbed.NewServer()
	s.r().NoError(err)
	addr := srv.Addr
	srv.Stop()

	conn, err := Connect(s.ctx, addr, defopts)
	s.Nil(conn)
	s.r().Error(err)
	rerr := s.AsError(err)
	s.True(rerr.IsOfType(ErrDial))
	s.True(rerr.HasTrait(redis.ErrTraitConnectivity))
	s.True(rerr.HasTrait(redis.ErrTraitNotSent))
}

func (s *Suite) TestUnixSocket() {
	srv := &testbed.Server{Network: "unix", Addr: filepath.Join(s.T().TempDir(), "redis.sock")}
	s.r().NoError(srv.Start())
	defer srv.Stop()

	conn, err := Connect(s.ctx, srv.Addr, defopts)
	s.r().NoError(err)
	defer conn.Close()
	s.NoError(conn.Ping())

	conn2, err := Connect(s.ctx, "unix://"+srv.Addr, defopts)
	s.r().NoError(err)
	defer conn2.Close()
	s.NoError(conn2.Ping())
}

func (s *Suite) Test_justToCover() {
	//nolint:staticcheck
	_, err := Connect(nil, s.s.Addr, defopts)
	s.True(errorx.IsOfType(err, redis.ErrContextIsNil))

	_, err = Connect(s.ctx, "", defopts)
	s.True(errorx.IsOfType(err, redis.ErrNoAddressProvided))

	conn, err := Connect(s.ctx, "tcp://"+s.s.Addr, Opts{
		IOTimeout:    -1,
		DialTimeout:  time.Second,
		TCPKeepAlive: -1,
		WritePause:   -1,
		Handle:       "handle",
		Logger:       NoopLogger{},
	})
	s.r().NoError(err)
	defer conn.Close()
	s.Equal("handle", conn.Handle())
	s.NoError(conn.Ping())
	s.Contains(conn.String(), s.s.Addr)

	// cancelled future is resolved immediately
	f := &cancelledFuture{}
	conn.Send(redis.Req("PING"), f, 0)
	s.True(errorx.IsOfType(redis.AsError(f.r), redis.ErrRequestCancelled))

	// nil future is allowed
	conn.Send(redis.Req("SET", "cover", 1), nil, 0)
	s.Equal(int64(1), redis.Sync{S: conn}.Do("GET", "cover"))

	res := redis.Sync{S: conn}.Do("SET", "cover", time.Second)
	s.True(s.AsError(res).IsOfType(redis.ErrArgumentType))

	s.Empty(redis.Sync{S: conn}.SendMany(nil))
	tres, err := redis.Sync{S: conn}.SendTransaction(nil)
	s.NoError(err)
	s.Empty(tres)

	cnt := 0
	conn.EachShard(func(snd redis.Sender, err error) bool {
		s.NoError(err)
		s.Equal(conn, snd)
		cnt++
		return true
	})
	s.Equal(1, cnt)
}

type cancelledFuture struct {
	r interface{}
	n uint64
}

func (c *cancelledFuture) Cancelled() error {
	return context.Canceled
}

func (c *cancelledFuture) Resolve(res interface{}, n uint64) {
	c.r = res
	c.n = n
}

func (s *Suite) TestSendMany_FailedWholeBatchBecauseOfOne() {
	conn := s.connect(defopts)
	defer conn.Close()

	before := s.s.Calls("SET")
	res := redis.SyncCtx{S: conn}.SendMany(s.ctx, []redis.Request{
		redis.Req("SET", "batch:a", 1),
		redis.Req("SET", "batch:b", time.Second),
		redis.Req("SET", "batch:c", 3),
	})
	s.r().Len(res, 3)
	s.True(s.AsError(res[0]).IsOfType(redis.ErrBatchFormat))
	s.True(s.AsError(res[1]).IsOfType(redis.ErrArgumentType))
	s.True(s.AsError(res[2]).IsOfType(redis.ErrBatchFormat))
	s.True(s.AsError(res[2]).HasTrait(redis.ErrTraitNotSent))
	s.Equal(before, s.s.Calls("SET"))
	s.Nil(s.s.Do("GET", "batch:a"))
}

func (s *Suite) TestPipelineOrder() {
	conn := s.connect(defopts)
	defer conn.Close()

	const N = 1000
	reqs := make([]redis.Request, N)
	for i := range reqs {
		reqs[i] = redis.Req("INCR", "order:cnt")
	}
	res := redis.SyncCtx{S: conn}.SendMany(s.ctx, reqs)
	for i, r := range res {
		s.r().Equal(int64(i+1), r)
	}

	// results of async sends arrive in send order
	var mu sync.Mutex
	var got []int64
	var wg sync.WaitGroup
	wg.Add(N)
	for i := 0; i < N; i++ {
		conn.Send(redis.Req("INCR", "order:cnt2"), redis.FuncFuture(func(res interface{}, _ uint64) {
			mu.Lock()
			got = append(got, res.(int64))
			mu.Unlock()
			wg.Done()
		}), uint64(i))
	}
	wg.Wait()
	for i, v := range got {
		s.r().Equal(int64(i+1), v)
	}
}

func (s *Suite) TestDisconnectResolvesOutstanding() {
	conn := s.connect(Opts{IOTimeout: time.Second, Logger: NoopLogger{}})
	defer conn.Close()

	s.s.Hold(true)
	futs := redis.ChanFutured{S: conn}.SendMany([]redis.Request{
		redis.Req("SET", "drop:a", 1),
		redis.Req("INCR", "drop:b"),
		redis.Req("GET", "drop:c"),
	})
	time.Sleep(50 * time.Millisecond)
	s.s.DropClients()

	for _, f := range futs {
		select {
		case <-f.Done():
		case <-time.After(2 * time.Second):
			s.r().Fail("future is not resolved")
		}
		rerr := s.AsError(f.Value())
		s.True(rerr.HasTrait(redis.ErrTraitConnectivity), "%v", rerr)
		s.True(rerr.IsOfType(redis.ErrIO), "%v", rerr)
	}

	s.waitDone(conn)
	s.False(conn.ConnectedNow())
	s.Error(conn.Err())

	res := redis.Sync{S: conn}.Do("PING")
	rerr := s.AsError(res)
	s.True(rerr.IsOfType(ErrNotConnected))
	s.True(rerr.HasTrait(redis.ErrTraitNotSent))
}

func (s *Suite) TestClose() {
	conn := s.connect(defopts)

	s.s.Hold(true)
	fut := redis.ChanFutured{S: conn}.Send(redis.Req("PING"))
	time.Sleep(10 * time.Millisecond)
	conn.Close()
	<-fut.Done()
	s.True(s.AsError(fut.Value()).IsOfType(redis.ErrContextClosed))
	s.waitDone(conn)

	res := redis.Sync{S: conn}.Do("PING")
	s.True(s.AsError(res).IsOfType(redis.ErrContextClosed))
}

func (s *Suite) TestTimeout() {
	conn := s.connect(defopts)
	defer conn.Close()

	s.s.Hold(true)
	start := time.Now()
	res := redis.Sync{S: conn}.Do("PING")
	s.r().WithinDuration(start, time.Now(), defopts.IOTimeout*3)
	rerr := s.AsError(res)
	s.True(rerr.IsOfType(redis.ErrIO))
	s.waitDone(conn)
}

func (s *Suite) TestIdleConnectionSurvivesTimeout() {
	conn := s.connect(defopts)
	defer conn.Close()

	time.Sleep(defopts.IOTimeout * 3)
	s.True(conn.ConnectedNow())
	s.NoError(conn.Ping())
}

func (s *Suite) TestBlockingCommandExtendsDeadline() {
	conn := s.connect(Opts{IOTimeout: 100 * time.Millisecond, Logger: NoopLogger{}})
	defer conn.Close()
	sconn := redis.SyncCtx{S: conn}

	start := time.Now()
	res := sconn.Do(s.ctx, "BLPOP", "block:list", 0.3)
	s.Nil(res)
	s.True(time.Since(start) >= 300*time.Millisecond)
	s.True(conn.ConnectedNow())

	go func() {
		time.Sleep(200 * time.Millisecond)
		s.s.Do("RPUSH", "block:list", "val")
	}()
	res = sconn.Do(s.ctx, "BLPOP", "block:list", 0)
	s.Equal([]interface{}{"block:list", "val"}, res)
	s.NoError(conn.Ping())
}

func (s *Suite) TestProtocolErrorClosesConnection() {
	conn := s.connect(defopts)
	defer conn.Close()

	res := redis.Sync{S: conn}.Do("GARBAGE")
	rerr := s.AsError(res)
	s.True(rerr.IsOfType(redis.ErrUnknownHeaderType), "%v", rerr)
	s.waitDone(conn)
	s.True(errorx.IsOfType(conn.Err(), redis.ErrUnknownHeaderType))

	res = redis.Sync{S: conn}.Do("PING")
	s.True(s.AsError(res).IsOfType(ErrNotConnected))
}

func (s *Suite) TestTextEncoding() {
	conn := s.connect(defopts)
	defer conn.Close()
	sconn := redis.SyncCtx{S: conn}

	sconn.Do(s.ctx, "SET", "text:int", 42)
	sconn.Do(s.ctx, "SET", "text:float", "3.5")
	sconn.Do(s.ctx, "SET", "text:inf", "inf")
	sconn.Do(s.ctx, "SET", "text:str", []byte("hello"))
	res := sconn.Do(s.ctx, "MGET", "text:int", "text:float", "text:inf", "text:str", "text:none")
	s.Equal([]interface{}{int64(42), 3.5, "inf", "hello", nil}, res)
}

func (s *Suite) TestRawEncoding() {
	conn := s.connect(Opts{IOTimeout: defopts.IOTimeout, Logger: NoopLogger{}, Encoding: EncodingRaw})
	defer conn.Close()
	sconn := redis.SyncCtx{S: conn}
	s.Equal(EncodingRaw, conn.Encoding())

	res := sconn.Do(s.ctx, "SET", "raw:key", []byte("1"))
	s.True(s.AsError(res).IsOfType(redis.ErrTextEncoding))

	s.Equal("OK", sconn.Do(s.ctx, "SET", []byte("raw:key"), []byte("1")))
	s.Equal([]byte("1"), sconn.Do(s.ctx, "GET", []byte("raw:key")))
	s.Equal(int64(2), sconn.Do(s.ctx, "INCR", []byte("raw:key")))
	s.NoError(conn.Ping())
}

func (s *Suite) TestTransaction() {
	conn := s.connect(defopts)
	defer conn.Close()
	sconn := redis.SyncCtx{S: conn}

	res, err := sconn.SendTransaction(s.ctx, []redis.Request{
		redis.Req("SET", "tran:x", 1),
		redis.Req("INCR", "tran:x"),
		redis.Req("GET", "tran:x").WithShape(redis.ShapeFloat),
	})
	s.r().NoError(err)
	s.Equal([]interface{}{"OK", int64(2), float64(2)}, res)
	s.Equal(TxNone, conn.TxState())

	// transaction doesn't execute in case of wrong command
	_, err = sconn.SendTransaction(s.ctx, []redis.Request{
		redis.Req("INCR", "tran:x"),
		redis.Req("PANG"),
	})
	rerr := s.AsError(err)
	s.True(rerr.IsOfType(redis.ErrExecAbort))
	s.True(strings.HasPrefix(rerr.Message(), "EXECABORT"))
	s.Equal(int64(2), s.s.Do("GET", "tran:x"))

	// transaction is executed partially (that is redis's behavior)
	res, err = sconn.SendTransaction(s.ctx, []redis.Request{
		redis.Req("INCR", "tran:x"),
		redis.Req("HSET", "tran:x", "y", "1"),
	})
	s.r().NoError(err)
	s.r().Len(res, 2)
	s.Equal(int64(3), res[0])
	rerr = s.AsError(res[1])
	s.True(rerr.IsOfType(redis.ErrResult))
	s.True(strings.HasPrefix(rerr.Message(), "WRONGTYPE"))
}

func (s *Suite) TestTransactionWatchAborted() {
	conn := s.connect(defopts)
	defer conn.Close()
	sconn := redis.SyncCtx{S: conn}

	s.Equal("OK", sconn.Do(s.ctx, "WATCH", "watch:key"))
	s.Equal(TxWatching, conn.TxState())
	s.s.Do("SET", "watch:key", "changed")

	_, err := sconn.SendTransaction(s.ctx, []redis.Request{
		redis.Req("SET", "watch:key", "mine"),
		redis.Req("INCR", "watch:cnt"),
		redis.Req("SET", "watch:other", "x"),
	})
	s.True(errorx.IsOfType(err, redis.ErrWatchAborted), "%v", err)
	s.Equal(TxNone, conn.TxState())

	s.Equal("changed", s.s.Do("GET", "watch:key"))
	s.Equal(int64(0), s.s.Do("EXISTS", "watch:cnt", "watch:other"))
}

func (s *Suite) TestTransactionState() {
	conn := s.connect(defopts)
	defer conn.Close()
	sconn := redis.SyncCtx{S: conn}

	execs := s.s.Calls("EXEC")
	res := sconn.Do(s.ctx, "EXEC")
	rerr := s.AsError(res)
	s.True(rerr.IsOfType(redis.ErrTxState))
	s.True(rerr.HasTrait(redis.ErrTraitNotSent))
	s.Equal(execs, s.s.Calls("EXEC"))

	s.True(s.AsError(sconn.Do(s.ctx, "DISCARD")).IsOfType(redis.ErrTxState))

	s.Equal("OK", sconn.Do(s.ctx, "WATCH", "state:key"))
	s.Equal(TxWatching, conn.TxState())
	s.Equal("OK", sconn.Do(s.ctx, "MULTI"))
	s.Equal(TxInMulti, conn.TxState())

	s.True(s.AsError(sconn.Do(s.ctx, "MULTI")).IsOfType(redis.ErrTxState))
	s.True(s.AsError(sconn.Do(s.ctx, "WATCH", "state:key")).IsOfType(redis.ErrTxState))
	_, err := sconn.SendTransaction(s.ctx, []redis.Request{redis.Req("PING")})
	s.True(errorx.IsOfType(err, redis.ErrTxState))

	s.Equal("QUEUED", sconn.Do(s.ctx, "INCR", "state:key"))
	s.Equal("QUEUED", sconn.Send(s.ctx, redis.Req("GET", "state:key").WithShape(redis.ShapeFloat)))
	s.Equal(TxInMulti, conn.TxState())

	res = sconn.Do(s.ctx, "EXEC")
	s.Equal([]interface{}{int64(1), float64(1)}, res)
	s.Equal(TxNone, conn.TxState())
	s.Equal(execs+1, s.s.Calls("EXEC"))

	s.Equal("OK", sconn.Do(s.ctx, "MULTI"))
	s.Equal("QUEUED", sconn.Do(s.ctx, "INCR", "state:key"))
	s.Equal("OK", sconn.Do(s.ctx, "DISCARD"))
	s.Equal(TxNone, conn.TxState())
	s.Equal(int64(1), s.s.Do("GET", "state:key"))

	s.Equal("OK", sconn.Do(s.ctx, "WATCH", "state:key"))
	s.Equal("OK", sconn.Do(s.ctx, "UNWATCH"))
	s.Equal(TxNone, conn.TxState())
}

func (s *Suite) TestScripts() {
	conn := s.connect(defopts)
	defer conn.Close()

	const script = "return {KEYS[1], ARGV[1]}"
	sha := ScriptHash(script)
	eval := func() interface{} {
		var res interface{}
		var wg sync.WaitGroup
		wg.Add(1)
		conn.Eval(script, []string{"script:key"}, []interface{}{"arg"}, redis.FuncFuture(func(r interface{}, _ uint64) {
			res = r
			wg.Done()
		}), 0)
		wg.Wait()
		return res
	}

	evals, evalshas := s.s.Calls("EVAL"), s.s.Calls("EVALSHA")
	s.False(conn.ScriptLoaded(sha))
	s.Equal([]interface{}{"script:key", "arg"}, eval())
	s.True(conn.ScriptLoaded(sha))
	s.Equal(evals+1, s.s.Calls("EVAL"))

	s.Equal([]interface{}{"script:key", "arg"}, eval())
	s.Equal(evals+1, s.s.Calls("EVAL"))
	s.Equal(evalshas+1, s.s.Calls("EVALSHA"))

	// script cache flushed behind connection's back: NOSCRIPT and fallback to EVAL
	s.Equal("OK", s.s.Do("SCRIPT", "FLUSH"))
	s.Equal([]interface{}{"script:key", "arg"}, eval())
	s.Equal(evals+2, s.s.Calls("EVAL"))
	s.Equal(evalshas+2, s.s.Calls("EVALSHA"))
	s.True(conn.ScriptLoaded(sha))

	sconn := redis.SyncCtx{S: conn}
	s.Equal("OK", sconn.Do(s.ctx, "SCRIPT", "FLUSH"))
	s.False(conn.ScriptLoaded(sha))

	s.Equal(sha, sconn.Do(s.ctx, "SCRIPT", "LOAD", script))
	s.True(conn.ScriptLoaded(sha))

	res := sconn.Do(s.ctx, "SCRIPT", "KILL")
	s.True(s.AsError(res).IsOfType(redis.ErrNotBusy))

	res = sconn.Do(s.ctx, "EVALSHA", "0000000000000000000000000000000000000000", 0)
	s.True(s.AsError(res).IsOfType(redis.ErrNoScript))
}

func (s *Suite) TestScan() {
	conn := s.connect(defopts)
	defer conn.Close()

	sconn := redis.SyncCtx{S: conn}
	for i := 0; i < 300; i++ {
		sconn.Do(s.ctx, "SET", "scan:"+strconv.Itoa(i), i)
	}
	sconn.Do(s.ctx, "SET", "other", 1)

	allkeys := make(map[string]struct{}, 300)
	for scanner := sconn.Scanner(s.ctx, redis.ScanOpts{Match: "scan:*", Count: 50}); ; {
		keys, err := scanner.Next()
		if err != nil {
			s.Equal(redis.ScanEOF, err)
			break
		}
		for _, key := range keys {
			_, ok := allkeys[key]
			s.False(ok)
			allkeys[key] = struct{}{}
		}
	}
	s.Len(allkeys, 300)
}

func (s *Suite) TestPushMode() {
	msgs := make(chan []interface{}, 10)
	conn := s.connect(Opts{
		IOTimeout: defopts.IOTimeout,
		Logger:    NoopLogger{},
		Push:      func(msg []interface{}) { msgs <- msg },
	})
	defer conn.Close()
	sconn := redis.SyncCtx{S: conn}

	res := sconn.Do(s.ctx, "GET", "push:key")
	s.True(s.AsError(res).IsOfType(redis.ErrCommandForbidden))

	s.Equal([]interface{}{"subscribe", "news", int64(1)}, sconn.Do(s.ctx, "SUBSCRIBE", "news"))
	s.NoError(conn.Ping())

	s.Equal(int64(1), s.s.Do("PUBLISH", "news", "hello"))
	select {
	case msg := <-msgs:
		s.Equal([]interface{}{"message", "news", "hello"}, msg)
	case <-time.After(time.Second):
		s.r().Fail("message is not received")
	}

	// idle subscribed connection survives io timeouts
	time.Sleep(defopts.IOTimeout * 2)
	s.True(conn.ConnectedNow())

	// plain connection refuses subscription
	plain := s.connect(defopts)
	defer plain.Close()
	res = redis.SyncCtx{S: plain}.Do(s.ctx, "SUBSCRIBE", "news")
	s.True(s.AsError(res).IsOfType(redis.ErrCommandForbidden))
}

func (s *Suite) TestStatLogger() {
	stat := NewStatLogger(NoopLogger{})
	conn := s.connect(Opts{IOTimeout: defopts.IOTimeout, Logger: stat})
	defer conn.Close()
	sconn := redis.SyncCtx{S: conn}

	for i := 0; i < 3; i++ {
		s.NoError(conn.Ping())
	}
	sconn.Do(s.ctx, "SET", "stat:key", "v")
	sconn.Do(s.ctx, "HSET", "stat:key", "f", "v")

	snap := stat.Snapshot()
	byCmd := make(map[string]CommandStat)
	for _, st := range snap {
		byCmd[st.Cmd] = st
	}
	s.Equal(int64(3), byCmd["PING"].Count)
	s.Equal(int64(1), byCmd["SET"].Count)
	s.Equal(int64(0), byCmd["SET"].Errors)
	s.Equal(int64(1), byCmd["HSET"].Errors)
	s.True(byCmd["PING"].Max >= byCmd["PING"].Mean)
	for i := 1; i < len(snap); i++ {
		s.True(snap[i-1].Cmd < snap[i].Cmd)
	}
}

// stress test for "good case" when redis works without issues.
func (s *Suite) TestAllReturns_Good() {
	conn, err := Connect(context.Background(), s.s.Addr, defopts)
	s.r().NoError(err)
	defer conn.Close()

	const N = 50
	const K = 50
	ch := make(chan struct{}, N)

	sconn := redis.SyncCtx{S: conn}
	for i := 0; i < N; i++ {
		go func(i int) {
			for j := 0; j < K; j++ {
				sij := "p" + strconv.Itoa(i*N+j)
				res := sconn.Do(s.ctx, "ECHO", sij)
				if !s.Equal(sij, res) {
					return
				}
				ress := sconn.SendMany(s.ctx, []redis.Request{
					redis.Req("ECHO", "a"+sij),
					redis.Req("ECHO", "b"+sij),
				})
				if !s.Equal("a"+sij, ress[0]) || !s.Equal("b"+sij, ress[1]) {
					return
				}
			}
			ch <- struct{}{}
		}(i)
	}

	cnt := 0
Loop:
	for cnt < N {
		select {
		case <-s.ctx.Done():
			break Loop
		case <-ch:
			cnt++
		}
	}
	s.Equal(N, cnt, "Not all goroutines finished")
}
