package redisshard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/joomcode/errorx"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/joomcode/redispool/redis"
	"github.com/joomcode/redispool/redispool"
)

// Opts is options for Sharded.
type Opts struct {
	// Pool is options for pool of every node. Pool.Name is used as prefix of pool names.
	Pool redispool.Opts
	// Replicas is a number of virtual points per node. Default is DefaultReplicas.
	Replicas int
	// Hash is a ring hash function. Default is crc32 (IEEE).
	Hash HashFunc
}

// Sharded is a redis.Sender distributing keys among several independent redis servers.
//
// Single key commands go to the node owning the key. Multi-key commands are allowed when all keys
// belong to one node (use hash tags to co-locate them), except MGET and EXISTS which are split
// per node and merged back. Commands without key are rejected with ErrNoShardKey, and pipelined
// batches and transactions with ErrShardedBatch: they can't be done atomically across nodes.
// Use Pool(key) to run transaction on a single node.
type Sharded struct {
	ring     *HashRing
	pools    []*redispool.Pool
	handlers []*redispool.Handler
	routed   *xsync.MapOf[string, *xsync.Counter]
}

// Connect connects pools to every address. It fails if any pool fails to connect.
func Connect(ctx context.Context, addrs []string, opts Opts) (*Sharded, error) {
	if ctx == nil {
		return nil, redis.ErrContextIsNil.New("context is not specified")
	}
	if len(addrs) == 0 {
		return nil, redis.ErrNoAddressProvided.New("no address is specified")
	}
	s := &Sharded{
		ring:   NewHashRing(addrs, opts.Replicas, opts.Hash),
		routed: xsync.NewMapOf[string, *xsync.Counter](),
	}
	for _, addr := range addrs {
		popts := opts.Pool
		if popts.Name != "" {
			popts.Name += "/" + addr
		}
		p, err := redispool.Connect(ctx, addr, popts)
		if err != nil {
			s.Close()
			return nil, errorx.Decorate(err, "connecting shard").WithProperty(EKShard, addr)
		}
		s.pools = append(s.pools, p)
		s.handlers = append(s.handlers, redispool.NewHandler(p))
		s.routed.Store(addr, xsync.NewCounter())
	}
	return s, nil
}

// Ring returns hash ring.
func (s *Sharded) Ring() *HashRing {
	return s.ring
}

// Pool returns pool of node owning the key.
func (s *Sharded) Pool(key string) *redispool.Pool {
	return s.pools[s.ring.Index(key)]
}

// Pools returns pools in order of Ring().Nodes().
func (s *Sharded) Pools() []*redispool.Pool {
	return append([]*redispool.Pool(nil), s.pools...)
}

// Handler returns handler of node owning the key.
func (s *Sharded) Handler(key string) *redispool.Handler {
	return s.handlers[s.ring.Index(key)]
}

// Routed returns number of requests sent to every node, including parts of split MGET and EXISTS.
func (s *Sharded) Routed() map[string]int64 {
	res := make(map[string]int64, len(s.pools))
	s.routed.Range(func(addr string, c *xsync.Counter) bool {
		res[addr] = c.Value()
		return true
	})
	return res
}

// Close closes all pools.
func (s *Sharded) Close() {
	for _, p := range s.pools {
		p.Close()
	}
}

// String implements fmt.Stringer
func (s *Sharded) String() string {
	return fmt.Sprintf("*redisshard.Sharded{nodes: %v}", s.ring.nodes)
}

// Send implements redis.Sender.Send
func (s *Sharded) Send(req redis.Request, cb redis.Future, n uint64) {
	if cb == nil {
		cb = dumb{}
	}
	if err := cb.Cancelled(); err != nil {
		cb.Resolve(redis.ErrRequestCancelled.WrapWithNoMessage(err).WithProperty(redis.EKRequest, req), n)
		return
	}
	req.Cmd = strings.ToUpper(req.Cmd)
	keys, ok := req.Keys()
	if !ok {
		cb.Resolve(ErrNoShardKey.New("command could not be routed by key").WithProperty(redis.EKRequest, req), n)
		return
	}
	groups := s.group(keys)
	if len(groups) == 1 {
		for idx := range groups {
			s.send(idx, req, cb, n)
		}
		return
	}
	switch req.Cmd {
	case "MGET", "EXISTS":
		s.fanout(req, keys, groups, cb, n)
	default:
		cb.Resolve(ErrCrossShard.New("keys belong to different shards").WithProperty(redis.EKRequest, req), n)
	}
}

func (s *Sharded) send(idx int, req redis.Request, cb redis.Future, n uint64) {
	if c, ok := s.routed.Load(s.ring.nodes[idx]); ok {
		c.Inc()
	}
	s.handlers[idx].Send(req, cb, n)
}

// group returns positions of keys per node index.
func (s *Sharded) group(keys []string) map[int][]int {
	groups := make(map[int][]int)
	for i, k := range keys {
		idx := s.ring.Index(k)
		groups[idx] = append(groups[idx], i)
	}
	return groups
}

// fanout splits MGET or EXISTS per node, and merges answers in original order.
func (s *Sharded) fanout(req redis.Request, keys []string, groups map[int][]int, cb redis.Future, n uint64) {
	f := &fanout{
		cb:    cb,
		n:     n,
		req:   req,
		parts: make([][]int, 0, len(groups)),
		left:  int32(len(groups)),
	}
	if req.Cmd == "MGET" {
		f.values = make([]interface{}, len(keys))
	}
	idxs := make([]int, 0, len(groups))
	for idx, pos := range groups {
		idxs = append(idxs, idx)
		f.parts = append(f.parts, pos)
	}
	for part, idx := range idxs {
		args := make([]interface{}, len(f.parts[part]))
		for i, p := range f.parts[part] {
			args[i] = req.Args[p]
		}
		s.send(idx, redis.Request{Cmd: req.Cmd, Args: args}, f, uint64(part))
	}
}

type fanout struct {
	cb  redis.Future
	n   uint64
	req redis.Request

	parts  [][]int
	values []interface{} // MGET result
	count  int64         // EXISTS result
	left   int32

	mu  sync.Mutex
	err error
}

func (f *fanout) Cancelled() error {
	return f.cb.Cancelled()
}

func (f *fanout) Resolve(res interface{}, part uint64) {
	pos := f.parts[part]
	f.mu.Lock()
	switch v := res.(type) {
	case error:
		if f.err == nil {
			f.err = v
		}
	case []interface{}:
		if f.values != nil && len(v) == len(pos) {
			for i, p := range pos {
				f.values[p] = v[i]
			}
		} else if f.err == nil {
			f.err = unexpected(f.req, res)
		}
	case int64:
		if f.values == nil {
			f.count += v
		} else if f.err == nil {
			f.err = unexpected(f.req, res)
		}
	default:
		if f.err == nil {
			f.err = unexpected(f.req, res)
		}
	}
	f.mu.Unlock()

	if atomic.AddInt32(&f.left, -1) != 0 {
		return
	}
	switch {
	case f.err != nil:
		f.cb.Resolve(f.err, f.n)
	case f.values != nil:
		f.cb.Resolve(redis.Shape(f.req.Shape, f.values), f.n)
	default:
		f.cb.Resolve(redis.Shape(f.req.Shape, f.count), f.n)
	}
}

func unexpected(req redis.Request, res interface{}) error {
	return redis.ErrResponseUnexpected.NewWithNoMessage().
		WithProperty(redis.EKResponse, res).
		WithProperty(redis.EKRequest, req)
}

// SendMany implements redis.Sender.SendMany
// Batches are not supported: every request is resolved with ErrShardedBatch.
func (s *Sharded) SendMany(reqs []redis.Request, cb redis.Future, start uint64) {
	if cb == nil {
		return
	}
	for i, req := range reqs {
		cb.Resolve(ErrShardedBatch.New("pipelined batch could not be sharded").
			WithProperty(redis.EKRequests, reqs).
			WithProperty(redis.EKRequest, req), start+uint64(i))
	}
}

// SendTransaction implements redis.Sender.SendTransaction
// Transactions are not supported: it is resolved with ErrShardedBatch.
func (s *Sharded) SendTransaction(reqs []redis.Request, cb redis.Future, n uint64) {
	if cb == nil {
		return
	}
	cb.Resolve(ErrShardedBatch.New("transaction could not be sharded").WithProperty(redis.EKRequests, reqs), n)
}

// Begin always fails with ErrShardedBatch. Use Handler(key).Begin for transaction on a single node.
func (s *Sharded) Begin(ctx context.Context) (*redispool.Tx, error) {
	return nil, ErrShardedBatch.New("transaction could not be sharded")
}

// Do sends single command and waits for result.
func (s *Sharded) Do(ctx context.Context, cmd string, args ...interface{}) interface{} {
	return redis.SyncCtx{S: s}.Do(ctx, cmd, args...)
}

// MGet fetches values of keys from all nodes. Result is in order of keys.
func (s *Sharded) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = []byte(k)
	}
	res := s.Do(ctx, "MGET", args...)
	if err := redis.AsError(res); err != nil {
		return nil, err
	}
	return res.([]interface{}), nil
}

// EachShard implements redis.Sender.EachShard
func (s *Sharded) EachShard(cb func(redis.Sender, error) bool) {
	for _, h := range s.handlers {
		if !cb(h, nil) {
			return
		}
	}
}

// Scanner implements redis.Sender.Scanner
// It scans nodes one after other.
func (s *Sharded) Scanner(opts redis.ScanOpts) redis.Scanner {
	if opts.Cmd != "" && opts.Cmd != "SCAN" {
		// key scans (HSCAN, SSCAN, ZSCAN) go to single node
		return s.Handler(opts.Key).Scanner(opts)
	}
	return &Scanner{
		ScannerBase: redis.ScannerBase{ScanOpts: opts},
		handlers:    append([]*redispool.Handler(nil), s.handlers...),
	}
}

// Scanner is an implementation of redis.Scanner over all nodes.
type Scanner struct {
	redis.ScannerBase

	handlers []*redispool.Handler
}

// Next implements redis.Scanner.Next
func (s *Scanner) Next(cb redis.Future) {
	if s.Err != nil {
		cb.Resolve(s.Err, 0)
		return
	}
	if s.IterLast() {
		s.handlers = s.handlers[1:]
		s.Iter = nil
	}
	if len(s.handlers) == 0 {
		cb.Resolve(nil, 0)
		return
	}
	s.DoNext(cb, s.handlers[0])
}

type dumb struct{}

func (dumb) Cancelled() error            { return nil }
func (dumb) Resolve(interface{}, uint64) {}
