package redissub

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/joomcode/redispool/redis"
	"github.com/joomcode/redispool/redisconn"
	"github.com/joomcode/redispool/redispool"
)

// Kind distinguishes messages delivered through channel and through pattern subscription.
type Kind int

const (
	// KindMessage - message published to subscribed channel.
	KindMessage Kind = iota
	// KindPMessage - message published to channel matched by subscribed pattern.
	KindPMessage
)

func (k Kind) String() string {
	if k == KindPMessage {
		return "pmessage"
	}
	return "message"
}

// Message is a published message.
type Message struct {
	Kind    Kind
	Pattern string // set for KindPMessage only
	Channel string
	// Payload is decoded according to Opts.Conn.Encoding: []byte for raw,
	// string (or coerced number) for text. Channel and pattern are never coerced.
	Payload interface{}
}

// Ack is a server confirmation of subscription change.
type Ack struct {
	Action  string // subscribe, unsubscribe, psubscribe, punsubscribe
	Channel string // channel or pattern
	Count   int64  // number of subscriptions connection has after this change
}

// Opts is options for Subscriber.
type Opts struct {
	// Conn is options for underlying connection. Conn.Push is ignored, and Conn.Logger
	// receives only ReqStat calls. Connection itself always uses raw encoding,
	// Conn.Encoding affects message payload only.
	Conn redisconn.Opts
	// Retry is a reconnection policy.
	Retry redispool.RetryPolicy
	// Logger, DefaultLogger by default.
	Logger Logger
}

// Subscriber keeps subscribed connection to redis.
//
// It remembers what should be subscribed, and restores all subscriptions when connection is
// re-established. Handler is called from connection's reader goroutine in order messages arrive,
// so it should not block.
type Subscriber struct {
	ctx     context.Context
	cancel  context.CancelFunc
	addr    string
	opts    Opts
	handler func(Message)

	channels *xsync.MapOf[string, struct{}]
	patterns *xsync.MapOf[string, struct{}]

	mu   sync.Mutex
	conn *redisconn.Connection
	done chan struct{}
}

// Connect establishes subscribed connection. It fails if first connection attempt fails.
func Connect(ctx context.Context, addr string, opts Opts, handler func(Message)) (*Subscriber, error) {
	if ctx == nil {
		return nil, redis.ErrContextIsNil.New("context is not specified")
	}
	if addr == "" {
		return nil, redis.ErrNoAddressProvided.New("address is not specified")
	}
	if handler == nil {
		return nil, ErrNoHandler.New("message handler is not specified")
	}
	if opts.Logger == nil {
		opts.Logger = DefaultLogger{}
	}
	s := &Subscriber{
		addr:     addr,
		opts:     opts,
		handler:  handler,
		channels: xsync.NewMapOf[string, struct{}](),
		patterns: xsync.NewMapOf[string, struct{}](),
		done:     make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	conn, err := s.dial()
	if err != nil {
		s.cancel()
		return nil, err
	}
	s.conn = conn
	go s.supervise(conn)
	return s, nil
}

func (s *Subscriber) dial() (*redisconn.Connection, error) {
	opts := s.opts.Conn
	opts.Logger = connLogger{s}
	opts.Push = s.push
	// names must reach handler exactly as published, "007" is not 7
	opts.Encoding = redisconn.EncodingRaw
	return redisconn.Connect(s.ctx, s.addr, opts)
}

// supervise re-establishes connection and replays subscriptions.
func (s *Subscriber) supervise(conn *redisconn.Connection) {
	defer close(s.done)
	backoff := s.opts.Retry.Backoff()
	for {
		<-conn.Done()
		reason := conn.Err()
		s.setConn(nil)
		for {
			if s.ctx.Err() != nil || s.opts.Retry.Disabled {
				return
			}
			delay := backoff.Next()
			s.report(LogReconnectScheduled{Attempt: backoff.Attempt(), Delay: delay, Error: reason})
			if !sleep(s.ctx, delay) {
				return
			}
			c, err := s.dial()
			if err == nil {
				conn = c
				break
			}
			reason = err
		}
		backoff.Reset()
		// connection is published before snapshot is taken, so concurrent Subscribe either
		// sends by itself or gets into snapshot.
		s.setConn(conn)
		s.replay(conn)
	}
}

func (s *Subscriber) replay(conn *redisconn.Connection) {
	var reqs []redis.Request
	ev := LogReplayed{}
	s.channels.Range(func(name string, _ struct{}) bool {
		reqs = append(reqs, redis.Req("SUBSCRIBE", []byte(name)))
		ev.Channels++
		return true
	})
	s.patterns.Range(func(name string, _ struct{}) bool {
		reqs = append(reqs, redis.Req("PSUBSCRIBE", []byte(name)))
		ev.Patterns++
		return true
	})
	if len(reqs) == 0 {
		return
	}
	for _, res := range (redis.SyncCtx{S: conn}).SendMany(s.ctx, reqs) {
		if err := redis.AsError(res); err != nil {
			ev.Error = err
			break
		}
	}
	s.report(ev)
}

func (s *Subscriber) push(msg []interface{}) {
	kind, _ := redis.ArgToString(msg[0])
	switch {
	case kind == "message" && len(msg) == 3:
		channel, _ := redis.ArgToString(msg[1])
		s.handler(Message{Kind: KindMessage, Channel: channel, Payload: s.payload(msg[2])})
	case kind == "pmessage" && len(msg) == 4:
		pattern, _ := redis.ArgToString(msg[1])
		channel, _ := redis.ArgToString(msg[2])
		s.handler(Message{Kind: KindPMessage, Pattern: pattern, Channel: channel, Payload: s.payload(msg[3])})
	default:
		s.report(LogMessageDropped{Message: msg})
	}
}

func (s *Subscriber) payload(v interface{}) interface{} {
	if b, ok := v.([]byte); ok && s.opts.Conn.Encoding != redisconn.EncodingRaw {
		return redis.TextValue(b)
	}
	return v
}

// Subscribe subscribes to channels.
// If connection is being re-established, ErrReconnecting is returned, but channels will be
// subscribed as soon as connection is restored.
func (s *Subscriber) Subscribe(ctx context.Context, channels ...string) ([]Ack, error) {
	return s.change(ctx, "SUBSCRIBE", s.channels, true, channels)
}

// Unsubscribe unsubscribes from channels. Without arguments it unsubscribes from all channels.
func (s *Subscriber) Unsubscribe(ctx context.Context, channels ...string) ([]Ack, error) {
	if len(channels) == 0 {
		channels = names(s.channels)
	}
	return s.change(ctx, "UNSUBSCRIBE", s.channels, false, channels)
}

// PSubscribe subscribes to patterns.
func (s *Subscriber) PSubscribe(ctx context.Context, patterns ...string) ([]Ack, error) {
	return s.change(ctx, "PSUBSCRIBE", s.patterns, true, patterns)
}

// PUnsubscribe unsubscribes from patterns. Without arguments it unsubscribes from all patterns.
func (s *Subscriber) PUnsubscribe(ctx context.Context, patterns ...string) ([]Ack, error) {
	if len(patterns) == 0 {
		patterns = names(s.patterns)
	}
	return s.change(ctx, "PUNSUBSCRIBE", s.patterns, false, patterns)
}

func (s *Subscriber) change(ctx context.Context, cmd string, set *xsync.MapOf[string, struct{}], add bool, list []string) ([]Ack, error) {
	if len(list) == 0 {
		return nil, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if s.ctx.Err() != nil {
		return nil, redis.ErrContextClosed.WrapWithNoMessage(s.ctx.Err()).WithProperty(redis.EKAddress, s.addr)
	}
	// intent is updated before sending, so reconnect replays it even if answer is lost
	for _, n := range list {
		if add {
			set.Store(n, struct{}{})
		} else {
			set.Delete(n)
		}
	}
	conn := s.Conn()
	if conn == nil {
		return nil, s.err(ErrReconnecting)
	}
	// one request per name: every name is confirmed with its own reply
	reqs := make([]redis.Request, len(list))
	for i, n := range list {
		reqs[i] = redis.Req(cmd, []byte(n))
	}
	res := redis.SyncCtx{S: conn}.SendMany(ctx, reqs)
	acks := make([]Ack, 0, len(res))
	for _, r := range res {
		if err := redis.AsError(r); err != nil {
			return acks, err
		}
		ack, ok := parseAck(r)
		if !ok {
			return acks, redis.ErrResponseUnexpected.NewWithNoMessage().
				WithProperty(redis.EKResponse, r).
				WithProperty(redis.EKAddress, s.addr)
		}
		acks = append(acks, ack)
	}
	return acks, nil
}

func parseAck(res interface{}) (Ack, bool) {
	arr, ok := res.([]interface{})
	if !ok || len(arr) != 3 {
		return Ack{}, false
	}
	action, ok := redis.ArgToString(arr[0])
	if !ok {
		return Ack{}, false
	}
	var channel string
	if arr[1] != nil {
		channel, _ = redis.ArgToString(arr[1])
	}
	count, ok := arr[2].(int64)
	if !ok {
		return Ack{}, false
	}
	return Ack{Action: action, Channel: channel, Count: count}, true
}

// Channels returns sorted list of channels subscriber should be subscribed to.
func (s *Subscriber) Channels() []string {
	return names(s.channels)
}

// Patterns returns sorted list of patterns subscriber should be subscribed to.
func (s *Subscriber) Patterns() []string {
	return names(s.patterns)
}

// Ping checks current connection.
func (s *Subscriber) Ping() error {
	conn := s.Conn()
	if conn == nil {
		return s.err(ErrReconnecting)
	}
	return conn.Ping()
}

// Conn returns current connection, or nil while reconnecting.
// Connection uses raw encoding, so it accepts only []byte and numeric arguments.
func (s *Subscriber) Conn() *redisconn.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Subscriber) setConn(conn *redisconn.Connection) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Addr returns address of redis.
func (s *Subscriber) Addr() string {
	return s.addr
}

// Close closes subscriber and its connection.
func (s *Subscriber) Close() {
	s.cancel()
}

// Done returns channel closed when subscriber stops: after Close, or when connection is lost
// and reconnection is disabled.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// String implements fmt.Stringer
func (s *Subscriber) String() string {
	return fmt.Sprintf("*redissub.Subscriber{addr: %s}", s.addr)
}

func (s *Subscriber) report(event LogEvent) {
	s.opts.Logger.Report(s, event)
}

func names(set *xsync.MapOf[string, struct{}]) []string {
	res := make([]string, 0, set.Size())
	set.Range(func(name string, _ struct{}) bool {
		res = append(res, name)
		return true
	})
	sort.Strings(res)
	return res
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
