package cmd

import (
	"context"
	"io"

	"github.com/spf13/viper"

	"github.com/joomcode/redispool/config"
	"github.com/joomcode/redispool/redis"
	"github.com/joomcode/redispool/redisconn"
	"github.com/joomcode/redispool/redispool"
	"github.com/joomcode/redispool/redisshard"
	"github.com/joomcode/redispool/redissub"
)

// session is a connected client of one command run.
type session struct {
	conf  config.Config
	stats *redisconn.StatLogger

	sender  redis.Sender
	pools   []*redispool.Pool
	sharded *redisshard.Sharded // nil for single endpoint
	handler *redispool.Handler  // nil for several endpoints
	lazy    *redispool.Lazy
}

func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

func open(ctx context.Context) (*session, error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s := &session{
		conf:  conf,
		stats: redisconn.NewStatLogger(redisconn.NoopLogger{}),
	}
	opts := conf.PoolOpts()
	opts.Conn.Logger = s.stats
	opts.Logger = poolLogger()

	switch {
	case len(conf.Endpoints) > 1:
		sopts := conf.ShardOpts()
		sopts.Pool = opts
		if s.sharded, err = redisshard.Connect(ctx, conf.Endpoints, sopts); err != nil {
			return nil, err
		}
		s.sender = s.sharded
		s.pools = s.sharded.Pools()
	case conf.Lazy:
		s.lazy = redispool.ConnectLazy(ctx, conf.Endpoints[0], opts)
		if s.handler, err = s.lazy.Wait(ctx); err != nil {
			s.lazy.Close()
			return nil, err
		}
	default:
		p, err := redispool.Connect(ctx, conf.Endpoints[0], opts)
		if err != nil {
			return nil, err
		}
		s.handler = redispool.NewHandler(p)
	}
	if s.handler != nil {
		s.sender = s.handler
		s.pools = []*redispool.Pool{s.handler.Pool()}
	}
	return s, nil
}

func (s *session) Close() {
	switch {
	case s.sharded != nil:
		s.sharded.Close()
	case s.lazy != nil:
		s.lazy.Close()
	default:
		s.handler.Close()
	}
}

func (s *session) Do(ctx context.Context, cmd string, args ...interface{}) interface{} {
	return redis.SyncCtx{S: s.sender}.Do(ctx, cmd, args...)
}

// channelHandler returns handler of node serving the channel.
// Channels are distributed with the same hash ring as keys.
func (s *session) channelHandler(channel string) *redispool.Handler {
	if s.sharded != nil {
		return s.sharded.Handler(channel)
	}
	return s.handler
}

func (s *session) WritePrometheus(w io.Writer) {
	for _, p := range s.pools {
		p.WritePrometheus(w)
	}
}

// channelNodes groups channels by node serving them.
func channelNodes(conf config.Config, channels []string) map[string][]string {
	res := make(map[string][]string)
	if len(conf.Endpoints) == 1 {
		res[conf.Endpoints[0]] = channels
		return res
	}
	ring := redisshard.NewHashRing(conf.Endpoints, conf.Replicas, nil)
	for _, ch := range channels {
		node := ring.Node(ch)
		res[node] = append(res[node], ch)
	}
	return res
}

func poolLogger() redispool.Logger {
	if viper.GetBool("verbose") {
		return redispool.DefaultLogger{}
	}
	return redispool.NoopLogger{}
}

func subLogger() redissub.Logger {
	if viper.GetBool("verbose") {
		return redissub.DefaultLogger{}
	}
	return redissub.NoopLogger{}
}
