package redisshard

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redispool/redis"
)

var (
	// ErrNoShardKey - command has no key, so it could not be routed
	ErrNoShardKey = redis.ErrUsage.NewType("no_shard_key")
	// ErrCrossShard - keys of multi-key command belong to different nodes
	ErrCrossShard = redis.ErrUsage.NewType("cross_shard")
	// ErrShardedBatch - pipelined batches and transactions are not supported by sharded handler
	ErrShardedBatch = redis.ErrUsage.NewType("sharded_batch")
)

// EKShard - address of node request were routed to.
var EKShard = errorx.RegisterPrintableProperty("shard")
