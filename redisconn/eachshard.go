package redisconn

import "github.com/joomcode/redispool/redis"

// EachShard implements redis.Sender.EachShard.
// Single connection is a single shard.
func (conn *Connection) EachShard(cb func(redis.Sender, error) bool) {
	cb(conn, nil)
}
