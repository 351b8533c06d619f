package redissub

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redispool/redis"
)

var (
	// ErrNoHandler - message handler is not passed to Connect
	ErrNoHandler = redis.ErrOpts.NewType("no_handler")
	// ErrReconnecting - subscriber has no connection at the moment.
	// Subscription intent is kept, and it will be applied when connection is re-established.
	ErrReconnecting = redis.Errors.NewType("subscriber_reconnecting", redis.ErrTraitConnectivity, redis.ErrTraitNotSent)
)

func (s *Subscriber) err(kind *errorx.Type) *errorx.Error {
	return kind.NewWithNoMessage().WithProperty(redis.EKAddress, s.addr)
}
