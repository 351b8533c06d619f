package redispool

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redispool/redis"
)

var (
	// ErrPool - namespace of pool level errors.
	ErrPool = redis.Errors.NewSubNamespace("pool")
	// ErrPoolEmpty - pool has no live connection at the moment, request is not sent.
	ErrPoolEmpty = ErrPool.NewType("empty", redis.ErrTraitConnectivity, redis.ErrTraitNotSent)
	// ErrTxFinished - transaction handle were already committed, discarded or closed.
	ErrTxFinished = ErrPool.NewType("tx_finished", redis.ErrTraitNotSent)
)

// EKPool - name of pool that produced an error.
var EKPool = errorx.RegisterPrintableProperty("pool")

func withNewProperty(err *errorx.Error, p errorx.Property, v interface{}) *errorx.Error {
	_, ok := err.Property(p)
	if ok {
		return err
	}
	return err.WithProperty(p, v)
}
