/*
Package redispool - pooled Redis client built on implicitly pipelined connections.

Every connection writes requests as soon as callers send them, and reads answers in another
goroutine, so many concurrent callers share one socket without explicit pipelining. On top of that
connection this module adds what a single pipeline could not do alone.

Capabilities

- pool of connections with FIFO lending and reconnection with exponential backoff and jitter,

- fail fast: when no connection is alive, requests fail at once with ErrPoolEmpty,

- blocking commands (BLPOP and others) borrow a connection until the reply,

- transactions with WATCH pinned to a single connection,

- Lua scripts sent with EVALSHA, falling back to EVAL,

- subscriptions which are restored after reconnect,

- consistent hashing of keys among independent servers,

- hooks for logging and per-command latency, Prometheus metrics of pools.

Structure

- root package is empty

- common functionality (protocol codec, errors, sync wrappers) is in redis subpackage

- single connection is in redisconn subpackage

- pool, handler and transactions are in redispool subpackage

- subscriptions are in redissub subpackage

- sharding is in redisshard subpackage

- config loads options from flags, environment and .env files, cmd is a command-line client

- testbed is an in-process fake server for tests

Usage

redisconn.Connection, redispool.Handler and redisshard.Sharded are implementations of redis.Sender.
redis.Sender provides asynchronous api: it accepts redis.Future implementations and fulfills them.
Usually one wraps sender with synchronous wrapper:

- redis.Sync{sender} - provides simple synchronous api,

- redis.SyncCtx{sender} - provides same api, but all methods accept context.Context, and
methods return immediately if that context is closed,

- redis.ChanFutured{sender} - provides api with future through channel closing.

Types accepted as command arguments: nil, []byte, string, int (and all other integer types),
float64, float32, bool. With raw encoding only []byte, numbers, bool and nil are accepted.

Results are plain go types returned as interface{}:

  redis        | go (text encoding)            | go (raw encoding)
  -------------|-------------------------------|------------------
  plain string | string                        | string
  bulk string  | string, int64 or float64      | []byte
  integer      | int64                         | int64
  array        | []interface{}                 | []interface{}
  null         | nil                           | nil
  error        | error (*errorx.Error)         | error (*errorx.Error)

IO, connection, and other errors are not returned separately but as result (and has same
*errorx.Error underlying type).
*/
package redispool
