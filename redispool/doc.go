/*
Package redispool implements pool of connections to single redis server.

Pool keeps configured number of redisconn.Connection, every one supervised by its own goroutine:
when connection is broken, it is re-established according to RetryPolicy (exponential backoff with
jitter). Connections are lent to callers with Acquire and returned with Release. Waiting callers
are served strictly in FIFO order, and if pool has no live connection at all, Acquire fails at once
with ErrPoolEmpty instead of waiting.

Handler is a redis.Sender over pool. It borrows connection only to write request, so many callers
share the same connection through pipelining. Blocking commands keep connection borrowed until the
answer, and transactions pin connection with Begin:

	pool, err := redispool.Connect(ctx, "127.0.0.1:6379", redispool.Opts{Size: 8})
	handler := redispool.NewHandler(pool)
	res := handler.Do(ctx, "GET", "key")

	tx, err := handler.Begin(ctx)
	defer tx.Close()
	tx.Watch("key")
	tx.Multi()
	tx.Do("INCR", "key")
	res, err := tx.Exec()

ConnectLazy returns handle at once and connects in background.
*/
package redispool
