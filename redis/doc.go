/*
Package redis contains common parts for other packages.

- main interfaces visible to user (Sender, Scanner, ScanOpts, Future)

- wrappers for synchronous interface over Sender (Sync, SyncCtx)
and chan-based-future interface (ChanFutured)

- request writing (AppendRequest),

- incremental response decoding (Decoder) and reply writing (AppendReply),

- result shapers,

- root errorx namespace and common error types.

Usually you get Sender from redispool.Connect or redisshard.Connect, then wrap with Sync or SyncCtx, and use their
sync methods without any locking:

	handler, err := redispool.Connect(ctx, "127.0.0.1:6379", redispool.Opts{Size: 4})
	sync := redis.Sync{handler}
	go func() {
		res := sync.Do("GET", "x")
		if err := redis.AsError(res); err != nil {
			log.Println("failed", err)
		}
		log.Println("found x", res)
	}()
	go func() {
		results := sync.SendMany([]redis.Request{
			redis.Req("GET", "k1"),
			redis.Req("INCR", "k2"),
			redis.Req("HGETALL", "h1").WithShape(redis.ShapeMap),
		})
		if err := redis.AsError(results[0]); err != nil {
			log.Println("failed", err)
		}
		if results[0] == nil {
			log.Println("not found")
		} else {
			log.Println("k1: ", results[0])
		}
	}()
*/
package redis
