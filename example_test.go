package redispool_test

import (
	"context"
	"fmt"
	"log"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redispool/redis"
	"github.com/joomcode/redispool/redispool"
	"github.com/joomcode/redispool/testbed"
)

func Example_usage() {
	// fake server stands for real redis here
	srv, err := testbed.NewServer()
	if err != nil {
		log.Fatal(err)
	}
	defer srv.Stop()

	ctx := context.Background()
	pool, err := redispool.Connect(ctx, srv.Addr, redispool.Opts{
		Size:   4,
		Logger: redispool.NoopLogger{}, // shut up logging. Could be your custom implementation.
		// Other parameters (usually, no need to change):
		// Name, Conn (DB, Password, IOTimeout, Encoding ...), Retry
	})
	if err != nil {
		log.Fatal(err)
	}
	handler := redispool.NewHandler(pool)
	defer handler.Close()

	sync := redis.SyncCtx{S: handler} // wrapper for synchronous api

	res := sync.Do(ctx, "SET", "key", "ho")
	fmt.Printf("result: %q\n", res)

	res = sync.Do(ctx, "GET", "key")
	fmt.Printf("result: %q\n", res)

	sync.Do(ctx, "SET", "counter", 10)
	res = sync.Do(ctx, "INCRBY", "counter", 5)
	fmt.Printf("result: %T %v\n", res, res)

	results := sync.SendMany(ctx, []redis.Request{
		redis.Req("GET", "key"),
		redis.Req("GET", "missing"),
		redis.Req("GET", "counter"),
	})
	// results is []interface{}, each element is result for corresponding request
	for i, res := range results {
		fmt.Printf("result[%d]: %T %v\n", i, res, res)
	}

	// transaction pins one connection until Exec
	tx, err := handler.Begin(ctx)
	if err != nil {
		log.Fatal(err)
	}
	defer tx.Close()
	if err = tx.Watch("counter"); err != nil {
		log.Fatal(err)
	}
	if err = tx.Multi(); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("queued: %v\n", tx.Do("INCR", "counter"))
	results, err = tx.Exec()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("tresult: %v\n", results)

	// commands changing connection state are not allowed on shared connections
	res = sync.Do(ctx, "SELECT", 1)
	fmt.Printf("forbidden: %v\n", errorx.IsOfType(redis.AsError(res), redis.ErrCommandForbidden))

	// Output:
	// result: "OK"
	// result: "ho"
	// result: int64 15
	// result[0]: string ho
	// result[1]: <nil> <nil>
	// result[2]: int64 15
	// queued: QUEUED
	// tresult: [16]
	// forbidden: true
}
