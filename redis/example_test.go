package redis_test

import (
	"errors"
	"fmt"
	"time"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redispool/redis"
)

func ExampleAppendRequest() {
	req, err := redis.AppendRequest(nil, redis.Req("GET", "one"))
	fmt.Printf("%q\n%v\n", req, err)
	req, err = redis.AppendRequest(req, redis.Req("INCRBY", "cnt", 5))
	fmt.Printf("%q\n%v\n", req, err)
	req, err = redis.AppendRequest(req, redis.Req("SENDFOO", time.Second))
	fmt.Printf("%q\n%v\n", req, errorx.IsOfType(err, redis.ErrArgumentType))

	// Output:
	// "*2\r\n$3\r\nGET\r\n$3\r\none\r\n"
	// <nil>
	// "*2\r\n$3\r\nGET\r\n$3\r\none\r\n*3\r\n$6\r\nINCRBY\r\n$3\r\ncnt\r\n$1\r\n5\r\n"
	// <nil>
	// "*2\r\n$3\r\nGET\r\n$3\r\none\r\n*3\r\n$6\r\nINCRBY\r\n$3\r\ncnt\r\n$1\r\n5\r\n"
	// true
}

func ExampleAsError() {
	vals := []interface{}{
		nil,
		1,
		"hello",
		errors.New("high"),
	}

	for _, v := range vals {
		fmt.Printf("%T %v => %T %v\n", v, v, redis.AsError(v), redis.AsError(v))
	}

	// Output:
	// <nil> <nil> => <nil> <nil>
	// int 1 => <nil> <nil>
	// string hello => <nil> <nil>
	// *errors.errorString high => *errors.errorString high
}

func ExampleDecoder() {
	dec := redis.NewDecoder(redis.ModeText)
	stream := "+OK\r\n*3\r\n:1\r\n$-1\r\n$2\r\nhi\r\n$2\r\n42\r\n$4\r\n+inf\r\n"

	// feed in two arbitrary parts: output doesn't depend on chunking
	vals := dec.Feed([]byte(stream[:9]))
	vals = append(vals, dec.Feed([]byte(stream[9:]))...)
	for _, v := range vals {
		fmt.Printf("%T %v\n", v, v)
	}

	// Output:
	// string OK
	// []interface {} [1 <nil> hi]
	// int64 42
	// string +inf
}

func ExampleRequest_WithShape() {
	dec := redis.NewDecoder(redis.ModeText)
	req := redis.Req("HGETALL", "user:1").WithShape(redis.ShapeMap)
	raw := dec.Feed([]byte("*4\r\n$4\r\nname\r\n$3\r\nbob\r\n$3\r\nage\r\n$2\r\n33\r\n"))[0]
	m := redis.Shape(req.Shape, raw).(map[string]interface{})
	fmt.Println(m["name"], m["age"])

	// Output:
	// bob 33
}
