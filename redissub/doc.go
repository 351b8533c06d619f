/*
Package redissub implements resilient publish/subscribe client.

Subscriber owns single connection in push mode. Messages are passed to handler given to Connect,
subscription changes are confirmed with Ack per channel:

	sub, err := redissub.Connect(ctx, "127.0.0.1:6379", redissub.Opts{}, func(m redissub.Message) {
		log.Printf("%s: %v", m.Channel, m.Payload)
	})
	acks, err := sub.Subscribe(ctx, "news", "alerts")

Subscriber remembers channels and patterns it should listen to, and subscribes to them again
after connection is re-established. Messages published while connection were broken are lost.
*/
package redissub
