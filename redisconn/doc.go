/*
Package redisconn implements connection to single redis server.

Connection is "wrapper" around single tcp (unix-socket) session. All requests are fed into
single connection, and responses are asynchronously read from it and matched to requests
strictly in the order requests were written.
Connection is thread-safe, ie it doesn't need external synchronization.

Connection does not reconnect: when socket is broken, every outstanding request is resolved
with connectivity error, following requests fail immediately, and Done() channel is closed.
Reconnection is a business of the owner, see redispool.

Connection tracks transaction phase (WATCH/MULTI/EXEC) in the order requests are sent, so
results of commands queued inside MULTI are shaped when EXEC answer arrives.
It also remembers scripts loaded to redis, so Eval uses EVALSHA when possible.

With Opts.Push set connection is in push mode: it accepts only subscription commands, and
published messages are passed to callback instead of resolving requests. See redissub.
*/
package redisconn
