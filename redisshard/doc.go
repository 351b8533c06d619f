/*
Package redisshard spreads keys among several independent redis servers with consistent hashing.

HashRing places every node on a crc32 ring as many virtual points, so adding or removing node
remaps only a small fraction of keys. Only hash tag of a key is hashed: keys "{user1}.name" and
"{user1}.age" always live on the same node.

Sharded keeps one redispool.Pool per node and implements redis.Sender:

	sh, err := redisshard.Connect(ctx, []string{"10.0.0.1:6379", "10.0.0.2:6379"}, redisshard.Opts{})
	sh.Do(ctx, "SET", "key", "value")
	vals, err := sh.MGet(ctx, "key1", "key2", "key3")

Multi-key commands must have all keys on one node, except MGET and EXISTS which are split and
merged. Transactions are run on a single node through Handler(key).Begin.
*/
package redisshard
