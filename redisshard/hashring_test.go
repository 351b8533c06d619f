package redisshard

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodes(n int) []string {
	res := make([]string, n)
	for i := range res {
		res[i] = "10.0.0." + strconv.Itoa(i+1) + ":6379"
	}
	return res
}

func TestHashTag(t *testing.T) {
	cases := []struct{ key, tag string }{
		{"user:1000", "user:1000"},
		{"{user1000}.following", "user1000"},
		{"{user1000}.followers", "user1000"},
		{"foo{}{bar}", "foo{}{bar}"},
		{"foo{{bar}}zap", "{bar"},
		{"foo{bar}{zap}", "bar"},
		{"{}", "{}"},
		{"no{close", "no{close"},
	}
	for _, c := range cases {
		assert.Equal(t, c.tag, HashTag(c.key), c.key)
	}
}

func TestRingDeterministic(t *testing.T) {
	r1 := NewHashRing(nodes(4), 0, nil)
	r2 := NewHashRing(nodes(4), DefaultReplicas, nil)
	for i := 0; i < 1000; i++ {
		key := "key:" + strconv.Itoa(i)
		n := r1.Node(key)
		assert.Equal(t, n, r1.Node(key))
		assert.Equal(t, n, r2.Node(key))
		assert.Equal(t, n, r1.Nodes()[r1.Index(key)])
	}
}

func TestRingHashTagColocates(t *testing.T) {
	r := NewHashRing(nodes(5), 0, nil)
	for i := 0; i < 100; i++ {
		tag := "{user" + strconv.Itoa(i) + "}"
		assert.Equal(t, r.Node(tag+".followers"), r.Node(tag+".following"))
		assert.Equal(t, r.Node("user"+strconv.Itoa(i)), r.Node(tag))
	}
}

func TestRingDistribution(t *testing.T) {
	r := NewHashRing(nodes(3), 0, nil)
	counts := make(map[string]int)
	const total = 30000
	for i := 0; i < total; i++ {
		counts[r.Node("key:"+strconv.Itoa(i))]++
	}
	require.Len(t, counts, 3)
	for node, cnt := range counts {
		assert.True(t, cnt > total*15/100 && cnt < total*55/100, "node %s got %d keys", node, cnt)
	}
}

func TestRingAddNodeRemapsFraction(t *testing.T) {
	before := NewHashRing(nodes(5), 0, nil)
	all := nodes(6)
	added := all[5]
	after := NewHashRing(all, 0, nil)

	const total = 20000
	moved := 0
	for i := 0; i < total; i++ {
		key := "key:" + strconv.Itoa(i)
		was, is := before.Node(key), after.Node(key)
		if was != is {
			moved++
			assert.Equal(t, added, is, "key moved between old nodes")
		}
	}
	frac := float64(moved) / total
	assert.True(t, frac > 0.08 && frac < 0.30, "moved fraction %f", frac)
}

func TestRingEmptyAndCustomHash(t *testing.T) {
	empty := NewHashRing(nil, 0, nil)
	assert.Equal(t, -1, empty.Index("key"))
	assert.Equal(t, "", empty.Node("key"))

	constant := NewHashRing(nodes(3), 4, func([]byte) uint32 { return 42 })
	// every point collides, ties are broken by node name
	assert.Equal(t, "10.0.0.1:6379", constant.Node("anything"))
	assert.Equal(t, "10.0.0.1:6379", constant.Node("other"))
}
