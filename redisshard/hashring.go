package redisshard

import (
	"hash/crc32"
	"sort"
	"strconv"
	"strings"
)

// DefaultReplicas is a number of virtual points of every node on the ring.
const DefaultReplicas = 160

// HashFunc maps bytes to position on the ring.
type HashFunc func(data []byte) uint32

// HashRing is an immutable consistent hashing ring.
//
// Every node is placed on the ring as Replicas points hashed from "<node>:<i>".
// Key belongs to the first point at or after key's hash, wrapping around past the last point.
// So adding one node to N-node ring moves only ≈1/(N+1) of keys.
type HashRing struct {
	nodes  []string
	points []uint32
	owners []int // node index of every point
	hash   HashFunc
}

// NewHashRing builds ring. replicas <= 0 means DefaultReplicas, nil fn means crc32 (IEEE).
func NewHashRing(nodes []string, replicas int, fn HashFunc) *HashRing {
	if replicas <= 0 {
		replicas = DefaultReplicas
	}
	if fn == nil {
		fn = crc32.ChecksumIEEE
	}
	r := &HashRing{
		nodes: append([]string(nil), nodes...),
		hash:  fn,
	}
	type point struct {
		hash uint32
		node int
	}
	points := make([]point, 0, len(nodes)*replicas)
	buf := make([]byte, 0, 64)
	for i, node := range r.nodes {
		for j := 0; j < replicas; j++ {
			buf = append(buf[:0], node...)
			buf = append(buf, ':')
			buf = strconv.AppendInt(buf, int64(j), 10)
			points = append(points, point{hash: fn(buf), node: i})
		}
	}
	// collisions are resolved by node name, so membership order doesn't matter
	sort.Slice(points, func(a, b int) bool {
		if points[a].hash != points[b].hash {
			return points[a].hash < points[b].hash
		}
		return r.nodes[points[a].node] < r.nodes[points[b].node]
	})
	r.points = make([]uint32, len(points))
	r.owners = make([]int, len(points))
	for i, p := range points {
		r.points[i] = p.hash
		r.owners[i] = p.node
	}
	return r
}

// Nodes returns nodes in order they were passed to NewHashRing.
func (r *HashRing) Nodes() []string {
	return append([]string(nil), r.nodes...)
}

// Index returns index of node owning the key, or -1 for empty ring.
// Only hash tag of the key is hashed, see HashTag.
func (r *HashRing) Index(key string) int {
	if len(r.points) == 0 {
		return -1
	}
	h := r.hash([]byte(HashTag(key)))
	i := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if i == len(r.points) {
		i = 0
	}
	return r.owners[i]
}

// Node returns node owning the key, or empty string for empty ring.
func (r *HashRing) Node(key string) string {
	i := r.Index(key)
	if i < 0 {
		return ""
	}
	return r.nodes[i]
}

// HashTag returns part of key used for hashing: substring between first '{' and following '}',
// if it is not empty. Otherwise whole key is used.
// So "{user1000}.following" and "{user1000}.followers" belong to the same node.
func HashTag(key string) string {
	if i := strings.IndexByte(key, '{'); i >= 0 {
		if j := strings.IndexByte(key[i+1:], '}'); j > 0 {
			return key[i+1 : i+1+j]
		}
	}
	return key
}
