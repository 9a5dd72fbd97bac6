package sharding

import (
	"crypto/md5"
	"encoding/binary"
	"errors"
	"sort"
	"strconv"
)

// DefaultVirtualNodes is the virtual-node count per shard when none is configured.
const DefaultVirtualNodes = 150

// ErrNoShardAvailable is returned when a lookup hits an empty ring.
var ErrNoShardAvailable = errors.New("sharding: no shard available")

type ringEntry struct {
	hash    int32
	shardID string
}

// Ring is an immutable consistent-hash ring mapping keys to shard ids.
// It is safe for concurrent readers; rebuilding produces a new Ring.
type Ring struct {
	entries []ringEntry
	shards  []string
	vnodes  int
}

// NewRing builds a ring with the given shard ids and virtual-node count.
// Virtual nodes smooth the key distribution across shards; hash collisions
// between virtual nodes resolve last-write-wins, which only affects
// distribution uniformity, never correctness.
func NewRing(shardIDs []string, virtualNodes int) (*Ring, error) {
	if len(shardIDs) == 0 {
		return nil, errors.New("sharding: no shard ids")
	}
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	seen := make(map[string]struct{}, len(shardIDs))
	shards := make([]string, 0, len(shardIDs))
	for _, id := range shardIDs {
		if id == "" {
			return nil, errors.New("sharding: empty shard id")
		}
		if _, dup := seen[id]; dup {
			return nil, errors.New("sharding: duplicate shard id " + id)
		}
		seen[id] = struct{}{}
		shards = append(shards, id)
	}

	entries := make([]ringEntry, 0, len(shards)*virtualNodes)
	for _, shard := range shards {
		for i := 0; i < virtualNodes; i++ {
			entries = append(entries, ringEntry{
				hash:    hashKey(shard + strconv.Itoa(i)),
				shardID: shard,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].hash != entries[j].hash {
			return entries[i].hash < entries[j].hash
		}
		return entries[i].shardID < entries[j].shardID
	})

	return &Ring{entries: entries, shards: shards, vnodes: virtualNodes}, nil
}

// Lookup returns the shard responsible for the given key using the
// clockwise-successor rule: the first ring entry with hash >= hash(key),
// wrapping to the smallest entry when none is.
func (r *Ring) Lookup(key string) (string, error) {
	if r == nil || len(r.entries) == 0 {
		return "", ErrNoShardAvailable
	}
	h := hashKey(key)
	idx := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].hash >= h
	})
	if idx == len(r.entries) {
		idx = 0
	}
	return r.entries[idx].shardID, nil
}

// Shards returns the shard ids the ring was built from.
func (r *Ring) Shards() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.shards...)
}

// VirtualNodes returns the configured virtual-node count per shard.
func (r *Ring) VirtualNodes() int {
	if r == nil {
		return 0
	}
	return r.vnodes
}

// Size returns the total number of ring entries.
func (r *Ring) Size() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// hashKey packs the first four bytes of the MD5 digest big-endian into a
// signed 32-bit integer. The signed interpretation matters: existing shard
// assignments were produced with signed ordering, so keeping it preserves
// where every device's traffic lands.
func hashKey(key string) int32 {
	digest := md5.Sum([]byte(key))
	return int32(binary.BigEndian.Uint32(digest[:4]))
}
