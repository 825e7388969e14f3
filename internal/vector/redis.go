package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisIndex keeps each collection as a redis hash of id -> packed float32s,
// so the index survives restarts and is shared between processes.
// Queries are exact scans like MemoryIndex.
type RedisIndex struct {
	client *redis.Client
	prefix string
}

// NewRedisIndex creates an index over client; prefix namespaces the hash keys
// and defaults to "sentinel:vectors:"
func NewRedisIndex(client *redis.Client, prefix string) *RedisIndex {
	if prefix == "" {
		prefix = "sentinel:vectors:"
	}
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisIndex{client: client, prefix: prefix}
}

func (r *RedisIndex) key(collection string) string {
	return r.prefix + collection
}

// Query returns up to k neighbors of vec in collection
func (r *RedisIndex) Query(ctx context.Context, collection string, vec []float32, k int) ([]Neighbor, error) {
	raw, err := r.client.HGetAll(ctx, r.key(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", collection, err)
	}

	candidates := make(map[string][]float32, len(raw))
	for id, packed := range raw {
		candidates[id] = Unpack([]byte(packed))
	}
	return topK(vec, candidates, k), nil
}

// Upsert stores vec under id
func (r *RedisIndex) Upsert(ctx context.Context, collection, id string, vec []float32) error {
	if err := r.client.HSet(ctx, r.key(collection), id, Pack(vec)).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", collection, err)
	}
	return nil
}

// Delete removes id from collection
func (r *RedisIndex) Delete(ctx context.Context, collection, id string) error {
	if err := r.client.HDel(ctx, r.key(collection), id).Err(); err != nil {
		return fmt.Errorf("redis hdel %s: %w", collection, err)
	}
	return nil
}

// Pack encodes vec as little-endian float32s
func Pack(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Unpack reverses Pack; a trailing partial value is dropped
func Unpack(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}
