package convstore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRegistry shares the conversation mapping across relay instances.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisRegistry(addr, password string, db int, ttl time.Duration, prefix string) *RedisRegistry {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil
	}
	if prefix == "" {
		prefix = "canvas:conv:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisRegistry{client: client, ttl: ttl, prefix: prefix}
}

func (r *RedisRegistry) Lookup(fingerprint string) (Entry, bool) {
	if r == nil || r.client == nil {
		return Entry{}, false
	}

	ctx := context.Background()
	value, err := r.client.Get(ctx, r.prefix+fingerprint).Result()
	if err != nil {
		return Entry{}, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(value), &entry); err != nil {
		return Entry{}, false
	}
	return entry, true
}

func (r *RedisRegistry) Register(fingerprint string, entry Entry) {
	if r == nil || r.client == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = r.client.Set(context.Background(), r.prefix+fingerprint, data, r.ttl).Err()
}
