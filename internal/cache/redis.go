package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisHotTier keeps answer entries in Redis so several pipeline instances
// can share a hot layer. Redis errors never surface to callers; a broken
// connection just turns every lookup into a miss.
type RedisHotTier struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *log.Logger
}

func NewRedisHotTier(addr, password string, db int, ttl time.Duration, logger *log.Logger) *RedisHotTier {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	return &RedisHotTier{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl:    ttl,
		prefix: "docquery:answer:",
		logger: logger,
	}
}

func (r *RedisHotTier) Get(ctx context.Context, key string) (AnswerEntry, bool) {
	data, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Printf("redis get failed: %v", err)
		}
		return AnswerEntry{}, false
	}
	var entry AnswerEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		r.logger.Printf("redis entry decode failed: %v", err)
		return AnswerEntry{}, false
	}
	return entry, true
}

func (r *RedisHotTier) Set(ctx context.Context, key string, entry AnswerEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		r.logger.Printf("redis entry encode failed: %v", err)
		return
	}
	if err := r.client.Set(ctx, r.prefix+key, data, r.ttl).Err(); err != nil {
		r.logger.Printf("redis set failed: %v", err)
	}
}

func (r *RedisHotTier) Delete(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		r.logger.Printf("redis del failed: %v", err)
	}
}

func (r *RedisHotTier) Close() error {
	return r.client.Close()
}
