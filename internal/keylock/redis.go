package keylock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still carries our token, so a
// holder whose TTL lapsed never frees someone else's lock.
// KEYS[1] = lock key
// ARGV[1] = owner token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock shared by every worker pointed at the same Redis.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

// RedisOptions configures NewRedis. Zero values pick defaults.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // default "ptrwatch:lock:"
	TTL      time.Duration // default 30s
	Poll     time.Duration // default 50ms
}

// NewRedis creates a lock backed by a new Redis client.
func NewRedis(opts RedisOptions) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	r := &Redis{client: rdb, prefix: opts.Prefix, ttl: opts.TTL, poll: opts.Poll}
	if r.prefix == "" {
		r.prefix = "ptrwatch:lock:"
	}
	if r.ttl <= 0 {
		r.ttl = 30 * time.Second
	}
	if r.poll <= 0 {
		r.poll = 50 * time.Millisecond
	}
	return r
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.client.Close()
}

// Lock polls SET NX PX until the key is free or ctx ends.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := r.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, r.client, []string{k}, token).Err()
		})
	}, nil
}
