package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds the Redis connection configuration.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// Generation counters live outside the tps: keyspace so that prefix scans
// over entries never touch them.
const (
	genPrefix    = "tpsgen:"
	globalGenKey = genPrefix + "global"
	scanBatch    = 100
)

// setIfCurrent stores the value only if the key, user and global generations
// still equal the ones observed before the load started.
//
// KEYS: value, key gen, user gen, global gen
// ARGV: key gen, user gen, global gen, value, ttl ms
var setIfCurrent = redis.NewScript(`
if (redis.call('GET', KEYS[2]) or '0') ~= ARGV[1] then return 0 end
if (redis.call('GET', KEYS[3]) or '0') ~= ARGV[2] then return 0 end
if (redis.call('GET', KEYS[4]) or '0') ~= ARGV[3] then return 0 end
redis.call('SET', KEYS[1], ARGV[4], 'PX', ARGV[5])
return 1
`)

// Redis is a shared backend so every process observes the same invalidations.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, config *RedisConfig) (*Redis, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	slog.Info("Redis cache connected", slog.String("addr", config.Addr))
	return NewRedisFromClient(client), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key Key) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to get cache value")
	}
	return data, true, nil
}

func (r *Redis) Set(ctx context.Context, key Key, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key.String(), value, ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to set cache value")
	}
	return nil
}

func (r *Redis) Stamp(ctx context.Context, key Key) (Stamp, error) {
	values, err := r.client.MGet(ctx, keyGenKey(key), userGenKey(key.UserID), globalGenKey).Result()
	if err != nil {
		return Stamp{}, errors.Wrap(err, "failed to read cache generations")
	}

	gens := make([]uint64, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return Stamp{}, errors.Errorf("unexpected generation type %T", v)
		}
		n, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return Stamp{}, errors.Wrap(err, "malformed cache generation")
		}
		gens[i] = n
	}
	return Stamp{Key: gens[0], User: gens[1], Global: gens[2]}, nil
}

func (r *Redis) SetIfCurrent(ctx context.Context, key Key, stamp Stamp, value []byte, ttl time.Duration) (bool, error) {
	keys := []string{key.String(), keyGenKey(key), userGenKey(key.UserID), globalGenKey}
	stored, err := setIfCurrent.Run(ctx, r.client, keys,
		strconv.FormatUint(stamp.Key, 10),
		strconv.FormatUint(stamp.User, 10),
		strconv.FormatUint(stamp.Global, 10),
		value,
		ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, errors.Wrap(err, "failed to fill cache value")
	}
	return stored == 1, nil
}

func (r *Redis) Delete(ctx context.Context, key Key) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, keyGenKey(key))
		pipe.Del(ctx, key.String())
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "failed to invalidate cache value")
	}
	return nil
}

func (r *Redis) DeleteUser(ctx context.Context, userID int64) error {
	if err := r.client.Incr(ctx, userGenKey(userID)).Err(); err != nil {
		return errors.Wrap(err, "failed to advance user generation")
	}
	return r.deleteMatching(ctx, userPrefix(userID)+"*")
}

func (r *Redis) Flush(ctx context.Context) error {
	if err := r.client.Incr(ctx, globalGenKey).Err(); err != nil {
		return errors.Wrap(err, "failed to advance global generation")
	}
	return r.deleteMatching(ctx, keyPrefix+":*")
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// deleteMatching removes entries by pattern. Stale fills are already fenced by
// the generation bump, so a key written mid-scan cannot resurrect old data.
func (r *Redis) deleteMatching(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, scanBatch).Iterator()

	keys := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= scanBatch {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return errors.Wrap(err, "failed to delete cache values")
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return errors.Wrap(err, "failed to scan cache keys")
	}
	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return errors.Wrap(err, "failed to delete cache values")
		}
	}
	return nil
}

func keyGenKey(key Key) string {
	return genPrefix + "key:" + key.String()
}

func userGenKey(userID int64) string {
	return fmt.Sprintf("%suser:%d", genPrefix, userID)
}

var _ Backend = (*Redis)(nil)
