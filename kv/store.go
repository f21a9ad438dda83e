package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps every failure to reach the backing store.
var ErrUnavailable = errors.New("kv store unavailable")

const (
	defaultTimeout    = 250 * time.Millisecond
	defaultRetryDelay = 25 * time.Millisecond
)

// CASResult reports the outcome of [Store.CompareAndSwap].
type CASResult int

const (
	CASNotFound CASResult = iota
	CASExpired
	CASMismatch
	CASSwapped
)

const incrementWindowScript = `
local count = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`

var incrementWindowLua = redis.NewScript(incrementWindowScript)

const compareAndSwapScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  return 0
end
if current ~= ARGV[1] then
  return 2
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl == -1 then
  redis.call("SET", KEYS[1], ARGV[2])
  return 3
end
if ttl <= 0 then
  redis.call("DEL", KEYS[1])
  return 1
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ttl)
return 3
`

var compareAndSwapLua = redis.NewScript(compareAndSwapScript)

// Config tunes per-call behavior of a [Store].
type Config struct {
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// RetryDelay is the pause before the single retry.
	RetryDelay time.Duration
	// DisableRetry turns off the retry entirely.
	DisableRetry bool
}

// Store is the shared key-value store used for revocation markers, session
// records, lockout counters and rate-limit windows. Every call runs under a
// per-attempt timeout and idempotent calls are retried once.
type Store struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Store] backed by the given Redis client.
func New(client redis.UniversalClient, cfg Config) *Store {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	return &Store{redis: client, config: cfg}
}

func run[T any](ctx context.Context, s *Store, retry bool, op func(context.Context) (T, error)) (T, error) {
	attempt := func() (T, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
		v, err := op(callCtx)
		if errors.Is(err, redis.Nil) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	tries := uint(2)
	if !retry || s.config.DisableRetry {
		tries = 1
	}
	v, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewConstantBackOff(s.config.RetryDelay)),
		backoff.WithMaxTries(tries),
	)
	if err != nil && !errors.Is(err, redis.Nil) {
		return v, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v, err
}

// Get returns the value stored at key. A missing key yields ok=false and no error.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := run(ctx, s, true, func(ctx context.Context) (string, error) {
		return s.redis.Get(ctx, key).Result()
	})
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set stores value at key. A ttl of zero keeps the key forever.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := run(ctx, s, true, func(ctx context.Context) (string, error) {
		return s.redis.Set(ctx, key, value, ttl).Result()
	})
	return err
}

// Delete removes keys and reports how many existed.
func (s *Store) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return run(ctx, s, true, func(ctx context.Context) (int64, error) {
		return s.redis.Del(ctx, keys...).Result()
	})
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := run(ctx, s, true, func(ctx context.Context) (int64, error) {
		return s.redis.Exists(ctx, key).Result()
	})
	return n > 0, err
}

// Increment atomically adds one to the integer at key and returns the new value.
// It is never retried: a reply lost after the server applied the INCR would
// count the hit twice.
func (s *Store) Increment(ctx context.Context, key string) (int64, error) {
	return run(ctx, s, false, func(ctx context.Context) (int64, error) {
		return s.redis.Incr(ctx, key).Result()
	})
}

// IncrementWindow increments key and, when the key has no expiry yet, sets
// it to window. The first hit therefore opens a fixed window that later hits
// do not extend. Like Increment it is attempted once.
func (s *Store) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	return run(ctx, s, false, func(ctx context.Context) (int64, error) {
		return incrementWindowLua.Run(ctx, s.redis, []string{key}, window.Milliseconds()).Int64()
	})
}

// Expire sets a ttl on key. It reports false when the key does not exist.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return run(ctx, s, true, func(ctx context.Context) (bool, error) {
		return s.redis.PExpire(ctx, key, ttl).Result()
	})
}

// TTL returns the remaining lifetime of key. Missing keys and keys without
// an expiry both report zero.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := run(ctx, s, true, func(ctx context.Context) (time.Duration, error) {
		return s.redis.PTTL(ctx, key).Result()
	})
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// Members returns the members of the set at key.
func (s *Store) Members(ctx context.Context, key string) ([]string, error) {
	members, err := run(ctx, s, true, func(ctx context.Context) ([]string, error) {
		return s.redis.SMembers(ctx, key).Result()
	})
	if errors.Is(err, redis.Nil) {
		return []string{}, nil
	}
	return members, err
}

// RemoveMember removes member from the set at key.
func (s *Store) RemoveMember(ctx context.Context, key, member string) error {
	_, err := run(ctx, s, true, func(ctx context.Context) (int64, error) {
		return s.redis.SRem(ctx, key, member).Result()
	})
	return err
}

// CompareAndSwap replaces the value at key with next only when it currently
// equals expected, preserving the remaining ttl. It is never retried: a lost
// reply followed by a retry would report a spurious mismatch.
func (s *Store) CompareAndSwap(ctx context.Context, key, expected, next string) (CASResult, error) {
	code, err := run(ctx, s, false, func(ctx context.Context) (int64, error) {
		return compareAndSwapLua.Run(ctx, s.redis, []string{key}, expected, next).Int64()
	})
	if err != nil {
		return CASNotFound, err
	}
	switch code {
	case 0:
		return CASNotFound, nil
	case 1:
		return CASExpired, nil
	case 2:
		return CASMismatch, nil
	case 3:
		return CASSwapped, nil
	default:
		return CASNotFound, fmt.Errorf("%w: unexpected cas status %d", ErrUnavailable, code)
	}
}

// Atomic applies every write queued by fn in a single MULTI/EXEC transaction.
func (s *Store) Atomic(ctx context.Context, fn func(b *Batch)) error {
	_, err := run(ctx, s, true, func(ctx context.Context) ([]redis.Cmder, error) {
		return s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			fn(&Batch{ctx: ctx, pipe: pipe})
			return nil
		})
	})
	return err
}

// Ping checks store availability and returns the round-trip latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	_, err := run(ctx, s, false, func(ctx context.Context) (string, error) {
		return s.redis.Ping(ctx).Result()
	})
	return time.Since(start), err
}

// LoadScripts uploads the Lua scripts so later calls go out as a single
// EVALSHA.
func (s *Store) LoadScripts(ctx context.Context) error {
	for _, script := range []*redis.Script{incrementWindowLua, compareAndSwapLua} {
		if _, err := run(ctx, s, true, func(ctx context.Context) (string, error) {
			return script.Load(ctx, s.redis).Result()
		}); err != nil {
			return err
		}
	}
	return nil
}

// Batch queues writes for [Store.Atomic].
type Batch struct {
	ctx  context.Context
	pipe redis.Pipeliner
}

// Set queues a SET with ttl.
func (b *Batch) Set(key, value string, ttl time.Duration) {
	b.pipe.Set(b.ctx, key, value, ttl)
}

// Delete queues a DEL.
func (b *Batch) Delete(keys ...string) {
	if len(keys) == 0 {
		return
	}
	b.pipe.Del(b.ctx, keys...)
}

// AddMember queues an SADD and refreshes the set's ttl.
func (b *Batch) AddMember(key, member string, ttl time.Duration) {
	b.pipe.SAdd(b.ctx, key, member)
	if ttl > 0 {
		b.pipe.PExpire(b.ctx, key, ttl)
	}
}

// Expire queues a PEXPIRE.
func (b *Batch) Expire(key string, ttl time.Duration) {
	b.pipe.PExpire(b.ctx, key, ttl)
}

// RemoveMember queues an SREM.
func (b *Batch) RemoveMember(key, member string) {
	b.pipe.SRem(b.ctx, key, member)
}
