package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"archivegate/internal/privacy/ledger/models"
)

// RedisStore keeps each account as a ZSET of allocation ids scored by
// reservation time plus a HASH of allocation id to epsilon. Every mutation
// is a single Lua script, so concurrent reserves on one account serialize
// inside Redis.
type RedisStore struct {
	client redis.UniversalClient
}

func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func keys(k models.Key) []string {
	base := "privacy_budget:{" + k.RequesterID + ":" + k.DatasetID + "}"
	return []string{base + ":times", base + ":eps"}
}

// KEYS: times, eps. ARGV: now_ms, cutoff_ms (0 = lifetime), cap, epsilon, id, ttl_ms.
var reserveScript = redis.NewScript(`
local cutoff = tonumber(ARGV[2])
if cutoff > 0 then
  local old = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', cutoff)
  for _, id in ipairs(old) do redis.call('HDEL', KEYS[2], id) end
  redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', cutoff)
end
local spent = 0
for _, v in ipairs(redis.call('HVALS', KEYS[2])) do spent = spent + tonumber(v) end
if redis.call('HEXISTS', KEYS[2], ARGV[5]) == 1 then
  return {1, tostring(spent)}
end
local eps = tonumber(ARGV[4])
if spent + eps > tonumber(ARGV[3]) + 1e-9 then
  return {0, tostring(spent)}
end
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[5])
redis.call('HSET', KEYS[2], ARGV[5], ARGV[4])
local ttl = tonumber(ARGV[6])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return {1, tostring(spent + eps)}
`)

// KEYS: times, eps. ARGV: id.
var releaseScript = redis.NewScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
return redis.call('HDEL', KEYS[2], ARGV[1])
`)

// KEYS: times, eps. ARGV: cutoff_ms (0 = lifetime).
var spentScript = redis.NewScript(`
local cutoff = tonumber(ARGV[1])
local spent = 0
for _, id in ipairs(redis.call('ZRANGEBYSCORE', KEYS[1], '(' .. cutoff, '+inf')) do
  local v = redis.call('HGET', KEYS[2], id)
  if v then spent = spent + tonumber(v) end
end
return tostring(spent)
`)

func cutoffMillis(policy models.Policy, now time.Time) int64 {
	c := policy.Cutoff(now)
	if c.IsZero() {
		return 0
	}
	return c.UnixMilli()
}

func (s *RedisStore) Reserve(ctx context.Context, alloc models.Allocation, policy models.Policy) (float64, error) {
	var ttl int64
	if policy.Window == models.WindowRolling {
		ttl = policy.Duration.Milliseconds()
	}
	res, err := reserveScript.Run(ctx, s.client, keys(alloc.Key()),
		alloc.ReservedAt.UnixMilli(),
		cutoffMillis(policy, alloc.ReservedAt),
		strconv.FormatFloat(policy.EpsilonCap, 'g', -1, 64),
		strconv.FormatFloat(alloc.Epsilon, 'g', -1, 64),
		alloc.ID,
		ttl,
	).Slice()
	if err != nil {
		return 0, fmt.Errorf("reserve budget: %w", err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("reserve budget: unexpected script reply %v", res)
	}
	spent, err := strconv.ParseFloat(fmt.Sprint(res[1]), 64)
	if err != nil {
		return 0, fmt.Errorf("reserve budget: parse spent: %w", err)
	}
	if ok, _ := res[0].(int64); ok != 1 {
		return spent, fmt.Errorf("spent %.6f + %.6f > cap %.6f: %w", spent, alloc.Epsilon, policy.EpsilonCap, models.ErrExceeded)
	}
	return spent, nil
}

func (s *RedisStore) Release(ctx context.Context, alloc models.Allocation) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, keys(alloc.Key()), alloc.ID).Int64()
	if err != nil {
		return false, fmt.Errorf("release budget: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Spent(ctx context.Context, key models.Key, policy models.Policy, now time.Time) (float64, error) {
	raw, err := spentScript.Run(ctx, s.client, keys(key), cutoffMillis(policy, now)).Text()
	if err != nil {
		return 0, fmt.Errorf("read budget: %w", err)
	}
	return strconv.ParseFloat(raw, 64)
}
