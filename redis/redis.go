// Package redis maintains the denormalized reaction counters. Each target
// owns one hash keyed by kind, so a whole counter read is a single HGETALL
// and a kind change touches exactly one key.
package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Xpertly-in/reactions/reaction"
	"github.com/redis/go-redis/v9"
)

// Redis provides reaction counter storage in Redis. It implements
// reaction.Counters.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
	}, nil
}

const counterPrefix = "reactions"

// decrFloored decrements one kind field, clamping at zero. A negative count
// can only appear if a delta was applied twice; clamping keeps a bug from
// propagating into the UI.
var decrFloored = redis.NewScript(`
local c = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if c < 0 then
	redis.call('HSET', KEYS[1], ARGV[1], 0)
end
return redis.status_reply('OK')
`)

// changeKinds moves one reaction from one kind field to another as a single
// atomic unit. No reader can observe the decrement without the increment.
var changeKinds = redis.NewScript(`
local c = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if c < 0 then
	redis.call('HSET', KEYS[1], ARGV[1], 0)
end
redis.call('HINCRBY', KEYS[1], ARGV[2], 1)
return redis.status_reply('OK')
`)

func counterKey(targetType reaction.TargetType, targetID int64) string {
	return fmt.Sprintf("%s:%s:%d:counts", counterPrefix, targetType, targetID)
}

// ApplyInsert increments the target's count for kind by one.
func (r *Redis) ApplyInsert(ctx context.Context, target reaction.TargetRef, kind reaction.Kind) error {
	key := counterKey(target.Type, target.ID)
	if err := r.cli.HIncrBy(ctx, key, string(kind), 1).Err(); err != nil {
		return fmt.Errorf("hincrby: %w", err)
	}
	return nil
}

// ApplyChange atomically decrements from and increments to.
func (r *Redis) ApplyChange(ctx context.Context, target reaction.TargetRef, from, to reaction.Kind) error {
	key := counterKey(target.Type, target.ID)
	if err := changeKinds.Run(ctx, r.cli, []string{key}, string(from), string(to)).Err(); err != nil {
		return fmt.Errorf("change kinds: %w", err)
	}
	return nil
}

// ApplyDelete decrements the target's count for kind by one, floored at zero.
func (r *Redis) ApplyDelete(ctx context.Context, target reaction.TargetRef, kind reaction.Kind) error {
	key := counterKey(target.Type, target.ID)
	if err := decrFloored.Run(ctx, r.cli, []string{key}, string(kind)).Err(); err != nil {
		return fmt.Errorf("decrement: %w", err)
	}
	return nil
}

// Get returns the target's per-kind counts. A target nobody has reacted to
// yields an empty map.
func (r *Redis) Get(ctx context.Context, target reaction.TargetRef) (reaction.Counts, error) {
	vals, err := r.cli.HGetAll(ctx, counterKey(target.Type, target.ID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall: %w", err)
	}
	return parseCounts(vals)
}

// GetMany returns counts for many targets of one type using a single
// pipelined round trip.
func (r *Redis) GetMany(ctx context.Context, targetType reaction.TargetType, targetIDs []int64) (map[int64]reaction.Counts, error) {
	cmds := make([]*redis.MapStringStringCmd, len(targetIDs))
	_, err := r.cli.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range targetIDs {
			cmds[i] = pipe.HGetAll(ctx, counterKey(targetType, id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pipelined hgetall: %w", err)
	}

	out := make(map[int64]reaction.Counts, len(targetIDs))
	for i, id := range targetIDs {
		counts, err := parseCounts(cmds[i].Val())
		if err != nil {
			return nil, err
		}
		out[id] = counts
	}
	return out, nil
}

// Rebuild replaces the target's counter hash with counts computed from the
// record store. Delete and rewrite run in one transaction so readers never
// see the hash half-built.
func (r *Redis) Rebuild(ctx context.Context, target reaction.TargetRef, counts reaction.Counts) error {
	key := counterKey(target.Type, target.ID)
	_, err := r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(counts) > 0 {
			fields := make([]interface{}, 0, len(counts)*2)
			for kind, n := range counts {
				fields = append(fields, string(kind), n)
			}
			pipe.HSet(ctx, key, fields...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rebuild counters: %w", err)
	}
	return nil
}

func parseCounts(vals map[string]string) (reaction.Counts, error) {
	counts := make(reaction.Counts, len(vals))
	for field, val := range vals {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse count %q: %w", val, err)
		}
		counts[reaction.Kind(field)] = n
	}
	return counts, nil
}
