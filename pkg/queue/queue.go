package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DLQPrefix is prepended to a queue name to form its dead-letter list.
const DLQPrefix = "DLQ:"

// DLQName returns the dead-letter list name for a queue.
func DLQName(queue string) string {
	return DLQPrefix + queue
}

// Client is a thin wrapper over Redis providing the primitives the
// pipeline relies on: atomic multi-queue pop, JSON get/set with TTL,
// list, sorted-set and set operations, and pipelined multi-key writes.
// Transient connection failures are retried inside go-redis with capped
// exponential backoff; persistent failures surface to the caller.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to the Redis endpoint given as a URL
// (redis://host:port/db).
func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.MaxRetries = 3
	opts.MinRetryBackoff = 100 * time.Millisecond
	opts.MaxRetryBackoff = 2 * time.Second
	return &Client{rdb: redis.NewClient(opts)}, nil
}

// NewClientFromRedis wraps an existing go-redis client. Used by tests
// and by callers that manage their own connection options.
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// BlockingPop blocks up to timeout for an item on any of the given
// queues, popping from the first non-empty queue in declared order.
// ok is false when the timeout elapsed with nothing to pop.
func (c *Client) BlockingPop(ctx context.Context, queues []string, timeout time.Duration) (queue, value string, ok bool, err error) {
	if len(queues) == 0 {
		return "", "", false, nil
	}
	res, err := c.rdb.BLPop(ctx, timeout, queues...).Result()
	if errors.Is(err, redis.Nil) {
		return "", "", false, nil
	}
	if err != nil {
		return "", "", false, fmt.Errorf("blocking pop failed: %w", err)
	}
	// BLPOP returns [key, value]
	return res[0], res[1], true, nil
}

// PushLeft pushes a value to the head of a queue. Used to return an
// in-flight item on shutdown so it is picked up first.
func (c *Client) PushLeft(ctx context.Context, queue, value string) error {
	return c.rdb.LPush(ctx, queue, value).Err()
}

// PushRight pushes a value to the tail of a queue (normal FIFO insert).
func (c *Client) PushRight(ctx context.Context, queue, value string) error {
	return c.rdb.RPush(ctx, queue, value).Err()
}

// Length returns the number of items on a queue.
func (c *Client) Length(ctx context.Context, queue string) (int64, error) {
	return c.rdb.LLen(ctx, queue).Result()
}

// Range returns queue items between start and stop (LRANGE semantics).
func (c *Client) Range(ctx context.Context, queue string, start, stop int64) ([]string, error) {
	return c.rdb.LRange(ctx, queue, start, stop).Result()
}

// Remove removes up to count occurrences of value from a queue,
// returning how many were removed.
func (c *Client) Remove(ctx context.Context, queue, value string, count int64) (int64, error) {
	return c.rdb.LRem(ctx, queue, count, value).Result()
}

// PopLeft pops the head of a queue without blocking. ok is false when
// the queue is empty.
func (c *Client) PopLeft(ctx context.Context, queue string) (string, bool, error) {
	res, err := c.rdb.LPop(ctx, queue).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return res, true, nil
}

// MoveHeadToTail atomically pops the head of src and pushes it onto the
// tail of dst (LMOVE). ok is false when src is empty.
func (c *Client) MoveHeadToTail(ctx context.Context, src, dst string) (string, bool, error) {
	res, err := c.rdb.LMove(ctx, src, dst, "LEFT", "RIGHT").Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return res, true, nil
}

// SetJSON marshals v and stores it at key. A ttl of 0 stores without
// expiry. Payload size is not bounded here; callers enforce limits.
func (c *Client) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

// GetJSON reads key into dest. ok is false when the key is absent.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Delete removes keys. Missing keys are not an error.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Expire sets a key's TTL. A ttl of 0 removes the expiry.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if ttl == 0 {
		return c.rdb.Persist(ctx, key).Err()
	}
	return c.rdb.Expire(ctx, key, ttl).Err()
}

// TTL returns the remaining TTL of a key.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	return c.rdb.TTL(ctx, key).Result()
}

// ZAdd inserts or updates a sorted-set member with the given score.
func (c *Client) ZAdd(ctx context.Context, set, member string, score float64) error {
	return c.rdb.ZAdd(ctx, set, redis.Z{Score: score, Member: member}).Err()
}

// ZRem removes a sorted-set member.
func (c *Client) ZRem(ctx context.Context, set, member string) error {
	return c.rdb.ZRem(ctx, set, member).Err()
}

// ZRangeByScore returns members with min <= score <= max.
func (c *Client) ZRangeByScore(ctx context.Context, set string, min, max float64) ([]string, error) {
	return c.rdb.ZRangeByScore(ctx, set, &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}).Result()
}

// SAdd adds members to a set.
func (c *Client) SAdd(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb.SAdd(ctx, set, args...).Err()
}

// SRem removes members from a set.
func (c *Client) SRem(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return c.rdb.SRem(ctx, set, args...).Err()
}

// SMembers returns all members of a set.
func (c *Client) SMembers(ctx context.Context, set string) ([]string, error) {
	return c.rdb.SMembers(ctx, set).Result()
}

// SInter returns the intersection of the given sets.
func (c *Client) SInter(ctx context.Context, sets ...string) ([]string, error) {
	return c.rdb.SInter(ctx, sets...).Result()
}

// Scan iterates keys matching pattern. Maintenance use only; SCAN is
// O(keyspace) and has no ordering guarantee.
func (c *Client) Scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Pipelined runs fn against a transactional pipeline so that multi-key
// cache and index updates land atomically. Errors surface to the
// caller, as with every other method on the client.
func (c *Client) Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) error {
	_, err := c.rdb.TxPipelined(ctx, fn)
	return err
}
