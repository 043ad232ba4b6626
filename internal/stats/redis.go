package stats

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hamed0406/latencymonitor/internal/probe"
)

// RedisRecorder keeps counters in Redis so they survive restarts:
//
//	<prefix>:domains              SET of domains seen
//	<prefix>:domain:<name>        HASH outcome -> count (cumulative)
//	<prefix>:minute:<yyyymmddhhmm> HASH outcome -> count (expires after ttl)
type RedisRecorder struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*RedisRecorder)

func WithPrefix(prefix string) RedisOption {
	return func(r *RedisRecorder) { r.prefix = strings.Trim(prefix, ":") }
}

func WithBucketTTL(d time.Duration) RedisOption {
	return func(r *RedisRecorder) { r.ttl = d }
}

func NewRedisRecorder(rdb *redis.Client, opts ...RedisOption) *RedisRecorder {
	r := &RedisRecorder{
		rdb:    rdb,
		prefix: "latency:probes",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRecorder) Record(ctx context.Context, o Outcome) error {
	if r == nil || r.rdb == nil {
		return nil
	}
	at := o.At
	if at.IsZero() {
		at = time.Now()
	}
	f := field(o.Failure)

	pipe := r.rdb.Pipeline()
	pipe.SAdd(ctx, r.prefix+":domains", o.Domain)
	pipe.HIncrBy(ctx, r.prefix+":domain:"+o.Domain, f, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", r.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, f, 1)
	if r.ttl > 0 {
		pipe.Expire(ctx, bucketKey, r.ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisRecorder) Counters(ctx context.Context) (map[string]Counters, error) {
	domains, err := r.rdb.SMembers(ctx, r.prefix+":domains").Result()
	if err != nil {
		return nil, fmt.Errorf("stats domains: %w", err)
	}
	out := make(map[string]Counters, len(domains))
	for _, d := range domains {
		h, err := r.rdb.HGetAll(ctx, r.prefix+":domain:"+d).Result()
		if err != nil {
			return nil, fmt.Errorf("stats %s: %w", d, err)
		}
		var c Counters
		for k, v := range h {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				continue
			}
			if k == "ok" {
				c.add(probe.FailureNone, n)
				continue
			}
			c.add(probe.Failure(k), n)
		}
		out[d] = c
	}
	return out, nil
}
