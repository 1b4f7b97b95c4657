package quota

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1])}
`)

// ErrExceeded is returned by Take when the window's quota is used up.
var ErrExceeded = errors.New("generation quota exceeded")

// Decision is the outcome of one Take.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// FixedWindow limits generation calls per key (model name, context) in a
// fixed time window shared by every process using the same Redis.
type FixedWindow struct {
	limit  int
	window time.Duration
	client *redis.Client
	prefix string
}

// NewFixedWindow creates a Redis-backed limiter.
func NewFixedWindow(client *redis.Client, prefix string, limit int, window time.Duration) (*FixedWindow, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("quota requires positive limit and window")
	}
	if client == nil {
		return nil, errors.New("quota redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "studio:quota"
	}
	return &FixedWindow{limit: limit, window: window, client: client, prefix: prefix}, nil
}

// Take consumes one unit of key's quota. On Redis failures it fails closed.
func (l *FixedWindow) Take(ctx context.Context, key string) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "default"
	}
	windowMs := l.window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
	res, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("quota %s: %w", key, err)
	}
	count, ttl := res[0], res[1]
	d := Decision{
		Allowed:   count <= int64(l.limit),
		Remaining: max(l.limit-int(count), 0),
		ResetIn:   time.Duration(max(ttl, 0)) * time.Millisecond,
	}
	if !d.Allowed {
		return d, ErrExceeded
	}
	return d, nil
}
