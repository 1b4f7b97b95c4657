package messenger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"scriptstudio/pkg/domain"
)

// RedisConfig configures the Redis transport.
type RedisConfig struct {
	// Prefix namespaces every key. Defaults to "studio:msg".
	Prefix string
	// AckTimeout bounds the wait for a receiver to pick up a request.
	AckTimeout time.Duration
	// ResponseTimeout bounds the wait for the reply once acknowledged.
	ResponseTimeout time.Duration
	// HeartbeatInterval is how often a serving context refreshes its
	// presence key.
	HeartbeatInterval time.Duration
}

// RedisTransport connects contexts running in separate processes. A request
// is pushed onto the target's request list; the receiver acknowledges it on
// a per-request reply list before handling it and then pushes the response
// there. A sender that finds no live receiver, or gets no acknowledgment in
// time, fails with a delivery error.
//
// Sender and receiver race for a per-request claim key with SET NX: the
// receiver claims a request before acknowledging it, and a sender whose ack
// wait ran out claims it before giving up. Whoever loses backs off, so a
// request the sender reported as undelivered never runs.
type RedisTransport struct {
	client *redis.Client
	cfg    RedisConfig
}

type replyEnvelope struct {
	Kind     string    `json:"kind"`
	Response *Response `json:"response,omitempty"`
}

const (
	replyAck      = "ack"
	replyResponse = "response"
)

func NewRedisTransport(client *redis.Client, cfg RedisConfig) *RedisTransport {
	cfg.Prefix = strings.TrimSpace(cfg.Prefix)
	if cfg.Prefix == "" {
		cfg.Prefix = "studio:msg"
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 2 * time.Second
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = time.Second
	}
	return &RedisTransport{client: client, cfg: cfg}
}

func (t *RedisTransport) requestsKey(target string) string {
	return t.cfg.Prefix + ":" + target + ":requests"
}

func (t *RedisTransport) aliveKey(target string) string {
	return t.cfg.Prefix + ":" + target + ":alive"
}

func (t *RedisTransport) replyKey(id string) string {
	return t.cfg.Prefix + ":reply:" + id
}

func (t *RedisTransport) claimKey(id string) string {
	return t.cfg.Prefix + ":claim:" + id
}

const (
	claimSender   = "sender"
	claimReceiver = "receiver"
)

// claim reports whether owner took the claim on request id.
func (t *RedisTransport) claim(ctx context.Context, id, owner string) (bool, error) {
	return t.client.SetNX(ctx, t.claimKey(id), owner, t.cfg.AckTimeout+t.cfg.ResponseTimeout).Result()
}

// To returns a Sender addressing the named context.
func (t *RedisTransport) To(target string) Sender {
	return redisSender{t: t, target: target}
}

type redisSender struct {
	t      *RedisTransport
	target string
}

func (s redisSender) Send(ctx context.Context, req Request) (Response, error) {
	t := s.t
	fail := func(reason string) (Response, error) {
		return Response{}, &domain.DeliveryError{Type: string(req.Type), Reason: reason}
	}
	if req.ID == "" {
		return fail("request id required")
	}
	alive, err := t.client.Exists(ctx, t.aliveKey(s.target)).Result()
	if err != nil {
		return fail(err.Error())
	}
	if alive == 0 {
		return fail("no receiver for " + s.target)
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return fail(fmt.Sprintf("encode request: %v", err))
	}
	if err := t.client.LPush(ctx, t.requestsKey(s.target), raw).Err(); err != nil {
		return fail(err.Error())
	}
	replyKey := t.replyKey(req.ID)
	defer t.client.Del(context.WithoutCancel(ctx), replyKey)

	env, err := t.waitReply(ctx, replyKey, t.cfg.AckTimeout)
	if errors.Is(err, redis.Nil) {
		won, cerr := t.claim(context.WithoutCancel(ctx), req.ID, claimSender)
		if cerr != nil {
			return fail(cerr.Error())
		}
		if won {
			// Withdraw the request; a receiver popping it later finds the
			// claim taken and drops it.
			t.client.LRem(context.WithoutCancel(ctx), t.requestsKey(s.target), 1, raw)
			return fail("no acknowledgment from " + s.target)
		}
		// The receiver claimed the request and its ack is on the way.
		env, err = t.waitReply(ctx, replyKey, t.cfg.AckTimeout)
		if errors.Is(err, redis.Nil) {
			return fail("no acknowledgment from " + s.target)
		}
	}
	if err != nil {
		return fail(err.Error())
	}
	if env.Kind == replyAck {
		env, err = t.waitReply(ctx, replyKey, t.cfg.ResponseTimeout)
		if errors.Is(err, redis.Nil) {
			return fail(s.target + " did not reply")
		}
		if err != nil {
			return fail(err.Error())
		}
	}
	if env.Kind != replyResponse || env.Response == nil {
		return fail("malformed reply")
	}
	return *env.Response, nil
}

func (t *RedisTransport) waitReply(ctx context.Context, key string, timeout time.Duration) (replyEnvelope, error) {
	vals, err := t.client.BLPop(ctx, timeout, key).Result()
	if err != nil {
		return replyEnvelope{}, err
	}
	var env replyEnvelope
	if err := json.Unmarshal([]byte(vals[1]), &env); err != nil {
		return replyEnvelope{}, fmt.Errorf("decode reply: %w", err)
	}
	return env, nil
}

// Serve receives requests for r.Name() until ctx is done. Each request is
// acknowledged before its handler runs; handlers run concurrently.
func (t *RedisTransport) Serve(ctx context.Context, r *Router) error {
	target := r.Name()
	alive := t.aliveKey(target)
	if err := t.client.Set(ctx, alive, "1", 3*t.cfg.HeartbeatInterval).Err(); err != nil {
		return fmt.Errorf("register receiver %s: %w", target, err)
	}
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		t.client.Del(context.WithoutCancel(ctx), alive)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(t.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := t.client.Set(ctx, alive, "1", 3*t.cfg.HeartbeatInterval).Err(); err != nil && ctx.Err() == nil {
					slog.Warn("messenger: heartbeat failed", "context", target, "err", err)
				}
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		vals, err := t.client.BRPop(ctx, time.Second, t.requestsKey(target)).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("messenger: receive failed", "context", target, "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		var req Request
		if err := json.Unmarshal([]byte(vals[1]), &req); err != nil || req.ID == "" {
			slog.Warn("messenger: drop malformed request", "context", target, "err", err)
			continue
		}
		won, err := t.claim(ctx, req.ID, claimReceiver)
		if err != nil {
			slog.Warn("messenger: claim failed", "context", target, "id", req.ID, "err", err)
			continue
		}
		if !won {
			slog.Info("messenger: drop request abandoned by sender", "context", target, "id", req.ID, "type", req.Type)
			continue
		}
		replyKey := t.replyKey(req.ID)
		if err := t.pushReply(ctx, replyKey, replyEnvelope{Kind: replyAck}); err != nil {
			slog.Warn("messenger: ack failed", "context", target, "id", req.ID, "err", err)
			continue
		}
		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			resp := r.Dispatch(ctx, req)
			if err := t.pushReply(context.WithoutCancel(ctx), replyKey, replyEnvelope{Kind: replyResponse, Response: &resp}); err != nil {
				slog.Warn("messenger: reply failed", "context", target, "id", req.ID, "err", err)
			}
		}(req)
	}
}

func (t *RedisTransport) pushReply(ctx context.Context, key string, env replyEnvelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	pipe := t.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.Expire(ctx, key, t.cfg.AckTimeout+t.cfg.ResponseTimeout)
	_, err = pipe.Exec(ctx)
	return err
}
