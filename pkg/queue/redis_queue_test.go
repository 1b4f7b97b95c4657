package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, cfg RedisQueueConfig) *RedisJobQueue {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	cfg.Client = redis.NewClient(&redis.Options{Addr: redisSrv.Addr()})
	if cfg.Stream == "" {
		cfg.Stream = "test:queue"
	}
	if cfg.Group == "" {
		cfg.Group = "test-group"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "consumer-1"
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	if cfg.Block == 0 {
		cfg.Block = 50 * time.Millisecond
	}
	q, err := NewRedisJobQueue(cfg)
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q
}

func TestRedisJobQueueRequeueAndAckSuccess(t *testing.T) {
	q, ctx, msgID, jobID := newPendingQueueMessage(t)

	if err := q.requeueAndAck(ctx, msgID, jobID); err != nil {
		t.Fatalf("requeue and ack: %v", err)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending messages, got %d", pending.Count)
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-2",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	if err != nil {
		t.Fatalf("read requeued message: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one requeued message, got %+v", streams)
	}
	if got := streams[0].Messages[0]; got.Values["job_id"] != jobID {
		t.Fatalf("unexpected requeued payload: %+v", got.Values)
	}
}

func TestRedisJobQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, ctx, msgID, jobID := newPendingQueueMessage(t)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if err := q.requeueAndAck(canceledCtx, msgID, jobID); err == nil {
		t.Fatalf("expected requeueAndAck to fail on canceled context")
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected original message to remain pending, got %d", pending.Count)
	}
	if n, _ := q.client.XLen(ctx, q.stream).Result(); n != 1 {
		t.Fatalf("expected no new message in stream on failure, got len=%d", n)
	}
}

func TestWorkerCompletesJob(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx, 1, func(_ context.Context, job Job) (json.RawMessage, error) {
		if job.Kind != KindScript || string(job.Input) != `{"topic":"rain"}` {
			return nil, errors.New("unexpected job")
		}
		return json.RawMessage(`{"scriptId":7}`), nil
	})
	job, err := q.Enqueue(ctx, KindScript, json.RawMessage(`{"topic":"rain"}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, 3*time.Second)
	defer waitCancel()
	done, err := q.Wait(waitCtx, job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusDone || string(done.Result) != `{"scriptId":7}` || done.Attempts != 1 {
		t.Fatalf("unexpected job: %+v", done)
	}
}

func TestWorkerRetriesThenFails(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{MaxRetries: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	q.Start(ctx, 1, func(context.Context, Job) (json.RawMessage, error) {
		calls.Add(1)
		return nil, errors.New("model unavailable")
	})
	job, err := q.Enqueue(ctx, KindScript, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitCtx, waitCancel := context.WithTimeout(ctx, 3*time.Second)
	defer waitCancel()
	done, err := q.Wait(waitCtx, job.ID, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if done.Status != StatusFailed || done.ErrorMessage != "model unavailable" || done.Attempts != 2 {
		t.Fatalf("unexpected job: %+v", done)
	}
	if calls.Load() != 2 {
		t.Fatalf("handler calls: got %d want 2", calls.Load())
	}
}

func TestCanceledJobIsSkipped(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.ensureGroup(ctx)
	job, err := q.Enqueue(ctx, KindScript, nil)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	canceled, err := q.Cancel(ctx, job.ID)
	if err != nil || canceled.Status != StatusCanceled {
		t.Fatalf("cancel: %+v err=%v", canceled, err)
	}

	var calls atomic.Int32
	q.Start(ctx, 1, func(context.Context, Job) (json.RawMessage, error) {
		calls.Add(1)
		return nil, nil
	})
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if n, _ := q.client.XLen(ctx, q.stream).Result(); n == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if calls.Load() != 0 {
		t.Fatalf("handler ran for canceled job")
	}
	got, ok, _ := q.GetJob(ctx, job.ID)
	if !ok || got.Status != StatusCanceled {
		t.Fatalf("job status: %+v", got)
	}
}

func TestCancelKeepsTerminalStatusAndUnknownJob(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{})
	ctx := context.Background()
	if _, err := q.Cancel(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	job, _ := q.Enqueue(ctx, KindScript, nil)
	if err := q.finish(ctx, job.ID, StatusDone, json.RawMessage(`"ok"`), ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, err := q.Cancel(ctx, job.ID)
	if err != nil || got.Status != StatusDone {
		t.Fatalf("cancel after done: %+v err=%v", got, err)
	}
}

func TestResultDroppedWhenCanceledMidRun(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{})
	ctx := context.Background()
	job, _ := q.Enqueue(ctx, KindScript, nil)
	if _, ok, err := q.markProcessing(ctx, job.ID); !ok || err != nil {
		t.Fatalf("mark processing: ok=%v err=%v", ok, err)
	}
	if _, err := q.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := q.finish(ctx, job.ID, StatusDone, json.RawMessage(`{"scriptId":1}`), ""); err != nil {
		t.Fatalf("finish: %v", err)
	}
	got, _, _ := q.GetJob(ctx, job.ID)
	if got.Status != StatusCanceled || got.Result != nil {
		t.Fatalf("expected canceled job without result, got %+v", got)
	}
}

func TestEnqueueRejectsKindsWithoutWorker(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{})
	ctx := context.Background()
	if _, err := q.Enqueue(ctx, "image", nil); !errors.Is(err, ErrUnsupportedKind) {
		t.Fatalf("expected unsupported kind, got %v", err)
	}
	if n, _ := q.client.XLen(ctx, q.stream).Result(); n != 0 {
		t.Fatalf("rejected job reached the stream: len=%d", n)
	}

	wide := newTestQueue(t, RedisQueueConfig{Kinds: []string{KindScript, "image"}})
	if _, err := wide.Enqueue(ctx, "image", nil); err != nil {
		t.Fatalf("configured kind rejected: %v", err)
	}
}

func TestWaitStopsWithContext(t *testing.T) {
	q := newTestQueue(t, RedisQueueConfig{})
	job, _ := q.Enqueue(context.Background(), KindScript, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	got, err := q.Wait(ctx, job.ID, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) || got.Status != StatusQueued {
		t.Fatalf("wait: %+v err=%v", got, err)
	}
}

func newPendingQueueMessage(t *testing.T) (*RedisJobQueue, context.Context, string, string) {
	t.Helper()

	q := newTestQueue(t, RedisQueueConfig{})
	ctx := context.Background()
	q.ensureGroup(ctx)

	job, err := q.Enqueue(ctx, KindScript, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "consumer-1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	if err != nil {
		t.Fatalf("readgroup: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	return q, ctx, streams[0].Messages[0].ID, job.ID
}
