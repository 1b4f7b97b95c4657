package messenger

import (
	"context"
	"sync"

	"scriptstudio/pkg/domain"
)

// Sender delivers a request to one receiving context and waits for its
// reply. A missing receiver is a *domain.DeliveryError, never a hang.
// Failures reported by the receiver come back as a Response with Success
// false and a nil error.
type Sender interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// Call sends req and folds a failure response into the returned error.
func Call(ctx context.Context, s Sender, req Request) (Response, error) {
	resp, err := s.Send(ctx, req)
	if err != nil {
		return resp, err
	}
	return resp, resp.Err(req.Type)
}

// LocalTransport connects contexts living in one process.
type LocalTransport struct {
	mu      sync.RWMutex
	routers map[string]*Router
}

func NewLocalTransport() *LocalTransport {
	return &LocalTransport{routers: make(map[string]*Router)}
}

// Register installs r as the receiver for its context name and returns a
// function that removes it.
func (t *LocalTransport) Register(r *Router) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.routers[r.Name()] = r
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.routers[r.Name()] == r {
			delete(t.routers, r.Name())
		}
	}
}

// To returns a Sender addressing the named context.
func (t *LocalTransport) To(target string) Sender {
	return localSender{t: t, target: target}
}

type localSender struct {
	t      *LocalTransport
	target string
}

func (s localSender) Send(ctx context.Context, req Request) (Response, error) {
	s.t.mu.RLock()
	r, ok := s.t.routers[s.target]
	s.t.mu.RUnlock()
	if !ok {
		return Response{}, &domain.DeliveryError{Type: string(req.Type), Reason: "no receiver for " + s.target}
	}
	done := make(chan Response, 1)
	go func() {
		done <- r.Dispatch(ctx, req)
	}()
	select {
	case resp := <-done:
		return resp, nil
	case <-ctx.Done():
		return Response{}, &domain.DeliveryError{Type: string(req.Type), Reason: ctx.Err().Error()}
	}
}
