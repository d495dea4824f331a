package ai

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

type blockingClient struct {
	mu      sync.Mutex
	active  int32
	maxSeen int32
	release chan struct{}
}

func (b *blockingClient) GenerateCompletion(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	current := atomic.AddInt32(&b.active, 1)
	defer atomic.AddInt32(&b.active, -1)

	b.mu.Lock()
	if current > b.maxSeen {
		b.maxSeen = current
	}
	b.mu.Unlock()

	<-b.release
	return "ok", nil
}

func (b *blockingClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...GenerateOption) error {
	return errors.New("not used")
}

func (b *blockingClient) ResetMetrics() {}

func (b *blockingClient) GetMetrics() ModelMetrics { return ModelMetrics{} }

func TestGate_BoundsConcurrency(t *testing.T) {
	inner := &blockingClient{release: make(chan struct{})}
	gate := NewGate(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = gate.GenerateCompletion(context.Background(), "p")
		}()
	}

	close(inner.release)
	wg.Wait()

	inner.mu.Lock()
	defer inner.mu.Unlock()
	if inner.maxSeen > 2 {
		t.Fatalf("gate admitted %d concurrent calls, capacity 2", inner.maxSeen)
	}
}

func TestGate_CancelledAcquire(t *testing.T) {
	inner := &blockingClient{release: make(chan struct{})}
	gate := NewGate(inner, 1)

	// Occupy the single slot.
	go func() { _, _ = gate.GenerateCompletion(context.Background(), "p") }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := gate.GenerateCompletion(ctx, "p")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(inner.release)
}
