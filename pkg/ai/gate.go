package ai

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate wraps a CompletionClient with a capacity-bounded admission semaphore.
// Every component that talks to the completion service (extraction, resolver
// summarization, community summarization, query synthesis) shares one Gate,
// so callers queue rather than spawning unbounded concurrent generations.
//
// The default capacity is 1: a local model instance rarely parallelizes
// generation efficiently.
type Gate struct {
	inner CompletionClient
	sem   *semaphore.Weighted
}

// NewGate creates a Gate around client admitting at most capacity concurrent
// calls. A capacity <= 0 is treated as 1.
func NewGate(client CompletionClient, capacity int64) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	return &Gate{
		inner: client,
		sem:   semaphore.NewWeighted(capacity),
	}
}

// GenerateCompletion acquires a slot, blocking until one is free or ctx is
// done, then forwards to the wrapped client.
func (g *Gate) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...GenerateOption,
) (string, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return "", ClassifyError(err)
	}
	defer g.sem.Release(1)

	return g.inner.GenerateCompletion(ctx, prompt, opts...)
}

// GenerateCompletionWithFormat acquires a slot, blocking until one is free or
// ctx is done, then forwards to the wrapped client.
func (g *Gate) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...GenerateOption,
) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return ClassifyError(err)
	}
	defer g.sem.Release(1)

	return g.inner.GenerateCompletionWithFormat(ctx, name, description, prompt, out, opts...)
}

// ResetMetrics forwards to the wrapped client.
func (g *Gate) ResetMetrics() {
	g.inner.ResetMetrics()
}

// GetMetrics forwards to the wrapped client.
func (g *Gate) GetMetrics() ModelMetrics {
	return g.inner.GetMetrics()
}
