package ai

import (
	"context"
	"errors"
	"time"
)

// Deadline wraps a CompletionClient so every call is bounded by a fixed
// timeout. Expiry surfaces as ErrTimeout regardless of how the backend
// reports it, so a hung backend can never stall a caller indefinitely.
type Deadline struct {
	inner   CompletionClient
	timeout time.Duration
}

// NewDeadline creates a Deadline around client. A timeout <= 0 falls back to
// 120 seconds.
func NewDeadline(client CompletionClient, timeout time.Duration) *Deadline {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Deadline{
		inner:   client,
		timeout: timeout,
	}
}

// GenerateCompletion forwards to the wrapped client under the deadline.
func (d *Deadline) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...GenerateOption,
) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := d.inner.GenerateCompletion(ctx, prompt, opts...)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", ClassifyError(ctx.Err())
	}
	return out, err
}

// GenerateCompletionWithFormat forwards to the wrapped client under the
// deadline.
func (d *Deadline) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...GenerateOption,
) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.inner.GenerateCompletionWithFormat(ctx, name, description, prompt, out, opts...)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ClassifyError(ctx.Err())
	}
	return err
}

// ResetMetrics forwards to the wrapped client.
func (d *Deadline) ResetMetrics() {
	d.inner.ResetMetrics()
}

// GetMetrics forwards to the wrapped client.
func (d *Deadline) GetMetrics() ModelMetrics {
	return d.inner.GetMetrics()
}
