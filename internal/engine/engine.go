// Package engine holds what the transcription and synthesis gateways share:
// the per-engine capability flag and the bounded pool engine calls run on.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// Capability is fixed when an engine is constructed and never re-probed.
type Capability int

const (
	Unavailable Capability = iota
	Ready
	// Degraded engines are usable but run without the audio decoder.
	Degraded
)

func (c Capability) String() string {
	switch c {
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	default:
		return "unavailable"
	}
}

// Usable reports whether a gateway should dispatch to the engine.
func (c Capability) Usable() bool {
	return c == Ready || c == Degraded
}

func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ErrTimeout marks an engine call cut off by the pool's ceiling.
var ErrTimeout = errors.New("engine call timed out")

const defaultTimeout = 30 * time.Second

// Pool bounds how many engine calls run at once across all sessions and
// caps how long each call may take.
type Pool struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func NewPool(concurrency int, timeout time.Duration) *Pool {
	if concurrency <= 0 {
		concurrency = 8
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Pool{sem: semaphore.NewWeighted(int64(concurrency)), timeout: timeout}
}

// Do runs fn once a slot is free, under the pool timeout.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire engine slot: %w", err)
	}
	defer p.sem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w after %v: %v", ErrTimeout, p.timeout, err)
	}
	return err
}

func (p *Pool) Timeout() time.Duration {
	return p.timeout
}
