package ratelimit

import (
    "context"
    "sync"
    "time"
)

// Pacer gates the orchestrator between provider batches. The orchestrator
// calls Wait before every batch; implementations decide how long to hold
// it. Tests inject a zero-interval pacer.
type Pacer interface {
    Wait(ctx context.Context) error
}

// Interval enforces a minimum time between calls. The first call passes
// immediately; later calls wait until the interval has elapsed since the
// previous one, or return early if the context is canceled.
type Interval struct {
    Interval time.Duration

    mu   sync.Mutex
    last time.Time
}

func NewInterval(d time.Duration) *Interval { return &Interval{Interval: d} }

func (m *Interval) Wait(ctx context.Context) error {
    if m.Interval > 0 {
        m.mu.Lock()
        wait := time.Until(m.last.Add(m.Interval))
        m.mu.Unlock()
        if wait > 0 {
            t := time.NewTimer(wait)
            defer t.Stop()
            select {
            case <-ctx.Done():
                return ctx.Err()
            case <-t.C:
            }
        }
        m.mu.Lock()
        m.last = time.Now()
        m.mu.Unlock()
    }
    return nil
}
