package breaker

import (
    "sync"
    "sync/atomic"
    "time"
)

// DefaultThreshold is the consecutive-failure count that opens a breaker.
const DefaultThreshold = 10

// Breaker tracks consecutive failures per provider and gates access once
// a provider crosses the threshold. One Breaker is shared by all adapters
// of a pipeline; counters are atomic so the per-symbol fan-outs inside an
// adapter can record concurrently.
//
// With Cooldown == 0 an open breaker stays open until a success resets it,
// which a skipped provider can never produce. Cooldown > 0 lets calls
// through again once the cooldown has elapsed since the breaker opened,
// so a recovered provider gets a chance to reset itself.
type Breaker struct {
    Threshold int
    Cooldown  time.Duration

    mu       sync.Mutex
    counters map[string]*state
}

type state struct {
    failures atomic.Int64
    openedAt atomic.Int64 // unix nanos of the failure that opened the breaker
}

func New(threshold int, cooldown time.Duration) *Breaker {
    if threshold <= 0 { threshold = DefaultThreshold }
    return &Breaker{Threshold: threshold, Cooldown: cooldown, counters: make(map[string]*state)}
}

func (b *Breaker) get(name string) *state {
    b.mu.Lock()
    defer b.mu.Unlock()
    s, ok := b.counters[name]
    if !ok {
        s = &state{}
        b.counters[name] = s
    }
    return s
}

// RecordFailure increments the provider's consecutive-failure count.
func (b *Breaker) RecordFailure(name string) {
    s := b.get(name)
    if s.failures.Add(1) == int64(b.Threshold) {
        s.openedAt.Store(time.Now().UnixNano())
    }
}

// RecordSuccess resets the provider's count to zero.
func (b *Breaker) RecordSuccess(name string) {
    s := b.get(name)
    s.failures.Store(0)
    s.openedAt.Store(0)
}

// IsOpen reports whether calls to the provider should be skipped.
func (b *Breaker) IsOpen(name string) bool {
    s := b.get(name)
    if s.failures.Load() < int64(b.Threshold) {
        return false
    }
    if b.Cooldown > 0 {
        opened := s.openedAt.Load()
        if opened > 0 && time.Since(time.Unix(0, opened)) >= b.Cooldown {
            // Half-open: let one probe through and restart the clock so a
            // still-broken provider is re-gated after the next failure window.
            s.openedAt.Store(time.Now().UnixNano())
            return false
        }
    }
    return true
}

// Failures returns the current count for a provider, for status reporting.
func (b *Breaker) Failures(name string) int {
    return int(b.get(name).failures.Load())
}
