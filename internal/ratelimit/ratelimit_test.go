package ratelimit

import (
    "context"
    "testing"
    "time"
)

func TestInterval_FirstCallPasses(t *testing.T) {
    p := NewInterval(time.Second)
    start := time.Now()
    if err := p.Wait(context.Background()); err != nil {
        t.Fatalf("wait: %v", err)
    }
    if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
        t.Fatalf("first call waited %v", elapsed)
    }
}

func TestInterval_SecondCallWaits(t *testing.T) {
    p := NewInterval(50 * time.Millisecond)
    _ = p.Wait(context.Background())
    start := time.Now()
    if err := p.Wait(context.Background()); err != nil {
        t.Fatalf("wait: %v", err)
    }
    if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
        t.Fatalf("second call only waited %v", elapsed)
    }
}

func TestInterval_ZeroIsNoop(t *testing.T) {
    p := NewInterval(0)
    for i := 0; i < 3; i++ {
        if err := p.Wait(context.Background()); err != nil {
            t.Fatalf("wait: %v", err)
        }
    }
}

func TestInterval_ContextCancel(t *testing.T) {
    p := NewInterval(time.Hour)
    _ = p.Wait(context.Background())
    ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
    defer cancel()
    if err := p.Wait(ctx); err == nil {
        t.Fatalf("want context error")
    }
}

func TestTokenBucket_BurstThenThrottle(t *testing.T) {
    tb := NewTokenBucket(1000, 2)
    start := time.Now()
    // Two tokens available up front.
    if err := tb.Wait(context.Background()); err != nil { t.Fatalf("wait: %v", err) }
    if err := tb.Wait(context.Background()); err != nil { t.Fatalf("wait: %v", err) }
    if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
        t.Fatalf("burst waited %v", elapsed)
    }
}

func TestTokenBucket_ContextCancel(t *testing.T) {
    tb := NewTokenBucket(0.001, 1)
    _ = tb.Wait(context.Background()) // drain the only token
    ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
    defer cancel()
    if err := tb.Wait(ctx); err == nil {
        t.Fatalf("want context error")
    }
}
