package model

import "testing"

func TestChangePercent_PrefersPreviousClose(t *testing.T) {
    got := ChangePercent(Float(103), Float(100), Float(99))
    if got == nil || *got != 3 {
        t.Fatalf("got %v, want 3", got)
    }
}

func TestChangePercent_FallsBackToOpen(t *testing.T) {
    got := ChangePercent(Float(102), nil, Float(100))
    if got == nil || *got != 2 {
        t.Fatalf("got %v, want 2", got)
    }
    // Zero previous close counts as unusable, not as a base of 0.
    got = ChangePercent(Float(102), Float(0), Float(100))
    if got == nil || *got != 2 {
        t.Fatalf("got %v, want 2 with zero prev close", got)
    }
}

func TestChangePercent_NoBase(t *testing.T) {
    if got := ChangePercent(Float(10), nil, nil); got != nil {
        t.Fatalf("got %v, want nil", *got)
    }
    if got := ChangePercent(nil, Float(10), Float(10)); got != nil {
        t.Fatalf("got %v, want nil without a price", *got)
    }
}

func TestChangePercent_RoundsToFourDecimals(t *testing.T) {
    got := ChangePercent(Float(1), Float(3), nil)
    if got == nil || *got != -66.6667 {
        t.Fatalf("got %v, want -66.6667", got)
    }
}

func TestRelativeVolume(t *testing.T) {
    got := RelativeVolume(Float(3_000_000), Float(2_000_000))
    if got == nil || *got != 1.5 {
        t.Fatalf("got %v, want 1.5", got)
    }
    if got := RelativeVolume(Float(100), Float(0)); got != nil {
        t.Fatalf("got %v, want nil for zero average", *got)
    }
    if got := RelativeVolume(nil, Float(100)); got != nil {
        t.Fatalf("got %v, want nil without today's volume", *got)
    }
}

func TestRelativeVolume_RoundsToTwoDecimals(t *testing.T) {
    got := RelativeVolume(Float(1), Float(3))
    if got == nil || *got != 0.33 {
        t.Fatalf("got %v, want 0.33", got)
    }
}
