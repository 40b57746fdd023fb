package refresh

import (
    "context"

    "go.uber.org/zap"
)

// SymbolSource is what symbol selection needs from storage.
type SymbolSource interface {
    TopSymbols(ctx context.Context, column string, descending bool, limit int) ([]string, error)
    ListTickers(ctx context.Context, limit, offset int) ([]string, error)
}

const (
    defaultTopNDelta = 500
    defaultManualCap = 500
)

// Selector produces the symbol list a run operates on: the full universe,
// the delta set of most active/volatile symbols, or a capped manual list.
type Selector struct {
    Source    SymbolSource
    TopNDelta int
    ManualCap int
    Log       *zap.SugaredLogger
}

// Full lists every known ticker, optionally paginated.
func (s *Selector) Full(ctx context.Context, limit, offset int) ([]string, error) {
    symbols, err := s.Source.ListTickers(ctx, limit, offset)
    if err != nil {
        return nil, err
    }
    s.Log.Infow("full selection", "symbols", len(symbols), "offset", offset)
    return symbols, nil
}

// Delta selects a deduplicated union of the busiest symbols: half the
// budget by volume, 30% by biggest gainers, 20% by biggest losers. A
// failing leg is logged and skipped; the remaining legs still produce a
// usable set.
func (s *Selector) Delta(ctx context.Context) []string {
    budget := s.TopNDelta
    if budget <= 0 { budget = defaultTopNDelta }

    seen := make(map[string]struct{}, budget)
    out := make([]string, 0, budget)
    add := func(symbols []string) {
        for _, sym := range symbols {
            if _, ok := seen[sym]; ok { continue }
            seen[sym] = struct{}{}
            out = append(out, sym)
        }
    }

    topVol, err := s.Source.TopSymbols(ctx, "volume", true, budget*50/100)
    if err != nil {
        s.Log.Warnw("delta volume leg failed", "err", err)
    }
    add(topVol)

    topGain, err := s.Source.TopSymbols(ctx, "change_percent", true, budget*30/100)
    if err != nil {
        s.Log.Warnw("delta gainers leg failed", "err", err)
    }
    add(topGain)

    topLoss, err := s.Source.TopSymbols(ctx, "change_percent", false, budget*20/100)
    if err != nil {
        s.Log.Warnw("delta losers leg failed", "err", err)
    }
    add(topLoss)

    if len(out) > budget {
        out = out[:budget]
    }
    s.Log.Infow("delta selection", "symbols", len(out))
    return out
}

// Manual caps an explicit caller-supplied list.
func (s *Selector) Manual(symbols []string) []string {
    limit := s.ManualCap
    if limit <= 0 { limit = defaultManualCap }
    if len(symbols) > limit {
        symbols = symbols[:limit]
    }
    return symbols
}
