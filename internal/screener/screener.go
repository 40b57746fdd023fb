package screener

import (
    "context"
    "time"

    "go.uber.org/zap"

    "stockrefresh/internal/model"
    "stockrefresh/internal/provider/fmp"
    "stockrefresh/internal/refresh"
)

// DefaultTTL is how old a cached row may be and still count as fresh.
const DefaultTTL = 5 * time.Minute

// Source tags name where a response's rows came from.
const (
    SourceCache         = "cache"
    SourceHybrid        = "hybrid"
    SourceRealtime      = "realtime"
    SourceCacheFallback = "cache_fallback"
    SourceFMPEmpty      = "fmp_empty"
    SourceError         = "error"
)

type Storage interface {
    SelectStocks(ctx context.Context, f model.Filters, limit int) ([]model.Quote, error)
    UpsertStocks(ctx context.Context, rows []model.Quote) error
}

// Enricher runs uncached symbols through the provider cascade without
// persisting; the screener persists the result itself.
type Enricher interface {
    Enrich(ctx context.Context, symbols []string) ([]model.Quote, refresh.Outcome)
}

// CandidateFinder discovers screener candidates from the fundamentals
// provider's own screener endpoint.
type CandidateFinder interface {
    GetScreenerCandidates(ctx context.Context, q fmp.ScreenerQuery) ([]string, error)
}

type Stats struct {
    SymbolsChecked  int     `json:"symbols_checked"`
    SymbolsWithData int     `json:"symbols_with_data"`
    SymbolsMatched  int     `json:"symbols_matched"`
    APICallsUsed    int     `json:"api_calls_used"`
    DurationSeconds float64 `json:"duration_seconds"`
}

type Result struct {
    Stats   Stats         `json:"stats"`
    Results []model.Quote `json:"results"`
    Source  string        `json:"source"`
}

// Screener answers filter-driven quote requests from the cache when it
// can and falls back to candidate discovery plus live enrichment when it
// cannot. It owns freshness classification; storage and the orchestrator
// only see its verdict.
type Screener struct {
    Store      Storage
    Enricher   Enricher
    Candidates CandidateFinder // nil when the fundamentals API is unconfigured

    TTL          time.Duration
    SelectCap    int
    DefaultLimit int
    ManualCap    int

    Log *zap.SugaredLogger
    Now func() time.Time // test hook
}

func (s *Screener) now() time.Time {
    if s.Now != nil { return s.Now() }
    return time.Now()
}

func (s *Screener) ttl() time.Duration {
    if s.TTL > 0 { return s.TTL }
    return DefaultTTL
}

// Run evaluates one screener request.
func (s *Screener) Run(ctx context.Context, f model.Filters, limit int) Result {
    start := s.now()
    if limit <= 0 {
        limit = s.DefaultLimit
        if limit <= 0 { limit = 250 }
    }
    if len(f.Symbols) > 0 {
        return s.runSymbols(ctx, f, limit, start)
    }
    return s.runFilters(ctx, f, limit, start)
}

// runSymbols serves an explicit symbol set: fresh cached rows as-is, the
// rest (or everything, under realtime) re-fetched live.
func (s *Screener) runSymbols(ctx context.Context, f model.Filters, limit int, start time.Time) Result {
    symbols := f.Symbols
    maxSyms := s.ManualCap
    if maxSyms <= 0 { maxSyms = 500 }
    if len(symbols) > maxSyms {
        symbols = symbols[:maxSyms]
    }
    f.Symbols = symbols

    cached := s.lookup(ctx, f, f.Realtime)
    var needsUpdate []string
    for _, sym := range symbols {
        if _, ok := cached[sym]; !ok {
            needsUpdate = append(needsUpdate, sym)
        }
    }

    var enriched []model.Quote
    if len(needsUpdate) > 0 || f.Realtime {
        target := needsUpdate
        if f.Realtime { target = symbols }
        enriched, _ = s.Enricher.Enrich(ctx, target)
        s.persist(ctx, enriched)
    }

    all := combine(cached, enriched)
    filtered := applyFilters(all, f)
    source := SourceHybrid
    if f.Realtime { source = SourceRealtime }
    return s.result(source, filtered, limit, Stats{
        SymbolsChecked: len(symbols),
        APICallsUsed:   len(enriched),
    }, start)
}

// runFilters serves a range-filter request: cache when sufficient, else
// candidate discovery through the fundamentals screener plus enrichment.
func (s *Screener) runFilters(ctx context.Context, f model.Filters, limit int, start time.Time) Result {
    cached := s.lookup(ctx, f, f.Realtime)
    cachedFiltered := applyFilters(combine(cached, nil), f)
    if !f.Realtime && len(cachedFiltered) >= limit {
        return s.result(SourceCache, cachedFiltered, limit, Stats{}, start)
    }

    if s.Candidates == nil {
        return s.result(SourceCacheFallback, cachedFiltered, limit, Stats{}, start)
    }
    candidates, err := s.Candidates.GetScreenerCandidates(ctx, screenerQuery(f, limit*2))
    if err != nil {
        s.Log.Warnw("candidate discovery failed", "err", err)
        return s.result(SourceCacheFallback, cachedFiltered, limit, Stats{}, start)
    }
    if len(candidates) == 0 {
        return s.result(SourceFMPEmpty, nil, limit, Stats{}, start)
    }

    var uncached []string
    for _, sym := range candidates {
        if _, ok := cached[sym]; !ok {
            uncached = append(uncached, sym)
        }
    }
    var enriched []model.Quote
    if len(uncached) > 0 {
        enriched, _ = s.Enricher.Enrich(ctx, uncached)
        s.persist(ctx, enriched)
    }

    all := combine(cached, enriched)
    filtered := applyFilters(all, f)
    return s.result(SourceHybrid, filtered, limit, Stats{
        SymbolsChecked: len(candidates),
        APICallsUsed:   len(enriched),
    }, start)
}

// lookup reads cached rows matching the filters and, only under
// forceRealtime, drops rows older than the TTL. In normal mode staleness
// never excludes a row.
func (s *Screener) lookup(ctx context.Context, f model.Filters, forceRealtime bool) map[string]model.Quote {
    out := make(map[string]model.Quote)
    rows, err := s.Store.SelectStocks(ctx, f, s.SelectCap)
    if err != nil {
        s.Log.Warnw("cache lookup failed", "err", err)
        return out
    }
    now := s.now()
    for _, row := range rows {
        stale := row.UpdatedAt.IsZero() || now.Sub(row.UpdatedAt) > s.ttl()
        if forceRealtime && stale {
            continue
        }
        out[row.Symbol] = row
    }
    return out
}

func (s *Screener) persist(ctx context.Context, rows []model.Quote) {
    if len(rows) == 0 { return }
    if err := s.Store.UpsertStocks(ctx, rows); err != nil {
        s.Log.Errorw("screener upsert failed", "err", err)
    }
}

func (s *Screener) result(source string, stocks []model.Quote, limit int, stats Stats, start time.Time) Result {
    if len(stocks) > limit {
        stocks = stocks[:limit]
    }
    if stocks == nil {
        stocks = []model.Quote{}
    }
    if stats.SymbolsChecked == 0 {
        stats.SymbolsChecked = len(stocks)
    }
    stats.SymbolsWithData = len(stocks)
    stats.SymbolsMatched = len(stocks)
    stats.DurationSeconds = model.Round2(s.now().Sub(start).Seconds())
    return Result{Stats: stats, Results: stocks, Source: source}
}

// combine merges cached rows with freshly enriched ones, enriched wins
// per symbol.
func combine(cached map[string]model.Quote, enriched []model.Quote) []model.Quote {
    seen := make(map[string]struct{}, len(enriched))
    out := make([]model.Quote, 0, len(cached)+len(enriched))
    for _, q := range enriched {
        seen[q.Symbol] = struct{}{}
        out = append(out, q)
    }
    for _, q := range cached {
        if _, ok := seen[q.Symbol]; ok { continue }
        out = append(out, q)
    }
    return out
}

// applyFilters is the client-side pass over merged rows. A row with a
// missing field passes that field's predicate, matching the cache gate's
// server-side behavior of only constraining present values.
func applyFilters(stocks []model.Quote, f model.Filters) []model.Quote {
    out := make([]model.Quote, 0, len(stocks))
    for _, q := range stocks {
        if failsMin(q.Price, f.PriceMin) || failsMax(q.Price, f.PriceMax) { continue }
        if failsMin(q.Volume, f.VolumeMin) { continue }
        if failsMin(q.MarketCap, f.MarketCapMin) || failsMax(q.MarketCap, f.MarketCapMax) { continue }
        if failsMax(q.SharesFloat, f.FloatMax) { continue }
        if failsMin(q.ChangePercent, f.ChangeMin) || failsMax(q.ChangePercent, f.ChangeMax) { continue }
        if failsMin(q.RelativeVolume, f.RelativeVolumeMin) { continue }
        out = append(out, q)
    }
    return out
}

func failsMin(v, min *float64) bool { return v != nil && min != nil && *v < *min }
func failsMax(v, max *float64) bool { return v != nil && max != nil && *v > *max }

func screenerQuery(f model.Filters, limit int) fmp.ScreenerQuery {
    return fmp.ScreenerQuery{
        PriceMoreThan:      f.PriceMin,
        PriceLowerThan:     f.PriceMax,
        MarketCapMoreThan:  f.MarketCapMin,
        MarketCapLowerThan: f.MarketCapMax,
        VolumeMoreThan:     f.VolumeMin,
        Limit:              limit,
    }
}
