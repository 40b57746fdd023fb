package refresh

import (
    "context"
    "time"

    "github.com/google/uuid"
    "go.uber.org/zap"

    "stockrefresh/internal/merge"
    "stockrefresh/internal/model"
    "stockrefresh/internal/provider"
    "stockrefresh/internal/ratelimit"
)

// Storage is the narrow persistence contract the orchestrator needs.
type Storage interface {
    UpsertStocks(ctx context.Context, rows []model.Quote) error
}

// Outcome summarizes one refresh run.
type Outcome struct {
    RunID      string         `json:"run_id"`
    Requested  int            `json:"requested"`
    Updated    int            `json:"updated"`
    Failed     int            `json:"failed"`
    Batches    int            `json:"batches"`
    BySource   map[string]int `json:"by_source"`
    DurationMs int64          `json:"duration_ms"`
}

// Runner drives the provider cascade over fixed-size batches, strictly
// sequentially, pausing on the pacer between batches so the outbound
// request rate stays deterministic.
type Runner struct {
    Primary      provider.Provider
    Secondary    provider.Provider
    Tertiary     provider.Provider
    Fundamentals provider.Provider

    Policy    merge.Policy
    Store     Storage // nil disables persistence (screener enrichment)
    Pacer     ratelimit.Pacer
    BatchSize int
    // TertiaryCap skips the per-symbol tertiary provider when the
    // still-missed set is larger than this; it cannot absorb big sets.
    TertiaryCap int

    Log *zap.SugaredLogger
}

const defaultBatchSize = 100

// Process runs the cascade over all symbols and persists each batch's
// valid quotes as it goes. A storage failure is logged and the run
// continues; this is a refresh cache, not a ledger.
func (r *Runner) Process(ctx context.Context, symbols []string) Outcome {
    _, out := r.run(ctx, symbols, true)
    return out
}

// Enrich runs the same cascade without touching storage and returns the
// merged quotes.
func (r *Runner) Enrich(ctx context.Context, symbols []string) ([]model.Quote, Outcome) {
    return r.run(ctx, symbols, false)
}

func (r *Runner) run(ctx context.Context, symbols []string, persist bool) ([]model.Quote, Outcome) {
    start := time.Now()
    out := Outcome{
        RunID:     uuid.NewString(),
        Requested: len(symbols),
        BySource:  make(map[string]int),
    }
    size := r.BatchSize
    if size <= 0 { size = defaultBatchSize }
    batches := chunkSymbols(symbols, size)
    out.Batches = len(batches)

    var all []model.Quote
    for i, batch := range batches {
        if i > 0 && r.Pacer != nil {
            if err := r.Pacer.Wait(ctx); err != nil {
                r.Log.Warnw("run interrupted between batches", "run_id", out.RunID, "err", err)
                break
            }
        }
        r.Log.Infow("processing batch", "run_id", out.RunID, "batch", i+1, "of", len(batches), "size", len(batch))

        quotes := r.processBatch(ctx, batch, &out)
        all = append(all, quotes...)

        if persist && r.Store != nil && len(quotes) > 0 {
            if err := r.Store.UpsertStocks(ctx, quotes); err != nil {
                // Not retried, does not abort remaining batches.
                r.Log.Errorw("batch upsert failed", "run_id", out.RunID, "batch", i+1, "err", err)
            }
        }
    }
    out.Updated = len(all)
    out.Failed = out.Requested - out.Updated
    out.DurationMs = time.Since(start).Milliseconds()
    r.Log.Infow("run finished", "run_id", out.RunID,
        "requested", out.Requested, "updated", out.Updated, "failed", out.Failed,
        "by_source", out.BySource, "duration_ms", out.DurationMs)
    return all, out
}

// processBatch runs the cascade for one batch: primary first, the
// secondary for primary misses, the tertiary for the (small) remainder,
// and the fundamentals provider only for symbols that answered but lack
// market cap or shares float.
func (r *Runner) processBatch(ctx context.Context, batch []string, out *Outcome) []model.Quote {
    primaryData := fetch(ctx, r.Primary, batch)

    missed := subtract(batch, primaryData)
    var secondaryData map[string]*model.Partial
    if len(missed) > 0 {
        secondaryData = fetch(ctx, r.Secondary, missed)
    }

    stillMissed := subtract(missed, secondaryData)
    var tertiaryData map[string]*model.Partial
    if n := len(stillMissed); n > 0 && (r.TertiaryCap <= 0 || n <= r.TertiaryCap) {
        tertiaryData = fetch(ctx, r.Tertiary, stillMissed)
    }

    var gaps []string
    for _, sym := range batch {
        answered := primaryData[sym]
        if answered == nil { answered = secondaryData[sym] }
        if answered != nil && (answered.MarketCap == nil || answered.SharesFloat == nil) {
            gaps = append(gaps, sym)
        }
    }
    var fundamentalsData map[string]*model.Partial
    if len(gaps) > 0 {
        fundamentalsData = fetch(ctx, r.Fundamentals, gaps)
    }

    quotes := make([]model.Quote, 0, len(batch))
    for _, sym := range batch {
        srcs := []merge.Sourced{
            {Provider: name(r.Primary), Partial: primaryData[sym]},
            {Provider: name(r.Secondary), Partial: secondaryData[sym]},
            {Provider: name(r.Tertiary), Partial: tertiaryData[sym]},
            {Provider: name(r.Fundamentals), Partial: fundamentalsData[sym]},
        }
        merged := r.Policy.Merge(sym, srcs)
        if merged == nil || merged.Price == nil {
            // Total miss or unpriced partial: dropped, counted in Failed.
            continue
        }
        quotes = append(quotes, *merged)
        if src := merge.FirstSource(srcs); src != "" {
            out.BySource[src]++
        }
    }
    return quotes
}

func fetch(ctx context.Context, p provider.Provider, symbols []string) map[string]*model.Partial {
    if p == nil || len(symbols) == 0 {
        return nil
    }
    return p.FetchBatch(ctx, symbols)
}

func name(p provider.Provider) string {
    if p == nil { return "" }
    return p.Name()
}

// subtract keeps the symbols absent from answered, preserving order.
func subtract(symbols []string, answered map[string]*model.Partial) []string {
    if len(answered) == 0 {
        return symbols
    }
    out := make([]string, 0, len(symbols))
    for _, s := range symbols {
        if _, ok := answered[s]; !ok {
            out = append(out, s)
        }
    }
    return out
}

func chunkSymbols(in []string, size int) [][]string {
    if len(in) == 0 { return nil }
    if size <= 0 { return [][]string{in} }
    out := make([][]string, 0, (len(in)+size-1)/size)
    for i := 0; i < len(in); i += size {
        j := i + size
        if j > len(in) { j = len(in) }
        out = append(out, in[i:j])
    }
    return out
}
