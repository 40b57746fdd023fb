package fmp

import (
    "context"
    "time"

    "go.uber.org/zap"

    "stockrefresh/internal/model"
    "stockrefresh/internal/provider/breaker"
)

const Name = "fmp"

type Config struct {
    Name string
    // Timeout bounds one profile batch request. 0 means 10s.
    Timeout time.Duration
    // Configured is false when no API key was provided; the adapter then
    // answers nothing.
    Configured bool
}

// Adapter exposes the FMP profile endpoint as a fundamentals provider.
// It only ever fills gaps: market cap, shares float, name, and a price
// of last resort.
type Adapter struct {
    cfg    Config
    client *Client
    br     *breaker.Breaker
    log    *zap.SugaredLogger
}

func NewAdapter(cfg Config, client *Client, br *breaker.Breaker, log *zap.SugaredLogger) *Adapter {
    if cfg.Name == "" { cfg.Name = Name }
    if cfg.Timeout <= 0 { cfg.Timeout = 10 * time.Second }
    return &Adapter{cfg: cfg, client: client, br: br, log: log}
}

func (a *Adapter) Name() string { return a.cfg.Name }

func (a *Adapter) FetchBatch(ctx context.Context, symbols []string) map[string]*model.Partial {
    out := make(map[string]*model.Partial, len(symbols))
    if len(symbols) == 0 { return out }
    if !a.cfg.Configured || a.br.IsOpen(a.cfg.Name) {
        return out
    }

    ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
    defer cancel()

    profiles, err := a.client.GetProfiles(ctx, symbols)
    if err != nil {
        a.br.RecordFailure(a.cfg.Name)
        a.log.Warnw("fmp fetch failed", "err", err)
        return out
    }
    a.br.RecordSuccess(a.cfg.Name)

    for _, p := range profiles {
        marketCap := p.MktCap
        if marketCap == nil { marketCap = p.MarketCap }
        out[p.Symbol] = &model.Partial{
            Symbol:      p.Symbol,
            Name:        p.CompanyName,
            Price:       p.Price,
            MarketCap:   marketCap,
            SharesFloat: p.SharesOutstanding,
            Raw:         p.Raw,
        }
    }
    a.log.Infow("fmp fetched", "got", len(out), "asked", len(symbols))
    return out
}
