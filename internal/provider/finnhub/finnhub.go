package finnhub

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "net/url"
    "strings"
    "sync"
    "sync/atomic"
    "time"

    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"

    "stockrefresh/internal/httpx"
    "stockrefresh/internal/model"
    "stockrefresh/internal/provider/breaker"
)

const Name = "finnhub"

// DefaultMaxSymbols caps the per-symbol fan-out; the upstream has no batch
// endpoint and a tight rate limit.
const DefaultMaxSymbols = 10

type Config struct {
    Name       string
    BaseURL    string
    APIKey     string
    Timeout    time.Duration
    MaxSymbols int
}

// Provider is the last-resort quote source. One HTTP request per symbol,
// issued concurrently for the (small) still-missed set and awaited
// together.
type Provider struct {
    cfg    Config
    client *httpx.Client
    br     *breaker.Breaker
    log    *zap.SugaredLogger
}

func New(cfg Config, hc *httpx.Client, br *breaker.Breaker, log *zap.SugaredLogger) *Provider {
    if cfg.Name == "" { cfg.Name = Name }
    if cfg.BaseURL == "" { cfg.BaseURL = "https://finnhub.io/api/v1" }
    if cfg.Timeout <= 0 { cfg.Timeout = 5 * time.Second }
    if cfg.MaxSymbols <= 0 { cfg.MaxSymbols = DefaultMaxSymbols }
    return &Provider{cfg: cfg, client: hc, br: br, log: log}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) FetchBatch(ctx context.Context, symbols []string) map[string]*model.Partial {
    out := make(map[string]*model.Partial, len(symbols))
    if len(symbols) == 0 { return out }
    if p.cfg.APIKey == "" || p.br.IsOpen(p.cfg.Name) {
        return out
    }

    limited := symbols
    if len(limited) > p.cfg.MaxSymbols {
        limited = limited[:p.cfg.MaxSymbols]
    }

    var mu sync.Mutex
    var errCount atomic.Int64
    g, gctx := errgroup.WithContext(ctx)
    for _, sym := range limited {
        sym := sym
        g.Go(func() error {
            q, raw, err := p.fetchOne(gctx, sym)
            if err != nil {
                errCount.Add(1)
                p.log.Debugw("finnhub symbol failed", "symbol", sym, "err", err)
                return nil // one bad symbol must not sink the set
            }
            if q == nil {
                return nil // no price, symbol absent from result
            }
            mu.Lock()
            out[sym] = q
            out[sym].Raw = raw
            mu.Unlock()
            return nil
        })
    }
    _ = g.Wait()

    // The breaker sees the set as one logical call: all-errors counts as
    // a failure, anything else resets.
    if int(errCount.Load()) == len(limited) {
        p.br.RecordFailure(p.cfg.Name)
    } else {
        p.br.RecordSuccess(p.cfg.Name)
    }
    p.log.Infow("finnhub fetched", "got", len(out), "asked", len(limited))
    return out
}

func (p *Provider) fetchOne(ctx context.Context, symbol string) (*model.Partial, json.RawMessage, error) {
    ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
    defer cancel()

    u := fmt.Sprintf("%s/quote?symbol=%s&token=%s",
        strings.TrimRight(p.cfg.BaseURL, "/"),
        url.QueryEscape(symbol),
        url.QueryEscape(p.cfg.APIKey))
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
    if err != nil { return nil, nil, err }
    resp, err := p.client.Do(ctx, req)
    if err != nil { return nil, nil, err }
    defer resp.Body.Close()
    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        return nil, nil, fmt.Errorf("GET quote -> %d", resp.StatusCode)
    }

    var raw json.RawMessage
    if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
        return nil, nil, fmt.Errorf("decode: %w", err)
    }
    var q struct {
        Current       *float64 `json:"c"`
        Open          *float64 `json:"o"`
        High          *float64 `json:"h"`
        Low           *float64 `json:"l"`
        PrevClose     *float64 `json:"pc"`
        ChangePercent *float64 `json:"dp"`
    }
    if err := json.Unmarshal(raw, &q); err != nil {
        return nil, nil, fmt.Errorf("decode: %w", err)
    }
    // A zero current price is Finnhub's "unknown symbol".
    if q.Current == nil || *q.Current == 0 {
        return nil, nil, nil
    }
    change := q.ChangePercent
    if change == nil {
        change = model.ChangePercent(q.Current, q.PrevClose, q.Open)
    }
    return &model.Partial{
        Symbol:        symbol,
        Price:         q.Current,
        Open:          q.Open,
        High:          q.High,
        Low:           q.Low,
        ChangePercent: change,
    }, raw, nil
}
