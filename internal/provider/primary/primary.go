package primary

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strings"
    "time"

    "go.uber.org/zap"

    "stockrefresh/internal/httpx"
    "stockrefresh/internal/model"
    "stockrefresh/internal/provider/breaker"
)

const Name = "primary"

type Config struct {
    Name    string
    BaseURL string
    Headers map[string]string
    // Timeout bounds one batch request. 0 means 15s.
    Timeout time.Duration
}

// Provider is the primary quote aggregator. It supports batch requests
// and is the first source tried for every symbol.
type Provider struct {
    cfg    Config
    client *httpx.Client
    br     *breaker.Breaker
    log    *zap.SugaredLogger
}

func New(cfg Config, hc *httpx.Client, br *breaker.Breaker, log *zap.SugaredLogger) *Provider {
    if cfg.Name == "" { cfg.Name = Name }
    if cfg.Timeout <= 0 { cfg.Timeout = 15 * time.Second }
    return &Provider{cfg: cfg, client: hc, br: br, log: log}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) FetchBatch(ctx context.Context, symbols []string) map[string]*model.Partial {
    out := make(map[string]*model.Partial, len(symbols))
    if len(symbols) == 0 { return out }
    if p.cfg.BaseURL == "" || p.br.IsOpen(p.cfg.Name) {
        return out
    }

    ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
    defer cancel()

    u := fmt.Sprintf("%s/quote?symbols=%s", strings.TrimRight(p.cfg.BaseURL, "/"), url.QueryEscape(strings.Join(symbols, ",")))
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
    if err != nil {
        p.br.RecordFailure(p.cfg.Name)
        return out
    }
    req.Header.Set("Accept", "application/json")
    for k, v := range p.cfg.Headers { req.Header.Set(k, v) }

    resp, err := p.client.Do(ctx, req)
    if err != nil {
        p.br.RecordFailure(p.cfg.Name)
        p.log.Warnw("primary fetch failed", "err", err)
        return out
    }
    defer resp.Body.Close()
    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        p.br.RecordFailure(p.cfg.Name)
        p.log.Warnw("primary non-2xx", "status", resp.StatusCode)
        return out
    }

    body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
    if err != nil {
        p.br.RecordFailure(p.cfg.Name)
        return out
    }
    quotes, err := decodeEnvelope(body)
    if err != nil {
        p.br.RecordFailure(p.cfg.Name)
        p.log.Warnw("primary envelope rejected", "err", err)
        return out
    }
    p.br.RecordSuccess(p.cfg.Name)

    for _, raw := range quotes {
        var q wireQuote
        if err := json.Unmarshal(raw, &q); err != nil { continue }
        if q.Symbol == "" { continue }

        volume := q.Volume
        avg10 := coalesce(q.AverageVolume, q.AverageVolumeSnake)
        change := coalesce(q.ChangePercentSnake, q.ChangePercent)
        if change == nil {
            change = model.ChangePercent(q.Price, coalesce(q.PreviousClose, q.PreviousCloseSnake), q.Open)
        }
        relVol := q.RelativeVolume
        if relVol == nil {
            relVol = model.RelativeVolume(volume, avg10)
        }

        out[q.Symbol] = &model.Partial{
            Symbol:         q.Symbol,
            Name:           coalesceStr(q.Name, q.LongName, q.ShortName),
            Price:          q.Price,
            Open:           q.Open,
            High:           q.High,
            Low:            q.Low,
            Volume:         volume,
            ChangePercent:  change,
            MarketCap:      coalesce(q.MarketCapSnake, q.MarketCap),
            SharesFloat:    coalesce(q.SharesFloatSnake, q.SharesOutstanding),
            RelativeVolume: relVol,
            Raw:            raw,
        }
    }
    p.log.Infow("primary fetched", "got", len(out), "asked", len(symbols))
    return out
}

// The primary endpoint has been observed answering with three envelope
// shapes: a bare array, {"data":[...]}, and {"quotes":[...]}. Anything
// else is a parse error, not an empty result.
func decodeEnvelope(body []byte) ([]json.RawMessage, error) {
    trimmed := bytes.TrimLeft(body, " \t\r\n")
    if len(trimmed) == 0 {
        return nil, fmt.Errorf("empty body")
    }
    if trimmed[0] == '[' {
        var arr []json.RawMessage
        if err := json.Unmarshal(trimmed, &arr); err != nil {
            return nil, fmt.Errorf("array envelope: %w", err)
        }
        return arr, nil
    }
    var wrapped struct {
        Data   []json.RawMessage `json:"data"`
        Quotes []json.RawMessage `json:"quotes"`
    }
    if err := json.Unmarshal(trimmed, &wrapped); err != nil {
        return nil, fmt.Errorf("object envelope: %w", err)
    }
    switch {
    case wrapped.Data != nil:
        return wrapped.Data, nil
    case wrapped.Quotes != nil:
        return wrapped.Quotes, nil
    }
    return nil, fmt.Errorf("unrecognized envelope shape")
}

// wireQuote carries every alias the upstream has been seen using for a
// field; coalesce picks the first present one.
type wireQuote struct {
    Symbol             string   `json:"symbol"`
    Name               *string  `json:"name"`
    LongName           *string  `json:"longName"`
    ShortName          *string  `json:"shortName"`
    Price              *float64 `json:"price"`
    Open               *float64 `json:"open"`
    High               *float64 `json:"high"`
    Low                *float64 `json:"low"`
    PreviousClose      *float64 `json:"previousClose"`
    PreviousCloseSnake *float64 `json:"previous_close"`
    ChangePercent      *float64 `json:"changePercent"`
    ChangePercentSnake *float64 `json:"change_percent"`
    Volume             *float64 `json:"volume"`
    AverageVolume      *float64 `json:"averageVolume"`
    AverageVolumeSnake *float64 `json:"average_volume"`
    MarketCap          *float64 `json:"marketCap"`
    MarketCapSnake     *float64 `json:"market_cap"`
    SharesOutstanding  *float64 `json:"sharesOutstanding"`
    SharesFloatSnake   *float64 `json:"shares_float"`
    RelativeVolume     *float64 `json:"relative_volume"`
}

func coalesce(vals ...*float64) *float64 {
    for _, v := range vals {
        if v != nil { return v }
    }
    return nil
}

func coalesceStr(vals ...*string) *string {
    for _, v := range vals {
        if v != nil && *v != "" { return v }
    }
    return nil
}
