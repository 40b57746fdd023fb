package twelvedata

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "io"
    "net/http"
    "net/url"
    "strconv"
    "strings"
    "time"

    "go.uber.org/zap"

    "stockrefresh/internal/httpx"
    "stockrefresh/internal/model"
    "stockrefresh/internal/provider/breaker"
)

const Name = "twelvedata"

type Config struct {
    Name    string
    BaseURL string
    APIKey  string
    Timeout time.Duration
}

// Provider is the secondary quote API, tried for symbols the primary did
// not answer. Numeric fields come back as strings; unparsable or zero
// values are treated as absent.
type Provider struct {
    cfg    Config
    client *httpx.Client
    br     *breaker.Breaker
    log    *zap.SugaredLogger
}

func New(cfg Config, hc *httpx.Client, br *breaker.Breaker, log *zap.SugaredLogger) *Provider {
    if cfg.Name == "" { cfg.Name = Name }
    if cfg.BaseURL == "" { cfg.BaseURL = "https://api.twelvedata.com" }
    if cfg.Timeout <= 0 { cfg.Timeout = 10 * time.Second }
    return &Provider{cfg: cfg, client: hc, br: br, log: log}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) FetchBatch(ctx context.Context, symbols []string) map[string]*model.Partial {
    out := make(map[string]*model.Partial, len(symbols))
    if len(symbols) == 0 { return out }
    // Unconfigured adapter is a silent no-op, same as an open breaker.
    if p.cfg.APIKey == "" || p.br.IsOpen(p.cfg.Name) {
        return out
    }

    ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
    defer cancel()

    u := fmt.Sprintf("%s/quote?symbol=%s&apikey=%s",
        strings.TrimRight(p.cfg.BaseURL, "/"),
        url.QueryEscape(strings.Join(symbols, ",")),
        url.QueryEscape(p.cfg.APIKey))
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
    if err != nil {
        p.br.RecordFailure(p.cfg.Name)
        return out
    }
    resp, err := p.client.Do(ctx, req)
    if err != nil {
        p.br.RecordFailure(p.cfg.Name)
        p.log.Warnw("twelvedata fetch failed", "err", err)
        return out
    }
    defer resp.Body.Close()
    if resp.StatusCode < 200 || resp.StatusCode >= 300 {
        p.br.RecordFailure(p.cfg.Name)
        p.log.Warnw("twelvedata non-2xx", "status", resp.StatusCode)
        return out
    }

    body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
    if err != nil {
        p.br.RecordFailure(p.cfg.Name)
        return out
    }
    quotes, err := decodeEnvelope(body)
    if err != nil {
        p.br.RecordFailure(p.cfg.Name)
        p.log.Warnw("twelvedata envelope rejected", "err", err)
        return out
    }
    p.br.RecordSuccess(p.cfg.Name)

    for _, raw := range quotes {
        var q wireQuote
        if err := json.Unmarshal(raw, &q); err != nil { continue }
        if q.Symbol == "" { continue }
        out[q.Symbol] = &model.Partial{
            Symbol:        q.Symbol,
            Name:          q.Name,
            Price:         parseNum(q.Close),
            Open:          parseNum(q.Open),
            High:          parseNum(q.High),
            Low:           parseNum(q.Low),
            Volume:        parseNum(q.Volume),
            ChangePercent: parseNum(q.PercentChange),
            Raw:           raw,
        }
    }
    p.log.Infow("twelvedata fetched", "got", len(out), "asked", len(symbols))
    return out
}

// A single requested symbol yields one object at the root; multiple yield
// an array. Other shapes (e.g. the API's error object) are rejected.
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
    if trimmed[0] == '{' {
        var probe struct {
            Symbol string `json:"symbol"`
            Status string `json:"status"`
        }
        if err := json.Unmarshal(trimmed, &probe); err != nil {
            return nil, fmt.Errorf("object envelope: %w", err)
        }
        if probe.Status == "error" || probe.Symbol == "" {
            return nil, fmt.Errorf("error envelope: status=%q", probe.Status)
        }
        return []json.RawMessage{json.RawMessage(trimmed)}, nil
    }
    return nil, fmt.Errorf("unrecognized envelope shape")
}

type wireQuote struct {
    Symbol        string  `json:"symbol"`
    Name          *string `json:"name"`
    Close         string  `json:"close"`
    Open          string  `json:"open"`
    High          string  `json:"high"`
    Low           string  `json:"low"`
    Volume        string  `json:"volume"`
    PercentChange string  `json:"percent_change"`
}

// parseNum mirrors `parseFloat(x) || null`: unparsable and zero both
// collapse to absent.
func parseNum(s string) *float64 {
    v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
    if err != nil || v == 0 {
        return nil
    }
    return model.Float(v)
}
