package main

import (
    "context"
    "encoding/json"
    "flag"
    "fmt"
    "net/http"
    "os"
    "strings"
    "time"

    "go.uber.org/zap"

    "stockrefresh/internal/config"
    "stockrefresh/internal/httpx"
    "stockrefresh/internal/merge"
    "stockrefresh/internal/provider"
    "stockrefresh/internal/provider/breaker"
    "stockrefresh/internal/provider/finnhub"
    "stockrefresh/internal/provider/fmp"
    "stockrefresh/internal/provider/primary"
    "stockrefresh/internal/provider/twelvedata"
    "stockrefresh/internal/ratelimit"
    "stockrefresh/internal/refresh"
    "stockrefresh/internal/store"
)

func main() {
    var mode string
    var symbolsCSV string
    var force bool
    var dryRun bool
    var limit int
    var offset int
    var configPath string

    flag.StringVar(&mode, "mode", getenv("REFRESH_MODE", "delta"), "selection mode: full, delta or manual")
    flag.StringVar(&symbolsCSV, "symbols", getenv("SYMBOLS", ""), "comma-separated symbols (manual mode)")
    flag.BoolVar(&force, "force", false, "run even when the market is closed")
    flag.BoolVar(&dryRun, "dry-run", false, "fetch and merge without persisting")
    flag.IntVar(&limit, "limit", 0, "full mode: page size (0 = everything)")
    flag.IntVar(&offset, "offset", 0, "full mode: page offset")
    flag.StringVar(&configPath, "config", getenv("CONFIG_FILE", ""), "path to config.json (optional)")
    flag.Parse()

    zl, err := zap.NewProduction()
    if err != nil { panic(err) }
    defer zl.Sync()
    log := zl.Sugar()

    cfg, err := config.Load(configPath)
    if err != nil { log.Fatalw("config", "err", err) }

    db, err := store.Open(cfg.DB.DSN)
    if err != nil { log.Fatalw("db", "err", err) }
    defer db.Close()
    st := store.New(db, log)

    br := breaker.New(cfg.Refresh.BreakerThreshold,
        time.Duration(cfg.Refresh.BreakerCooldownSec)*time.Second)
    hc := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

    var prim, second, third, funda provider.Provider
    if cfg.Primary.Enabled {
        prim = primary.New(primary.Config{
            BaseURL: cfg.Primary.BaseURL,
            Timeout: time.Duration(cfg.Primary.TimeoutSec) * time.Second,
        }, hc, br, log)
    }
    if cfg.TwelveData.Enabled {
        second = twelvedata.New(twelvedata.Config{
            APIKey:  cfg.TwelveData.APIKey,
            Timeout: time.Duration(cfg.TwelveData.TimeoutSec) * time.Second,
        }, hc, br, log)
    }
    if cfg.Finnhub.Enabled {
        third = finnhub.New(finnhub.Config{
            APIKey:     cfg.Finnhub.APIKey,
            Timeout:    time.Duration(cfg.Finnhub.TimeoutSec) * time.Second,
            MaxSymbols: cfg.Finnhub.MaxSymbols,
        }, hc, br, log)
    }
    if cfg.FMP.Enabled {
        c, err := fmp.NewClient(cfg.FMP.APIKey,
            fmp.WithBaseURL(cfg.FMP.BaseURL),
            fmp.WithHTTPClient(hc.HTTP),
            fmp.WithHeader(http.Header{"User-Agent": []string{"stock-refresh/1.0"}}),
        )
        if err != nil { log.Fatalw("fmp client", "err", err) }
        funda = fmp.NewAdapter(fmp.Config{
            Timeout:    time.Duration(cfg.FMP.TimeoutSec) * time.Second,
            Configured: cfg.FMP.APIKey != "",
        }, c, br, log)
    }

    var pacer ratelimit.Pacer
    if cfg.Refresh.MaxRequestsPerMinute > 0 {
        rate := float64(cfg.Refresh.MaxRequestsPerMinute) / 60.0
        burst := cfg.Refresh.Burst
        if burst <= 0 { burst = 1 }
        pacer = ratelimit.NewTokenBucket(rate, burst)
    } else {
        pacer = ratelimit.NewInterval(time.Duration(cfg.Refresh.ThrottleMs) * time.Millisecond)
    }

    runner := &refresh.Runner{
        Primary:      prim,
        Secondary:    second,
        Tertiary:     third,
        Fundamentals: funda,
        Policy:       merge.DefaultPolicy(),
        Store:        st,
        Pacer:        pacer,
        BatchSize:    cfg.Refresh.BatchSize,
        TertiaryCap:  cfg.Finnhub.MaxSymbols,
        Log:          log,
    }
    if dryRun {
        runner.Store = nil
    }
    selector := &refresh.Selector{
        Source:    st,
        TopNDelta: cfg.Refresh.TopNDelta,
        ManualCap: cfg.Refresh.MaxManualSymbols,
        Log:       log,
    }

    ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
    defer cancel()

    if !force && st.IsMarketClosed(ctx, time.Now()) {
        log.Infow("market closed, skipping (use -force to override)")
        return
    }

    var symbols []string
    switch strings.ToLower(mode) {
    case "full":
        symbols, err = selector.Full(ctx, limit, offset)
        if err != nil { log.Fatalw("full selection", "err", err) }
    case "delta":
        symbols = selector.Delta(ctx)
    case "manual":
        symbols = selector.Manual(splitCSV(symbolsCSV))
        if len(symbols) == 0 { log.Fatalw("manual mode requires -symbols") }
    default:
        log.Fatalw("unknown mode", "mode", mode)
    }
    if len(symbols) == 0 {
        log.Fatalw("no symbols selected")
    }

    outcome := runner.Process(ctx, symbols)
    b, _ := json.MarshalIndent(outcome, "", "  ")
    fmt.Println(string(b))
}

func splitCSV(s string) []string {
    parts := strings.Split(s, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        p = strings.TrimSpace(p)
        if p != "" { out = append(out, p) }
    }
    return out
}

func getenv(key, def string) string { if v := os.Getenv(key); v != "" { return v }; return def }
