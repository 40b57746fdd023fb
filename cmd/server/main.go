package main

import (
    "compress/gzip"
    "context"
    "encoding/json"
    "io"
    "net/http"
    "os"
    "os/signal"
    "strings"
    "sync"
    "syscall"
    "time"

    "go.uber.org/zap"

    "stockrefresh/internal/config"
    "stockrefresh/internal/httpx"
    "stockrefresh/internal/merge"
    "stockrefresh/internal/model"
    "stockrefresh/internal/provider"
    "stockrefresh/internal/provider/breaker"
    "stockrefresh/internal/provider/finnhub"
    "stockrefresh/internal/provider/fmp"
    "stockrefresh/internal/provider/primary"
    "stockrefresh/internal/provider/twelvedata"
    "stockrefresh/internal/ratelimit"
    "stockrefresh/internal/refresh"
    "stockrefresh/internal/screener"
    "stockrefresh/internal/store"
)

type app struct {
    cfg      config.Config
    log      *zap.SugaredLogger
    store    *store.Store
    runner   *refresh.Runner
    selector *refresh.Selector
    screener *screener.Screener
}

func main() {
    zl, err := zap.NewProduction()
    if err != nil {
        panic(err)
    }
    defer zl.Sync()
    log := zl.Sugar()

    cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
    if err != nil { log.Fatalw("config", "err", err) }

    if cfg.TwelveData.Enabled && cfg.TwelveData.APIKey == "" {
        log.Warnw("twelvedata.enabled=true but TWELVE_DATA_KEY not set")
    }
    if cfg.Finnhub.Enabled && cfg.Finnhub.APIKey == "" {
        log.Warnw("finnhub.enabled=true but FINNHUB_KEY not set")
    }

    db, err := store.Open(cfg.DB.DSN)
    if err != nil { log.Fatalw("db", "err", err) }
    defer db.Close()
    st := store.New(db, log)

    a := &app{cfg: cfg, log: log, store: st}
    a.buildPipeline()

    mux := http.NewServeMux()
    mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusOK)
        _, _ = w.Write([]byte("ok"))
    })
    mux.HandleFunc("/api/refresh", a.handleRefresh)
    mux.HandleFunc("/api/screener", a.handleScreener)

    srv := &http.Server{
        Addr:              ":" + cfg.Server.Port,
        Handler:           withJSONHeaders(withGzip(recoverPanic(limitBody(mux)))),
        ReadHeaderTimeout: 5 * time.Second,
        ReadTimeout:       15 * time.Second,
        // Refresh runs are synchronous and pace themselves between batches.
        WriteTimeout: 10 * time.Minute,
        IdleTimeout:  60 * time.Second,
    }

    go func() {
        log.Infow("server listening", "port", cfg.Server.Port)
        if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
            log.Fatalw("server", "err", err)
        }
    }()

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()
    <-ctx.Done()
    shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    _ = srv.Shutdown(shutdownCtx)
}

// buildPipeline assembles the provider cascade, the refresh orchestrator,
// symbol selection, and the screener from config.
func (a *app) buildPipeline() {
    cfg := a.cfg
    br := breaker.New(cfg.Refresh.BreakerThreshold,
        time.Duration(cfg.Refresh.BreakerCooldownSec)*time.Second)
    hc := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

    var prim, second, third, funda provider.Provider
    if cfg.Primary.Enabled {
        prim = primary.New(primary.Config{
            BaseURL: cfg.Primary.BaseURL,
            Timeout: time.Duration(cfg.Primary.TimeoutSec) * time.Second,
        }, hc, br, a.log)
    }
    if cfg.TwelveData.Enabled {
        second = twelvedata.New(twelvedata.Config{
            APIKey:  cfg.TwelveData.APIKey,
            Timeout: time.Duration(cfg.TwelveData.TimeoutSec) * time.Second,
        }, hc, br, a.log)
    }
    if cfg.Finnhub.Enabled {
        third = finnhub.New(finnhub.Config{
            APIKey:     cfg.Finnhub.APIKey,
            Timeout:    time.Duration(cfg.Finnhub.TimeoutSec) * time.Second,
            MaxSymbols: cfg.Finnhub.MaxSymbols,
        }, hc, br, a.log)
    }

    var fmpClient *fmp.Client
    if cfg.FMP.Enabled {
        c, err := fmp.NewClient(cfg.FMP.APIKey,
            fmp.WithBaseURL(cfg.FMP.BaseURL),
            fmp.WithHTTPClient(hc.HTTP),
            fmp.WithHeader(http.Header{"User-Agent": []string{"stock-refresh/1.0"}}),
        )
        if err != nil {
            a.log.Errorw("fmp client", "err", err)
        } else {
            fmpClient = c
            funda = fmp.NewAdapter(fmp.Config{
                Timeout:    time.Duration(cfg.FMP.TimeoutSec) * time.Second,
                Configured: cfg.FMP.APIKey != "",
            }, c, br, a.log)
        }
    }

    // Token bucket with burst when an RPM cap is set, else fixed throttle.
    var pacer ratelimit.Pacer
    if cfg.Refresh.MaxRequestsPerMinute > 0 {
        rate := float64(cfg.Refresh.MaxRequestsPerMinute) / 60.0
        burst := cfg.Refresh.Burst
        if burst <= 0 { burst = 1 }
        pacer = ratelimit.NewTokenBucket(rate, burst)
    } else {
        pacer = ratelimit.NewInterval(time.Duration(cfg.Refresh.ThrottleMs) * time.Millisecond)
    }

    a.runner = &refresh.Runner{
        Primary:      prim,
        Secondary:    second,
        Tertiary:     third,
        Fundamentals: funda,
        Policy:       merge.DefaultPolicy(),
        Store:        a.store,
        Pacer:        pacer,
        BatchSize:    cfg.Refresh.BatchSize,
        TertiaryCap:  cfg.Finnhub.MaxSymbols,
        Log:          a.log,
    }
    a.selector = &refresh.Selector{
        Source:    a.store,
        TopNDelta: cfg.Refresh.TopNDelta,
        ManualCap: cfg.Refresh.MaxManualSymbols,
        Log:       a.log,
    }

    // The screener's enrichment skips the per-symbol tertiary provider;
    // candidate sets are too large for it.
    enricher := &refresh.Runner{
        Primary:      prim,
        Secondary:    second,
        Fundamentals: funda,
        Policy:       merge.DefaultPolicy(),
        Pacer:        pacer,
        BatchSize:    cfg.Refresh.BatchSize,
        Log:          a.log,
    }
    a.screener = &screener.Screener{
        Store:        a.store,
        Enricher:     enricher,
        TTL:          time.Duration(cfg.Refresh.FreshnessMs) * time.Millisecond,
        SelectCap:    cfg.Screener.SelectCap,
        DefaultLimit: cfg.Screener.DefaultLimit,
        ManualCap:    cfg.Refresh.MaxManualSymbols,
        Log:          a.log,
    }
    if fmpClient != nil {
        a.screener.Candidates = fmpClient
    }
}

type refreshRequest struct {
    Mode    string   `json:"mode"`
    Symbols []string `json:"symbols"`
    Force   bool     `json:"force"`
    Limit   int      `json:"limit"`
    Offset  int      `json:"offset"`
}

func (a *app) handleRefresh(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    var req refreshRequest
    dec := json.NewDecoder(r.Body)
    dec.DisallowUnknownFields()
    if err := dec.Decode(&req); err != nil && err != io.EOF {
        http.Error(w, "invalid JSON body", http.StatusBadRequest)
        return
    }
    mode := strings.ToLower(req.Mode)
    if mode == "" {
        // A bare symbols list means a manual run.
        if len(req.Symbols) > 0 {
            mode = "manual"
        } else {
            mode = "delta"
        }
    }
    switch mode {
    case "full", "delta":
    case "manual":
        if len(req.Symbols) == 0 {
            http.Error(w, "manual mode requires symbols", http.StatusBadRequest)
            return
        }
    default:
        http.Error(w, "mode must be full, delta or manual", http.StatusBadRequest)
        return
    }

    if !req.Force && a.store.IsMarketClosed(r.Context(), time.Now()) {
        writeJSON(w, map[string]any{"skipped": true, "reason": "market_closed"})
        return
    }

    var symbols []string
    switch mode {
    case "full":
        var err error
        symbols, err = a.selector.Full(r.Context(), req.Limit, req.Offset)
        if err != nil {
            a.log.Errorw("full selection failed", "err", err)
            http.Error(w, "symbol selection failed", http.StatusInternalServerError)
            return
        }
    case "delta":
        symbols = a.selector.Delta(r.Context())
    case "manual":
        symbols = a.selector.Manual(req.Symbols)
    }

    outcome := a.runner.Process(r.Context(), symbols)
    writeJSON(w, outcome)
}

type screenerRequest struct {
    model.Filters
    Limit int `json:"limit"`
}

func (a *app) handleScreener(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
        return
    }
    var req screenerRequest
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
        http.Error(w, "invalid JSON body", http.StatusBadRequest)
        return
    }
    defer func() {
        if rec := recover(); rec != nil {
            a.log.Errorw("screener panic", "err", rec)
            w.WriteHeader(http.StatusInternalServerError)
            writeJSON(w, screener.Result{
                Results: []model.Quote{},
                Source:  screener.SourceError,
            })
        }
    }()
    res := a.screener.Run(r.Context(), req.Filters, req.Limit)
    writeJSON(w, res)
}

func writeJSON(w http.ResponseWriter, v any) {
    enc := json.NewEncoder(w)
    enc.SetEscapeHTML(false)
    _ = enc.Encode(v)
}

func withJSONHeaders(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.Header().Set("Content-Type", "application/json; charset=utf-8")
        w.Header().Set("Access-Control-Allow-Origin", "*")
        w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
        w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
        if r.Method == http.MethodOptions {
            w.WriteHeader(http.StatusNoContent)
            return
        }
        next.ServeHTTP(w, r)
    })
}

// withGzip compresses response when client supports gzip.
func withGzip(next http.Handler) http.Handler {
    var gzPool = sync.Pool{New: func() any {
        w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
        return w
    }}
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
            next.ServeHTTP(w, r)
            return
        }
        gz := gzPool.Get().(*gzip.Writer)
        gz.Reset(w)
        defer func() {
            _ = gz.Close()
            gz.Reset(io.Discard)
            gzPool.Put(gz)
        }()
        w.Header().Set("Content-Encoding", "gzip")
        w.Header().Add("Vary", "Accept-Encoding")
        gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
        next.ServeHTTP(gw, r)
    })
}

type gzipResponseWriter struct {
    http.ResponseWriter
    Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
    return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
    const maxBody = 1 << 20 // 1MB
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.Method == http.MethodPost && r.Body != nil {
            r.Body = http.MaxBytesReader(w, r.Body, maxBody)
        }
        next.ServeHTTP(w, r)
    })
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        defer func() {
            if rec := recover(); rec != nil {
                http.Error(w, "internal server error", http.StatusInternalServerError)
            }
        }()
        next.ServeHTTP(w, r)
    })
}
