package finnhub

import (
    "context"
    "fmt"
    "net/http"
    "net/http/httptest"
    "sync/atomic"
    "testing"
    "time"

    "go.uber.org/zap"

    "stockrefresh/internal/httpx"
    "stockrefresh/internal/provider/breaker"
)

func newTestProvider(t *testing.T, baseURL string, maxSymbols int, br *breaker.Breaker) *Provider {
    t.Helper()
    if br == nil {
        br = breaker.New(breaker.DefaultThreshold, 0)
    }
    return New(Config{BaseURL: baseURL, APIKey: "key", Timeout: 2 * time.Second, MaxSymbols: maxSymbols},
        httpx.New(2*time.Second), br, zap.NewNop().Sugar())
}

func TestFetchBatch_PerSymbolFanOut(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        sym := r.URL.Query().Get("symbol")
        switch sym {
        case "AAPL":
            w.Write([]byte(`{"c":190.5,"o":188.0,"h":191.0,"l":187.5,"pc":189.0,"dp":0.7937}`))
        case "MSFT":
            w.Write([]byte(`{"c":410.1,"o":408.0,"h":411.0,"l":407.0,"pc":405.0}`))
        default:
            w.Write([]byte(`{"c":0}`))
        }
    }))
    defer srv.Close()

    p := newTestProvider(t, srv.URL, 10, nil)
    out := p.FetchBatch(context.Background(), []string{"AAPL", "MSFT", "NOPE"})
    if len(out) != 2 {
        t.Fatalf("want 2 partials, got %d: %+v", len(out), out)
    }
    if *out["AAPL"].ChangePercent != 0.7937 {
        t.Fatalf("dp must be used verbatim: %v", *out["AAPL"].ChangePercent)
    }
    // No dp in the MSFT answer: derived from pc, (410.1-405)/405*100 = 1.2593.
    if got := out["MSFT"].ChangePercent; got == nil || *got != 1.2593 {
        t.Fatalf("derived change=%v, want 1.2593", got)
    }
    if _, ok := out["NOPE"]; ok {
        t.Fatalf("c=0 means unknown symbol, must be absent")
    }
}

func TestFetchBatch_CapsSymbolCount(t *testing.T) {
    var hits atomic.Int64
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        hits.Add(1)
        w.Write([]byte(`{"c":1.0}`))
    }))
    defer srv.Close()

    symbols := make([]string, 25)
    for i := range symbols {
        symbols[i] = fmt.Sprintf("S%02d", i)
    }
    p := newTestProvider(t, srv.URL, 10, nil)
    out := p.FetchBatch(context.Background(), symbols)
    if hits.Load() != 10 {
        t.Fatalf("hits=%d, want 10", hits.Load())
    }
    if len(out) != 10 {
        t.Fatalf("partials=%d, want 10", len(out))
    }
}

func TestFetchBatch_AllErrorsCountOnce(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusTooManyRequests)
    }))
    defer srv.Close()

    br := breaker.New(10, 0)
    p := newTestProvider(t, srv.URL, 5, br)
    out := p.FetchBatch(context.Background(), []string{"A", "B", "C"})
    if len(out) != 0 {
        t.Fatalf("want empty, got %+v", out)
    }
    // Three failed symbols are one logical call for the breaker.
    if got := br.Failures(Name); got != 1 {
        t.Fatalf("failures=%d, want 1", got)
    }
}

func TestFetchBatch_PartialSuccessResets(t *testing.T) {
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.URL.Query().Get("symbol") == "BAD" {
            w.WriteHeader(http.StatusInternalServerError)
            return
        }
        w.Write([]byte(`{"c":5.0}`))
    }))
    defer srv.Close()

    br := breaker.New(10, 0)
    br.RecordFailure(Name)
    p := newTestProvider(t, srv.URL, 5, br)
    out := p.FetchBatch(context.Background(), []string{"GOOD", "BAD"})
    if len(out) != 1 {
        t.Fatalf("want 1 partial, got %+v", out)
    }
    if got := br.Failures(Name); got != 0 {
        t.Fatalf("failures=%d, any success must reset", got)
    }
}

func TestFetchBatch_OpenBreakerSkips(t *testing.T) {
    var hits atomic.Int64
    srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        hits.Add(1)
    }))
    defer srv.Close()

    br := breaker.New(1, 0)
    br.RecordFailure(Name)
    p := newTestProvider(t, srv.URL, 5, br)
    out := p.FetchBatch(context.Background(), []string{"AAPL"})
    if len(out) != 0 || hits.Load() != 0 {
        t.Fatalf("open breaker must skip: out=%v hits=%d", out, hits.Load())
    }
}
