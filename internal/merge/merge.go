package merge

import (
    "encoding/json"

    "stockrefresh/internal/model"
)

// Sourced pairs a provider name with what that provider returned for one
// symbol. Partial is nil when the provider did not answer the symbol.
type Sourced struct {
    Provider string
    Partial  *model.Partial
}

// Policy declares, per field, which providers may supply it and in what
// order. Merge is per-field: one symbol's price may come from the first
// provider while its market cap comes from the last.
type Policy struct {
    Name           []string
    Price          []string
    Open           []string
    High           []string
    Low            []string
    ChangePercent  []string
    Volume         []string
    MarketCap      []string
    SharesFloat    []string
    RelativeVolume []string
}

// DefaultPolicy is the fixed production priority: quote fields follow the
// quote-provider cascade, fundamentals prefer the primary and fall back to
// the fundamentals provider, relative volume is primary-only.
func DefaultPolicy() Policy {
    quote := []string{"primary", "twelvedata", "finnhub"}
    return Policy{
        Name:           []string{"primary", "twelvedata", "fmp"},
        Price:          []string{"primary", "twelvedata", "finnhub", "fmp"},
        Open:           quote,
        High:           quote,
        Low:            quote,
        ChangePercent:  quote,
        Volume:         []string{"primary", "twelvedata"},
        MarketCap:      []string{"primary", "fmp"},
        SharesFloat:    []string{"primary", "fmp"},
        RelativeVolume: []string{"primary"},
    }
}

// Merge fuses the per-provider partials for one symbol. It returns nil
// when no provider produced anything. The result may still have a nil
// Price; callers drop such quotes instead of persisting them.
func (p Policy) Merge(symbol string, srcs []Sourced) *model.Quote {
    byName := make(map[string]*model.Partial, len(srcs))
    any := false
    for _, s := range srcs {
        byName[s.Provider] = s.Partial
        if s.Partial != nil { any = true }
    }
    if !any {
        return nil
    }

    raw := make(map[string]json.RawMessage, len(srcs))
    for _, s := range srcs {
        if s.Partial != nil && s.Partial.Raw != nil {
            raw[s.Provider] = s.Partial.Raw
        }
    }

    return &model.Quote{
        Symbol:         symbol,
        Name:           firstString(byName, p.Name, func(pt *model.Partial) *string { return pt.Name }),
        Price:          firstFloat(byName, p.Price, func(pt *model.Partial) *float64 { return pt.Price }),
        Open:           firstFloat(byName, p.Open, func(pt *model.Partial) *float64 { return pt.Open }),
        High:           firstFloat(byName, p.High, func(pt *model.Partial) *float64 { return pt.High }),
        Low:            firstFloat(byName, p.Low, func(pt *model.Partial) *float64 { return pt.Low }),
        ChangePercent:  firstFloat(byName, p.ChangePercent, func(pt *model.Partial) *float64 { return pt.ChangePercent }),
        Volume:         firstFloat(byName, p.Volume, func(pt *model.Partial) *float64 { return pt.Volume }),
        MarketCap:      firstFloat(byName, p.MarketCap, func(pt *model.Partial) *float64 { return pt.MarketCap }),
        SharesFloat:    firstFloat(byName, p.SharesFloat, func(pt *model.Partial) *float64 { return pt.SharesFloat }),
        RelativeVolume: firstFloat(byName, p.RelativeVolume, func(pt *model.Partial) *float64 { return pt.RelativeVolume }),
        Raw:            raw,
    }
}

// FirstSource names the first provider in priority order that answered
// the symbol at all. Empty string when none did.
func FirstSource(srcs []Sourced) string {
    for _, s := range srcs {
        if s.Partial != nil {
            return s.Provider
        }
    }
    return ""
}

func firstFloat(byName map[string]*model.Partial, order []string, get func(*model.Partial) *float64) *float64 {
    for _, name := range order {
        if pt := byName[name]; pt != nil {
            if v := get(pt); v != nil { return v }
        }
    }
    return nil
}

func firstString(byName map[string]*model.Partial, order []string, get func(*model.Partial) *string) *string {
    for _, name := range order {
        if pt := byName[name]; pt != nil {
            if v := get(pt); v != nil { return v }
        }
    }
    return nil
}
