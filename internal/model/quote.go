package model

import (
	"encoding/json"
	"math"
	"time"
)

// Quote is one reconciled row of the stocks table. Nullable columns are
// pointers; a Quote with a nil Price is never persisted.
type Quote struct {
	Symbol         string                     `json:"symbol"`
	Name           *string                    `json:"name"`
	Price          *float64                   `json:"price"`
	Open           *float64                   `json:"open"`
	High           *float64                   `json:"high"`
	Low            *float64                   `json:"low"`
	Close          *float64                   `json:"close"`
	Volume         *float64                   `json:"volume"`
	ChangePercent  *float64                   `json:"change_percent"`
	MarketCap      *float64                   `json:"market_cap"`
	SharesFloat    *float64                   `json:"shares_float"`
	RelativeVolume *float64                   `json:"relative_volume"`
	Raw            map[string]json.RawMessage `json:"raw,omitempty"`
	UpdatedAt      time.Time                  `json:"updated_at"`
}

// Partial is what a single provider knows about one symbol for one fetch
// attempt. It is consumed by the merge engine and never stored directly.
type Partial struct {
	Symbol         string
	Name           *string
	Price          *float64
	Open           *float64
	High           *float64
	Low            *float64
	Volume         *float64
	ChangePercent  *float64
	MarketCap      *float64
	SharesFloat    *float64
	RelativeVolume *float64
	Raw            json.RawMessage
}

// Filters are the screener's numeric range predicates plus an optional
// explicit symbol set. Nil means "not constrained".
type Filters struct {
	PriceMin          *float64 `json:"price_min"`
	PriceMax          *float64 `json:"price_max"`
	VolumeMin         *float64 `json:"volume_min"`
	MarketCapMin      *float64 `json:"market_cap_min"`
	MarketCapMax      *float64 `json:"market_cap_max"`
	FloatMax          *float64 `json:"float_max"`
	ChangeMin         *float64 `json:"change_min"`
	ChangeMax         *float64 `json:"change_max"`
	RelativeVolumeMin *float64 `json:"relative_volume_min"`
	Symbols           []string `json:"symbols"`
	Realtime          bool     `json:"realtime"`
}

func Float(v float64) *float64 { return &v }

func String(s string) *string { return &s }

// Round4 rounds to 4 decimal places, the precision change_percent is
// stored with.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Round2 rounds to 2 decimal places (relative volume).
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ChangePercent derives percent change from the previous close when
// available, else from the open. Nil when neither base is usable.
func ChangePercent(price, prevClose, open *float64) *float64 {
	if price == nil {
		return nil
	}
	if prevClose != nil && *prevClose != 0 {
		return Float(Round4((*price - *prevClose) / *prevClose * 100))
	}
	if open != nil && *open != 0 {
		return Float(Round4((*price - *open) / *open * 100))
	}
	return nil
}

// RelativeVolume is today's volume over the 10-day average volume.
func RelativeVolume(today, avg10 *float64) *float64 {
	if today == nil || avg10 == nil || *avg10 == 0 {
		return nil
	}
	return Float(Round2(*today / *avg10))
}
