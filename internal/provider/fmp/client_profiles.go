package fmp

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Profile is one company profile row from the FMP API.
type Profile struct {
	Symbol            string          `json:"symbol"`
	CompanyName       *string         `json:"companyName"`
	Price             *float64        `json:"price"`
	MktCap            *float64        `json:"mktCap"`
	MarketCap         *float64        `json:"marketCap"`
	SharesOutstanding *float64        `json:"sharesOutstanding"`
	Raw               json.RawMessage `json:"-"`
}

// GetProfiles retrieves company profiles for up to a batch of symbols in
// one request.
func (c *Client) GetProfiles(ctx context.Context, symbols []string) ([]Profile, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	query := maps.Clone(c.query)
	u := fmt.Sprintf("%s/profile/%s?%s", c.baseURL, url.PathEscape(strings.Join(symbols, ",")), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		break
	case http.StatusForbidden, http.StatusUnauthorized:
		return nil, fmt.Errorf("unauthorized")
	case http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limited")
	default:
		return nil, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	var rows []json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding profiles response: %w", err)
	}
	var profiles []Profile
	for _, raw := range rows {
		var p Profile
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding profile: %w", err)
		}
		if p.Symbol == "" {
			continue
		}
		p.Raw = raw
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// ScreenerQuery maps the screener's range filters onto FMP's
// stock-screener query parameters.
type ScreenerQuery struct {
	PriceMoreThan      *float64
	PriceLowerThan     *float64
	MarketCapMoreThan  *float64
	MarketCapLowerThan *float64
	VolumeMoreThan     *float64
	Exchange           string
	Limit              int
}

// GetScreenerCandidates asks the FMP stock screener for symbols matching
// the query. Only symbols are returned; the caller enriches them through
// the provider cascade.
func (c *Client) GetScreenerCandidates(ctx context.Context, q ScreenerQuery) ([]string, error) {
	query := maps.Clone(c.query)
	if q.Limit > 0 {
		query.Set("limit", strconv.Itoa(q.Limit))
	}
	exchange := q.Exchange
	if exchange == "" {
		exchange = "NASDAQ,NYSE"
	}
	query.Set("exchange", exchange)
	setFloat := func(key string, v *float64) {
		if v != nil {
			query.Set(key, strconv.FormatFloat(*v, 'f', -1, 64))
		}
	}
	setFloat("priceMoreThan", q.PriceMoreThan)
	setFloat("priceLowerThan", q.PriceLowerThan)
	setFloat("marketCapMoreThan", q.MarketCapMoreThan)
	setFloat("marketCapLowerThan", q.MarketCapLowerThan)
	setFloat("volumeMoreThan", q.VolumeMoreThan)

	u := fmt.Sprintf("%s/stock-screener?%s", c.baseURL, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.header.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("performing request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	var rows []struct {
		Symbol string `json:"symbol"`
		Ticker string `json:"ticker"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding screener response: %w", err)
	}
	symbols := make([]string, 0, len(rows))
	for _, r := range rows {
		s := r.Symbol
		if s == "" {
			s = r.Ticker
		}
		if s != "" {
			symbols = append(symbols, s)
		}
	}
	return symbols, nil
}
