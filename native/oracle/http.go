package oracle

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const defaultSimplePriceEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// HTTPFeed adapts a CoinGecko-style simple price endpoint to the PriceFeed
// interface. Each feed instance tracks a single asset identifier and publishes
// rounds at the precision configured at construction.
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
	assetID  string
	decimals uint8
}

// NewHTTPFeed constructs a feed for the given upstream asset identifier. When
// the client is nil http.DefaultClient is used; an empty endpoint falls back
// to the public CoinGecko API.
func NewHTTPFeed(client HTTPDoer, endpoint, assetID string, decimals uint8) *HTTPFeed {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultSimplePriceEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFeed{
		client:   client,
		endpoint: ep,
		assetID:  strings.ToLower(strings.TrimSpace(assetID)),
		decimals: decimals,
	}
}

func (f *HTTPFeed) LatestRound() (RoundData, error) {
	if f == nil {
		return RoundData{}, fmt.Errorf("http feed not configured")
	}
	if f.assetID == "" {
		return RoundData{}, fmt.Errorf("http feed: asset identifier required")
	}
	req, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return RoundData{}, err
	}
	values := url.Values{}
	values.Set("ids", f.assetID)
	values.Set("vs_currencies", "usd")
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := f.client.Do(req)
	if err != nil {
		return RoundData{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return RoundData{}, fmt.Errorf("http feed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]interface{}
	if err := decoder.Decode(&payload); err != nil {
		return RoundData{}, fmt.Errorf("http feed: decode: %w", err)
	}
	entry, ok := payload[f.assetID]
	if !ok {
		return RoundData{}, fmt.Errorf("http feed: quote missing for %s", f.assetID)
	}
	var priceStr string
	if raw, exists := entry["usd"]; exists {
		switch v := raw.(type) {
		case json.Number:
			priceStr = v.String()
		case string:
			priceStr = v
		case float64:
			priceStr = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			priceStr = fmt.Sprintf("%v", v)
		}
	}
	priceStr = strings.TrimSpace(priceStr)
	if priceStr == "" {
		return RoundData{}, fmt.Errorf("http feed: empty price")
	}
	rat, ok := new(big.Rat).SetString(priceStr)
	if !ok || rat.Sign() <= 0 {
		return RoundData{}, fmt.Errorf("http feed: invalid price %q", priceStr)
	}
	price := ratToFixed(rat, f.decimals)
	if price.Sign() <= 0 {
		return RoundData{}, fmt.Errorf("http feed: price %q underflows %d decimals", priceStr, f.decimals)
	}
	ts := time.Time{}
	if rawTs, exists := entry["last_updated_at"]; exists {
		switch v := rawTs.(type) {
		case json.Number:
			if parsed, err := v.Int64(); err == nil && parsed > 0 {
				ts = time.Unix(parsed, 0)
			}
		case float64:
			if v > 0 {
				ts = time.Unix(int64(v), 0)
			}
		}
	}
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return RoundData{Price: price, Decimals: f.decimals, UpdatedAt: ts, Source: "coingecko"}, nil
}

// ratToFixed scales a decimal rate to an integer with the given number of
// fractional digits, truncating the remainder.
func ratToFixed(rat *big.Rat, decimals uint8) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(scale))
	return new(big.Int).Quo(scaled.Num(), scaled.Denom())
}
