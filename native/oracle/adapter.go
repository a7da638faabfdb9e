package oracle

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// usdDecimals is the fixed-point precision of every dollar valuation the
// adapter produces. 1e18 equals one dollar.
const usdDecimals = 18

var precision = new(big.Int).Exp(big.NewInt(10), big.NewInt(usdDecimals), nil)

// Adapter binds feed identifiers to price feeds and converts between asset
// units and 18-decimal USD amounts. All arithmetic is integer only; divisions
// truncate toward zero so rounding residue always favours the protocol.
type Adapter struct {
	mu    sync.RWMutex
	feeds map[string]PriceFeed
}

func NewAdapter() *Adapter {
	return &Adapter{feeds: make(map[string]PriceFeed)}
}

// Bind adds or replaces the feed registered under id. Identifiers are stored
// trimmed so lookups remain consistent regardless of configuration casing.
func (a *Adapter) Bind(id string, feed PriceFeed) {
	if a == nil || feed == nil {
		return
	}
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	a.feeds[trimmed] = feed
	a.mu.Unlock()
}

// Feed returns the feed bound under id.
func (a *Adapter) Feed(id string) (PriceFeed, bool) {
	if a == nil {
		return nil, false
	}
	a.mu.RLock()
	feed, ok := a.feeds[strings.TrimSpace(id)]
	a.mu.RUnlock()
	return feed, ok
}

// LatestRound fetches the current round from the feed bound under id and
// validates the reported price.
func (a *Adapter) LatestRound(id string) (RoundData, error) {
	feed, ok := a.Feed(id)
	if !ok {
		return RoundData{}, fmt.Errorf("%w: %s", ErrUnknownFeed, id)
	}
	round, err := feed.LatestRound()
	if err != nil {
		return RoundData{}, fmt.Errorf("oracle: feed %s: %w", id, err)
	}
	if round.Price == nil || round.Price.Sign() <= 0 {
		return RoundData{}, fmt.Errorf("%w: feed %s", ErrInvalidPrice, id)
	}
	return round, nil
}

// normalizedPrice rescales a round to 18 decimals. Feeds publishing more than
// 18 fractional digits are rejected rather than silently truncated.
func normalizedPrice(round RoundData) (*big.Int, error) {
	if round.Price == nil || round.Price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if round.Decimals > usdDecimals {
		return nil, fmt.Errorf("oracle: unsupported feed precision %d", round.Decimals)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(usdDecimals-int(round.Decimals))), nil)
	return new(big.Int).Mul(round.Price, scale), nil
}

// USDValue converts amount asset units into an 18-decimal USD value using the
// latest round of the feed bound under id.
func (a *Adapter) USDValue(id string, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("oracle: amount must not be negative")
	}
	round, err := a.LatestRound(id)
	if err != nil {
		return nil, err
	}
	price, err := normalizedPrice(round)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(amount, price)
	return value.Quo(value, precision), nil
}

// AssetAmountForUSD converts an 18-decimal USD value into asset units at the
// latest round of the feed bound under id. The result truncates toward zero.
func (a *Adapter) AssetAmountForUSD(id string, usd *big.Int) (*big.Int, error) {
	if usd == nil || usd.Sign() < 0 {
		return nil, fmt.Errorf("oracle: usd amount must not be negative")
	}
	round, err := a.LatestRound(id)
	if err != nil {
		return nil, err
	}
	price, err := normalizedPrice(round)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Mul(usd, precision)
	return amount.Quo(amount, price), nil
}
