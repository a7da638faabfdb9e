package vault

import (
	"strings"
)

// Registry is the static mapping of approved collateral symbols to price feed
// identifiers. It is built once at construction and never mutated afterwards;
// lookups stay linear where ordering matters.
type Registry struct {
	assets []string
	feeds  map[string]string
}

// NewRegistry builds a registry from parallel asset and feed lists. The lists
// must match in length; duplicate symbols keep the last feed binding.
func NewRegistry(assets, feeds []string) (*Registry, error) {
	if len(assets) != len(feeds) {
		return nil, ErrLengthMismatch
	}
	registry := &Registry{
		assets: make([]string, 0, len(assets)),
		feeds:  make(map[string]string, len(assets)),
	}
	for i := range assets {
		symbol := normaliseAsset(assets[i])
		feed := strings.TrimSpace(feeds[i])
		if symbol == "" || feed == "" {
			return nil, ErrLengthMismatch
		}
		if _, exists := registry.feeds[symbol]; !exists {
			registry.assets = append(registry.assets, symbol)
		}
		registry.feeds[symbol] = feed
	}
	return registry, nil
}

// IsAllowed reports whether the symbol is approved collateral.
func (r *Registry) IsAllowed(asset string) bool {
	if r == nil {
		return false
	}
	_, ok := r.feeds[normaliseAsset(asset)]
	return ok
}

// FeedID returns the price feed identifier bound to the symbol.
func (r *Registry) FeedID(asset string) (string, bool) {
	if r == nil {
		return "", false
	}
	feed, ok := r.feeds[normaliseAsset(asset)]
	return feed, ok
}

// Assets returns the approved symbols in registration order.
func (r *Registry) Assets() []string {
	if r == nil {
		return nil
	}
	return append([]string{}, r.assets...)
}

func normaliseAsset(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
