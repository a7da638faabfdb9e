package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownFeed indicates that no feed is bound under the requested
	// identifier.
	ErrUnknownFeed = errors.New("oracle: unknown feed")
	// ErrInvalidPrice indicates the upstream feed reported a non-positive
	// price. Valuations never divide by such a round.
	ErrInvalidPrice = errors.New("oracle: invalid price")
)

// RoundData is one published price observation. Price carries Decimals
// fractional digits, so the dollar price of one whole asset unit is
// Price / 10^Decimals.
type RoundData struct {
	Price     *big.Int
	Decimals  uint8
	UpdatedAt time.Time
	Source    string
}

// Clone returns a deep copy of the round to prevent accidental mutations.
func (r RoundData) Clone() RoundData {
	clone := RoundData{Decimals: r.Decimals, UpdatedAt: r.UpdatedAt, Source: r.Source}
	if r.Price != nil {
		clone.Price = new(big.Int).Set(r.Price)
	}
	return clone
}

// PriceFeed resolves the latest published round for a single asset/USD pair.
type PriceFeed interface {
	LatestRound() (RoundData, error)
}

// ManualFeed provides an in-memory feed implementation used for tests and
// operator overrides during incident response.
type ManualFeed struct {
	mu    sync.RWMutex
	round RoundData
	set   bool
}

// NewManualFeed constructs an empty manual feed. SetPrice must be called
// before the first LatestRound.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{}
}

// SetPrice records a price with the given feed precision, stamped now.
func (m *ManualFeed) SetPrice(price *big.Int, decimals uint8) {
	if m == nil || price == nil {
		return
	}
	m.SetRound(RoundData{
		Price:     new(big.Int).Set(price),
		Decimals:  decimals,
		UpdatedAt: time.Now().UTC(),
		Source:    "manual",
	})
}

// SetRound stores the provided round verbatim.
func (m *ManualFeed) SetRound(round RoundData) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.round = round.Clone()
	if strings.TrimSpace(m.round.Source) == "" {
		m.round.Source = "manual"
	}
	m.set = true
	m.mu.Unlock()
}

// LatestRound retrieves the stored round.
func (m *ManualFeed) LatestRound() (RoundData, error) {
	if m == nil {
		return RoundData{}, fmt.Errorf("manual feed not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return RoundData{}, fmt.Errorf("manual feed: no round published")
	}
	return m.round.Clone(), nil
}
