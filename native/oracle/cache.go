package oracle

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	bbolt "go.etcd.io/bbolt"

	"zusd/observability"
)

var bucketQuotes = []byte("quotes")

// QuoteCache persists the last good round per feed so a restarted daemon can
// keep answering valuation queries while upstream feeds recover.
type QuoteCache struct {
	db *bbolt.DB
}

// OpenQuoteCache opens (or creates) the cache database.
func OpenQuoteCache(path string) (*QuoteCache, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketQuotes)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &QuoteCache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *QuoteCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

type cachedRound struct {
	Price     string `json:"price"`
	Decimals  uint8  `json:"decimals"`
	UpdatedAt int64  `json:"updated_at"`
	Source    string `json:"source"`
}

// Store records the round as the last good observation for feedID.
func (c *QuoteCache) Store(feedID string, round RoundData) error {
	if c == nil || c.db == nil {
		return fmt.Errorf("quote cache not initialised")
	}
	trimmed := strings.TrimSpace(feedID)
	if trimmed == "" {
		return fmt.Errorf("quote cache: feed id required")
	}
	if round.Price == nil || round.Price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	record := cachedRound{
		Price:     round.Price.String(),
		Decimals:  round.Decimals,
		UpdatedAt: round.UpdatedAt.UTC().Unix(),
		Source:    round.Source,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketQuotes).Put([]byte(trimmed), raw)
	})
}

// Load returns the last stored round for feedID. The boolean reports whether
// an entry existed.
func (c *QuoteCache) Load(feedID string) (RoundData, bool, error) {
	if c == nil || c.db == nil {
		return RoundData{}, false, fmt.Errorf("quote cache not initialised")
	}
	trimmed := strings.TrimSpace(feedID)
	if trimmed == "" {
		return RoundData{}, false, fmt.Errorf("quote cache: feed id required")
	}
	var raw []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		if stored := tx.Bucket(bucketQuotes).Get([]byte(trimmed)); stored != nil {
			raw = append([]byte{}, stored...)
		}
		return nil
	})
	if err != nil {
		return RoundData{}, false, err
	}
	if raw == nil {
		return RoundData{}, false, nil
	}
	var record cachedRound
	if err := json.Unmarshal(raw, &record); err != nil {
		return RoundData{}, false, fmt.Errorf("quote cache: decode %s: %w", trimmed, err)
	}
	price, ok := new(big.Int).SetString(record.Price, 10)
	if !ok {
		return RoundData{}, false, fmt.Errorf("quote cache: invalid stored price %q", record.Price)
	}
	return RoundData{
		Price:     price,
		Decimals:  record.Decimals,
		UpdatedAt: time.Unix(record.UpdatedAt, 0).UTC(),
		Source:    record.Source,
	}, true, nil
}

// CachingFeed wraps a feed with last-good fallback through a QuoteCache.
// Successful rounds refresh the cache; upstream failures are answered from
// the cache as long as the stored round is younger than maxAge. A zero
// maxAge serves cached rounds regardless of age.
type CachingFeed struct {
	feed    PriceFeed
	cache   *QuoteCache
	feedID  string
	maxAge  time.Duration
	metrics *observability.OracleMetrics
}

func NewCachingFeed(feed PriceFeed, cache *QuoteCache, feedID string, maxAge time.Duration) *CachingFeed {
	return &CachingFeed{
		feed:    feed,
		cache:   cache,
		feedID:  strings.TrimSpace(feedID),
		maxAge:  maxAge,
		metrics: observability.Oracle(),
	}
}

func (f *CachingFeed) LatestRound() (RoundData, error) {
	if f == nil || f.feed == nil {
		return RoundData{}, fmt.Errorf("caching feed not configured")
	}
	round, err := f.feed.LatestRound()
	f.metrics.RecordRefresh(f.feedID, err)
	if err == nil {
		if f.cache != nil {
			// Refresh failures must not mask a good round.
			_ = f.cache.Store(f.feedID, round)
		}
		f.metrics.RecordQuote(f.feedID, round.Price, round.Decimals, time.Since(round.UpdatedAt))
		return round, nil
	}
	if f.cache == nil {
		return RoundData{}, err
	}
	cached, ok, loadErr := f.cache.Load(f.feedID)
	if loadErr != nil || !ok {
		return RoundData{}, err
	}
	if f.maxAge > 0 && time.Since(cached.UpdatedAt) > f.maxAge {
		return RoundData{}, err
	}
	f.metrics.RecordFallback(f.feedID)
	f.metrics.RecordQuote(f.feedID, cached.Price, cached.Decimals, time.Since(cached.UpdatedAt))
	return cached, nil
}
