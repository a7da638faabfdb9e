package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"zusd/core/events"
	"zusd/crypto"
	"zusd/native/vault"
	"zusd/observability"
	"zusd/observability/metrics"
)

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("audit: store path must be configured")

// EventRecord is one append-only audit row per emitted vault event. Amounts
// are stored as decimal strings so 256-bit values survive the round trip.
// For liquidations Account holds the liquidated position owner and
// Counterparty the liquidator.
type EventRecord struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence     uint64    `gorm:"uniqueIndex"`
	Type         string    `gorm:"size:64;index"`
	Account      string    `gorm:"size:90;index"`
	Counterparty string    `gorm:"size:90;index"`
	Asset        string    `gorm:"size:16;index"`
	Amount       string    `gorm:"size:80"`
	DebtCovered  string    `gorm:"size:80"`
	Seized       string    `gorm:"size:80"`
	HealthFactor string    `gorm:"size:80"`
	Receipt      string    `gorm:"size:64;index"`
	SettledAt    int64     `gorm:"index"`
	OccurredAt   time.Time `gorm:"index"`
	RecordedAt   time.Time
}

// AutoMigrate applies the audit schema to the supplied database.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&EventRecord{})
}

// Store persists vault events for offline reconciliation and serves the
// audit query RPCs.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open initialises an sqlite-backed store at the supplied path.
func Open(path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}
	return NewStore(db)
}

// NewStore wraps an existing gorm handle, applying the schema first.
func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("audit: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Record appends one event envelope. Re-recording an already persisted
// sequence is a no-op so restarts can safely replay the bus backlog.
func (s *Store) Record(envelope events.Envelope) error {
	if s == nil || s.db == nil {
		return errors.New("audit: store not configured")
	}
	rec := recordFromEnvelope(envelope)
	rec.ID = uuid.New()
	rec.RecordedAt = s.now().UTC()
	result := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if result.Error != nil {
		return fmt.Errorf("audit: record event %d: %w", envelope.Sequence, result.Error)
	}
	return nil
}

func recordFromEnvelope(envelope events.Envelope) EventRecord {
	attrs := envelope.Attributes
	get := func(key string) string {
		if attrs == nil {
			return ""
		}
		return attrs[key]
	}
	rec := EventRecord{
		Sequence:   envelope.Sequence,
		Type:       envelope.Type,
		OccurredAt: envelope.Timestamp.UTC(),
	}
	if envelope.Type == vault.TypePositionLiquidated {
		rec.Account = get("target")
		rec.Counterparty = get("liquidator")
		rec.Asset = get("asset")
		rec.DebtCovered = get("debt_covered")
		rec.Seized = get("collateral_seized")
		rec.HealthFactor = get("factor_after")
		rec.Receipt = get("receipt")
		if nanos, err := strconv.ParseInt(get("settled_at"), 10, 64); err == nil {
			rec.SettledAt = nanos
		}
		return rec
	}
	rec.Account = get("account")
	rec.Asset = get("asset")
	rec.Amount = get("amount")
	rec.HealthFactor = get("health_factor")
	return rec
}

// LastSequence reports the highest persisted bus sequence, zero when empty.
// Daemons hand it back to the bus as the resume cursor.
func (s *Store) LastSequence() (uint64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("audit: store not configured")
	}
	var seq uint64
	err := s.db.Model(&EventRecord{}).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&seq).Error
	if err != nil {
		return 0, fmt.Errorf("audit: query last sequence: %w", err)
	}
	return seq, nil
}

// BySequence fetches a single recorded event. The second return reports
// whether the sequence is known.
func (s *Store) BySequence(seq uint64) (EventRecord, bool, error) {
	if s == nil || s.db == nil {
		return EventRecord{}, false, errors.New("audit: store not configured")
	}
	var rec EventRecord
	err := s.db.Where("sequence = ?", seq).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return EventRecord{}, false, nil
	}
	if err != nil {
		return EventRecord{}, false, fmt.Errorf("audit: query sequence %d: %w", seq, err)
	}
	return rec, true, nil
}

// RecentActivity returns the newest rows touching the account, either as the
// position owner or as the liquidator.
func (s *Store) RecentActivity(account string, limit int) ([]EventRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("audit: store not configured")
	}
	trimmed := strings.TrimSpace(account)
	if trimmed == "" {
		return nil, errors.New("audit: account required")
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows []EventRecord
	err := s.db.
		Where("account = ? OR counterparty = ?", trimmed, trimmed).
		Order("sequence DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("audit: query activity: %w", err)
	}
	return rows, nil
}

// Liquidations returns the liquidation rows settled inside the window,
// oldest first. Zero bounds leave that side of the window open.
func (s *Store) Liquidations(start, end time.Time) ([]EventRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("audit: store not configured")
	}
	lo := int64(0)
	if !start.IsZero() {
		lo = start.UnixNano()
	}
	hi := int64(math.MaxInt64)
	if !end.IsZero() {
		hi = end.UnixNano()
	}
	var rows []EventRecord
	err := s.db.
		Where("type = ? AND settled_at >= ? AND settled_at <= ?", vault.TypePositionLiquidated, lo, hi).
		Order("sequence ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("audit: query liquidations: %w", err)
	}
	return rows, nil
}

// VerifyRecord recomputes the liquidation receipt digest from the stored row
// and compares it against the persisted copy. Rows for other event types, and
// rows whose fields no longer parse, report false.
func (s *Store) VerifyRecord(rec EventRecord) bool {
	if rec.Type != vault.TypePositionLiquidated || rec.Receipt == "" {
		return false
	}
	liquidator, err := crypto.DecodeAddress(rec.Counterparty)
	if err != nil {
		return false
	}
	target, err := crypto.DecodeAddress(rec.Account)
	if err != nil {
		return false
	}
	debt, ok := new(big.Int).SetString(rec.DebtCovered, 10)
	if !ok {
		return false
	}
	seized, ok := new(big.Int).SetString(rec.Seized, 10)
	if !ok {
		return false
	}
	settled := time.Unix(0, rec.SettledAt)
	return vault.VerifyLiquidationReceipt(liquidator, target, rec.Asset, debt, seized, settled, rec.Receipt)
}

// Follow subscribes to the bus from the last persisted sequence and records
// every envelope until the context ends. Persistence failures are logged and
// skipped; the stream itself stays up.
func (s *Store) Follow(ctx context.Context, bus *events.Bus, logger *slog.Logger) error {
	if s == nil || s.db == nil {
		return errors.New("audit: store not configured")
	}
	if bus == nil {
		return errors.New("audit: event bus required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	last, err := s.LastSequence()
	if err != nil {
		return err
	}
	cursor := ""
	if last > 0 {
		cursor = strconv.FormatUint(last, 10)
	}

	updates, cancel, backlog := bus.Subscribe(ctx, cursor)
	defer cancel()

	for _, envelope := range backlog {
		s.follow(envelope, logger)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-updates:
			if !ok {
				return nil
			}
			s.follow(envelope, logger)
		}
	}
}

func (s *Store) follow(envelope events.Envelope, logger *slog.Logger) {
	observability.Events().RecordEvent(envelope.Type)
	if envelope.Type == vault.TypePositionLiquidated {
		metrics.Vault().RecordLiquidation(envelope.Attributes["asset"])
	}
	if err := s.Record(envelope); err != nil {
		logger.Error("audit record failed",
			"event", envelope.Type,
			"sequence", envelope.Sequence,
			"error", err.Error(),
		)
	}
}
