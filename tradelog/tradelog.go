// Package tradelog is the durable trade-history table (SPEC_FULL.md §2.2,
// expansion): every OrderResult that reaches the confirm step is appended
// here for downstream analytics. Adapted from the teacher's storage/database.go
// enabled-flag/migrate-on-open shape, but persisted through gorm (sqlite
// for local/dev, postgres for prod) instead of raw database/sql + lib/pq,
// matching the two gorm driver modules the teacher's go.mod already
// carries. This is purely additive bookkeeping; it never gates the order
// path (§3 ownership note).
package tradelog

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/ordersys/hlexec/types"
)

// tradeRow is the gorm model backing TradeRecord.
type tradeRow struct {
	ID        string `gorm:"primaryKey"`
	Asset     string
	Side      string
	Price     string
	Size      string
	Action    string
	PnL       string
	CreatedAt time.Time
}

func (tradeRow) TableName() string { return "trades" }

// Log is the trade-history persistence collaborator. A Log with
// enabled=false is a safe no-op, mirroring storage.Database's pattern for
// when DATABASE_URL is unset.
type Log struct {
	db      *gorm.DB
	enabled bool
}

// Open connects using dsn. An empty dsn returns a disabled Log rather than
// an error (§6: "empty ⇒ disabled exactly like storage.Database's enabled
// flag"). dsn beginning with "postgres://" or "postgresql://" uses the
// postgres driver; anything else is treated as a sqlite file path.
func Open(dsn string) (*Log, error) {
	if dsn == "" {
		log.Warn().Msg("DATABASE_URL not set, trade log disabled")
		return &Log{enabled: false}, nil
	}

	var dialector gorm.Dialector
	if isPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("tradelog: open: %w", err)
	}

	if err := db.AutoMigrate(&tradeRow{}); err != nil {
		return nil, fmt.Errorf("tradelog: migrate: %w", err)
	}

	log.Info().Msg("trade log connected")
	return &Log{db: db, enabled: true}, nil
}

func isPostgresDSN(dsn string) bool {
	return len(dsn) >= 11 && (dsn[:11] == "postgres://" || (len(dsn) >= 14 && dsn[:14] == "postgresql://"))
}

// IsEnabled reports whether the trade log is writing to a real database.
func (l *Log) IsEnabled() bool {
	return l != nil && l.enabled
}

// Append writes one TradeRecord. Failures are logged, never returned to
// the order path (§2.2).
func (l *Log) Append(rec types.TradeRecord) {
	if !l.IsEnabled() {
		return
	}

	row := tradeRow{
		ID:        rec.ID,
		Asset:     rec.Asset,
		Side:      string(rec.Side),
		Price:     rec.Price.String(),
		Size:      rec.Size.String(),
		Action:    rec.Action,
		PnL:       rec.PnL.String(),
		CreatedAt: rec.Timestamp,
	}
	if err := l.db.Create(&row).Error; err != nil {
		log.Error().Err(err).Str("id", rec.ID).Msg("failed to append trade record")
	}
}

// Recent returns the most recent trades, newest first.
func (l *Log) Recent(limit int) ([]types.TradeRecord, error) {
	if !l.IsEnabled() {
		return nil, nil
	}

	var rows []tradeRow
	if err := l.db.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("tradelog: query recent: %w", err)
	}

	out := make([]types.TradeRecord, 0, len(rows))
	for _, row := range rows {
		price, _ := decimal.NewFromString(row.Price)
		size, _ := decimal.NewFromString(row.Size)
		pnl, _ := decimal.NewFromString(row.PnL)
		out = append(out, types.TradeRecord{
			ID:        row.ID,
			Asset:     row.Asset,
			Side:      types.Side(row.Side),
			Price:     price,
			Size:      size,
			Action:    row.Action,
			PnL:       pnl,
			Timestamp: row.CreatedAt,
		})
	}
	return out, nil
}

// Close releases the underlying connection pool, if any.
func (l *Log) Close() error {
	if !l.IsEnabled() {
		return nil
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
