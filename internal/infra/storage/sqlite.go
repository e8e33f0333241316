package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"options_go/internal/domain"
	"options_go/internal/event"
)

const tradeDayLayout = "2006-01-02"

// Storage is the trade journal: orders, fills, sequenced events and user settings.
type Storage struct {
	db  *gorm.DB
	loc *time.Location
}

// NewStorage opens (or creates) the SQLite journal at dbPath. Trade days are
// computed in loc.
func NewStorage(dbPath string, loc *time.Location) (*Storage, error) {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return newStorage(db, loc)
}

func newStorage(db *gorm.DB, loc *time.Location) (*Storage, error) {
	if err := db.AutoMigrate(&domain.OrderRecord{}, &domain.FillRecord{}, &domain.EventRecord{}, &domain.AppConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Storage{db: db, loc: loc}, nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Journal Operations
// ======================================================================================

// RecordOrder creates or updates the order row.
func (s *Storage) RecordOrder(ctx context.Context, o domain.Order) error {
	rec := domain.NewOrderRecord(o)
	return s.db.WithContext(ctx).Save(&rec).Error
}

// RecordFill appends one execution.
func (s *Storage) RecordFill(ctx context.Context, f domain.Fill) error {
	rec := domain.FillRecord{
		OrderID:    f.OrderID,
		Symbol:     f.Contract.Symbol,
		Right:      string(f.Contract.Right),
		Expiry:     f.Contract.Expiry,
		Side:       string(f.Side),
		Role:       string(f.Role),
		Quantity:   f.Quantity,
		Price:      f.Price,
		Multiplier: f.Contract.Multiplier,
		TradeDay:   f.At.In(s.loc).Format(tradeDayLayout),
		ExecutedAt: f.At,
	}
	if rec.Multiplier == 0 {
		rec.Multiplier = 100
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// GetOrder retrieves an order row by id
func (s *Storage) GetOrder(id string) (*domain.OrderRecord, error) {
	var rec domain.OrderRecord
	err := s.db.First(&rec, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FillsOn returns the fills of a trade day (YYYY-MM-DD), oldest first.
func (s *Storage) FillsOn(day string) ([]domain.FillRecord, error) {
	var fills []domain.FillRecord
	err := s.db.Where("trade_day = ?", day).Order("executed_at, id").Find(&fills).Error
	return fills, err
}

type contractKey struct {
	symbol, right, expiry string
}

type costBasis struct {
	qty int64
	avg decimal.Decimal
}

// RealizedPnL returns the realized profit of a trade day in account currency.
// Sells are matched against the running average cost of the same contract;
// sells with no recorded buy that day are ignored.
func (s *Storage) RealizedPnL(day string) (decimal.Decimal, error) {
	fills, err := s.FillsOn(day)
	if err != nil {
		return decimal.Zero, err
	}

	books := make(map[contractKey]*costBasis)
	realized := decimal.Zero
	for _, f := range fills {
		key := contractKey{f.Symbol, f.Right, f.Expiry}
		b, ok := books[key]
		if !ok {
			b = &costBasis{}
			books[key] = b
		}
		qty := decimal.NewFromInt(f.Quantity)
		mult := decimal.NewFromInt(int64(f.Multiplier))

		if f.Side == string(domain.SideBuy) {
			total := b.avg.Mul(decimal.NewFromInt(b.qty)).Add(f.Price.Mul(qty))
			b.qty += f.Quantity
			b.avg = total.Div(decimal.NewFromInt(b.qty))
			continue
		}
		matched := min(f.Quantity, b.qty)
		if matched <= 0 {
			continue
		}
		realized = realized.Add(f.Price.Sub(b.avg).Mul(decimal.NewFromInt(matched)).Mul(mult))
		b.qty -= matched
	}
	return realized, nil
}

// ======================================================================================
// Event Operations
// ======================================================================================

// SaveEvent stores a sequenced event.
func (s *Storage) SaveEvent(ctx context.Context, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event %d: %w", ev.GetSeq(), err)
	}
	rec := domain.EventRecord{
		Seq:     ev.GetSeq(),
		Type:    string(ev.GetType()),
		Ts:      ev.GetTs(),
		Payload: string(payload),
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

// RecentEvents returns the last n events, newest first.
func (s *Storage) RecentEvents(n int) ([]domain.EventRecord, error) {
	var recs []domain.EventRecord
	err := s.db.Order("seq desc").Limit(n).Find(&recs).Error
	return recs, err
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a user configuration
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&config).Error
}

// LoadConfigMap loads all user configurations as a map
func (s *Storage) LoadConfigMap() (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.Find(&configs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}
