package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"trade_sim/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SimulationRecord is one journaled cost estimate.
type SimulationRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	CreatedAt time.Time `gorm:"index"`

	Exchange    string `gorm:"index:idx_sim_market"`
	Symbol      string `gorm:"index:idx_sim_market"`
	Side        string
	OrderType   string
	FeeTier     string
	QuantityUSD float64

	Slippage          float64
	MarketImpact      float64
	Fee               float64
	MakerProportion   float64
	NetCost           float64
	MidPrice          float64
	ExecutionVWAP     float64
	Volatility        float64
	Degraded          bool
	InsufficientDepth bool
	ComputedAt        time.Time
}

// StatsRecord is one journaled performance sample.
type StatsRecord struct {
	ID        string    `gorm:"primaryKey;size:36"`
	CreatedAt time.Time `gorm:"index"`

	Exchange        string
	Symbol          string
	AvgMs           float64
	MinMs           float64
	MaxMs           float64
	Messages        uint64
	Rejected        uint64
	Dropped         uint64
	ConnectionState string
}

// Journal persists simulation results and performance samples in SQLite.
type Journal struct {
	db *gorm.DB
}

// Open creates (or reuses) the database at path and migrates the schema.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Pure Go SQLite, no cgo
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&SimulationRecord{}, &StatsRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Journal{db: db}, nil
}

// RecordSimulation stores req and its result.
func (j *Journal) RecordSimulation(exchange, symbol string, req domain.SimulationRequest, res domain.SimulationResult) error {
	rec := SimulationRecord{
		ID:                uuid.NewString(),
		Exchange:          exchange,
		Symbol:            symbol,
		Side:              req.Side.String(),
		OrderType:         req.OrderType.String(),
		FeeTier:           req.FeeTier,
		QuantityUSD:       req.QuantityUSD,
		Slippage:          res.Slippage,
		MarketImpact:      res.MarketImpact,
		Fee:               res.Fee,
		MakerProportion:   res.MakerProportion,
		NetCost:           res.NetCost,
		MidPrice:          res.MidPrice,
		ExecutionVWAP:     res.ExecutionVWAP,
		Volatility:        res.Volatility,
		Degraded:          res.Degraded,
		InsufficientDepth: res.InsufficientDepth,
		ComputedAt:        res.ComputedAt,
	}
	return j.db.Create(&rec).Error
}

// RecordStats stores one performance sample.
func (j *Journal) RecordStats(st domain.PerformanceStats) error {
	rec := StatsRecord{
		ID:              uuid.NewString(),
		Exchange:        st.Exchange,
		Symbol:          st.Symbol,
		AvgMs:           st.AvgProcessingTimeMs,
		MinMs:           st.MinProcessingTimeMs,
		MaxMs:           st.MaxProcessingTimeMs,
		Messages:        st.MessageCount,
		Rejected:        st.RejectedCount,
		Dropped:         st.DroppedMessageCount,
		ConnectionState: st.ConnectionState.String(),
	}
	return j.db.Create(&rec).Error
}

// RecentSimulations returns up to limit records for (exchange, symbol), newest first.
func (j *Journal) RecentSimulations(exchange, symbol string, limit int) ([]SimulationRecord, error) {
	var recs []SimulationRecord
	err := j.db.
		Where("exchange = ? AND symbol = ?", exchange, symbol).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// Close releases the underlying connection.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
