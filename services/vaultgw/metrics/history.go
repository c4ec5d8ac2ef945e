package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"deltavault/services/vaultgw/models"
)

const (
	defaultHistoryLimit = 500
	maxHistoryLimit     = 10000
)

// History persists snapshots to the metric_snapshots table.
type History struct {
	db *gorm.DB
}

func NewHistory(db *gorm.DB) *History {
	return &History{db: db}
}

// Record stores snap.
func (h *History) Record(ctx context.Context, snap Snapshot) error {
	if h == nil || h.db == nil {
		return nil
	}
	row := toRow(snap)
	if err := h.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("record metric snapshot: %w", err)
	}
	return nil
}

// List returns snapshots observed at or after since, newest first. A zero
// limit applies the default page size.
func (h *History) List(ctx context.Context, since time.Time, limit int) ([]models.MetricSnapshot, error) {
	switch {
	case limit <= 0:
		limit = defaultHistoryLimit
	case limit > maxHistoryLimit:
		limit = maxHistoryLimit
	}
	query := h.db.WithContext(ctx).Order("observed_at desc").Limit(limit)
	if !since.IsZero() {
		query = query.Where("observed_at >= ?", since.UTC())
	}
	rows := []models.MetricSnapshot{}
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list metric snapshots: %w", err)
	}
	return rows, nil
}

// Range returns snapshots in [start, end) in chronological order.
func (h *History) Range(ctx context.Context, start, end time.Time) ([]models.MetricSnapshot, error) {
	rows := []models.MetricSnapshot{}
	err := h.db.WithContext(ctx).
		Where("observed_at >= ? AND observed_at < ?", start.UTC(), end.UTC()).
		Order("observed_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("range metric snapshots: %w", err)
	}
	return rows, nil
}

// Prune deletes snapshots older than cutoff.
func (h *History) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res := h.db.WithContext(ctx).Where("observed_at < ?", cutoff.UTC()).Delete(&models.MetricSnapshot{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune metric snapshots: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func toRow(snap Snapshot) models.MetricSnapshot {
	d := snap.Data
	return models.MetricSnapshot{
		TotalSupply:        d.TotalSupply,
		TotalAssets:        d.TotalAssets,
		EthBorrowed:        d.EthBorrowed,
		Collateral:         d.Collateral,
		Debt:               d.Debt,
		LastRebalancePrice: d.LastRebalancePrice,
		RebalanceCount:     d.RebalanceCount,
		Partial:            snap.Partial,
		FailedCalls:        strings.Join(snap.Failed, ","),
		ObservedAt:         snap.ObservedAt(),
	}
}
