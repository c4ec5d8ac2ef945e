// Package pools persists AMM pool listing metadata.
package pools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"deltavault/observability"
	"deltavault/services/vaultgw/models"
)

// ErrNotFound is returned when a pool id does not exist.
var ErrNotFound = errors.New("pool not found")

// Sort orders accepted by List.
const (
	SortNewest = ""
	SortTVL    = "tvl"
	SortVolume = "volume"
	SortAPR    = "apr"
)

var sortColumns = map[string]string{
	SortNewest: "created_at desc",
	SortTVL:    "tvl desc",
	SortVolume: "volume24h desc",
	SortAPR:    "apr desc",
}

// ListOptions filters and orders pool listings.
type ListOptions struct {
	Sort    string
	FeeTier *float64
	Owner   string
}

// Store is the gorm-backed pool repository.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func withTransactions(db *gorm.DB) *gorm.DB {
	return db.Preload("Transactions", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("created_at desc")
	})
}

// List returns pools with their transactions, newest first unless another
// sort is requested.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]models.Pool, error) {
	order, ok := sortColumns[strings.ToLower(strings.TrimSpace(opts.Sort))]
	if !ok {
		return nil, invalid("unsupported sort %q", opts.Sort)
	}
	query := withTransactions(s.db.WithContext(ctx)).Order(order)
	if opts.Sort != SortNewest {
		query = query.Order("created_at desc")
	}
	if opts.FeeTier != nil {
		query = query.Where("fee_tier = ?", *opts.FeeTier)
	}
	if owner := strings.TrimSpace(opts.Owner); owner != "" {
		query = query.Where("LOWER(owner) = ?", strings.ToLower(owner))
	}
	pools := []models.Pool{}
	if err := query.Find(&pools).Error; err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}
	return pools, nil
}

// Get loads a single pool with its transactions.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Pool, error) {
	var pool models.Pool
	err := withTransactions(s.db.WithContext(ctx)).First(&pool, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pool: %w", err)
	}
	return &pool, nil
}

// Create inserts a pool from validated input.
func (s *Store) Create(ctx context.Context, in CreateInput) (*models.Pool, error) {
	pool := models.Pool{
		ID:            uuid.New(),
		Token0:        in.Token0,
		Token1:        in.Token1,
		FeeTier:       in.FeeTier,
		Concentration: in.Concentration,
		Owner:         in.Owner,
		TVL:           in.TVL,
		Volume24h:     in.Volume24h,
		APR:           in.APR,
		FeesCollected: in.FeesCollected,
		ReserveRatios: in.ReserveRatios,
		LTVRatio:      in.LTVRatio,
		LastRebalance: in.LastRebalance,
		Transactions:  []models.PoolTransaction{},
	}
	now := s.now().UTC()
	pool.CreatedAt = now
	pool.UpdatedAt = now
	err := s.db.WithContext(ctx).Create(&pool).Error
	observability.VaultGateway().ObservePoolMutation("create", err)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return &pool, nil
}

// Update applies patch and returns the updated pool.
func (s *Store) Update(ctx context.Context, id uuid.UUID, patch Patch) (*models.Pool, error) {
	fields := patch.columns()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Pool
		if err := tx.Select("id").First(&existing, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if len(fields) == 0 {
			return nil
		}
		fields["updated_at"] = s.now().UTC()
		return tx.Model(&models.Pool{}).Where("id = ?", id).Updates(fields).Error
	})
	observability.VaultGateway().ObservePoolMutation("update", err)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update pool: %w", err)
	}
	return s.Get(ctx, id)
}

// Delete removes a pool and its transactions.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("pool_id = ?", id).Delete(&models.PoolTransaction{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Pool{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	observability.VaultGateway().ObservePoolMutation("delete", err)
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete pool: %w", err)
	}
	return nil
}

// AddTransaction records activity against an existing pool.
func (s *Store) AddTransaction(ctx context.Context, poolID uuid.UUID, in TransactionInput) (*models.PoolTransaction, error) {
	record := models.PoolTransaction{
		ID:        uuid.New(),
		PoolID:    poolID,
		Kind:      in.Kind,
		Amount0:   in.Amount0,
		Amount1:   in.Amount1,
		TxHash:    strings.ToLower(in.TxHash),
		Account:   in.Account,
		CreatedAt: s.now().UTC(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pool models.Pool
		if err := tx.Select("id").First(&pool, "id = ?", poolID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return tx.Create(&record).Error
	})
	observability.VaultGateway().ObservePoolMutation("add_transaction", err)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("record pool transaction: %w", err)
	}
	return &record, nil
}
