package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Pool is off-chain metadata for an AMM pool listing. On-chain state stays
// authoritative; these rows only back the listing UI.
type Pool struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Token0        string            `gorm:"size:64;not null" json:"token0"`
	Token1        string            `gorm:"size:64;not null" json:"token1"`
	FeeTier       float64           `gorm:"not null;index" json:"feeTier"`
	Concentration string            `gorm:"size:32;not null" json:"concentration"`
	Owner         string            `gorm:"size:64;not null;index" json:"owner"`
	TVL           float64           `gorm:"column:tvl;not null;default:0" json:"tvl"`
	Volume24h     float64           `gorm:"column:volume24h;not null;default:0" json:"volume24h"`
	APR           float64           `gorm:"column:apr;not null;default:0" json:"apr"`
	FeesCollected float64           `gorm:"column:fees_collected;not null;default:0" json:"feesCollected"`
	ReserveRatios string            `gorm:"column:reserve_ratios;size:255" json:"reserveRatios"`
	LTVRatio      float64           `gorm:"column:ltv_ratio;not null;default:0" json:"ltvRatio"`
	LastRebalance *time.Time        `gorm:"column:last_rebalance" json:"lastRebalance"`
	CreatedAt     time.Time         `gorm:"index" json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
	Transactions  []PoolTransaction `gorm:"constraint:OnDelete:CASCADE" json:"transactions"`
}

// Pool transaction kinds.
const (
	TxKindSwap   = "swap"
	TxKindAdd    = "add"
	TxKindRemove = "remove"
)

// PoolTransaction records an activity entry shown on a pool page.
type PoolTransaction struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PoolID    uuid.UUID `gorm:"type:uuid;index;not null" json:"poolId"`
	Kind      string    `gorm:"size:16;not null" json:"kind"`
	Amount0   float64   `json:"amount0"`
	Amount1   float64   `json:"amount1"`
	TxHash    string    `gorm:"size:66;index" json:"txHash"`
	Account   string    `gorm:"size:64" json:"account"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
}

// MetricSnapshot is one persisted result of the vault metric fan-out.
type MetricSnapshot struct {
	ID                 uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	TotalSupply        float64   `json:"totalSupply"`
	TotalAssets        float64   `json:"totalAssets"`
	EthBorrowed        float64   `json:"ethBorrowed"`
	Collateral         float64   `json:"collateral"`
	Debt               float64   `json:"debt"`
	LastRebalancePrice float64   `json:"lastRebalancePrice"`
	RebalanceCount     int64     `json:"rebalanceCount"`
	Partial            bool      `json:"partial"`
	FailedCalls        string    `gorm:"size:255" json:"failedCalls,omitempty"`
	ObservedAt         time.Time `gorm:"index;not null" json:"observedAt"`
}

// SetupRun tracks the post-deployment workflow for one Euler account.
type SetupRun struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Account        string    `gorm:"size:64;index;not null" json:"account"`
	DeltaHedger    string    `gorm:"size:64;not null" json:"deltaHedger"`
	EulerSwap      string    `gorm:"size:64" json:"eulerSwap"`
	Vault0         string    `gorm:"size:64" json:"vault0"`
	Vault1         string    `gorm:"size:64" json:"vault1"`
	Asset0         string    `gorm:"size:64" json:"asset0"`
	Asset1         string    `gorm:"size:64" json:"asset1"`
	Amount         string    `gorm:"size:80;not null" json:"amount"`
	EthPrice       string    `gorm:"size:80;not null" json:"ethPrice"`
	Status         string    `gorm:"size:32;index;not null" json:"status"`
	CompletedSteps int       `gorm:"not null;default:0" json:"completedSteps"`
	TxHashes       string    `gorm:"type:text" json:"txHashes"`
	Error          string    `gorm:"size:512" json:"error,omitempty"`
	RequestedBy    string    `gorm:"size:128" json:"requestedBy,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// IdempotencyKey stores request idempotency metadata. A zero Status marks a
// request that is still being processed.
type IdempotencyKey struct {
	Subject   string `gorm:"primaryKey;size:128"`
	Key       string `gorm:"primaryKey;size:128"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Pool{},
		&PoolTransaction{},
		&MetricSnapshot{},
		&SetupRun{},
		&IdempotencyKey{},
	)
}
