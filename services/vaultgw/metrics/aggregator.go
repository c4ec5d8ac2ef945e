// Package metrics aggregates vault contract reads into dashboard metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"deltavault/chain"
	"deltavault/observability"
)

// ErrNoReader is returned when the aggregator has no contract to read from.
var ErrNoReader = errors.New("metrics: vault reader not configured")

// DefaultCallTimeout bounds each contract read.
const DefaultCallTimeout = 5 * time.Second

// VaultReader exposes the vault views fanned out by the aggregator.
// *chain.Vault satisfies it.
type VaultReader interface {
	TotalSupply(ctx context.Context) (*big.Int, error)
	TotalAssets(ctx context.Context) (*big.Int, error)
	EthBorrowed(ctx context.Context) (*big.Int, error)
	Collateral(ctx context.Context) (*big.Int, error)
	Debt(ctx context.Context) (*big.Int, error)
	LastRebalancePrice(ctx context.Context) (*big.Int, error)
	RebalanceCount(ctx context.Context) (*big.Int, error)
}

var _ VaultReader = (*chain.Vault)(nil)

// Data is the formatted metric payload served to the dashboard.
type Data struct {
	TotalSupply        float64 `json:"totalSupply"`
	TotalAssets        float64 `json:"totalAssets"`
	EthBorrowed        float64 `json:"ethBorrowed"`
	Collateral         float64 `json:"collateral"`
	Debt               float64 `json:"debt"`
	LastRebalancePrice float64 `json:"lastRebalancePrice"`
	RebalanceCount     int64   `json:"rebalanceCount"`
	Timestamp          int64   `json:"timestamp"`
}

// Snapshot is one fan-out result. Failed lists the reads that fell back to 0.
type Snapshot struct {
	Data    Data
	Partial bool
	Failed  []string
}

// ObservedAt converts the millisecond timestamp back to a time.
func (s Snapshot) ObservedAt() time.Time {
	return time.UnixMilli(s.Data.Timestamp).UTC()
}

// ApiResponse is the JSON envelope returned by the metrics route.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    *Data  `json:"data,omitempty"`
	Partial bool   `json:"partial"`
	Error   string `json:"error,omitempty"`
}

// Response wraps the snapshot in the API envelope.
func (s Snapshot) Response() ApiResponse {
	data := s.Data
	return ApiResponse{Success: true, Data: &data, Partial: s.Partial}
}

type read struct {
	name     string
	fn       func(context.Context) (*big.Int, error)
	decimals int32
	assign   func(*Data, *big.Int, int32)
}

func setFloat(field func(*Data) *float64) func(*Data, *big.Int, int32) {
	return func(d *Data, v *big.Int, decimals int32) {
		*field(d) = chain.ToFloat(v, decimals)
	}
}

// Aggregator fans out the vault reads. A failed read is logged and reported
// through Snapshot.Partial; it never fails the whole fetch.
type Aggregator struct {
	reader  VaultReader
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// Option customises an Aggregator.
type Option func(*Aggregator)

// WithCallTimeout bounds each individual read.
func WithCallTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger used for failed reads.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func NewAggregator(reader VaultReader, opts ...Option) *Aggregator {
	a := &Aggregator{
		reader:  reader,
		timeout: DefaultCallTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) reads() []read {
	r := a.reader
	return []read{
		{"totalSupply", r.TotalSupply, chain.ShareDecimals, setFloat(func(d *Data) *float64 { return &d.TotalSupply })},
		{"totalAssets", r.TotalAssets, chain.USDCDecimals, setFloat(func(d *Data) *float64 { return &d.TotalAssets })},
		{"getEthBorrowed", r.EthBorrowed, chain.ETHDecimals, setFloat(func(d *Data) *float64 { return &d.EthBorrowed })},
		{"getCollateral", r.Collateral, chain.USDCDecimals, setFloat(func(d *Data) *float64 { return &d.Collateral })},
		{"getDebt", r.Debt, chain.USDCDecimals, setFloat(func(d *Data) *float64 { return &d.Debt })},
		{"lastRebalancePrice", r.LastRebalancePrice, chain.USDCDecimals, setFloat(func(d *Data) *float64 { return &d.LastRebalancePrice })},
		{"rebalanceCount", r.RebalanceCount, 0, func(d *Data, v *big.Int, _ int32) {
			if v.IsInt64() {
				d.RebalanceCount = v.Int64()
			}
		}},
	}
}

// Fetch issues every read concurrently and formats the results.
func (a *Aggregator) Fetch(ctx context.Context) (Snapshot, error) {
	if a == nil || a.reader == nil {
		return Snapshot{}, ErrNoReader
	}
	if err := ctx.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("metrics: %w", err)
	}
	start := time.Now()
	reads := a.reads()
	values := make([]*big.Int, len(reads))

	var (
		mu     sync.Mutex
		failed []string
		g      errgroup.Group
	)
	for i, rd := range reads {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			v, err := rd.fn(callCtx)
			if err != nil {
				a.logger.Warn("metrics call failed", "method", rd.name, "error", err)
				mu.Lock()
				failed = append(failed, rd.name)
				mu.Unlock()
				return nil
			}
			values[i] = v
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("metrics: %w", err)
	}

	var data Data
	for i, rd := range reads {
		if values[i] != nil {
			rd.assign(&data, values[i], rd.decimals)
		}
	}
	data.Timestamp = a.now().UnixMilli()
	sort.Strings(failed)
	snap := Snapshot{Data: data, Partial: len(failed) > 0, Failed: failed}
	observability.VaultGateway().ObserveFetch(snap.Partial, time.Since(start))
	return snap, nil
}
