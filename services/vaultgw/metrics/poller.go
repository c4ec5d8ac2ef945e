package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"deltavault/observability"
)

// DefaultPollInterval matches the dashboard refresh cadence.
const DefaultPollInterval = 15 * time.Second

const pruneEvery = time.Hour

// PollerConfig wires a Poller.
type PollerConfig struct {
	Aggregator *Aggregator
	History    *History
	Interval   time.Duration
	Retention  time.Duration
	Logger     *slog.Logger
}

// Poller refreshes the vault snapshot on a fixed cadence, keeps the latest
// one in memory and fans it out to subscribers.
type Poller struct {
	agg       *Aggregator
	history   *History
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	latest *Snapshot
	subs   map[uint64]chan Snapshot
	nextID uint64
}

func NewPoller(cfg PollerConfig) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		agg:       cfg.Aggregator,
		history:   cfg.History,
		interval:  interval,
		retention: cfg.Retention,
		logger:    logger,
		now:       time.Now,
		subs:      make(map[uint64]chan Snapshot),
	}
}

// Run refreshes immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	lastPrune := time.Time{}
	for {
		if _, err := p.Refresh(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("metrics refresh failed", "error", err)
		}
		if p.retention > 0 && p.history != nil && time.Since(lastPrune) >= pruneEvery {
			lastPrune = time.Now()
			if removed, err := p.history.Prune(ctx, p.now().Add(-p.retention)); err != nil {
				p.logger.Warn("metrics prune failed", "error", err)
			} else if removed > 0 {
				p.logger.Info("metrics history pruned", "rows", removed)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh performs one fan-out, stores it and notifies subscribers.
func (p *Poller) Refresh(ctx context.Context) (Snapshot, error) {
	snap, err := p.agg.Fetch(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	p.publish(snap)
	if err := p.history.Record(ctx, snap); err != nil {
		p.logger.Warn("metrics snapshot not persisted", "error", err)
	}
	return snap, nil
}

func (p *Poller) publish(snap Snapshot) {
	gauges := observability.VaultGateway()
	d := snap.Data
	gauges.SetValue("total_supply", d.TotalSupply)
	gauges.SetValue("total_assets", d.TotalAssets)
	gauges.SetValue("eth_borrowed", d.EthBorrowed)
	gauges.SetValue("collateral", d.Collateral)
	gauges.SetValue("debt", d.Debt)
	gauges.SetValue("last_rebalance_price", d.LastRebalancePrice)
	gauges.SetValue("rebalance_count", float64(d.RebalanceCount))
	gauges.MarkRefreshed(snap.ObservedAt())

	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = &snap
	for _, ch := range p.subs {
		select {
		case ch <- snap:
		default:
			// slow subscriber; it will pick up the next snapshot
		}
	}
}

// Latest returns the most recent snapshot, if any.
func (p *Poller) Latest() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return Snapshot{}, false
	}
	return *p.latest, true
}

// Subscribe registers a listener. The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once.
func (p *Poller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.subs[id] = ch
	if p.latest != nil {
		ch <- *p.latest
	}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
			close(ch)
		})
	}
}
