package metrics

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakeReader struct {
	values map[string]*big.Int
	errs   map[string]error
	block  bool
	calls  atomic.Int32
}

func (f *fakeReader) get(ctx context.Context, name string) (*big.Int, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := f.errs[name]; err != nil {
		return nil, err
	}
	return f.values[name], nil
}

func (f *fakeReader) TotalSupply(ctx context.Context) (*big.Int, error) {
	return f.get(ctx, "totalSupply")
}
func (f *fakeReader) TotalAssets(ctx context.Context) (*big.Int, error) {
	return f.get(ctx, "totalAssets")
}
func (f *fakeReader) EthBorrowed(ctx context.Context) (*big.Int, error) {
	return f.get(ctx, "getEthBorrowed")
}
func (f *fakeReader) Collateral(ctx context.Context) (*big.Int, error) {
	return f.get(ctx, "getCollateral")
}
func (f *fakeReader) Debt(ctx context.Context) (*big.Int, error) {
	return f.get(ctx, "getDebt")
}
func (f *fakeReader) LastRebalancePrice(ctx context.Context) (*big.Int, error) {
	return f.get(ctx, "lastRebalancePrice")
}
func (f *fakeReader) RebalanceCount(ctx context.Context) (*big.Int, error) {
	return f.get(ctx, "rebalanceCount")
}

func healthyReader() *fakeReader {
	eth, _ := new(big.Int).SetString("1500000000000000000", 10)
	return &fakeReader{values: map[string]*big.Int{
		"totalSupply":        big.NewInt(1_000_000_000),
		"totalAssets":        big.NewInt(1_050_500_000),
		"getEthBorrowed":     eth,
		"getCollateral":      big.NewInt(2_000_000_000),
		"getDebt":            big.NewInt(750_250_000),
		"lastRebalancePrice": big.NewInt(3_012_340_000),
		"rebalanceCount":     big.NewInt(42),
	}}
}

var fixedNow = time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestFetchFormatsAllReads(t *testing.T) {
	agg := NewAggregator(healthyReader(), WithClock(clock))
	snap, err := agg.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want := Data{
		TotalSupply:        1000,
		TotalAssets:        1050.5,
		EthBorrowed:        1.5,
		Collateral:         2000,
		Debt:               750.25,
		LastRebalancePrice: 3012.34,
		RebalanceCount:     42,
		Timestamp:          fixedNow.UnixMilli(),
	}
	if diff := cmp.Diff(want, snap.Data); diff != "" {
		t.Fatalf("unexpected data (-want +got):\n%s", diff)
	}
	if snap.Partial || len(snap.Failed) != 0 {
		t.Fatalf("expected complete snapshot, got %+v", snap)
	}
	resp := snap.Response()
	if !resp.Success || resp.Partial || resp.Data == nil {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestFetchIsolatesFailedCalls(t *testing.T) {
	reader := healthyReader()
	reader.errs = map[string]error{
		"getEthBorrowed": errors.New("execution reverted"),
		"getDebt":        errors.New("dial tcp: connection refused"),
	}
	snap, err := NewAggregator(reader, WithClock(clock)).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !snap.Partial {
		t.Fatalf("expected partial snapshot")
	}
	if diff := cmp.Diff([]string{"getDebt", "getEthBorrowed"}, snap.Failed); diff != "" {
		t.Fatalf("unexpected failed list (-want +got):\n%s", diff)
	}
	if snap.Data.EthBorrowed != 0 || snap.Data.Debt != 0 {
		t.Fatalf("failed reads must fall back to zero: %+v", snap.Data)
	}
	if snap.Data.TotalAssets != 1050.5 {
		t.Fatalf("healthy reads must survive: %+v", snap.Data)
	}
	if reader.calls.Load() != 7 {
		t.Fatalf("expected 7 calls, got %d", reader.calls.Load())
	}
}

func TestFetchAllFailedStillSucceeds(t *testing.T) {
	reader := &fakeReader{errs: map[string]error{}}
	for _, name := range []string{"totalSupply", "totalAssets", "getEthBorrowed", "getCollateral", "getDebt", "lastRebalancePrice", "rebalanceCount"} {
		reader.errs[name] = errors.New("boom")
	}
	snap, err := NewAggregator(reader, WithClock(clock)).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !snap.Partial || len(snap.Failed) != 7 {
		t.Fatalf("expected every call to be reported, got %+v", snap)
	}
	if snap.Data != (Data{Timestamp: fixedNow.UnixMilli()}) {
		t.Fatalf("expected zero data, got %+v", snap.Data)
	}
}

func TestFetchAppliesPerCallTimeout(t *testing.T) {
	reader := &fakeReader{block: true}
	start := time.Now()
	snap, err := NewAggregator(reader, WithCallTimeout(20*time.Millisecond)).Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !snap.Partial || len(snap.Failed) != 7 {
		t.Fatalf("expected timeouts to be isolated, got %+v", snap)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("reads were not concurrent: %s", elapsed)
	}
}

func TestFetchAggregationFailures(t *testing.T) {
	if _, err := NewAggregator(nil).Fetch(context.Background()); !errors.Is(err, ErrNoReader) {
		t.Fatalf("expected ErrNoReader, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewAggregator(healthyReader()).Fetch(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
