package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"deltavault/services/vaultgw/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestPollerPublishesToSubscribers(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	poller := NewPoller(PollerConfig{
		Aggregator: NewAggregator(healthyReader()),
		Interval:   10 * time.Millisecond,
	})
	if _, ok := poller.Latest(); ok {
		t.Fatalf("expected no snapshot before the first refresh")
	}
	updates, cancelSub := poller.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case snap := <-updates:
			if snap.Data.RebalanceCount != 42 {
				t.Fatalf("unexpected snapshot %+v", snap.Data)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for snapshot %d", i)
		}
	}
	cancel()
	<-done
	cancelSub()
	cancelSub()
	if _, open := <-updates; open {
		t.Fatalf("expected subscription channel to be closed")
	}
	if _, ok := poller.Latest(); !ok {
		t.Fatalf("expected latest snapshot")
	}
}

func TestSubscribeReplaysLatest(t *testing.T) {
	poller := NewPoller(PollerConfig{Aggregator: NewAggregator(healthyReader(), WithClock(clock))})
	if _, err := poller.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	updates, cancel := poller.Subscribe()
	defer cancel()
	select {
	case snap := <-updates:
		if snap.Data.Timestamp != fixedNow.UnixMilli() {
			t.Fatalf("unexpected replay %+v", snap.Data)
		}
	default:
		t.Fatalf("expected latest snapshot to be replayed")
	}
}

func TestHistoryRecordListPruneExport(t *testing.T) {
	db := setupTestDB(t)
	history := NewHistory(db)
	ctx := context.Background()

	base := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * 6 * time.Hour)
		agg := NewAggregator(healthyReader(), WithClock(func() time.Time { return at }))
		poller := NewPoller(PollerConfig{Aggregator: agg, History: history})
		if _, err := poller.Refresh(ctx); err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}

	rows, err := history.List(ctx, base.Add(12*time.Hour), 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || !rows[0].ObservedAt.After(rows[1].ObservedAt) {
		t.Fatalf("expected two rows newest first, got %+v", rows)
	}
	limited, err := history.List(ctx, time.Time{}, 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected one row, got %d (%v)", len(limited), err)
	}

	dir := t.TempDir()
	path, count, err := NewExporter(history, dir).ExportWindow(ctx, base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if count != 4 || filepath.Dir(path) != dir {
		t.Fatalf("unexpected export result %s (%d rows)", path, count)
	}
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatalf("open parquet: %v", err)
	}
	pr, err := reader.NewParquetReader(fr, new(snapshotRow), 1)
	if err != nil {
		t.Fatalf("parquet reader: %v", err)
	}
	if pr.GetNumRows() != 4 {
		t.Fatalf("expected 4 parquet rows, got %d", pr.GetNumRows())
	}
	pr.ReadStop()
	fr.Close()

	removed, err := history.Prune(ctx, base.Add(12*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 pruned rows, got %d", removed)
	}
}

func TestSchedulerNextRun(t *testing.T) {
	s := NewScheduler(SchedulerConfig{Exporter: &Exporter{}, RunHour: 25, RunMinute: 30})
	now := time.Date(2025, 4, 1, 23, 45, 0, 0, time.UTC)
	if got := s.nextRun(now); !got.Equal(time.Date(2025, 4, 2, 23, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next run %s", got)
	}
	early := time.Date(2025, 4, 1, 1, 0, 0, 0, time.UTC)
	if got := s.nextRun(early); !got.Equal(time.Date(2025, 4, 1, 23, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next run %s", got)
	}
}
