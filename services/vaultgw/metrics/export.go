package metrics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"deltavault/observability"
	"deltavault/services/vaultgw/models"
)

type snapshotRow struct {
	ObservedAt         string  `parquet:"name=observed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	TimestampMillis    int64   `parquet:"name=timestamp_ms, type=INT64"`
	TotalSupply        float64 `parquet:"name=total_supply, type=DOUBLE"`
	TotalAssets        float64 `parquet:"name=total_assets, type=DOUBLE"`
	EthBorrowed        float64 `parquet:"name=eth_borrowed, type=DOUBLE"`
	Collateral         float64 `parquet:"name=collateral, type=DOUBLE"`
	Debt               float64 `parquet:"name=debt, type=DOUBLE"`
	LastRebalancePrice float64 `parquet:"name=last_rebalance_price, type=DOUBLE"`
	RebalanceCount     int64   `parquet:"name=rebalance_count, type=INT64"`
	Partial            bool    `parquet:"name=partial, type=BOOLEAN"`
	FailedCalls        string  `parquet:"name=failed_calls, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Exporter writes metric history windows to parquet files.
type Exporter struct {
	history *History
	dir     string
}

func NewExporter(history *History, dir string) *Exporter {
	return &Exporter{history: history, dir: dir}
}

// ExportWindow writes snapshots in [start, end) to
// <dir>/metrics-<start date>.parquet and returns the path.
func (e *Exporter) ExportWindow(ctx context.Context, start, end time.Time) (string, int, error) {
	rows, err := e.history.Range(ctx, start, end)
	if err != nil {
		observability.VaultGateway().ObserveExport(err)
		return "", 0, err
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		observability.VaultGateway().ObserveExport(err)
		return "", 0, fmt.Errorf("metrics: create export dir: %w", err)
	}
	path := filepath.Join(e.dir, fmt.Sprintf("metrics-%s.parquet", start.UTC().Format("20060102T1504")))
	err = WriteParquet(path, rows)
	observability.VaultGateway().ObserveExport(err)
	if err != nil {
		return "", 0, err
	}
	return path, len(rows), nil
}

// WriteParquet writes rows to path with snappy compression.
func WriteParquet(path string, rows []models.MetricSnapshot) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("metrics: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(snapshotRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("metrics: parquet schema: %w", err)
	}
	pw.RowGroupSize = 16 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &snapshotRow{
			ObservedAt:         row.ObservedAt.UTC().Format(time.RFC3339),
			TimestampMillis:    row.ObservedAt.UnixMilli(),
			TotalSupply:        row.TotalSupply,
			TotalAssets:        row.TotalAssets,
			EthBorrowed:        row.EthBorrowed,
			Collateral:         row.Collateral,
			Debt:               row.Debt,
			LastRebalancePrice: row.LastRebalancePrice,
			RebalanceCount:     row.RebalanceCount,
			Partial:            row.Partial,
			FailedCalls:        row.FailedCalls,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("metrics: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("metrics: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("metrics: close parquet file: %w", err)
	}
	return nil
}
