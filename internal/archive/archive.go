// Package archive persists query results as parquet objects for later
// inspection. Archiving is best effort: failures are logged and never
// surface to the caller.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/duckrelay/duckrelay/internal/query"
	"github.com/duckrelay/duckrelay/internal/storage"
)

const contentType = "application/vnd.apache.parquet"

// parquetCell is the long-format encoding of a result: one record per
// cell, so results with arbitrary column sets share a single schema.
type parquetCell struct {
	TraceID        string `parquet:"trace_id"`
	RowIndex       int64  `parquet:"row_index"`
	Column         string `parquet:"column"`
	ValueJSON      string `parquet:"value_json"`
	CapturedUnixMs int64  `parquet:"captured_unix_ms"`
}

type Archiver struct {
	store  storage.ObjectStore
	logger *slog.Logger
	now    func() time.Time
}

func New(store storage.ObjectStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, logger: logger, now: time.Now}
}

// Archive encodes the result and uploads it under results/<trace_id>.parquet.
// Errors are logged, not returned.
func (a *Archiver) Archive(ctx context.Context, traceID string, result query.Result) {
	if a == nil || a.store == nil {
		return
	}
	data, err := encodeResult(traceID, result, a.now().UTC())
	if err != nil {
		a.logger.Warn("archive encode failed", "trace_id", traceID, "error", err)
		return
	}
	key := fmt.Sprintf("results/%s.parquet", traceID)
	info, err := a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: contentType})
	if err != nil {
		a.logger.Warn("archive upload failed", "trace_id", traceID, "key", key, "error", err)
		return
	}
	a.logger.Debug("result archived", "trace_id", traceID, "key", info.Key, "bytes", info.Size)
}

func encodeResult(traceID string, result query.Result, capturedAt time.Time) ([]byte, error) {
	if traceID == "" {
		return nil, fmt.Errorf("trace id is required")
	}
	if len(result.Columns) == 0 {
		return nil, fmt.Errorf("result has no columns")
	}

	capturedMs := capturedAt.UnixMilli()
	cells := make([]parquetCell, 0, len(result.Rows)*len(result.Columns))
	for rowIndex, row := range result.Rows {
		for colIndex, column := range result.Columns {
			var value any
			if colIndex < len(row) {
				value = row[colIndex]
			}
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("encode cell (%d, %q): %w", rowIndex, column, err)
			}
			cells = append(cells, parquetCell{
				TraceID:        traceID,
				RowIndex:       int64(rowIndex),
				Column:         column,
				ValueJSON:      string(encoded),
				CapturedUnixMs: capturedMs,
			})
		}
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("result has no rows")
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetCell](buf)
	if _, err := writer.Write(cells); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
