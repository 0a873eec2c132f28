// Package report writes evaluation audit rows as Parquet files to object storage.
package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

const module = "report"

// OutcomeRow is one evaluated prediction.
type OutcomeRow struct {
	Instance    string `parquet:"name=instance,type=BYTE_ARRAY,convertedtype=UTF8"`
	GroundTruth string `parquet:"name=ground_truth,type=BYTE_ARRAY,convertedtype=UTF8"`
	Predicted   string `parquet:"name=predicted,type=BYTE_ARRAY,convertedtype=UTF8"`
	Correct     bool   `parquet:"name=correct,type=BOOLEAN"`
}

// compressionCodec maps a codec name to the parquet enum. Unknown names fall back to SNAPPY.
func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToUpper(name) {
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED
	case "GZIP":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_SNAPPY
	}
}

// Encode serializes rows into an in-memory Parquet file.
func Encode[T any](rows []T, compression string) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(T), 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	for i := range rows {
		if err := pw.Write(rows[i]); err != nil {
			return nil, fmt.Errorf("failed to write parquet row %d: %w", i, err)
		}
	}

	// WriteStop can panic on malformed schemas.
	var stopErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				if err, ok := r.(error); ok {
					stopErr = err
				} else {
					stopErr = fmt.Errorf("panic value: %v", r)
				}
			}
		}()
		stopErr = pw.WriteStop()
	}()
	if stopErr != nil {
		return nil, fmt.Errorf("failed to stop parquet writer: %w", stopErr)
	}
	return buf, nil
}

// WriteOutcomes encodes rows and uploads them to dst.
func WriteOutcomes(ctx context.Context, conn storage.StorageExecutor, dst storage.Location, rows []OutcomeRow) error {
	buf, err := Encode(rows, "SNAPPY")
	if err != nil {
		return exception.NewBatchError(module, "failed to encode evaluation audit", err, false)
	}
	size := buf.Len()
	if err := conn.Upload(ctx, dst.Bucket, dst.Path, bytes.NewReader(buf.Bytes()), "application/x-parquet"); err != nil {
		return exception.NewBatchError(module, fmt.Sprintf("failed to upload evaluation audit to '%s'", dst), err, exception.IsTemporary(err))
	}
	logger.Infof("Wrote evaluation audit of %d records (%d bytes) to '%s'.", len(rows), size, dst)
	return nil
}
