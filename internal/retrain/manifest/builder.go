// Package manifest writes the file list a batch prediction job reads its instances from.
package manifest

import (
	"context"
	"fmt"
	"strings"

	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

const module = "manifest"

// Builder lists the images directly below the source prefix and writes their URIs, one per line.
type Builder struct {
	conn storage.StorageExecutor
	cfg  config.ManifestConfig
}

// NewBuilder creates a Builder.
func NewBuilder(conn storage.StorageExecutor, cfg config.ManifestConfig) *Builder {
	return &Builder{conn: conn, cfg: cfg}
}

// Build writes <source>/<output filename> and returns its URI and the number of listed images.
func (b *Builder) Build(ctx context.Context) (string, int, error) {
	src, err := storage.ParseURI(b.cfg.SourceURI)
	if err != nil {
		return "", 0, exception.NewBatchError(module, "invalid manifest source URI", err, false)
	}
	if b.cfg.OutputFilename == "" || strings.Contains(b.cfg.OutputFilename, "/") {
		return "", 0, exception.NewBatchErrorf(module, "invalid manifest output filename '%s'", b.cfg.OutputFilename)
	}

	prefix := src.Prefix()
	var sb strings.Builder
	count := 0
	err = b.conn.ListObjects(ctx, src.Bucket, prefix, func(info storage.ObjectInfo) error {
		rel := strings.TrimPrefix(info.Name, prefix)
		if strings.Contains(rel, "/") || !strings.HasSuffix(rel, b.cfg.Extension) {
			return nil
		}
		sb.WriteString(storage.ObjectURI(src.Scheme, src.Bucket, info.Name))
		sb.WriteByte('\n')
		count++
		return nil
	})
	if err != nil {
		return "", 0, storageError(fmt.Sprintf("failed to list '%s'", src), err)
	}
	if count == 0 {
		return "", 0, exception.Wrap(module, fmt.Sprintf("no '*%s' objects under '%s'", b.cfg.Extension, src), exception.ErrNoSamples, nil)
	}

	dst := src.Join(b.cfg.OutputFilename)
	if err := b.conn.Upload(ctx, dst.Bucket, dst.Path, strings.NewReader(sb.String()), "text/plain"); err != nil {
		return "", 0, storageError(fmt.Sprintf("failed to write '%s'", dst), err)
	}
	logger.Infof("Wrote manifest of %d images to '%s'.", count, dst)
	return dst.String(), count, nil
}

func storageError(message string, err error) error {
	err = exception.FromContext(module, message, err)
	if exception.IsBatchError(err) {
		return err
	}
	return exception.NewBatchError(module, message, err, exception.IsTemporary(err))
}
