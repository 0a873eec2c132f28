// Package filesystem embeds the schema migrations of the job repository, one directory per dialect.
package filesystem

import (
	"embed"
	"io/fs"

	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

//go:embed resource
var rawMigrationFS embed.FS

// ProvideMigrationsFS returns the embedded migrations rooted at the dialect directories
// ("sqlite", "mysql", "postgres").
func ProvideMigrationsFS() fs.FS {
	subFS, err := fs.Sub(rawMigrationFS, "resource")
	if err != nil {
		logger.Fatalf("Failed to create subdirectory for migration FS: %v", err)
	}
	return subFS
}
