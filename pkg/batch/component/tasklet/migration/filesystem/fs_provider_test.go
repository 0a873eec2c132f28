package filesystem

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryDialectHasMatchingUpAndDown(t *testing.T) {
	fsys := ProvideMigrationsFS()
	for _, dialect := range []string{"sqlite", "mysql", "postgres"} {
		entries, err := fs.ReadDir(fsys, dialect)
		require.NoError(t, err, dialect)

		ups, downs := map[string]bool{}, map[string]bool{}
		for _, e := range entries {
			name := e.Name()
			switch {
			case strings.HasSuffix(name, ".up.sql"):
				ups[strings.TrimSuffix(name, ".up.sql")] = true
			case strings.HasSuffix(name, ".down.sql"):
				downs[strings.TrimSuffix(name, ".down.sql")] = true
			}
		}
		assert.NotEmpty(t, ups, dialect)
		assert.Equal(t, ups, downs, dialect)

		up, err := fs.ReadFile(fsys, dialect+"/000001_retrainer_schema.up.sql")
		require.NoError(t, err)
		for _, table := range []string{"batch_job_execution", "batch_step_execution", "retrain_decisions", "retrain_spans"} {
			assert.Contains(t, string(up), table, dialect)
		}
	}
}
