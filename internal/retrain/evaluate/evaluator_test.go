package evaluate

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/test"
)

func predictionLines(correct, wrong int) string {
	var sb strings.Builder
	for i := 0; i < correct; i++ {
		fmt.Fprintf(&sb, `{"instance":"gs://src/images/cat_%04d.jpg","prediction":{"label":"cat"}}`+"\n", i)
	}
	for i := 0; i < wrong; i++ {
		fmt.Fprintf(&sb, `{"instance":"gs://src/images/dog_%04d.jpg","prediction":{"label":"cat"}}`+"\n", i)
	}
	return sb.String()
}

func newEvaluator(store *test.LocalStore) *Evaluator {
	cfg := config.NewConfig().Retrainer.Retrain.Evaluator
	cfg.ResultsURI = "gs://results/predictions"
	return NewEvaluator(store, cfg)
}

func TestEvaluateKeep(t *testing.T) {
	store := test.NewLocalStore(t)
	store.PutString("results", "predictions/run-1/prediction.results-00000-of-00002", predictionLines(40, 10))
	store.PutString("results", "predictions/run-1/prediction.results-00001-of-00002", "\n"+predictionLines(42, 8)+"\n")
	store.PutString("results", "predictions/run-1/prediction.errors_stats-00000-of-00001", "{}")

	rep, err := newEvaluator(store).Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, rep.Result.Total)
	assert.Equal(t, 82, rep.Result.Correct)
	assert.InDelta(t, 0.82, rep.Result.Accuracy, 1e-9)
	assert.Equal(t, domain.DecisionKeep, rep.Result.Decision)
	assert.Equal(t, "gs://results/predictions/run-1", rep.Result.ResultsURI)
	assert.Len(t, rep.Files, 2)
}

func TestEvaluateRetrain(t *testing.T) {
	store := test.NewLocalStore(t)
	store.PutString("results", "predictions/run-1/prediction.results-00000-of-00001", predictionLines(70, 30))

	rep, err := newEvaluator(store).Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionRetrain, rep.Result.Decision)
}

func TestEvaluatePicksLatestRun(t *testing.T) {
	store := test.NewLocalStore(t)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store.PutAt("results", "predictions/run-old/prediction.results-0", predictionLines(1, 9), base)
	store.PutAt("results", "predictions/run-new/prediction.results-0", predictionLines(9, 1), base.Add(time.Hour))

	rep, err := newEvaluator(store).Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-new", rep.RunDir.Base())
	assert.Equal(t, 9, rep.Result.Correct)
}

func TestLatestRunDirTieBreaksLexically(t *testing.T) {
	store := test.NewLocalStore(t)
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store.PutAt("results", "p/a/prediction.results-0", "", at)
	store.PutAt("results", "p/c/prediction.results-0", "", at)
	store.PutAt("results", "p/b/prediction.results-0", "", at)
	store.PutAt("results", "p/evaluation/x.parquet", "", at.Add(time.Hour))
	store.PutAt("results", "p/loose-file", "", at.Add(time.Hour))

	root := storage.Location{Scheme: "gs", Bucket: "results", Path: "p"}
	dir, err := LatestRunDir(context.Background(), store, root, "evaluation")
	require.NoError(t, err)
	assert.Equal(t, "gs://results/p/c", dir.String())
}

func TestEvaluateEmptyResultSet(t *testing.T) {
	store := test.NewLocalStore(t)
	store.PutString("results", "predictions/run-1/prediction.results-00000-of-00001", "\n\n")

	_, err := newEvaluator(store).Evaluate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrEmptyResultSet)
	assert.False(t, exception.IsTemporary(err))
}

func TestEvaluateNoRunsIsEmptyResultSet(t *testing.T) {
	store := test.NewLocalStore(t)
	_, err := newEvaluator(store).Evaluate(context.Background())
	assert.ErrorIs(t, err, exception.ErrEmptyResultSet)
}

func TestEvaluateMalformedRecordRejectsBatch(t *testing.T) {
	store := test.NewLocalStore(t)
	lines := predictionLines(3, 0) + `{"instance":"gs://src/images/cat_9.jpg"}` + "\n"
	store.PutString("results", "predictions/run-1/prediction.results-00000-of-00001", lines)

	_, err := newEvaluator(store).Evaluate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrMalformedRecord)
	assert.Contains(t, err.Error(), "prediction.results-00000-of-00001:4")
}

func TestParseLine(t *testing.T) {
	cases := []struct {
		line    string
		correct bool
		wantErr bool
	}{
		{`{"instance":"gs://b/cat_1.jpg","prediction":{"label":"cat"}}`, true, false},
		{`{"instance":"gs://b/cat_1.jpg","prediction":{"label":"dog"}}`, false, false},
		{`{"instance":"gs://b/cat1.jpg","prediction":{"label":"cat"}}`, false, true},
		{`{"prediction":{"label":"cat"}}`, false, true},
		{`not json`, false, true},
	}
	for _, c := range cases {
		got, err := ParseLine(c.line)
		if c.wantErr {
			assert.Error(t, err, c.line)
			continue
		}
		require.NoError(t, err, c.line)
		assert.Equal(t, c.correct, got.Correct, c.line)
	}
}

func TestWriteAudit(t *testing.T) {
	store := test.NewLocalStore(t)
	store.PutString("results", "predictions/run-1/prediction.results-0", predictionLines(2, 1))

	e := newEvaluator(store)
	e.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	rep, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.WriteAudit(context.Background(), rep))

	assert.Equal(t, []string{"predictions/evaluation/run-1_20240501T120000.parquet"}, store.Names("results", "predictions/evaluation/"))
}

func TestEvaluateIgnoresAuditWithoutConfiguredDir(t *testing.T) {
	store := test.NewLocalStore(t)
	store.PutAt("results", "predictions/run-1/prediction.results-0", predictionLines(3, 1), time.Now().Add(-time.Hour))

	cfg := config.NewConfig().Retrainer.Retrain.Evaluator
	cfg.ResultsURI = "gs://results/predictions"
	cfg.AuditDir = ""
	e := NewEvaluator(store, cfg)

	rep, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	require.NoError(t, e.WriteAudit(context.Background(), rep))
	require.Len(t, store.Names("results", "predictions/"+DefaultAuditDir+"/"), 1)

	again, err := e.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", again.RunDir.Base())
	assert.Equal(t, 3, again.Result.Correct)
}
