// Package evaluate computes the accuracy of the latest batch prediction run and turns it into a
// retrain decision.
package evaluate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
	"github.com/tigerroll/retrainer/internal/retrain/report"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

const module = "evaluate"

// DefaultAuditDir is the audit directory used when none is configured.
const DefaultAuditDir = "evaluation"

// maxLineBytes bounds a single prediction line.
const maxLineBytes = 4 << 20

// Report is the outcome of one evaluation.
type Report struct {
	Result   domain.EvaluationResult
	Outcomes []report.OutcomeRow
	// RunDir is the prediction run directory that was evaluated.
	RunDir storage.Location
	Files  []string
}

// Evaluator scores prediction result files against the labels encoded in instance names.
type Evaluator struct {
	conn storage.StorageExecutor
	cfg  config.EvaluatorConfig
	now  func() time.Time
}

// NewEvaluator creates an Evaluator reading through conn.
func NewEvaluator(conn storage.StorageExecutor, cfg config.EvaluatorConfig) *Evaluator {
	if cfg.ResultFilePrefix == "" {
		cfg.ResultFilePrefix = "prediction.results"
	}
	if cfg.AuditDir == "" {
		cfg.AuditDir = DefaultAuditDir
	}
	return &Evaluator{conn: conn, cfg: cfg, now: time.Now}
}

// Evaluate finds the latest run below the results root, scores every record, and derives the
// decision. A run without any record fails with ErrEmptyResultSet.
func (e *Evaluator) Evaluate(ctx context.Context) (*Report, error) {
	root, err := storage.ParseURI(e.cfg.ResultsURI)
	if err != nil {
		return nil, exception.NewBatchError(module, "invalid results URI", err, false)
	}
	if e.cfg.Threshold < 0 || e.cfg.Threshold > 1 {
		return nil, exception.NewBatchErrorf(module, "threshold %.3f is outside [0,1]", e.cfg.Threshold)
	}

	runDir, err := LatestRunDir(ctx, e.conn, root, e.cfg.AuditDir)
	if err != nil {
		return nil, err
	}
	logger.Infof("Evaluating prediction run '%s'.", runDir)

	files, err := e.resultFiles(ctx, runDir)
	if err != nil {
		return nil, err
	}

	rep := &Report{RunDir: runDir, Files: files}
	for _, name := range files {
		if err := e.scoreFile(ctx, runDir, name, rep); err != nil {
			return nil, err
		}
	}

	total := len(rep.Outcomes)
	if total == 0 {
		return nil, exception.Wrap(module, fmt.Sprintf("no prediction records under '%s'", runDir), exception.ErrEmptyResultSet, nil)
	}
	correct := 0
	for _, o := range rep.Outcomes {
		if o.Correct {
			correct++
		}
	}
	rep.Result = domain.NewEvaluationResult(total, correct, e.cfg.Threshold)
	rep.Result.ResultsURI = runDir.String()

	logger.Infof("Accuracy of the deployed model: %.2f%% (%d/%d), threshold %.2f%%, decision %s.",
		rep.Result.Accuracy*100, correct, total, e.cfg.Threshold*100, rep.Result.Decision)
	return rep, nil
}

// WriteAudit stores the per-record outcomes of rep below <results root>/<audit dir>/.
func (e *Evaluator) WriteAudit(ctx context.Context, rep *Report) error {
	root, err := storage.ParseURI(e.cfg.ResultsURI)
	if err != nil {
		return exception.NewBatchError(module, "invalid results URI", err, false)
	}
	name := fmt.Sprintf("%s_%s.parquet", rep.RunDir.Base(), e.now().UTC().Format("20060102T150405"))
	return report.WriteOutcomes(ctx, e.conn, root.Join(e.cfg.AuditDir, name), rep.Outcomes)
}

// LatestRunDir returns the child directory of root holding the most recently updated object.
// Equal times resolve to the lexically greatest directory name. Directories named in exclude are
// skipped.
func LatestRunDir(ctx context.Context, conn storage.StorageExecutor, root storage.Location, exclude ...string) (storage.Location, error) {
	prefix := root.Prefix()
	latest := map[string]time.Time{}
	err := conn.ListObjects(ctx, root.Bucket, prefix, func(info storage.ObjectInfo) error {
		rel := strings.TrimPrefix(info.Name, prefix)
		dir, _, found := strings.Cut(rel, "/")
		if !found || dir == "" {
			return nil
		}
		if t, ok := latest[dir]; !ok || info.Updated.After(t) {
			latest[dir] = info.Updated
		}
		return nil
	})
	if err != nil {
		return storage.Location{}, storageError(fmt.Sprintf("failed to list prediction runs under '%s'", root), err)
	}
	for _, ex := range exclude {
		delete(latest, ex)
	}

	var best string
	var bestTime time.Time
	for dir, t := range latest {
		if best == "" || t.After(bestTime) || (t.Equal(bestTime) && dir > best) {
			best, bestTime = dir, t
		}
	}
	if best == "" {
		return storage.Location{}, exception.Wrap(module, fmt.Sprintf("no prediction runs under '%s'", root), exception.ErrEmptyResultSet, nil)
	}
	return root.Join(best), nil
}

func (e *Evaluator) resultFiles(ctx context.Context, runDir storage.Location) ([]string, error) {
	var files []string
	err := e.conn.ListObjects(ctx, runDir.Bucket, runDir.Prefix(), func(info storage.ObjectInfo) error {
		if strings.HasPrefix(path.Base(info.Name), e.cfg.ResultFilePrefix) {
			files = append(files, info.Name)
		}
		return nil
	})
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to list result files under '%s'", runDir), err)
	}
	sort.Strings(files)
	logger.Debugf("Found %d result files under '%s'.", len(files), runDir)
	return files, nil
}

func (e *Evaluator) scoreFile(ctx context.Context, runDir storage.Location, name string, rep *Report) error {
	uri := storage.ObjectURI(runDir.Scheme, runDir.Bucket, name)
	r, err := e.conn.Download(ctx, runDir.Bucket, name)
	if err != nil {
		return storageError(fmt.Sprintf("failed to read '%s'", uri), err)
	}
	defer r.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		outcome, err := ParseLine(text)
		if err != nil {
			return exception.Wrap(module, fmt.Sprintf("%s:%d: %v", uri, line, err), exception.ErrMalformedRecord, err)
		}
		rep.Outcomes = append(rep.Outcomes, outcome)
	}
	if err := scanner.Err(); err != nil {
		return storageError(fmt.Sprintf("failed to read '%s' after line %d", uri, line), err)
	}
	return nil
}

// ParseLine scores one JSON prediction line.
func ParseLine(text string) (report.OutcomeRow, error) {
	var rec domain.PredictionRecord
	if err := json.Unmarshal([]byte(text), &rec); err != nil {
		return report.OutcomeRow{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if rec.Instance == "" {
		return report.OutcomeRow{}, fmt.Errorf("missing instance")
	}
	if rec.Prediction.Label == "" {
		return report.OutcomeRow{}, fmt.Errorf("missing prediction.label")
	}
	truth, err := rec.GroundTruth()
	if err != nil {
		return report.OutcomeRow{}, err
	}
	return report.OutcomeRow{
		Instance:    rec.Instance,
		GroundTruth: truth,
		Predicted:   rec.Prediction.Label,
		Correct:     truth == rec.Prediction.Label,
	}, nil
}

func storageError(message string, err error) error {
	err = exception.FromContext(module, message, err)
	if exception.IsBatchError(err) {
		return err
	}
	return exception.NewBatchError(module, message, err, exception.IsTemporary(err))
}
