package trigger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
	"github.com/tigerroll/retrainer/internal/retrain/pipeline"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

const module = "trigger"

// Trigger submits a training run over the latest spans.
type Trigger struct {
	conn    storage.StorageExecutor
	svc     pipeline.Service
	cfg     config.TriggerConfig
	spanCfg config.SpanConfig
}

// NewTrigger creates a Trigger. spanCfg supplies the partition directory names.
func NewTrigger(conn storage.StorageExecutor, svc pipeline.Service, cfg config.TriggerConfig, spanCfg config.SpanConfig) *Trigger {
	return &Trigger{conn: conn, svc: svc, cfg: cfg, spanCfg: spanCfg}
}

// Run validates the pipeline spec, builds the run parameters for latestSpan and submits the run.
// A nil latestSpan fails with ErrMissingSpan.
func (t *Trigger) Run(ctx context.Context, latestSpan *int) (domain.RunHandle, error) {
	specLoc, err := storage.ParseURI(t.cfg.PipelineSpecURI)
	if err != nil {
		return domain.RunHandle{}, exception.NewBatchError(module, "invalid pipeline spec URI", err, false)
	}
	exists, err := t.conn.Exists(ctx, specLoc.Bucket, specLoc.Path)
	if err != nil {
		return domain.RunHandle{}, storageError(fmt.Sprintf("failed to check '%s'", specLoc), err)
	}
	if !exists {
		return domain.RunHandle{}, exception.Wrap(module, fmt.Sprintf("'%s' does not exist", specLoc), exception.ErrPipelineSpecNotFound, nil)
	}
	if latestSpan == nil {
		return domain.RunHandle{}, exception.Wrap(module, "latest span is not available", exception.ErrMissingSpan, nil)
	}

	params, err := Parameters(*latestSpan, t.spanCfg.TrainDir, t.spanCfg.ValidationDir)
	if err != nil {
		return domain.RunHandle{}, exception.NewBatchError(module, "failed to build run parameters", err, false)
	}

	spec, err := t.read(ctx, specLoc)
	if err != nil {
		return domain.RunHandle{}, err
	}
	runSpecLoc := specLoc
	if !t.cfg.EnableCaching {
		spec, err = DisableCaching(spec)
		if err != nil {
			return domain.RunHandle{}, exception.NewBatchError(module, fmt.Sprintf("failed to rewrite '%s'", specLoc), err, false)
		}
		runSpecLoc = NoCacheLocation(specLoc)
		if err := t.conn.Upload(ctx, runSpecLoc.Bucket, runSpecLoc.Path, bytes.NewReader(spec), "application/json"); err != nil {
			return domain.RunHandle{}, storageError(fmt.Sprintf("failed to write '%s'", runSpecLoc), err)
		}
		logger.Infof("Wrote cache-disabled pipeline spec to '%s'.", runSpecLoc)
	}

	req := domain.RunRequest{
		SpecURI:       runSpecLoc.String(),
		Spec:          spec,
		DisplayName:   t.cfg.DisplayName,
		PipelineRoot:  t.cfg.PipelineRoot,
		Parameters:    params,
		EnableCaching: t.cfg.EnableCaching,
	}
	logger.Infof("Submitting pipeline '%s' for span %d with input-config %s.", req.SpecURI, *latestSpan, params["input-config"])
	handle, err := t.svc.Submit(ctx, req)
	if err != nil {
		return domain.RunHandle{}, exception.FromContext(module, "failed to submit pipeline run", err)
	}
	logger.Infof("Created pipeline run '%s' (state %s).", handle.Name, handle.State)
	return handle, nil
}

func (t *Trigger) read(ctx context.Context, loc storage.Location) ([]byte, error) {
	r, err := t.conn.Download(ctx, loc.Bucket, loc.Path)
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to read '%s'", loc), err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, storageError(fmt.Sprintf("failed to read '%s'", loc), err)
	}
	return b, nil
}

// NoCacheLocation returns "<dir>/<name>.nocache.json" next to spec.
func NoCacheLocation(spec storage.Location) storage.Location {
	base := strings.TrimSuffix(spec.Base(), ".json")
	return spec.Dir().Join(base + ".nocache.json")
}

// DisableCaching sets cachingOptions.enableCache=false on every task of every DAG in the document.
func DisableCaching(spec []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(spec, &doc); err != nil {
		return nil, err
	}
	disableTasks(doc)
	return json.MarshalIndent(doc, "", "  ")
}

func disableTasks(node interface{}) {
	switch n := node.(type) {
	case map[string]interface{}:
		if tasks, ok := n["tasks"].(map[string]interface{}); ok {
			for _, task := range tasks {
				if tm, ok := task.(map[string]interface{}); ok {
					opts, _ := tm["cachingOptions"].(map[string]interface{})
					if opts == nil {
						opts = map[string]interface{}{}
					}
					opts["enableCache"] = false
					tm["cachingOptions"] = opts
				}
			}
		}
		for _, v := range n {
			disableTasks(v)
		}
	case []interface{}:
		for _, v := range n {
			disableTasks(v)
		}
	}
}

func storageError(message string, err error) error {
	err = exception.FromContext(module, message, err)
	if exception.IsBatchError(err) {
		return err
	}
	return exception.NewBatchError(module, message, err, exception.IsTemporary(err))
}
