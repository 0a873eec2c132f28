package vertex

import (
	"context"
	"sync"
	"time"

	"google.golang.org/api/option"

	"github.com/tigerroll/retrainer/internal/retrain/inference"
	"github.com/tigerroll/retrainer/internal/retrain/pipeline"
	"github.com/tigerroll/retrainer/pkg/batch/core/config"
)

// lazyClient creates the shared Client once, on the first call.
type lazyClient struct {
	gcp   config.GCPConfig
	extra []option.ClientOption
	once  sync.Once
	c     *Client
	err   error
}

func (l *lazyClient) get(ctx context.Context) (*Client, error) {
	l.once.Do(func() {
		// The client outlives the step that created it.
		l.c, l.err = NewClient(context.WithoutCancel(ctx), l.gcp, l.extra...)
	})
	return l.c, l.err
}

// Factories builds the inference and pipeline service factories over one lazily created client.
func Factories(cfg config.RetrainConfig, extra ...option.ClientOption) (inference.ServiceFactory, pipeline.ServiceFactory) {
	lc := &lazyClient{gcp: cfg.GCP, extra: extra}
	poll := time.Duration(cfg.Inference.PollIntervalSeconds) * time.Second
	if poll <= 0 {
		poll = 30 * time.Second
	}
	predictions := func(ctx context.Context) (inference.Service, error) {
		c, err := lc.get(ctx)
		if err != nil {
			return nil, err
		}
		return NewPredictionService(c, poll), nil
	}
	pipelines := func(ctx context.Context) (pipeline.Service, error) {
		c, err := lc.get(ctx)
		if err != nil {
			return nil, err
		}
		return NewPipelineService(c, cfg.Trigger.ServiceAccount), nil
	}
	return predictions, pipelines
}
