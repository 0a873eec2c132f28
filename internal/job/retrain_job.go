// Package job assembles the retrain flows and launches them under the cycle lock.
package job

import (
	"fmt"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
	"github.com/tigerroll/retrainer/internal/retrain/inference"
	"github.com/tigerroll/retrainer/internal/retrain/pipeline"
	"github.com/tigerroll/retrainer/internal/step/tasklet"
	"github.com/tigerroll/retrainer/pkg/batch/adapter/storage"
	"github.com/tigerroll/retrainer/pkg/batch/component/flow"
	port "github.com/tigerroll/retrainer/pkg/batch/core/application/port"
	config "github.com/tigerroll/retrainer/pkg/batch/core/config"
	model "github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/retrainer/pkg/batch/core/domain/repository"
	jobRunner "github.com/tigerroll/retrainer/pkg/batch/core/job/runner"
	metrics "github.com/tigerroll/retrainer/pkg/batch/core/metrics"
	taskletStep "github.com/tigerroll/retrainer/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

// Stage selects which part of the retrain cycle a launch runs.
type Stage string

const (
	StageRun         Stage = "run"
	StageManifest    Stage = "manifest"
	StageEvaluate    Stage = "evaluate"
	StagePrepareSpan Stage = "prepare-span"
	StageTrigger     Stage = "trigger"
)

// Stages lists every Stage in cycle order.
func Stages() []Stage {
	return []Stage{StageRun, StageManifest, StageEvaluate, StagePrepareSpan, StageTrigger}
}

// ParseStage validates s.
func ParseStage(s string) (Stage, error) {
	for _, st := range Stages() {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

// Flow element IDs.
const (
	FileListGenStep          = "fileListGen"
	BatchPredictionStep      = "batchPrediction"
	PerformanceEvaluatorStep = "performanceEvaluator"
	RetrainDecision          = "retrainDecision"
	SpanPreparatorStep       = "spanPreparator"
	PipelineTriggerStep      = "pipelineTrigger"
)

const module = "retrain_job"

// Builder creates a FlowJob per Stage.
type Builder struct {
	cfg           *config.Config
	resolver      storage.StorageConnectionResolver
	repo          repository.JobRepository
	recorder      metrics.MetricRecorder
	tracer        metrics.Tracer
	jobListeners  []port.JobExecutionListener
	stepListeners []port.StepExecutionListener
	predictions   inference.ServiceFactory
	pipelines     pipeline.ServiceFactory
}

// NewBuilder creates a Builder from the injected dependencies.
func NewBuilder(p Params) *Builder {
	return &Builder{
		cfg:           p.Config,
		resolver:      p.Resolver,
		repo:          p.Repository,
		recorder:      p.Recorder,
		tracer:        p.Tracer,
		jobListeners:  p.JobListeners,
		stepListeners: p.StepListeners,
		predictions:   p.Predictions,
		pipelines:     p.Pipelines,
	}
}

// JobName returns the name executions of stage are recorded under.
func (b *Builder) JobName(stage Stage) string {
	name := b.cfg.Retrainer.Batch.JobName
	if stage == StageRun {
		return name
	}
	return name + "." + string(stage)
}

// Build returns the job for stage.
//
// The full cycle is
//
//	fileListGen -> batchPrediction -> performanceEvaluator -> retrainDecision
//	retrainDecision: RETRAIN -> spanPreparator -> pipelineTrigger -> end
//	retrainDecision: KEEP -> end
//
// Every other stage runs the matching part on its own.
func (b *Builder) Build(stage Stage) (*jobRunner.FlowJob, error) {
	var fd *model.FlowDefinition
	var err error
	switch stage {
	case StageRun:
		fd, err = b.cycleFlow()
	case StageManifest:
		fd, err = b.singleStepFlow(b.manifestStep())
	case StageEvaluate:
		fd, err = b.evaluateFlow()
	case StagePrepareSpan:
		fd, err = b.singleStepFlow(b.gatedSpanPreparatorStep())
	case StageTrigger:
		fd, err = b.singleStepFlow(b.pipelineTriggerStep(true))
	default:
		return nil, exception.NewBatchErrorf(module, "unknown stage '%s'", stage)
	}
	if err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("failed to build flow for stage '%s'", stage), err, false)
	}
	if err := fd.Validate(); err != nil {
		return nil, exception.NewBatchError(module, fmt.Sprintf("invalid flow for stage '%s'", stage), err, false)
	}
	name := b.JobName(stage)
	return jobRunner.NewFlowJob(name, name, fd, b.repo, b.jobListeners, b.recorder, b.tracer), nil
}

func (b *Builder) cycleFlow() (*model.FlowDefinition, error) {
	fd := model.NewFlowDefinition(FileListGenStep)
	for _, el := range []port.Step{
		b.manifestStep(),
		b.batchPredictionStep(),
		b.evaluatorStep(),
		b.spanPreparatorStep(),
		b.pipelineTriggerStep(false),
	} {
		if err := fd.AddElement(el.ID(), el); err != nil {
			return nil, err
		}
	}
	if err := fd.AddElement(RetrainDecision, retrainDecision()); err != nil {
		return nil, err
	}

	completed := string(model.ExitStatusCompleted)
	fd.AddTransitionRule(FileListGenStep, completed, BatchPredictionStep, false, false, false)
	fd.AddTransitionRule(BatchPredictionStep, completed, PerformanceEvaluatorStep, false, false, false)
	fd.AddTransitionRule(PerformanceEvaluatorStep, completed, RetrainDecision, false, false, false)
	fd.AddTransitionRule(RetrainDecision, string(domain.ExitStatusRetrain), SpanPreparatorStep, false, false, false)
	fd.AddTransitionRule(RetrainDecision, string(domain.ExitStatusKeep), "", true, false, false)
	fd.AddTransitionRule(SpanPreparatorStep, completed, PipelineTriggerStep, false, false, false)
	fd.AddTransitionRule(PipelineTriggerStep, completed, "", true, false, false)
	return fd, nil
}

func (b *Builder) evaluateFlow() (*model.FlowDefinition, error) {
	fd := model.NewFlowDefinition(PerformanceEvaluatorStep)
	if err := fd.AddElement(PerformanceEvaluatorStep, b.evaluatorStep()); err != nil {
		return nil, err
	}
	if err := fd.AddElement(RetrainDecision, retrainDecision()); err != nil {
		return nil, err
	}
	fd.AddTransitionRule(PerformanceEvaluatorStep, string(model.ExitStatusCompleted), RetrainDecision, false, false, false)
	fd.AddTransitionRule(RetrainDecision, string(domain.ExitStatusRetrain), "", true, false, false)
	fd.AddTransitionRule(RetrainDecision, string(domain.ExitStatusKeep), "", true, false, false)
	return fd, nil
}

func (b *Builder) singleStepFlow(step port.Step) (*model.FlowDefinition, error) {
	fd := model.NewFlowDefinition(step.ID())
	if err := fd.AddElement(step.ID(), step); err != nil {
		return nil, err
	}
	fd.AddTransitionRule(step.ID(), string(model.ExitStatusCompleted), "", true, false, false)
	return fd, nil
}

// retrainDecision routes on the published decision. A missing decision fails the job.
func retrainDecision() port.Decision {
	return flow.NewConditionalDecision(RetrainDecision, domain.DecisionKey).FailOnMissing()
}

func (b *Builder) step(id string, t port.Tasklet, keys ...string) port.Step {
	var promotion *model.ExecutionContextPromotion
	if len(keys) > 0 {
		promotion = &model.ExecutionContextPromotion{Keys: keys}
	}
	return taskletStep.NewTaskletStep(id, t, b.repo, b.stepListeners, promotion, b.recorder, b.tracer)
}

func (b *Builder) manifestStep() port.Step {
	return b.step(FileListGenStep,
		tasklet.NewManifestTasklet(b.resolver, b.cfg.Retrainer.Retrain),
		domain.ManifestURIKey.Name())
}

func (b *Builder) batchPredictionStep() port.Step {
	return b.step(BatchPredictionStep,
		tasklet.NewBatchPredictionTasklet(b.predictions, b.cfg.Retrainer.Retrain.Inference),
		domain.PredictionOutputURIKey.Name())
}

func (b *Builder) evaluatorStep() port.Step {
	return b.step(PerformanceEvaluatorStep,
		tasklet.NewEvaluatorTasklet(b.resolver, b.repo, b.recorder, b.cfg.Retrainer.Retrain),
		domain.DecisionKey.Name(), domain.EvaluationKey.Name())
}

func (b *Builder) spanPreparatorStep() port.Step {
	return b.step(SpanPreparatorStep,
		tasklet.NewSpanPreparatorTasklet(b.resolver, b.repo, b.recorder, b.cfg.Retrainer.Retrain, nil),
		domain.LatestSpanKey.Name())
}

// gatedSpanPreparatorStep only prepares a span when the last recorded decision of a run or
// evaluate launch is RETRAIN.
func (b *Builder) gatedSpanPreparatorStep() port.Step {
	t := tasklet.NewSpanPreparatorTasklet(b.resolver, b.repo, b.recorder, b.cfg.Retrainer.Retrain, nil).
		RequireRetrainDecision(b.repo, b.JobName(StageRun), b.JobName(StageEvaluate))
	return b.step(SpanPreparatorStep, t, domain.LatestSpanKey.Name())
}

func (b *Builder) pipelineTriggerStep(discover bool) port.Step {
	t := tasklet.NewPipelineTriggerTasklet(b.resolver, b.pipelines, b.cfg.Retrainer.Retrain)
	if discover {
		t = t.WithSpanDiscovery(b.repo)
	}
	return b.step(PipelineTriggerStep, t, domain.PipelineRunKey.Name())
}
