package vertex

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/aiplatform/v1"

	"github.com/tigerroll/retrainer/internal/retrain/inference"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// PredictionService implements inference.Service with BatchPredictionJobs.
type PredictionService struct {
	client       *Client
	pollInterval time.Duration
}

var _ inference.Service = (*PredictionService)(nil)

// NewPredictionService polls job state every pollInterval.
func NewPredictionService(client *Client, pollInterval time.Duration) *PredictionService {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	return &PredictionService{client: client, pollInterval: pollInterval}
}

// LatestModel returns the resource name of the most recently updated model called displayName.
func (s *PredictionService) LatestModel(ctx context.Context, displayName string) (string, error) {
	var latest *aiplatform.GoogleCloudAiplatformV1Model
	var latestTime time.Time
	call := s.client.svc.Projects.Locations.Models.List(s.client.parent).
		Filter(fmt.Sprintf("display_name=%q", displayName))
	err := call.Pages(ctx, func(resp *aiplatform.GoogleCloudAiplatformV1ListModelsResponse) error {
		for _, m := range resp.Models {
			updated, err := time.Parse(time.RFC3339Nano, m.UpdateTime)
			if err != nil {
				logger.Warnf("Model '%s' has an unparsable update time '%s'.", m.Name, m.UpdateTime)
				continue
			}
			if latest == nil || updated.After(latestTime) {
				latest, latestTime = m, updated
			}
		}
		return nil
	})
	if err != nil {
		return "", classify(fmt.Sprintf("failed to list models named '%s'", displayName), err)
	}
	if latest == nil {
		return "", fmt.Errorf("no model named '%s' in %s", displayName, s.client.parent)
	}
	logger.Infof("Using model '%s' (%s), updated %s.", latest.DisplayName, latest.Name, latest.UpdateTime)
	return latest.Name, nil
}

// Submit creates the batch prediction job.
func (s *PredictionService) Submit(ctx context.Context, spec inference.JobSpec) (inference.JobHandle, error) {
	modelName, err := s.LatestModel(ctx, spec.ModelDisplayName)
	if err != nil {
		return inference.JobHandle{}, err
	}

	machineSpec := map[string]interface{}{"machineType": spec.MachineType}
	if spec.AcceleratorType != "" && spec.AcceleratorCount > 0 {
		machineSpec["acceleratorType"] = spec.AcceleratorType
		machineSpec["acceleratorCount"] = spec.AcceleratorCount
	}
	body := map[string]interface{}{
		"displayName": spec.DisplayName,
		"model":       modelName,
		"inputConfig": map[string]interface{}{
			"instancesFormat": spec.InstancesFormat,
			"gcsSource":       map[string]interface{}{"uris": []string{spec.ManifestURI}},
		},
		"outputConfig": map[string]interface{}{
			"predictionsFormat": spec.PredictionsFormat,
			"gcsDestination":    map[string]interface{}{"outputUriPrefix": spec.OutputURIPrefix},
		},
		"dedicatedResources": map[string]interface{}{
			"machineSpec":          machineSpec,
			"startingReplicaCount": spec.StartingReplicaCount,
			"maxReplicaCount":      spec.MaxReplicaCount,
		},
	}
	job := new(aiplatform.GoogleCloudAiplatformV1BatchPredictionJob)
	if err := convert(body, job); err != nil {
		return inference.JobHandle{}, fmt.Errorf("failed to build batch prediction request: %w", err)
	}

	created, err := s.client.svc.Projects.Locations.BatchPredictionJobs.Create(s.client.parent, job).Context(ctx).Do()
	if err != nil {
		return inference.JobHandle{}, classify("failed to create batch prediction job", err)
	}
	return toHandle(created), nil
}

// Wait polls the job until it is terminal.
func (s *PredictionService) Wait(ctx context.Context, job inference.JobHandle) (inference.JobHandle, error) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		current, err := s.client.svc.Projects.Locations.BatchPredictionJobs.Get(job.Name).Context(ctx).Do()
		if err != nil {
			return job, classify(fmt.Sprintf("failed to get batch prediction job '%s'", job.Name), err)
		}
		job = toHandle(current)
		if job.Terminal() {
			return job, nil
		}
		logger.Debugf("Batch prediction job '%s' is %s.", job.Name, job.State)
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func toHandle(j *aiplatform.GoogleCloudAiplatformV1BatchPredictionJob) inference.JobHandle {
	h := inference.JobHandle{
		Name:        j.Name,
		DisplayName: j.DisplayName,
		ModelName:   j.Model,
		State:       j.State,
	}
	if j.OutputInfo != nil {
		h.OutputDirectory = j.OutputInfo.GcsOutputDirectory
	}
	if j.Error != nil {
		h.Error = j.Error.Message
	}
	return h
}
