package vertex

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/api/aiplatform/v1"

	"github.com/tigerroll/retrainer/internal/retrain/domain"
	"github.com/tigerroll/retrainer/internal/retrain/pipeline"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

// PipelineService implements pipeline.Service with PipelineJobs.
type PipelineService struct {
	client         *Client
	serviceAccount string
}

var _ pipeline.Service = (*PipelineService)(nil)

// NewPipelineService runs pipelines as serviceAccount, or the project default when empty.
func NewPipelineService(client *Client, serviceAccount string) *PipelineService {
	return &PipelineService{client: client, serviceAccount: serviceAccount}
}

// Submit creates a pipeline job from req.Spec. Both a bare pipeline spec and a job spec with
// "pipelineSpec" and "runtimeConfig" members are accepted.
func (s *PipelineService) Submit(ctx context.Context, req domain.RunRequest) (domain.RunHandle, error) {
	body, err := JobBody(req, s.serviceAccount)
	if err != nil {
		return domain.RunHandle{}, exception.NewBatchError(module, fmt.Sprintf("invalid pipeline spec '%s'", req.SpecURI), err, false)
	}
	job := new(aiplatform.GoogleCloudAiplatformV1PipelineJob)
	if err := convert(body, job); err != nil {
		return domain.RunHandle{}, exception.NewBatchError(module, "failed to build pipeline job request", err, false)
	}

	created, err := s.client.svc.Projects.Locations.PipelineJobs.Create(s.client.parent, job).Context(ctx).Do()
	if err != nil {
		// Never retried.
		return domain.RunHandle{}, exception.NewBatchError(module, "failed to create pipeline job", err, false)
	}
	return domain.RunHandle{Name: created.Name, State: created.State}, nil
}

// JobBody builds the PipelineJob request document for req.
func JobBody(req domain.RunRequest, serviceAccount string) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(req.Spec, &doc); err != nil {
		return nil, err
	}

	spec := doc
	runtime := map[string]interface{}{}
	if inner, ok := doc["pipelineSpec"].(map[string]interface{}); ok {
		spec = inner
		if rc, ok := doc["runtimeConfig"].(map[string]interface{}); ok {
			runtime = rc
		}
	}
	if _, ok := spec["root"]; !ok {
		return nil, fmt.Errorf("document has no pipeline root")
	}

	if req.PipelineRoot != "" {
		runtime["gcsOutputDirectory"] = req.PipelineRoot
	}
	if len(req.Parameters) > 0 {
		// Schema 2.0.0 pipelines take typed "parameters"; later ones take "parameterValues".
		if v, _ := spec["schemaVersion"].(string); v == "2.0.0" {
			params, _ := runtime["parameters"].(map[string]interface{})
			if params == nil {
				params = map[string]interface{}{}
			}
			for k, v := range req.Parameters {
				params[k] = map[string]interface{}{"stringValue": v}
			}
			runtime["parameters"] = params
		} else {
			values, _ := runtime["parameterValues"].(map[string]interface{})
			if values == nil {
				values = map[string]interface{}{}
			}
			for k, v := range req.Parameters {
				values[k] = v
			}
			runtime["parameterValues"] = values
		}
	}

	body := map[string]interface{}{
		"displayName":   req.DisplayName,
		"pipelineSpec":  spec,
		"runtimeConfig": runtime,
	}
	if serviceAccount != "" {
		body["serviceAccount"] = serviceAccount
	}
	return body, nil
}
