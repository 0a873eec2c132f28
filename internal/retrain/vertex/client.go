// Package vertex implements the inference and pipeline services on the Vertex AI REST API.
package vertex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/aiplatform/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

const module = "vertex"

// Client wraps an aiplatform.Service bound to one project and region.
type Client struct {
	svc    *aiplatform.Service
	parent string
}

// ClientOptions translates the project settings into client options. The regional endpoint is
// required by Vertex AI.
func ClientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	if gcp.Region != "" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("https://%s-aiplatform.googleapis.com/", gcp.Region)))
	}
	if gcp.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(gcp.CredentialsFile))
	}
	return opts
}

// NewClient creates a Client for gcp. Extra options are applied after the defaults.
func NewClient(ctx context.Context, gcp config.GCPConfig, extra ...option.ClientOption) (*Client, error) {
	if gcp.ProjectID == "" || gcp.Region == "" {
		return nil, exception.NewBatchErrorf(module, "gcp.project_id and gcp.region are required")
	}
	svc, err := aiplatform.NewService(ctx, append(ClientOptions(gcp), extra...)...)
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to create Vertex AI client", err, false)
	}
	return &Client{
		svc:    svc,
		parent: fmt.Sprintf("projects/%s/locations/%s", gcp.ProjectID, gcp.Region),
	}, nil
}

// Parent returns the projects/<p>/locations/<r> resource the client works in.
func (c *Client) Parent() string {
	return c.parent
}

// convert round-trips src through JSON into dst, which lets request bodies be built as plain maps.
func convert(src, dst interface{}) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}

// classify marks throttling and server errors as transient.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return exception.NewTransientError(module, op, err)
		}
	}
	return exception.NewBatchError(module, op, err, false)
}
