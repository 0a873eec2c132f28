package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/retrainer/pkg/batch/core/application/port"
	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

type gate string

func (g gate) String() string { return string(g) }

var gateKey = model.NewKey[gate]("test.gate")

var _ port.Decision = (*ConditionalDecision[gate])(nil)

func TestConditionalDecisionReturnsValueAsExitStatus(t *testing.T) {
	je := model.NewJobExecution("job", model.NewJobParameters())
	gateKey.Put(je.ExecutionContext, gate("OPEN"))

	status, err := NewConditionalDecision("gate", gateKey).Decide(context.Background(), je, je.Parameters)
	require.NoError(t, err)
	assert.Equal(t, model.ExitStatus("OPEN"), status)
}

func TestConditionalDecisionMissingKey(t *testing.T) {
	je := model.NewJobExecution("job", model.NewJobParameters())

	status, err := NewConditionalDecision("gate", gateKey).Decide(context.Background(), je, je.Parameters)
	require.NoError(t, err)
	assert.Equal(t, model.ExitStatusFailed, status)

	status, err = NewConditionalDecision("gate", gateKey).WithDefaultStatus(model.ExitStatusNoOp).Decide(context.Background(), je, je.Parameters)
	require.NoError(t, err)
	assert.Equal(t, model.ExitStatusNoOp, status)

	_, err = NewConditionalDecision("gate", gateKey).FailOnMissing().Decide(context.Background(), je, je.Parameters)
	assert.ErrorContains(t, err, "test.gate")
}
