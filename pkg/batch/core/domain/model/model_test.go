package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verdict string

func (v *verdict) UnmarshalText(b []byte) error {
	if string(b) == "" {
		return errors.New("empty")
	}
	*v = verdict(b)
	return nil
}

type summary struct {
	Total   int     `json:"total"`
	Correct int     `json:"correct"`
	Ratio   float64 `json:"ratio"`
}

func TestKeyRoundTripThroughJSON(t *testing.T) {
	spanKey := NewKey[int]("retrain.latest_span")
	verdictKey := NewKey[verdict]("retrain.decision")
	summaryKey := NewKey[summary]("retrain.evaluation")

	ec := NewExecutionContext()
	spanKey.Put(ec, 7)
	verdictKey.Put(ec, verdict("RETRAIN"))
	summaryKey.Put(ec, summary{Total: 100, Correct: 70, Ratio: 0.7})

	got, ok := spanKey.Get(ec)
	require.True(t, ok)
	assert.Equal(t, 7, got)

	data, err := json.Marshal(ec)
	require.NoError(t, err)
	var restored ExecutionContext
	require.NoError(t, json.Unmarshal(data, &restored))

	span, ok := spanKey.Get(restored)
	require.True(t, ok)
	assert.Equal(t, 7, span)

	v, ok := verdictKey.Get(restored)
	require.True(t, ok)
	assert.Equal(t, verdict("RETRAIN"), v)

	s, ok := summaryKey.Get(restored)
	require.True(t, ok)
	assert.Equal(t, summary{Total: 100, Correct: 70, Ratio: 0.7}, s)

	_, ok = NewKey[int]("missing").Get(restored)
	assert.False(t, ok)
}

func TestNestedAccess(t *testing.T) {
	ec := NewExecutionContext()
	ec.PutNested("a.b.c", 1)
	v, ok := ec.GetNested("a.b.c")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	ec.Put("x.y", "flat")
	v, ok = ec.GetNested("x.y")
	require.True(t, ok)
	assert.Equal(t, "flat", v)

	_, ok = ec.GetNested("a.missing")
	assert.False(t, ok)
}

func TestExecutionContextScan(t *testing.T) {
	var ec ExecutionContext
	require.NoError(t, ec.Scan([]byte(`{"k":"v"}`)))
	s, ok := ec.GetString("k")
	assert.True(t, ok)
	assert.Equal(t, "v", s)

	require.NoError(t, ec.Scan(nil))
	assert.Empty(t, ec)
	assert.Error(t, ec.Scan(42))
}

func TestJobExecutionLifecycle(t *testing.T) {
	je := NewJobExecution("retrainJob", NewJobParameters())
	assert.Equal(t, BatchStatusStarting, je.Status)

	je.MarkAsStarted()
	assert.Equal(t, BatchStatusStarted, je.Status)

	err := errors.New("boom")
	je.MarkAsFailed(err)
	je.AddFailureException(err)
	assert.Equal(t, BatchStatusFailed, je.Status)
	assert.Equal(t, ExitStatusFailed, je.ExitStatus)
	assert.NotNil(t, je.EndTime)
	assert.Equal(t, FailureList{"boom"}, je.Failures)

	assert.Error(t, je.TransitionTo(BatchStatusStarted))
}

func TestStepExecutionLifecycle(t *testing.T) {
	je := NewJobExecution("retrainJob", NewJobParameters())
	se := NewStepExecution(NewID(), je, "performanceEvaluator")
	assert.Equal(t, je.ID, se.JobExecutionID)

	se.MarkAsStarted()
	se.MarkAsCompleted()
	assert.Equal(t, BatchStatusCompleted, se.Status)
	assert.Equal(t, ExitStatusCompleted, se.ExitStatus)
	assert.Error(t, se.TransitionTo(BatchStatusFailed))
}

func TestJobParametersHashIsOrderIndependent(t *testing.T) {
	a := NewJobParameters()
	a.Put("x", 1)
	a.Put("y", "z")
	b := NewJobParameters()
	b.Put("y", "z")
	b.Put("x", 1)

	ha, err := a.Hash()
	require.NoError(t, err)
	hb, err := b.Hash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestFlowDefinitionTransitions(t *testing.T) {
	fd := NewFlowDefinition("a")
	require.NoError(t, fd.AddElement("a", struct{}{}))
	require.NoError(t, fd.AddElement("b", struct{}{}))
	assert.Error(t, fd.AddElement("a", struct{}{}))

	fd.AddTransitionRule("a", "*", "", false, true, false)
	fd.AddTransitionRule("a", "COMPLETED", "b", false, false, false)
	fd.AddTransitionRule("b", "*", "", true, false, false)
	require.NoError(t, fd.Validate())

	rule, ok := fd.GetTransitionRule("a", ExitStatusCompleted)
	require.True(t, ok)
	assert.Equal(t, "b", rule.Transition.To)

	rule, ok = fd.GetTransitionRule("a", ExitStatusFailed)
	require.True(t, ok)
	assert.True(t, rule.Transition.Fail)

	_, ok = fd.GetTransitionRule("c", ExitStatusCompleted)
	assert.False(t, ok)

	fd.AddTransitionRule("b", "DONE", "nowhere", false, false, false)
	assert.Error(t, fd.Validate())
}
