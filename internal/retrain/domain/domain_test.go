package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

func TestDecide(t *testing.T) {
	assert.Equal(t, DecisionRetrain, Decide(0.7, 0.8))
	assert.Equal(t, DecisionKeep, Decide(0.82, 0.8))
	assert.Equal(t, DecisionKeep, Decide(0.8, 0.8))
	assert.True(t, DecisionRetrain.RetrainNeeded())
	assert.False(t, DecisionKeep.RetrainNeeded())
	assert.False(t, DecisionUnknown.RetrainNeeded())
}

func TestDecisionText(t *testing.T) {
	for _, d := range []Decision{DecisionUnknown, DecisionKeep, DecisionRetrain} {
		b, err := d.MarshalText()
		require.NoError(t, err)
		var back Decision
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, d, back)
	}
	_, err := ParseDecision("True")
	assert.Error(t, err)
}

func TestDecisionSurvivesContextSerialization(t *testing.T) {
	ec := model.NewExecutionContext()
	DecisionKey.Put(ec, DecisionRetrain)
	EvaluationKey.Put(ec, NewEvaluationResult(100, 70, 0.8))

	data, err := json.Marshal(ec)
	require.NoError(t, err)
	restored := model.NewExecutionContext()
	require.NoError(t, json.Unmarshal(data, &restored))

	d, ok := DecisionKey.Get(restored)
	require.True(t, ok)
	assert.Equal(t, DecisionRetrain, d)

	res, ok := EvaluationKey.Get(restored)
	require.True(t, ok)
	assert.Equal(t, 70, res.Correct)
	assert.Equal(t, DecisionRetrain, res.Decision)
}

func TestEvaluationResult(t *testing.T) {
	res := NewEvaluationResult(100, 82, 0.8)
	assert.InDelta(t, 0.82, res.Accuracy, 1e-9)
	assert.Equal(t, DecisionKeep, res.Decision)

	res = NewEvaluationResult(100, 70, 0.8)
	assert.InDelta(t, 0.70, res.Accuracy, 1e-9)
	assert.Equal(t, DecisionRetrain, res.Decision)
}

func TestGroundTruth(t *testing.T) {
	cases := []struct {
		instance string
		want     string
		wantErr  bool
	}{
		{"gs://bucket/images/cat_0001.jpg", "cat", false},
		{"truck_1_2.jpg", "truck", false},
		{"gs://bucket/images/cat.jpg", "", true},
		{"gs://bucket/images/_0001.jpg", "", true},
	}
	for _, c := range cases {
		got, err := PredictionRecord{Instance: c.instance}.GroundTruth()
		if c.wantErr {
			assert.Error(t, err, c.instance)
			continue
		}
		require.NoError(t, err, c.instance)
		assert.Equal(t, c.want, got)
	}
}
