package domain

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/tigerroll/retrainer/pkg/batch/core/domain/model"
)

// Typed execution context keys passed between the retrain steps.
var (
	DecisionKey            = model.NewKey[Decision]("retrain.decision")
	EvaluationKey          = model.NewKey[EvaluationResult]("retrain.evaluation")
	LatestSpanKey          = model.NewKey[int]("retrain.latest_span")
	ManifestURIKey         = model.NewKey[string]("retrain.manifest_uri")
	PredictionOutputURIKey = model.NewKey[string]("retrain.prediction_output_uri")
	PipelineRunKey         = model.NewKey[string]("retrain.pipeline_run")
)

// PredictionRecord is one line of a batch prediction result file.
type PredictionRecord struct {
	Instance   string `json:"instance"`
	Prediction struct {
		Label string `json:"label"`
	} `json:"prediction"`
}

// GroundTruth returns the label encoded in the instance file name: the token before the
// first "_" of its base name.
func (r PredictionRecord) GroundTruth() (string, error) {
	return LabelFromName(r.Instance)
}

// LabelFromName extracts the label prefix of an image object name like "cat_0042.jpg".
func LabelFromName(name string) (string, error) {
	base := path.Base(name)
	label, _, found := strings.Cut(base, "_")
	if !found || label == "" {
		return "", fmt.Errorf("cannot derive label from '%s'", name)
	}
	return label, nil
}

// EvaluationResult summarizes one evaluated prediction run.
type EvaluationResult struct {
	Total      int      `json:"total"`
	Correct    int      `json:"correct"`
	Accuracy   float64  `json:"accuracy"`
	Threshold  float64  `json:"threshold"`
	Decision   Decision `json:"decision"`
	ResultsURI string   `json:"results_uri"`
}

// NewEvaluationResult computes accuracy and decision. total must be positive.
func NewEvaluationResult(total, correct int, threshold float64) EvaluationResult {
	accuracy := float64(correct) / float64(total)
	return EvaluationResult{
		Total:     total,
		Correct:   correct,
		Accuracy:  accuracy,
		Threshold: threshold,
		Decision:  Decide(accuracy, threshold),
	}
}

// Sample is an image object and its label.
type Sample struct {
	URI   string `json:"uri"`
	Label string `json:"label"`
}

// Partition is the train/validation split of one span.
type Partition struct {
	Train      []Sample `json:"train"`
	Validation []Sample `json:"validation"`
}

// Size returns the number of samples in both splits.
func (p Partition) Size() int {
	return len(p.Train) + len(p.Validation)
}

// LabelVocabulary maps label names to their integer class ids.
type LabelVocabulary map[string]int

// Lookup returns the class id of label.
func (v LabelVocabulary) Lookup(label string) (int, bool) {
	id, ok := v[label]
	return id, ok
}

// SpanManifest records what a staged span contains so an interrupted commit can resume.
type SpanManifest struct {
	Span      int       `json:"span"`
	SourceURI string    `json:"source_uri"`
	Partition Partition `json:"partition"`
	Files     []string  `json:"files"`
	CreatedAt time.Time `json:"created_at"`
}

// RunRequest asks the pipeline service for a training run.
type RunRequest struct {
	SpecURI string
	// Spec is the compiled pipeline document stored at SpecURI, after any rewrite.
	Spec          []byte
	DisplayName   string
	PipelineRoot  string
	Parameters    map[string]string
	EnableCaching bool
}

// RunHandle identifies a submitted pipeline run.
type RunHandle struct {
	Name  string
	State string
}
