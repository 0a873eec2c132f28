package model

import "time"

// DecisionRecord is the durable record of the retrain decision taken by one job execution.
type DecisionRecord struct {
	JobExecutionID string
	Decision       string
	Accuracy       float64
	Threshold      float64
	Total          int
	Correct        int
	ResultsURI     string
	RecordedAt     time.Time
}

// SpanRecord is the durable record of a published span.
type SpanRecord struct {
	Span            int
	DestinationURI  string
	JobExecutionID  string
	TrainCount      int
	ValidationCount int
	PublishedAt     time.Time
}
