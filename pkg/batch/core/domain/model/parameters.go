package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tigerroll/retrainer/pkg/batch/support/util/serialization"
)

// JobParameters are the identifying inputs of a job execution.
type JobParameters struct {
	Params map[string]interface{}
}

// NewJobParameters returns empty parameters.
func NewJobParameters() JobParameters {
	return JobParameters{Params: make(map[string]interface{})}
}

func (jp JobParameters) Put(key string, value interface{}) {
	jp.Params[key] = value
}

func (jp JobParameters) Get(key string) interface{} {
	return jp.Params[key]
}

func (jp JobParameters) GetString(key string) (string, bool) {
	s, ok := jp.Params[key].(string)
	return s, ok
}

func (jp JobParameters) GetFloat64(key string) (float64, bool) {
	switch v := jp.Params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Value implements driver.Valuer. Masked keys are persisted masked.
func (jp JobParameters) Value() (driver.Value, error) {
	data, err := serialization.MarshalJobParameters(jp.Params)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (jp *JobParameters) Scan(value interface{}) error {
	b, err := scanBytes(value, "JobParameters")
	if err != nil {
		return err
	}
	return serialization.UnmarshalJobParameters(b, &jp.Params)
}

// Hash returns a stable digest of the parameters. encoding/json sorts map keys, so the
// digest does not depend on insertion order.
func (jp JobParameters) Hash() (string, error) {
	data, err := json.Marshal(jp.Params)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job parameters for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// String renders the parameters as JSON with sensitive values masked.
func (jp JobParameters) String() string {
	data, err := json.Marshal(serialization.MaskParameters(jp.Params))
	if err != nil {
		return fmt.Sprintf("{[ERROR: %v]}", err)
	}
	return string(data)
}
