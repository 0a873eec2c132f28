// Package serialization converts job parameters and execution state to and from their persisted JSON form.
package serialization

import (
	"encoding/json"

	"github.com/tigerroll/retrainer/pkg/batch/core/config"
	"github.com/tigerroll/retrainer/pkg/batch/support/util/exception"
)

const (
	moduleName = "serialization"
	maskValue  = "********"
)

// MaskParameters returns a copy of params with configured sensitive keys masked.
func MaskParameters(params map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(params))
	for k, v := range params {
		masked[k] = v
	}
	for _, key := range config.GetMaskedParameterKeys() {
		if _, ok := masked[key]; ok {
			masked[key] = maskValue
		}
	}
	return masked
}

// MarshalJobParameters encodes params as JSON with sensitive keys masked.
func MarshalJobParameters(params map[string]interface{}) ([]byte, error) {
	if len(params) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(MaskParameters(params))
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to serialize job parameters", err, false)
	}
	return data, nil
}

// UnmarshalJobParameters decodes data into *params, replacing its content.
func UnmarshalJobParameters(data []byte, params *map[string]interface{}) error {
	*params = make(map[string]interface{})
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, params); err != nil {
		return exception.NewBatchError(moduleName, "failed to deserialize job parameters", err, false)
	}
	return nil
}
