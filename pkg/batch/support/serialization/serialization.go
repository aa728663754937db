// Package serialization provides utilities for serializing the data structures the
// engine persists, such as job parameters and execution contexts.
package serialization

import (
	"encoding/json"

	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/logger"
)

const module = "serialization"

// MaskValue replaces sensitive parameter values in logs and persisted records.
const MaskValue = "********"

// MaskParameters returns a copy of params with the listed keys masked.
// The input map is never modified.
func MaskParameters(params map[string]interface{}, maskedKeys []string) map[string]interface{} {
	if len(params) == 0 {
		return map[string]interface{}{}
	}

	masked := make(map[string]interface{}, len(params))
	for k, v := range params {
		masked[k] = v
	}
	for _, key := range maskedKeys {
		if _, ok := masked[key]; ok {
			masked[key] = MaskValue
		}
	}
	return masked
}

// MarshalExecutionContext serializes an ExecutionContext map into a JSON byte slice.
func MarshalExecutionContext(ec map[string]interface{}) ([]byte, error) {
	if ec == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(ec)
	if err != nil {
		logger.Errorf("Failed to serialize ExecutionContext: %v", err)
		return nil, exception.NewBatchError(module, "failed to serialize ExecutionContext", err, "")
	}
	return data, nil
}

// UnmarshalExecutionContext deserializes a JSON byte slice into an ExecutionContext map.
// The target map is cleared before deserialization.
func UnmarshalExecutionContext(data []byte, ec *map[string]interface{}) error {
	if *ec == nil {
		*ec = make(map[string]interface{})
	} else {
		for k := range *ec {
			delete(*ec, k)
		}
	}

	if len(data) == 0 || string(data) == "null" || string(data) == "{}" {
		return nil
	}

	if err := json.Unmarshal(data, ec); err != nil {
		logger.Errorf("Failed to deserialize ExecutionContext: %v", err)
		return exception.NewBatchError(module, "failed to deserialize ExecutionContext", err, "")
	}
	return nil
}

// MarshalParameters serializes a job parameters map into a JSON byte slice.
func MarshalParameters(params map[string]interface{}) ([]byte, error) {
	if len(params) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		logger.Errorf("Failed to serialize JobParameters: %v", err)
		return nil, exception.NewBatchError(module, "failed to serialize JobParameters", err, "")
	}
	return data, nil
}

// UnmarshalParameters deserializes a JSON byte slice into a job parameters map.
func UnmarshalParameters(data []byte, params *map[string]interface{}) error {
	if *params == nil {
		*params = make(map[string]interface{})
	} else {
		for k := range *params {
			delete(*params, k)
		}
	}

	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	if err := json.Unmarshal(data, params); err != nil {
		logger.Errorf("Failed to deserialize JobParameters: %v", err)
		return exception.NewBatchError(module, "failed to deserialize JobParameters", err, "")
	}
	return nil
}

// MarshalFailures serializes a slice of failure messages into a JSON byte slice.
func MarshalFailures(failures []string) ([]byte, error) {
	if failures == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return nil, exception.NewBatchError(module, "failed to serialize failures", err, "")
	}
	return data, nil
}

// UnmarshalFailures deserializes a JSON byte slice into a slice of failure messages.
func UnmarshalFailures(data []byte, msgs *[]string) error {
	if len(data) == 0 || string(data) == "null" {
		*msgs = []string{}
		return nil
	}
	if err := json.Unmarshal(data, msgs); err != nil {
		return exception.NewBatchError(module, "failed to deserialize failures", err, "")
	}
	return nil
}
