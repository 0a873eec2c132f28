package model

import (
	"database/sql/driver"
	"encoding"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tigerroll/retrainer/pkg/batch/support/util/logger"
)

// ExecutionContext is the key-value state shared between the steps of a job execution.
// It is persisted as JSON.
type ExecutionContext map[string]interface{}

// NewExecutionContext returns an empty ExecutionContext.
func NewExecutionContext() ExecutionContext {
	return make(ExecutionContext)
}

// Value implements driver.Valuer.
func (ec ExecutionContext) Value() (driver.Value, error) {
	if ec == nil {
		return "{}", nil
	}
	data, err := json.Marshal(ec)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (ec *ExecutionContext) Scan(value interface{}) error {
	b, err := scanBytes(value, "ExecutionContext")
	if err != nil {
		return err
	}
	*ec = make(ExecutionContext)
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, ec); err != nil {
		return fmt.Errorf("failed to unmarshal ExecutionContext JSON: %w", err)
	}
	return nil
}

func scanBytes(value interface{}, typeName string) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, fmt.Errorf("unsupported Scan type for %s: %T", typeName, value)
}

func (ec ExecutionContext) Put(key string, value interface{}) {
	ec[key] = value
}

func (ec ExecutionContext) Get(key string) (interface{}, bool) {
	v, ok := ec[key]
	return v, ok
}

func (ec ExecutionContext) GetString(key string) (string, bool) {
	s, ok := ec[key].(string)
	return s, ok
}

// GetInt also accepts float64 values produced by JSON decoding.
func (ec ExecutionContext) GetInt(key string) (int, bool) {
	switch v := ec[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func (ec ExecutionContext) GetFloat64(key string) (float64, bool) {
	switch v := ec[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func (ec ExecutionContext) Remove(key string) {
	delete(ec, key)
}

// Copy returns a shallow copy.
func (ec ExecutionContext) Copy() ExecutionContext {
	out := make(ExecutionContext, len(ec))
	for k, v := range ec {
		out[k] = v
	}
	return out
}

// GetNested resolves a dot separated path. A top-level key that itself contains dots wins.
func (ec ExecutionContext) GetNested(key string) (interface{}, bool) {
	if v, ok := ec[key]; ok {
		return v, true
	}
	var cur interface{} = ec
	for _, part := range strings.Split(key, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// PutNested stores value under a dot separated path, creating intermediate maps.
func (ec ExecutionContext) PutNested(key string, value interface{}) {
	parts := strings.Split(key, ".")
	cur := map[string]interface{}(ec)
	for i, part := range parts[:len(parts)-1] {
		next, ok := asMap(cur[part])
		if !ok {
			if _, exists := cur[part]; exists {
				logger.Warnf("ExecutionContext.PutNested: overwriting non-map value at '%s'.", strings.Join(parts[:i+1], "."))
			}
			next = make(map[string]interface{})
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case ExecutionContext:
		return m, true
	case map[string]interface{}:
		return m, true
	}
	return nil, false
}

// Key is a typed execution context key.
type Key[T any] struct {
	name string
}

// NewKey declares a typed key.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

func (k Key[T]) Name() string { return k.name }

// Put stores v by value.
func (k Key[T]) Put(ec ExecutionContext, v T) {
	ec[k.name] = v
}

// Get returns the value stored under k. Values that went through a JSON round trip
// (text for encoding.TextUnmarshaler types, float64 for numbers, maps for structs) are converted back.
func (k Key[T]) Get(ec ExecutionContext) (T, bool) {
	var zero T
	raw, ok := ec[k.name]
	if !ok || raw == nil {
		return zero, false
	}
	if v, ok := raw.(T); ok {
		return v, true
	}
	var out T
	if s, isString := raw.(string); isString {
		if u, ok := any(&out).(encoding.TextUnmarshaler); ok {
			if err := u.UnmarshalText([]byte(s)); err != nil {
				return zero, false
			}
			return out, true
		}
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return zero, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, false
	}
	return out, true
}
