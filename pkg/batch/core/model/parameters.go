package model

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/marloq/riptide/pkg/batch/support/exception"
	"github.com/marloq/riptide/pkg/batch/support/serialization"
)

// JobParameters is the immutable set of key-value parameters a job was
// launched with. Together with the job name it identifies a JobInstance.
type JobParameters struct {
	Params map[string]interface{}
}

// NewJobParameters creates a new empty JobParameters.
func NewJobParameters() JobParameters {
	return JobParameters{
		Params: make(map[string]interface{}),
	}
}

// Put sets a value for the specified key.
func (jp JobParameters) Put(key string, value interface{}) {
	jp.Params[key] = value
}

// Get retrieves the value for the specified key, or nil if absent.
func (jp JobParameters) Get(key string) interface{} {
	return jp.Params[key]
}

// GetString retrieves the value for the specified key as a string.
func (jp JobParameters) GetString(key string) (string, bool) {
	val, ok := jp.Params[key]
	if !ok {
		return "", false
	}
	str, ok := val.(string)
	return str, ok
}

// GetInt retrieves the value for the specified key as an int.
// Numbers deserialized from JSON arrive as float64 and are converted.
func (jp JobParameters) GetInt(key string) (int, bool) {
	val, ok := jp.Params[key]
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// GetBool retrieves the value for the specified key as a bool.
func (jp JobParameters) GetBool(key string) (bool, bool) {
	val, ok := jp.Params[key]
	if !ok {
		return false, false
	}
	b, ok := val.(bool)
	return b, ok
}

// GetFloat64 retrieves the value for the specified key as a float64.
func (jp JobParameters) GetFloat64(key string) (float64, bool) {
	val, ok := jp.Params[key]
	if !ok {
		return 0.0, false
	}
	f, ok := val.(float64)
	return f, ok
}

// Equal reports whether two JobParameters hold the same keys and values.
// Numeric values compare equal across int and float64 representations,
// so parameters round-tripped through JSON still match their originals.
func (jp JobParameters) Equal(other JobParameters) bool {
	if len(jp.Params) != len(other.Params) {
		return false
	}
	for key, val := range jp.Params {
		otherVal, ok := other.Params[key]
		if !ok || !equalWithNumericTolerance(val, otherVal) {
			return false
		}
	}
	return true
}

func equalWithNumericTolerance(a, b interface{}) bool {
	af, aNum := toFloat64(a)
	bf, bNum := toFloat64(b)
	if aNum && bNum {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat64(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint8:
		return float64(v), true
	case uint16:
		return float64(v), true
	case uint32:
		return float64(v), true
	case uint64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// Hash calculates a stable SHA-256 hash of the parameters. Parameters are
// serialized to canonical JSON with sorted keys first, so the hash does not
// depend on map iteration order.
func (jp JobParameters) Hash() (string, error) {
	canonical, err := jp.toCanonicalJSON()
	if err != nil {
		return "", exception.NewBatchError("job_parameters", "failed to marshal JobParameters to canonical JSON", err, "")
	}

	hasher := sha256.New()
	hasher.Write([]byte(canonical))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// toCanonicalJSON converts the parameters to a canonical JSON string with sorted keys.
func (jp JobParameters) toCanonicalJSON() (string, error) {
	var marshalCanonical func(interface{}) ([]byte, error)
	marshalCanonical = func(val interface{}) ([]byte, error) {
		m, ok := val.(map[string]interface{})
		if !ok {
			return json.Marshal(val)
		}

		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var sb strings.Builder
		sb.WriteString("{")
		for i, k := range keys {
			keyBytes, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			valBytes, err := marshalCanonical(m[k])
			if err != nil {
				return nil, err
			}
			sb.Write(keyBytes)
			sb.WriteString(":")
			sb.Write(valBytes)
			if i < len(keys)-1 {
				sb.WriteString(",")
			}
		}
		sb.WriteString("}")
		return []byte(sb.String()), nil
	}

	jsonBytes, err := marshalCanonical(jp.Params)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

// maskedParameterKeys lists parameter keys whose values are masked in logs
// and string representations. Set once at startup by the config loader.
var (
	maskedParameterKeys   []string
	maskedParameterKeysMu sync.RWMutex
)

// SetMaskedParameterKeys configures which parameter keys are masked by String.
func SetMaskedParameterKeys(keys []string) {
	maskedParameterKeysMu.Lock()
	defer maskedParameterKeysMu.Unlock()
	maskedParameterKeys = append([]string(nil), keys...)
}

// MaskedParameterKeys returns the currently configured masked keys.
func MaskedParameterKeys() []string {
	maskedParameterKeysMu.RLock()
	defer maskedParameterKeysMu.RUnlock()
	return append([]string(nil), maskedParameterKeys...)
}

// String returns the string representation of the parameters with sensitive
// values masked.
func (jp JobParameters) String() string {
	masked := serialization.MaskParameters(jp.Params, MaskedParameterKeys())
	data, err := json.Marshal(masked)
	if err != nil {
		return fmt.Sprintf("{[ERROR: failed to marshal masked parameters: %v]}", err)
	}
	return string(data)
}

// Value implements driver.Valuer, converting the parameters to a JSON string.
func (jp JobParameters) Value() (driver.Value, error) {
	if jp.Params == nil {
		return "{}", nil
	}
	data, err := json.Marshal(jp.Params)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner, converting a JSON string or byte slice to JobParameters.
func (jp *JobParameters) Scan(value interface{}) error {
	if value == nil {
		jp.Params = make(map[string]interface{})
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for JobParameters: %T", value)
	}

	if len(b) == 0 {
		jp.Params = make(map[string]interface{})
		return nil
	}

	if err := json.Unmarshal(b, &jp.Params); err != nil {
		return fmt.Errorf("failed to unmarshal JobParameters JSON: %w", err)
	}
	return nil
}
