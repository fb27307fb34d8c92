package model

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ConfigValueKind discriminates the runtime type of a configuration value.
type ConfigValueKind string

// Supported configuration value kinds.
const (
	KindString ConfigValueKind = "string"
	KindNumber ConfigValueKind = "number"
	KindBool   ConfigValueKind = "bool"
	KindMap    ConfigValueKind = "map"
)

// ConfigValue is a typed configuration value. Values are stored as JSON in
// Redis and in the environment fallback files; the kind is recovered from
// the JSON type on load so callers get back what they stored.
type ConfigValue struct {
	Kind ConfigValueKind

	Str  string
	Num  float64
	Bool bool
	Map  map[string]any
}

// StringValue builds a string-typed value.
func StringValue(s string) ConfigValue { return ConfigValue{Kind: KindString, Str: s} }

// NumberValue builds a number-typed value.
func NumberValue(n float64) ConfigValue { return ConfigValue{Kind: KindNumber, Num: n} }

// BoolValue builds a bool-typed value.
func BoolValue(b bool) ConfigValue { return ConfigValue{Kind: KindBool, Bool: b} }

// MapValue builds a map-typed value.
func MapValue(m map[string]any) ConfigValue { return ConfigValue{Kind: KindMap, Map: m} }

// FromAny classifies an arbitrary decoded JSON value.
func FromAny(v any) (ConfigValue, error) {
	switch t := v.(type) {
	case string:
		return StringValue(t), nil
	case float64:
		return NumberValue(t), nil
	case int:
		return NumberValue(float64(t)), nil
	case int64:
		return NumberValue(float64(t)), nil
	case bool:
		return BoolValue(t), nil
	case map[string]any:
		return MapValue(t), nil
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return ConfigValue{}, fmt.Errorf("config value: invalid number %q", t.String())
		}
		return NumberValue(n), nil
	default:
		return ConfigValue{}, fmt.Errorf("config value: unsupported type %T", v)
	}
}

// ParseConfigValue decodes a raw JSON value and classifies its kind.
func ParseConfigValue(raw []byte) (ConfigValue, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ConfigValue{}, fmt.Errorf("config value: %w", err)
	}
	return FromAny(v)
}

// Interface returns the value as a plain Go value, suitable for JSON
// responses.
func (v ConfigValue) Interface() any {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindMap:
		return v.Map
	default:
		return nil
	}
}

// MarshalJSON encodes the underlying value without the kind wrapper.
func (v ConfigValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes and classifies a raw JSON value.
func (v *ConfigValue) UnmarshalJSON(raw []byte) error {
	parsed, err := ParseConfigValue(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// AsString coerces the value to a string. Numbers and bools are formatted;
// maps are not coercible.
func (v ConfigValue) AsString() (string, bool) {
	switch v.Kind {
	case KindString:
		return v.Str, true
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64), true
	case KindBool:
		return strconv.FormatBool(v.Bool), true
	default:
		return "", false
	}
}

// AsBool coerces the value to a bool. The strings "true"/"false" and the
// numbers 0/1 coerce; everything else does not.
func (v ConfigValue) AsBool() (bool, bool) {
	switch v.Kind {
	case KindBool:
		return v.Bool, true
	case KindString:
		b, err := strconv.ParseBool(v.Str)
		if err != nil {
			return false, false
		}
		return b, true
	case KindNumber:
		if v.Num == 0 {
			return false, true
		}
		if v.Num == 1 {
			return true, true
		}
		return false, false
	default:
		return false, false
	}
}

// AsFloat coerces the value to a float64.
func (v ConfigValue) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindString:
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
