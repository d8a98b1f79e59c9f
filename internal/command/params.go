package command

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidParams is wrapped by every ValidationError.
var ErrInvalidParams = errors.New("invalid command params")

// ValidationError reports a rejected command parameter.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("param %q %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidParams }

type ParamKind string

const (
	ParamNumber ParamKind = "number"
	ParamInt    ParamKind = "int"
	ParamEnum   ParamKind = "enum"
)

type ParamField struct {
	Key      string
	Kind     ParamKind
	Required bool
	Default  any
	Options  []string
	Min      *float64
	Max      *float64
}

func bound(v float64) *float64 { return &v }

// Params are validated command arguments with defaults applied.
type Params map[string]any

func (p Params) Float(key string) (float64, bool) {
	v, ok := p[key].(float64)
	return v, ok
}

func (p Params) Int(key string) (int, bool) {
	v, ok := p[key].(float64)
	return int(v), ok
}

func (p Params) String(key string) (string, bool) {
	v, ok := p[key].(string)
	return v, ok
}

// validateParams checks raw against schema and returns a normalized copy:
// numbers become float64, enum values are matched case-insensitively and
// replaced by the canonical option. Unknown keys are rejected.
func validateParams(schema []ParamField, raw map[string]any) (Params, error) {
	known := make(map[string]struct{}, len(schema))
	out := Params{}
	for _, field := range schema {
		known[field.Key] = struct{}{}
		value, ok := raw[field.Key]
		if !ok || isEmpty(value) {
			if field.Default != nil {
				out[field.Key] = field.Default
				continue
			}
			if field.Required {
				return nil, &ValidationError{Field: field.Key, Message: "is required"}
			}
			continue
		}

		switch field.Kind {
		case ParamNumber, ParamInt:
			f, ok := toFloat(value)
			if !ok {
				return nil, &ValidationError{Field: field.Key, Message: "must be a number"}
			}
			if field.Kind == ParamInt && f != math.Trunc(f) {
				return nil, &ValidationError{Field: field.Key, Message: "must be a whole number"}
			}
			if field.Min != nil && f < *field.Min {
				return nil, &ValidationError{Field: field.Key, Message: fmt.Sprintf("must be at least %g", *field.Min)}
			}
			if field.Max != nil && f > *field.Max {
				return nil, &ValidationError{Field: field.Key, Message: fmt.Sprintf("must be at most %g", *field.Max)}
			}
			out[field.Key] = f
		case ParamEnum:
			s, ok := value.(string)
			if !ok {
				return nil, &ValidationError{Field: field.Key, Message: "must be a string"}
			}
			canonical, ok := matchOption(field.Options, s)
			if !ok {
				return nil, &ValidationError{Field: field.Key, Message: fmt.Sprintf("has invalid value %q", s)}
			}
			out[field.Key] = canonical
		default:
			return nil, &ValidationError{Field: field.Key, Message: fmt.Sprintf("has unsupported kind %q", field.Kind)}
		}
	}
	for key := range raw {
		if _, ok := known[key]; !ok {
			return nil, &ValidationError{Field: key, Message: "is not accepted"}
		}
	}
	return out, nil
}

func toFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	default:
		return 0, false
	}
}

func matchOption(options []string, value string) (string, bool) {
	value = strings.TrimSpace(value)
	for _, option := range options {
		if strings.EqualFold(option, value) {
			return option, true
		}
	}
	return "", false
}

func isEmpty(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	default:
		return false
	}
}
