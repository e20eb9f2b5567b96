package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// ParameterType is the value type a connector parameter accepts.
type ParameterType string

const (
	ParameterTypeString     ParameterType = "string"
	ParameterTypeNumber     ParameterType = "number"
	ParameterTypeBoolean    ParameterType = "boolean"
	ParameterTypeStringList ParameterType = "string_list"
	ParameterTypeObject     ParameterType = "object"
)

// Parameter declares one connector parameter.
type Parameter struct {
	Name     string        `yaml:"name" json:"name"`
	Message  string        `yaml:"message" json:"message"`
	Type     ParameterType `yaml:"type" json:"type"`
	Required bool          `yaml:"required" json:"required"`
	Default  interface{}   `yaml:"default,omitempty" json:"default,omitempty"`
	Secret   bool          `yaml:"secret,omitempty" json:"secret,omitempty"`
	Options  []string      `yaml:"options,omitempty" json:"options,omitempty"`
}

// ParameterSchema is the ordered set of parameters a connector accepts for
// one of its configuration objects.
type ParameterSchema []Parameter

// Values holds parameter values keyed by parameter name.
type Values map[string]interface{}

// Lookup finds a declared parameter by name.
func (s ParameterSchema) Lookup(name string) (Parameter, bool) {
	for _, p := range s {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Validate rejects unknown keys, values of the wrong type, option values
// outside the declared set and missing required parameters. The returned
// error is a configuration error so callers can re-prompt.
func (s ParameterSchema) Validate(values Values) error {
	var problems []string

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		p, ok := s.Lookup(k)
		if !ok {
			problems = append(problems, fmt.Sprintf("unknown parameter %q", k))
			continue
		}
		if err := p.check(values[k]); err != nil {
			problems = append(problems, err.Error())
		}
	}

	for _, p := range s.Missing(values) {
		problems = append(problems, fmt.Sprintf("missing required parameter %q", p.Name))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.ErrorTypeConfig, strings.Join(problems, "; ")).
		WithDetail("problems", problems)
}

// Missing returns required parameters that have neither a value nor a default.
func (s ParameterSchema) Missing(values Values) []Parameter {
	var missing []Parameter
	for _, p := range s {
		if !p.Required || p.Default != nil {
			continue
		}
		if v, ok := values[p.Name]; !ok || isEmpty(v) {
			missing = append(missing, p)
		}
	}
	return missing
}

// ApplyDefaults returns a copy of values with declared defaults filled in.
func (s ParameterSchema) ApplyDefaults(values Values) Values {
	out := make(Values, len(values))
	for k, v := range values {
		out[k] = v
	}
	for _, p := range s {
		if _, ok := out[p.Name]; !ok && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}

func (p Parameter) check(v interface{}) error {
	if v == nil {
		return nil
	}
	switch p.Type {
	case ParameterTypeString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("parameter %q must be a string", p.Name)
		}
		if len(p.Options) > 0 && !contains(p.Options, s) {
			return fmt.Errorf("parameter %q must be one of %s", p.Name, strings.Join(p.Options, ", "))
		}
	case ParameterTypeNumber:
		if _, ok := toFloat(v); !ok {
			return fmt.Errorf("parameter %q must be a number", p.Name)
		}
	case ParameterTypeBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean", p.Name)
		}
	case ParameterTypeStringList:
		if _, ok := toStrings(v); !ok {
			return fmt.Errorf("parameter %q must be a list of strings", p.Name)
		}
	case ParameterTypeObject:
		switch v.(type) {
		case map[string]interface{}, Values:
		default:
			return fmt.Errorf("parameter %q must be an object", p.Name)
		}
	default:
		return fmt.Errorf("parameter %q has unsupported type %q", p.Name, p.Type)
	}
	return nil
}

// GetString returns the string value of key or "".
func (v Values) GetString(key string) string {
	s, _ := v[key].(string)
	return s
}

// GetStrings returns a string list value. A single string is treated as a one element list.
func (v Values) GetStrings(key string) []string {
	if s, ok := v[key].(string); ok {
		if s == "" {
			return nil
		}
		return []string{s}
	}
	out, _ := toStrings(v[key])
	return out
}

// GetBool returns the boolean value of key or false.
func (v Values) GetBool(key string) bool {
	b, _ := v[key].(bool)
	return b
}

// GetFloat returns the numeric value of key and whether it was set.
func (v Values) GetFloat(key string) (float64, bool) {
	return toFloat(v[key])
}

// Clone returns a shallow copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toStrings(v interface{}) ([]string, bool) {
	switch l := v.(type) {
	case []string:
		return l, true
	case []interface{}:
		out := make([]string, 0, len(l))
		for _, item := range l {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []string:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	default:
		return false
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
