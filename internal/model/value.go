package model

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueKind discriminates the variants of Value
type ValueKind string

const (
	ValueLiteral   ValueKind = "literal"
	ValueParameter ValueKind = "parameter"
	ValueOutput    ValueKind = "output"
	ValueJoin      ValueKind = "join"
	ValueJsonGet   ValueKind = "jsonGet"
)

// Value is an argument, input source or output destination of a step.
// Output references and JSON lookups are placeholders: they are only
// resolved by an engine once the producing step has run.
type Value struct {
	Kind      ValueKind        `yaml:"kind" json:"kind"`
	Literal   any              `yaml:"literal,omitempty" json:"literal,omitempty"`
	Parameter string           `yaml:"parameter,omitempty" json:"parameter,omitempty"`
	Output    *OutputReference `yaml:"output,omitempty" json:"output,omitempty"`
	Join      *Join            `yaml:"join,omitempty" json:"join,omitempty"`
	JsonGet   *JsonGet         `yaml:"jsonGet,omitempty" json:"jsonGet,omitempty"`
}

// OutputReference points at a named output of an earlier step
type OutputReference struct {
	Step     string `yaml:"step" json:"step"`
	Output   string `yaml:"output" json:"output"`
	JSONPath string `yaml:"jsonPath,omitempty" json:"jsonPath,omitempty"`
}

func (r OutputReference) String() string {
	s := r.Step + "." + r.Output
	if r.JSONPath != "" {
		s += "#" + r.JSONPath
	}
	return s
}

// Join concatenates resolved values with a separator
type Join struct {
	On     string  `yaml:"on" json:"on"`
	Values []Value `yaml:"values" json:"values"`
}

// JsonGet reads one value out of a property file declared by a step
type JsonGet struct {
	Step         string `yaml:"step" json:"step"`
	PropertyFile string `yaml:"propertyFile" json:"propertyFile"`
	Path         string `yaml:"path" json:"path"`
}

// Lit wraps a literal string or number
func Lit(v any) Value {
	return Value{Kind: ValueLiteral, Literal: v}
}

// Param references a declared pipeline parameter
func Param(name string) Value {
	return Value{Kind: ValueParameter, Parameter: name}
}

// Ref references the output of an earlier step
func Ref(step, output string) Value {
	return Value{Kind: ValueOutput, Output: &OutputReference{Step: step, Output: output}}
}

// JoinOn builds a Join value
func JoinOn(sep string, values ...Value) Value {
	return Value{Kind: ValueJoin, Join: &Join{On: sep, Values: values}}
}

// JsonGetOf builds a lookup into a property file
func JsonGetOf(step, propertyFile, path string) Value {
	return Value{Kind: ValueJsonGet, JsonGet: &JsonGet{Step: step, PropertyFile: propertyFile, Path: path}}
}

// References returns every step this value depends on, in order of appearance
func (v Value) References() []OutputReference {
	switch v.Kind {
	case ValueOutput:
		if v.Output == nil {
			return nil
		}
		return []OutputReference{*v.Output}
	case ValueJsonGet:
		if v.JsonGet == nil {
			return nil
		}
		return []OutputReference{{Step: v.JsonGet.Step, Output: v.JsonGet.PropertyFile, JSONPath: v.JsonGet.Path}}
	case ValueJoin:
		if v.Join == nil {
			return nil
		}
		var refs []OutputReference
		for _, inner := range v.Join.Values {
			refs = append(refs, inner.References()...)
		}
		return refs
	}
	return nil
}

// Parameters returns every parameter name this value reads
func (v Value) Parameters() []string {
	switch v.Kind {
	case ValueParameter:
		return []string{v.Parameter}
	case ValueJoin:
		if v.Join == nil {
			return nil
		}
		var names []string
		for _, inner := range v.Join.Values {
			names = append(names, inner.Parameters()...)
		}
		return names
	}
	return nil
}

// Float returns the literal as a float64 when it is numeric
func (v Value) Float() (float64, bool) {
	if v.Kind != ValueLiteral {
		return 0, false
	}
	switch n := v.Literal.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// String renders the value for humans, leaving placeholders unresolved
func (v Value) String() string {
	switch v.Kind {
	case ValueLiteral:
		return FormatLiteral(v.Literal)
	case ValueParameter:
		return "${" + v.Parameter + "}"
	case ValueOutput:
		return "<" + v.Output.String() + ">"
	case ValueJoin:
		parts := make([]string, len(v.Join.Values))
		for i, inner := range v.Join.Values {
			parts[i] = inner.String()
		}
		return strings.Join(parts, v.Join.On)
	case ValueJsonGet:
		return fmt.Sprintf("<%s.%s#%s>", v.JsonGet.Step, v.JsonGet.PropertyFile, v.JsonGet.Path)
	}
	return ""
}

// FormatLiteral prints a literal the way it is passed on a job command line
func FormatLiteral(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return n
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	}
	return fmt.Sprint(v)
}
