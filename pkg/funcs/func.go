// Package funcs holds functions, their memoized bindings and return values, and the
// dispatcher that executes bindings on a backend (builtin, starlark, rego or wasm).
package funcs

import (
	"github.com/Tensibai/si/pkg/dal"
)

// BackendKind selects how a function is executed.
type BackendKind string

const (
	BackendString              BackendKind = "string"
	BackendInteger             BackendKind = "integer"
	BackendBoolean             BackendKind = "boolean"
	BackendArray               BackendKind = "array"
	BackendMap                 BackendKind = "map"
	BackendPropObject          BackendKind = "prop_object"
	BackendUnset               BackendKind = "unset"
	BackendValidateStringValue BackendKind = "validate_string_value"
	BackendGenerateYAML        BackendKind = "generate_yaml"
	BackendGenerateJSON        BackendKind = "generate_json"
	BackendStarlark            BackendKind = "starlark"
	BackendRego                BackendKind = "rego"
	BackendWasm                BackendKind = "wasm"
)

// Builtin reports whether the backend runs in-process without user code.
func (k BackendKind) Builtin() bool {
	switch k {
	case BackendStarlark, BackendRego, BackendWasm:
		return false
	}
	return true
}

// ResponseType describes the shape of a function's result.
type ResponseType string

const (
	ResponseString         ResponseType = "string"
	ResponseInteger        ResponseType = "integer"
	ResponseBoolean        ResponseType = "boolean"
	ResponseArray          ResponseType = "array"
	ResponseMap            ResponseType = "map"
	ResponsePropObject     ResponseType = "prop_object"
	ResponseUnset          ResponseType = "unset"
	ResponseValidation     ResponseType = "validation"
	ResponseQualification  ResponseType = "qualification"
	ResponseCodeGeneration ResponseType = "code_generation"
)

// Func is a named function. Builtins are stored under the universal tenancy.
type Func struct {
	dal.Standard
	Name         string       `json:"name"`
	BackendKind  BackendKind  `json:"backend_kind"`
	ResponseType ResponseType `json:"backend_response_type"`
	Handler      string       `json:"handler,omitempty"`
	Code         string       `json:"code,omitempty"`
	Description  string       `json:"description,omitempty"`
}

var funcTable = dal.Table[Func]{
	Name:    "funcs",
	Kind:    "func",
	Columns: []string{"name", "backend_kind", "backend_response_type", "handler", "code", "description"},
	Std:     func(f *Func) *dal.Standard { return &f.Standard },
	Values: func(f *Func) []any {
		return []any{f.Name, string(f.BackendKind), string(f.ResponseType), f.Handler, f.Code, f.Description}
	},
	Dest: func(f *Func) []any {
		return []any{&f.Name, &f.BackendKind, &f.ResponseType, &f.Handler, &f.Code, &f.Description}
	},
}

// NewFunc creates a function in dc's tenancy and visibility.
func NewFunc(dc *dal.Context, name string, kind BackendKind, response ResponseType) (*Func, error) {
	f := &Func{
		Standard:     dal.NewStandard(dc),
		Name:         name,
		BackendKind:  kind,
		ResponseType: response,
	}
	if err := funcTable.Save(dc, f); err != nil {
		return nil, err
	}
	return f, nil
}

// Save persists changes to the function.
func (f *Func) Save(dc *dal.Context) error {
	return funcTable.Save(dc, f)
}

// SetCode sets the handler entrypoint and source of a sandboxed function.
func (f *Func) SetCode(dc *dal.Context, handler, code string) error {
	f.Handler = handler
	f.Code = code
	return f.Save(dc)
}

// GetFunc returns the function with id.
func GetFunc(dc *dal.Context, id string) (*Func, error) {
	return funcTable.Get(dc, id)
}

// FindByName returns the visible function named name.
func FindByName(dc *dal.Context, name string) (*Func, error) {
	return funcTable.Find(dc, "m.name = ? ORDER BY m.created_at", name)
}

// ListFuncs returns every visible function ordered by name.
func ListFuncs(dc *dal.Context) ([]*Func, error) {
	return funcTable.List(dc, "ORDER BY m.name")
}
