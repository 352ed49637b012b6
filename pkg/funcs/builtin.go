package funcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Tensibai/si/pkg/engine"
)

// BuiltinBackend executes the functions that ship with the engine. Each backend kind
// maps to one in-process implementation; Code and Handler are ignored.
type BuiltinBackend struct{}

type valueArgs struct {
	Value json.RawMessage `json:"value"`
}

// Execute implements Backend.
func (BuiltinBackend) Execute(_ context.Context, req engine.ExecutionRequest) (*engine.ExecutionResult, error) {
	var (
		out json.RawMessage
		err error
	)
	switch BackendKind(req.BackendKind) {
	case BackendString:
		out, err = setTyped(req.Args, "string", isString)
	case BackendInteger:
		out, err = setTyped(req.Args, "integer", isInteger)
	case BackendBoolean:
		out, err = setTyped(req.Args, "boolean", isBoolean)
	case BackendArray:
		out, err = setTyped(req.Args, "array", isArray)
	case BackendMap, BackendPropObject:
		out, err = setTyped(req.Args, "object", isObject)
	case BackendUnset:
		out = nil
	case BackendValidateStringValue:
		out, err = validateStringValue(req.Args)
	case BackendGenerateYAML:
		out, err = generateCode(req.Args, "yaml")
	case BackendGenerateJSON:
		out, err = generateCode(req.Args, "json")
	default:
		return nil, &engine.ExecutionFailure{Kind: "UnknownBackend", Message: req.BackendKind}
	}
	if err != nil {
		return nil, err
	}
	return &engine.ExecutionResult{Value: out, UnprocessedValue: out}, nil
}

func setTyped(args json.RawMessage, kind string, ok func(json.RawMessage) bool) (json.RawMessage, error) {
	var a valueArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, &engine.ExecutionFailure{Kind: "InvalidArgs", Message: err.Error()}
	}
	if !ok(a.Value) {
		return nil, &engine.ExecutionFailure{
			Kind:    "InvalidArgs",
			Message: fmt.Sprintf("expected %s value, got %s", kind, string(a.Value)),
		}
	}
	return a.Value, nil
}

func firstByte(raw json.RawMessage) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

func isString(raw json.RawMessage) bool { return firstByte(raw) == '"' }
func isArray(raw json.RawMessage) bool  { return firstByte(raw) == '[' }
func isObject(raw json.RawMessage) bool { return firstByte(raw) == '{' }

func isBoolean(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return string(raw) == "true" || string(raw) == "false"
}

func isInteger(raw json.RawMessage) bool {
	c := firstByte(raw)
	if c != '-' && (c < '0' || c > '9') {
		return false
	}
	var i int64
	return json.Unmarshal(raw, &i) == nil
}

type validateStringArgs struct {
	Value    *string `json:"value"`
	Expected string  `json:"expected"`
}

// validateStringValue compares a string prop value with the expected one.
func validateStringValue(args json.RawMessage) (json.RawMessage, error) {
	var a validateStringArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, &engine.ExecutionFailure{Kind: "InvalidArgs", Message: err.Error()}
	}

	errs := []ValidationError{}
	switch {
	case a.Value == nil:
		errs = append(errs, ValidationError{
			Message: "value must be present",
			Level:   "error",
			Kind:    "validateStringValue",
		})
	case *a.Value != a.Expected:
		errs = append(errs, ValidationError{
			Message: fmt.Sprintf("value (%s) does not match expected (%s)", *a.Value, a.Expected),
			Level:   "error",
			Kind:    "validateStringValue",
		})
	}
	return json.Marshal(errs)
}

type codeGenArgs struct {
	Component struct {
		Properties any `json:"properties"`
	} `json:"component"`
}

// generateCode renders the component's properties as YAML or JSON.
func generateCode(args json.RawMessage, format string) (json.RawMessage, error) {
	var a codeGenArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, &engine.ExecutionFailure{Kind: "InvalidArgs", Message: err.Error()}
	}
	props := a.Component.Properties
	if props == nil {
		props = map[string]any{}
	}

	var code []byte
	var err error
	switch format {
	case "yaml":
		code, err = yaml.Marshal(props)
	default:
		code, err = json.MarshalIndent(props, "", "  ")
	}
	if err != nil {
		return nil, &engine.ExecutionFailure{Kind: "CodeGeneration", Message: err.Error()}
	}
	return json.Marshal(CodeGenerated{Format: format, Code: string(code)})
}
