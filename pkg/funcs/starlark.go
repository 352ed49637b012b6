package funcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/Tensibai/si/pkg/engine"
)

// DefaultStarlarkHandler is called when a starlark function names no handler.
const DefaultStarlarkHandler = "main"

// StarlarkBackend runs starlark functions. The source is executed as a module and the
// handler global is called with the binding args as its single argument.
type StarlarkBackend struct {
	timeout time.Duration
}

// NewStarlarkBackend creates a starlark backend with the given execution timeout.
func NewStarlarkBackend(timeout time.Duration) *StarlarkBackend {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkBackend{timeout: timeout}
}

type starlarkOutcome struct {
	result *engine.ExecutionResult
	err    error
}

// Execute implements Backend.
func (sb *StarlarkBackend) Execute(ctx context.Context, req engine.ExecutionRequest) (*engine.ExecutionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, sb.timeout)
	defer cancel()

	thread := &starlark.Thread{Name: req.FuncName}
	var output []string
	thread.Print = func(_ *starlark.Thread, msg string) {
		output = append(output, msg)
	}

	done := make(chan starlarkOutcome, 1)
	go func() {
		res, err := sb.run(thread, req)
		done <- starlarkOutcome{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		thread.Cancel(ctx.Err().Error())
		<-done
		return nil, &engine.ExecutionFailure{Kind: "Timeout", Message: fmt.Sprintf("%s exceeded %s", req.FuncName, sb.timeout)}
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		out.result.Output = output
		return out.result, nil
	}
}

func (sb *StarlarkBackend) run(thread *starlark.Thread, req engine.ExecutionRequest) (*engine.ExecutionResult, error) {
	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
	}

	globals, err := starlark.ExecFile(thread, req.FuncName+".star", req.Code, predeclared)
	if err != nil {
		return nil, &engine.ExecutionFailure{Kind: "StarlarkError", Message: err.Error()}
	}

	handler := req.Handler
	if handler == "" {
		handler = DefaultStarlarkHandler
	}
	fn, ok := globals[handler].(starlark.Callable)
	if !ok {
		return nil, &engine.ExecutionFailure{Kind: "StarlarkError", Message: fmt.Sprintf("handler %q is not a function", handler)}
	}

	input, err := decodeArgs(req.Args)
	if err != nil {
		return nil, err
	}
	arg, err := toStarlarkValue(input)
	if err != nil {
		return nil, &engine.ExecutionFailure{Kind: "InvalidArgs", Message: err.Error()}
	}

	ret, err := starlark.Call(thread, fn, starlark.Tuple{arg}, nil)
	if err != nil {
		return nil, &engine.ExecutionFailure{Kind: "StarlarkError", Message: err.Error()}
	}

	goVal, err := fromStarlarkValue(ret)
	if err != nil {
		return nil, &engine.ExecutionFailure{Kind: "StarlarkError", Message: fmt.Sprintf("failed to convert result: %v", err)}
	}
	value, err := json.Marshal(goVal)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal starlark result: %w", err)
	}
	return &engine.ExecutionResult{Value: value, UnprocessedValue: value}, nil
}

// decodeArgs decodes binding args keeping integers distinct from floats.
func decodeArgs(args json.RawMessage) (any, error) {
	if len(bytes.TrimSpace(args)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &engine.ExecutionFailure{Kind: "InvalidArgs", Message: err.Error()}
	}
	return v, nil
}

// toStarlarkValue converts a decoded JSON value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil && !strings.ContainsAny(val.String(), ".eE") {
			return starlark.MakeInt64(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, err
		}
		return starlark.Float(f), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a JSON-encodable Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case starlark.Tuple:
		list := make([]any, len(val))
		for i, item := range val {
			goItem, err := fromStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = goItem
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any)
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]any)
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
