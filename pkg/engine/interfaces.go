package engine

import (
	"context"
	"encoding/json"
	"time"
)

// FunctionExecutor runs a function on its backend. The engine memoizes bindings, so an
// executor is invoked at most once per distinct (func, args) binding.
type FunctionExecutor interface {
	// Execute runs the function described by req and returns its JSON result.
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// ExecutionRequest describes one function invocation.
type ExecutionRequest struct {
	// FuncID is the id of the function record.
	FuncID string `json:"func_id"`

	// FuncName is the unique function name, e.g. "si:setString".
	FuncName string `json:"func_name"`

	// BackendKind selects the executor backend.
	BackendKind string `json:"backend_kind"`

	// Handler is the entrypoint inside Code (a starlark function, a rego rule or a wasm
	// export). Builtin backends ignore it.
	Handler string `json:"handler,omitempty"`

	// Code is the function source. WASM modules are base64 encoded.
	Code string `json:"code,omitempty"`

	// Args are the binding arguments.
	Args json.RawMessage `json:"args"`
}

// ExecutionResult is the outcome of a successful execution.
type ExecutionResult struct {
	// Value is the processed JSON result. A nil value means "unset".
	Value json.RawMessage `json:"value,omitempty"`

	// UnprocessedValue is the raw value returned by the backend.
	UnprocessedValue json.RawMessage `json:"unprocessed_value,omitempty"`

	// Output holds log lines emitted during execution.
	Output []string `json:"output,omitempty"`

	// Duration is the execution wall time.
	Duration time.Duration `json:"duration"`
}

// ExecutionFailure is a structured error reported by a backend.
type ExecutionFailure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (f *ExecutionFailure) Error() string {
	return f.Kind + ": " + f.Message
}
