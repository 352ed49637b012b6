package funcs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/telemetry"
)

// Backend executes functions of one or more backend kinds.
type Backend interface {
	Execute(ctx context.Context, req engine.ExecutionRequest) (*engine.ExecutionResult, error)
}

// Config configures the sandboxed backends.
type Config struct {
	StarlarkTimeout time.Duration `yaml:"starlark_timeout"`
	WasmTimeout     time.Duration `yaml:"wasm_timeout"`
	WasmMemoryPages uint32        `yaml:"wasm_memory_pages"`
	RegoRule        string        `yaml:"rego_rule"`
}

// Dispatcher routes execution requests to the backend registered for their kind. It
// implements engine.FunctionExecutor.
type Dispatcher struct {
	mu       sync.RWMutex
	builtin  Backend
	backends map[BackendKind]Backend
	wasm     *WasmBackend
	logger   *telemetry.Logger
}

var _ engine.FunctionExecutor = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher with the builtin, starlark, rego and wasm backends.
func NewDispatcher(ctx context.Context, cfg Config, logger *telemetry.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	wasm, err := NewWasmBackend(ctx, WasmConfig{Timeout: cfg.WasmTimeout, MemoryLimitPages: cfg.WasmMemoryPages})
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		builtin:  BuiltinBackend{},
		backends: make(map[BackendKind]Backend),
		wasm:     wasm,
		logger:   logger.NewComponentLogger("funcs"),
	}
	d.Register(BackendStarlark, NewStarlarkBackend(cfg.StarlarkTimeout))
	d.Register(BackendRego, NewRegoBackend(cfg.RegoRule))
	d.Register(BackendWasm, wasm)
	return d, nil
}

// Register installs backend for kind, replacing any previous one.
func (d *Dispatcher) Register(kind BackendKind, backend Backend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.backends[kind] = backend
}

// Execute implements engine.FunctionExecutor.
func (d *Dispatcher) Execute(ctx context.Context, req engine.ExecutionRequest) (*engine.ExecutionResult, error) {
	kind := BackendKind(req.BackendKind)

	d.mu.RLock()
	backend, ok := d.backends[kind]
	d.mu.RUnlock()
	if !ok {
		if !kind.Builtin() {
			return nil, fmt.Errorf("no backend registered for %s", kind)
		}
		backend = d.builtin
	}

	start := time.Now()
	result, err := backend.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)

	d.logger.WithFields(map[string]interface{}{
		"func":     req.FuncName,
		"backend":  req.BackendKind,
		"duration": result.Duration.String(),
	}).Trace("function executed")
	return result, nil
}

// Close releases backend resources.
func (d *Dispatcher) Close(ctx context.Context) error {
	return d.wasm.Close(ctx)
}
