package funcs

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"golang.org/x/crypto/blake2b"

	"github.com/Tensibai/si/pkg/engine"
)

// WasmConfig configures the wasm backend.
type WasmConfig struct {
	// Timeout bounds one execution.
	Timeout time.Duration

	// MemoryLimitPages is the maximum memory in 64KB pages. Default is 256 (16MB).
	MemoryLimitPages uint32
}

// WasmBackend runs functions compiled to WebAssembly. A module exports memory, malloc,
// free and the handler. The handler takes (ptr, len) of the JSON args and returns
// (ptr << 32) | len of the JSON result. Modules may import env.log(ptr, len) to emit
// output lines.
type WasmBackend struct {
	runtime wazero.Runtime
	timeout time.Duration

	mu       sync.Mutex
	compiled map[string]wazero.CompiledModule
}

type outputKey struct{}

// NewWasmBackend creates the wazero runtime shared by every wasm execution.
func NewWasmBackend(ctx context.Context, cfg WasmConfig) (*WasmBackend, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = 256
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	_, err := runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, ptr, length uint32) {
			msg, ok := mod.Memory().Read(ptr, length)
			if !ok {
				return
			}
			if out, ok := ctx.Value(outputKey{}).(*[]string); ok {
				*out = append(*out, string(msg))
			}
		}).
		Export("log").
		Instantiate(ctx)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	return &WasmBackend{
		runtime:  runtime,
		timeout:  cfg.Timeout,
		compiled: make(map[string]wazero.CompiledModule),
	}, nil
}

// Execute implements Backend. Code is the base64 encoded module.
func (wb *WasmBackend) Execute(ctx context.Context, req engine.ExecutionRequest) (*engine.ExecutionResult, error) {
	if req.Handler == "" {
		return nil, &engine.ExecutionFailure{Kind: "WasmError", Message: "wasm functions require a handler export"}
	}

	compiled, err := wb.compile(ctx, req.Code)
	if err != nil {
		return nil, err
	}

	var output []string
	ctx = context.WithValue(ctx, outputKey{}, &output)
	ctx, cancel := context.WithTimeout(ctx, wb.timeout)
	defer cancel()

	module, err := wb.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, &engine.ExecutionFailure{Kind: "WasmError", Message: fmt.Sprintf("failed to instantiate module: %v", err)}
	}
	defer module.Close(context.Background())

	b, err := newWasmBridge(module, req.Handler)
	if err != nil {
		return nil, &engine.ExecutionFailure{Kind: "WasmError", Message: err.Error()}
	}

	value, err := b.call(ctx, req.Args)
	if err != nil {
		return nil, &engine.ExecutionFailure{Kind: "WasmError", Message: err.Error()}
	}
	return &engine.ExecutionResult{
		Value:            value,
		UnprocessedValue: value,
		Output:           output,
	}, nil
}

func (wb *WasmBackend) compile(ctx context.Context, code string) (wazero.CompiledModule, error) {
	sum := blake2b.Sum256([]byte(code))
	key := hex.EncodeToString(sum[:])

	wb.mu.Lock()
	defer wb.mu.Unlock()
	if cm, ok := wb.compiled[key]; ok {
		return cm, nil
	}

	bin, err := base64.StdEncoding.DecodeString(code)
	if err != nil {
		return nil, &engine.ExecutionFailure{Kind: "WasmError", Message: fmt.Sprintf("module is not base64: %v", err)}
	}
	cm, err := wb.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, &engine.ExecutionFailure{Kind: "WasmError", Message: fmt.Sprintf("failed to compile module: %v", err)}
	}
	wb.compiled[key] = cm
	return cm, nil
}

// Close releases the runtime and every compiled module.
func (wb *WasmBackend) Close(ctx context.Context) error {
	return wb.runtime.Close(ctx)
}

// wasmBridge moves JSON between Go and one module instance.
type wasmBridge struct {
	memory  api.Memory
	malloc  api.Function
	free    api.Function
	handler api.Function
}

func newWasmBridge(module api.Module, handler string) (*wasmBridge, error) {
	b := &wasmBridge{memory: module.Memory()}
	if b.memory == nil {
		return nil, fmt.Errorf("WASM module does not export memory")
	}
	if b.malloc = module.ExportedFunction("malloc"); b.malloc == nil {
		return nil, fmt.Errorf("WASM module does not export malloc function")
	}
	if b.free = module.ExportedFunction("free"); b.free == nil {
		return nil, fmt.Errorf("WASM module does not export free function")
	}
	if b.handler = module.ExportedFunction(handler); b.handler == nil {
		return nil, fmt.Errorf("WASM module does not export %s function", handler)
	}
	return b, nil
}

// call writes input into module memory, calls the handler and reads its output.
func (b *wasmBridge) call(ctx context.Context, input []byte) ([]byte, error) {
	var inputPtr, inputLen uint32
	if len(input) > 0 {
		ptr, err := b.allocate(ctx, uint32(len(input)))
		if err != nil {
			return nil, fmt.Errorf("failed to allocate WASM memory: %w", err)
		}
		defer b.deallocate(ctx, ptr)

		inputPtr = ptr
		inputLen = uint32(len(input))
		if !b.memory.Write(inputPtr, input) {
			return nil, fmt.Errorf("failed to write input to WASM memory")
		}
	}

	results, err := b.handler.Call(ctx, uint64(inputPtr), uint64(inputLen))
	if err != nil {
		return nil, fmt.Errorf("WASM function call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("WASM function returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)
	if outputLen == 0 {
		return []byte("null"), nil
	}

	view, ok := b.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}
	output := append([]byte(nil), view...)
	if outputPtr != inputPtr {
		_ = b.deallocate(ctx, outputPtr)
	}
	return output, nil
}

func (b *wasmBridge) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := b.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("malloc returned no results")
	}
	return uint32(results[0]), nil
}

func (b *wasmBridge) deallocate(ctx context.Context, ptr uint32) error {
	_, err := b.free.Call(ctx, uint64(ptr))
	return err
}
