package funcs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/telemetry"
)

// FuncBinding pairs a function with concrete arguments. Bindings are memoized: a given
// (func, backend, args) triple exists at most once per visibility.
type FuncBinding struct {
	dal.Standard
	FuncID      string          `json:"func_id"`
	BackendKind BackendKind     `json:"backend_kind"`
	Args        json.RawMessage `json:"args"`
}

var bindingTable = dal.Table[FuncBinding]{
	Name:    "func_bindings",
	Kind:    "func_binding",
	Columns: []string{"func_id", "backend_kind", "args"},
	Std:     func(b *FuncBinding) *dal.Standard { return &b.Standard },
	Values: func(b *FuncBinding) []any {
		return []any{b.FuncID, string(b.BackendKind), string(b.Args)}
	},
	Dest: func(b *FuncBinding) []any {
		return []any{&b.FuncID, &b.BackendKind, (*dal.JSONText)(&b.Args)}
	},
}

// CanonicalArgs normalizes args so equal documents compare equal byte for byte. Object
// keys are sorted and whitespace is dropped.
func CanonicalArgs(args any) (json.RawMessage, error) {
	var raw []byte
	switch v := args.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal binding args: %w", err)
		}
		raw = b
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return json.RawMessage("null"), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid binding args: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal binding args: %w", err)
	}
	return out, nil
}

// FindOrCreateBinding returns the binding of funcID to args, creating it when none is
// visible. created reports whether the binding is new and so has never been executed.
func FindOrCreateBinding(dc *dal.Context, args any, funcID string, kind BackendKind) (*FuncBinding, bool, error) {
	canonical, err := CanonicalArgs(args)
	if err != nil {
		return nil, false, engine.NewPermanentError("invalid binding args", err).WithCode(engine.ErrCodeValidation)
	}

	existing, err := bindingTable.List(dc,
		"m.func_id = ? AND m.backend_kind = ? AND m.args = ? ORDER BY m.created_at",
		funcID, string(kind), string(canonical))
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		return existing[0], false, nil
	}

	b := &FuncBinding{
		Standard:    dal.NewStandard(dc),
		FuncID:      funcID,
		BackendKind: kind,
		Args:        canonical,
	}
	if err := bindingTable.Save(dc, b); err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// GetBinding returns the binding with id.
func GetBinding(dc *dal.Context, id string) (*FuncBinding, error) {
	return bindingTable.Get(dc, id)
}

// Func returns the bound function.
func (b *FuncBinding) Func(dc *dal.Context) (*Func, error) {
	return GetFunc(dc, b.FuncID)
}

// Execute runs the binding on its backend and records the result as a new return
// value. Backend failures are returned as ExecutionFailed and nothing is stored.
func (b *FuncBinding) Execute(dc *dal.Context) (*FuncBindingReturnValue, error) {
	fn, err := b.Func(dc)
	if err != nil {
		return nil, err
	}

	tel := dc.Telemetry()
	ctx, span := tel.Tracer.StartBindingSpan(dc, fn.Name, string(b.BackendKind))
	start := time.Now()

	result, err := dc.Executor().Execute(ctx, engine.ExecutionRequest{
		FuncID:      fn.ID,
		FuncName:    fn.Name,
		BackendKind: string(b.BackendKind),
		Handler:     fn.Handler,
		Code:        fn.Code,
		Args:        b.Args,
	})
	if err != nil {
		tel.Metrics.RecordBindingExecution(string(b.BackendKind), "failure", time.Since(start))
		telemetry.EndSpan(span, err)
		dc.Log().WithField("func", fn.Name).WithError(err).Debug("function execution failed")
		return nil, engine.NewExecutionError(fn.Name, err).WithResource(b.ID)
	}
	tel.Metrics.RecordBindingExecution(string(b.BackendKind), "success", time.Since(start))
	telemetry.EndSpan(span, nil)

	rv := &FuncBindingReturnValue{
		Standard:         dal.NewStandard(dc),
		FuncID:           fn.ID,
		FuncBindingID:    b.ID,
		UnprocessedValue: nullJSON(result.UnprocessedValue),
		Value:            nullJSON(result.Value),
		Output:           result.Output,
	}
	if rv.Output == nil {
		rv.Output = []string{}
	}
	if err := returnValueTable.Save(dc, rv); err != nil {
		return nil, err
	}
	return rv, nil
}

// ReturnValue returns the latest recorded result of the binding.
func (b *FuncBinding) ReturnValue(dc *dal.Context) (*FuncBindingReturnValue, error) {
	return FindReturnValueForBinding(dc, b.ID)
}

// FindOrCreateAndExecute finds or creates the binding and returns its result. The
// binding is executed when it is new or has no recorded result yet.
func FindOrCreateAndExecute(dc *dal.Context, args any, funcID string, kind BackendKind) (*FuncBinding, *FuncBindingReturnValue, bool, error) {
	b, created, err := FindOrCreateBinding(dc, args, funcID, kind)
	if err != nil {
		return nil, nil, false, err
	}
	if !created {
		rv, err := b.ReturnValue(dc)
		if err == nil {
			return b, rv, false, nil
		}
		if !engine.IsNotFound(err) {
			return nil, nil, false, err
		}
	}
	rv, err := b.Execute(dc)
	if err != nil {
		return nil, nil, false, err
	}
	return b, rv, created, nil
}
