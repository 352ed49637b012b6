package funcs_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/Tensibai/si/pkg/dal/daltest"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/funcs"
)

// countingBackend counts executions and delegates to the builtins.
type countingBackend struct {
	calls atomic.Int32
}

func (c *countingBackend) Execute(ctx context.Context, req engine.ExecutionRequest) (*engine.ExecutionResult, error) {
	c.calls.Add(1)
	return funcs.BuiltinBackend{}.Execute(ctx, req)
}

func TestSeedBuiltinsIsIdempotent(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	before, err := funcs.ListFuncs(dc)
	if err != nil {
		t.Fatalf("ListFuncs failed: %v", err)
	}
	if len(before) != len(funcs.Builtins) {
		t.Fatalf("expected %d funcs, got %d", len(funcs.Builtins), len(before))
	}

	if err := funcs.SeedBuiltins(dc); err != nil {
		t.Fatalf("SeedBuiltins failed: %v", err)
	}
	after, _ := funcs.ListFuncs(dc)
	if len(after) != len(before) {
		t.Errorf("reseeding created duplicates: %d -> %d", len(before), len(after))
	}

	fn := f.Func(t, dc, funcs.SetString)
	if !fn.Tenancy.Universal {
		t.Error("builtins must be universal")
	}
}

func TestFindOrCreateBindingMemoizes(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	fn := f.Func(t, dc, funcs.ValidateStringValue)

	b1, created, err := funcs.FindOrCreateBinding(dc, json.RawMessage(`{"value": "a", "expected": "b"}`), fn.ID, fn.BackendKind)
	if err != nil {
		t.Fatalf("FindOrCreateBinding failed: %v", err)
	}
	if !created {
		t.Error("first binding must be created")
	}

	b2, created, err := funcs.FindOrCreateBinding(dc, map[string]string{"expected": "b", "value": "a"}, fn.ID, fn.BackendKind)
	if err != nil {
		t.Fatalf("FindOrCreateBinding failed: %v", err)
	}
	if created {
		t.Error("equal args must reuse the binding")
	}
	if b1.ID != b2.ID {
		t.Errorf("binding ids differ: %s != %s", b1.ID, b2.ID)
	}

	_, created, _ = funcs.FindOrCreateBinding(dc, map[string]string{"expected": "c", "value": "a"}, fn.ID, fn.BackendKind)
	if !created {
		t.Error("different args must create a new binding")
	}
}

func TestFindOrCreateAndExecuteRunsOnce(t *testing.T) {
	f := daltest.New(t)
	counter := &countingBackend{}
	f.Dispatcher.Register(funcs.BackendString, counter)

	dc := f.Head(t)
	defer dc.Rollback()
	fn := f.Func(t, dc, funcs.SetString)

	for i := 0; i < 3; i++ {
		_, rv, _, err := funcs.FindOrCreateAndExecute(dc, map[string]string{"value": "nginx"}, fn.ID, fn.BackendKind)
		if err != nil {
			t.Fatalf("FindOrCreateAndExecute failed: %v", err)
		}
		if string(rv.Value) != `"nginx"` {
			t.Errorf("value = %s", rv.Value)
		}
	}
	if got := counter.calls.Load(); got != 1 {
		t.Errorf("executed %d times, want 1", got)
	}
}

func TestExecuteStoresUnsetAsNil(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()
	fn := f.Func(t, dc, funcs.Unset)

	b, _, err := funcs.FindOrCreateBinding(dc, nil, fn.ID, fn.BackendKind)
	if err != nil {
		t.Fatalf("FindOrCreateBinding failed: %v", err)
	}
	rv, err := b.Execute(dc)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !rv.IsUnset() {
		t.Errorf("expected unset, got %s", rv.Value)
	}

	stored, err := funcs.GetReturnValue(dc, rv.ID)
	if err != nil {
		t.Fatalf("GetReturnValue failed: %v", err)
	}
	if !stored.IsUnset() || stored.FuncBindingID != b.ID {
		t.Errorf("unexpected stored return value: %+v", stored)
	}
}

func TestExecuteFailureIsExecutionFailed(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()
	fn := f.Func(t, dc, funcs.SetString)

	b, _, err := funcs.FindOrCreateBinding(dc, map[string]int{"value": 1}, fn.ID, fn.BackendKind)
	if err != nil {
		t.Fatalf("FindOrCreateBinding failed: %v", err)
	}
	_, err = b.Execute(dc)
	if !engine.IsExecutionFailure(err) {
		t.Fatalf("expected execution failure, got %v", err)
	}
	if _, err := b.ReturnValue(dc); !engine.IsNotFound(err) {
		t.Errorf("failed executions must not record a value, got %v", err)
	}
}

func TestSeededSandboxFuncs(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	env := f.Func(t, dc, funcs.GenerateEnv)
	_, rv, _, err := funcs.FindOrCreateAndExecute(dc,
		json.RawMessage(`{"component":{"properties":{"domain":{"port":80,"image":"nginx","tags":[]}}}}`),
		env.ID, env.BackendKind)
	if err != nil {
		t.Fatalf("generateEnv failed: %v", err)
	}
	var code funcs.CodeGenerated
	if err := rv.Decode(&code); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if code.Format != "env" || code.Code != "IMAGE=nginx\nPORT=80" {
		t.Errorf("unexpected code: %+v", code)
	}

	named := f.Func(t, dc, funcs.QualificationNameSet)
	_, rv, _, err = funcs.FindOrCreateAndExecute(dc,
		json.RawMessage(`{"component":{"data":{"properties":{"si":{"name":"web"}}}}}`),
		named.ID, named.BackendKind)
	if err != nil {
		t.Fatalf("qualificationNameSet failed: %v", err)
	}
	var q funcs.QualificationResult
	if err := rv.Decode(&q); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !q.Qualified {
		t.Errorf("expected qualified, got %+v", q)
	}
}
