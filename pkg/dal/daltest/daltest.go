// Package daltest builds an isolated engine for tests: an in-memory sqlite store with
// migrations applied, an in-memory bus, a function dispatcher, a workspace tenancy,
// the builtin functions and the "production" system.
package daltest

import (
	"bytes"
	"context"
	"testing"

	"github.com/Tensibai/si/pkg/bus"
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/edge"
	"github.com/Tensibai/si/pkg/funcs"
	"github.com/Tensibai/si/pkg/stores"
	"github.com/Tensibai/si/pkg/telemetry"
	"github.com/Tensibai/si/pkg/tenancy"
)

// Fixture is one test's engine.
type Fixture struct {
	Services   *dal.Services
	Store      *stores.Store
	Bus        *bus.Memory
	Dispatcher *funcs.Dispatcher
	Telemetry  *telemetry.Telemetry
	Logs       *bytes.Buffer

	Tenancy tenancy.WriteTenancy
	System  *edge.System
}

// New builds a fixture and registers its cleanup on t.
func New(t testing.TB) *Fixture {
	t.Helper()
	ctx := context.Background()

	store, err := stores.Open(ctx, stores.Config{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logs := &bytes.Buffer{}
	tel := telemetry.NewNop()
	tel.Logger = telemetry.NewWriterLogger(logs, "debug")

	dispatcher, err := funcs.NewDispatcher(ctx, funcs.Config{}, tel.Logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })

	f := &Fixture{
		Store:      store,
		Bus:        bus.NewMemory(),
		Dispatcher: dispatcher,
		Telemetry:  tel,
		Logs:       logs,
	}
	f.Services = &dal.Services{
		Store:     store,
		Bus:       f.Bus,
		Executor:  dispatcher,
		Telemetry: tel,
	}

	f.Tenancy, err = f.Services.CreateWorkspace(ctx, "ba-test", "org-test", "ws-test", "test")
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}

	dc := f.Begin(t, tenancy.Head())
	if err := funcs.SeedBuiltins(dc); err != nil {
		t.Fatalf("failed to seed builtins: %v", err)
	}
	f.System, _, err = edge.NewSystem(dc, edge.ProductionSystem, "")
	if err != nil {
		t.Fatalf("failed to create production system: %v", err)
	}
	f.Commit(t, dc)
	f.Bus.Reset()

	return f
}

// Begin opens a unit of work in the fixture's workspace.
func (f *Fixture) Begin(t testing.TB, v tenancy.Visibility) *dal.Context {
	t.Helper()
	dc, err := f.Services.Begin(context.Background(), f.Tenancy, v)
	if err != nil {
		t.Fatalf("failed to begin: %v", err)
	}
	return dc
}

// Head opens a unit of work at head.
func (f *Fixture) Head(t testing.TB) *dal.Context {
	t.Helper()
	return f.Begin(t, tenancy.Head())
}

// Commit commits dc, failing the test on error.
func (f *Fixture) Commit(t testing.TB, dc *dal.Context) {
	t.Helper()
	if err := dc.Commit(); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
}

// ChangeSet creates an open change set at head and returns it.
func (f *Fixture) ChangeSet(t testing.TB, name string) *dal.ChangeSet {
	t.Helper()
	dc := f.Head(t)
	cs, err := dal.NewChangeSet(dc, name, "")
	if err != nil {
		dc.Rollback()
		t.Fatalf("failed to create change set: %v", err)
	}
	f.Commit(t, dc)
	return cs
}

// Func returns the visible function named name.
func (f *Fixture) Func(t testing.TB, dc *dal.Context, name string) *funcs.Func {
	t.Helper()
	fn, err := funcs.FindByName(dc, name)
	if err != nil {
		t.Fatalf("func %s not found: %v", name, err)
	}
	return fn
}
