package dal

import (
	"context"
	"testing"

	"github.com/Tensibai/si/pkg/bus"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/stores"
	"github.com/Tensibai/si/pkg/telemetry"
	"github.com/Tensibai/si/pkg/tenancy"
)

type stubExecutor struct{}

func (stubExecutor) Execute(context.Context, engine.ExecutionRequest) (*engine.ExecutionResult, error) {
	return &engine.ExecutionResult{}, nil
}

type widget struct {
	Standard
	Name        string `json:"name"`
	Description string `json:"description"`
}

var widgetTable = Table[widget]{
	Name:    "systems",
	Kind:    "widget",
	Columns: []string{"name", "description"},
	Std:     func(w *widget) *Standard { return &w.Standard },
	Values:  func(w *widget) []any { return []any{w.Name, w.Description} },
	Dest:    func(w *widget) []any { return []any{&w.Name, &w.Description} },
}

func setupServices(t *testing.T) (*Services, *bus.Memory, tenancy.WriteTenancy) {
	t.Helper()

	store, err := stores.Open(context.Background(), stores.Config{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mem := bus.NewMemory()
	s := &Services{Store: store, Bus: mem, Executor: stubExecutor{}, Telemetry: telemetry.NewNop()}

	wt, err := s.CreateWorkspace(context.Background(), "ba1", "org1", "ws1", "test")
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	return s, mem, wt
}

func begin(t *testing.T, s *Services, wt tenancy.WriteTenancy, v tenancy.Visibility) *Context {
	t.Helper()
	dc, err := s.Begin(context.Background(), wt, v)
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	return dc
}

func TestBeginExpandsReadTenancy(t *testing.T) {
	s, _, wt := setupServices(t)
	dc := begin(t, s, wt, tenancy.Head())
	defer dc.Rollback()

	keys := dc.ReadTenancy().Keys()
	want := []string{"universal", "billing_account:ba1", "organization:org1", "workspace:ws1"}
	if len(keys) != len(want) {
		t.Fatalf("keys = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %s, want %s", i, keys[i], want[i])
		}
	}
}

func TestBeginRejectsInvalidVisibility(t *testing.T) {
	s, _, wt := setupServices(t)
	if _, err := s.Begin(context.Background(), wt, tenancy.Visibility{EditSessionPK: "es"}); err == nil {
		t.Error("expected error for edit session without change set")
	}
}

func TestServicesValidate(t *testing.T) {
	if err := (&Services{}).Validate(); err == nil {
		t.Error("expected error for empty services")
	}
}

func TestTableSaveAndGet(t *testing.T) {
	s, mem, wt := setupServices(t)
	dc := begin(t, s, wt, tenancy.Head())

	w := &widget{Standard: NewStandard(dc), Name: "production"}
	if err := widgetTable.Save(dc, w); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := widgetTable.Get(dc, w.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "production" || got.Tenancy != wt {
		t.Errorf("unexpected widget: %+v", got)
	}

	if _, err := widgetTable.Get(dc, "missing"); !engine.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}

	if len(mem.Messages()) != 0 {
		t.Fatal("notifications must wait for commit")
	}
	if err := dc.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	msgs := mem.Messages()
	if len(msgs) != 1 || msgs[0].Subject != "si.workspace.ws1" {
		t.Errorf("unexpected notifications: %+v", msgs)
	}
}

func TestRollbackDropsWritesAndNotifications(t *testing.T) {
	s, mem, wt := setupServices(t)
	dc := begin(t, s, wt, tenancy.Head())
	w := &widget{Standard: NewStandard(dc), Name: "gone"}
	if err := widgetTable.Save(dc, w); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := dc.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	dc = begin(t, s, wt, tenancy.Head())
	defer dc.Rollback()
	if _, err := widgetTable.Get(dc, w.ID); !engine.IsNotFound(err) {
		t.Errorf("expected rolled back widget to be missing, got %v", err)
	}
	if len(mem.Messages()) != 0 {
		t.Errorf("expected no notifications, got %d", len(mem.Messages()))
	}
}

func TestCopyOnWriteAndApply(t *testing.T) {
	s, _, wt := setupServices(t)

	dc := begin(t, s, wt, tenancy.Head())
	w := &widget{Standard: NewStandard(dc), Name: "head"}
	if err := widgetTable.Save(dc, w); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	cs, err := NewChangeSet(dc, "draft", "")
	if err != nil {
		t.Fatalf("NewChangeSet failed: %v", err)
	}
	if err := dc.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	dc = begin(t, s, wt, cs.Visibility())
	got, err := widgetTable.Get(dc, w.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	got.Name = "draft"
	if err := widgetTable.Save(dc, got); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	head, err := widgetTable.Get(dc.WithVisibility(tenancy.Head()), w.ID)
	if err != nil {
		t.Fatalf("Get head failed: %v", err)
	}
	if head.Name != "head" {
		t.Errorf("head name = %s, want head", head.Name)
	}

	n, err := cs.Apply(dc)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if n != 1 {
		t.Errorf("promoted %d rows, want 1", n)
	}
	if err := dc.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	dc = begin(t, s, wt, tenancy.Head())
	defer dc.Rollback()
	head, err = widgetTable.Get(dc, w.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if head.Name != "draft" {
		t.Errorf("head name after apply = %s, want draft", head.Name)
	}
	if _, err := cs.Apply(dc); err == nil {
		t.Error("expected error applying an applied change set")
	}
}

func TestSaveRejectsForeignChangeSetRecord(t *testing.T) {
	s, _, wt := setupServices(t)
	dc := begin(t, s, wt, tenancy.Head())
	defer dc.Rollback()

	first, err := NewChangeSet(dc, "first", "")
	if err != nil {
		t.Fatalf("NewChangeSet failed: %v", err)
	}
	second, err := NewChangeSet(dc, "second", "")
	if err != nil {
		t.Fatalf("NewChangeSet failed: %v", err)
	}

	firstCtx := dc.WithVisibility(first.Visibility())
	w := &widget{Standard: NewStandard(firstCtx), Name: "draft"}
	if err := widgetTable.Save(firstCtx, w); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	w.Name = "stolen"
	if err := widgetTable.Save(dc.WithVisibility(second.Visibility()), w); !engine.IsConflict(err) {
		t.Errorf("expected a conflict saving into another change set, got %v", err)
	}
	if err := widgetTable.Delete(dc, w); !engine.IsConflict(err) {
		t.Errorf("expected a conflict deleting a draft record at head, got %v", err)
	}
	if err := widgetTable.Save(firstCtx, w); err != nil {
		t.Errorf("Save in its own change set failed: %v", err)
	}
}

func TestDeleteHidesRecord(t *testing.T) {
	s, _, wt := setupServices(t)
	dc := begin(t, s, wt, tenancy.Head())
	defer dc.Rollback()

	w := &widget{Standard: NewStandard(dc), Name: "doomed"}
	if err := widgetTable.Save(dc, w); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := widgetTable.Delete(dc, w); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := widgetTable.Get(dc, w.ID); !engine.IsNotFound(err) {
		t.Errorf("expected deleted widget to be hidden, got %v", err)
	}
	deleted, err := widgetTable.Get(dc.WithVisibility(tenancy.Head().ToDeleted()), w.ID)
	if err != nil {
		t.Fatalf("Get deleted failed: %v", err)
	}
	if !deleted.Visibility.Deleted {
		t.Error("expected deleted flag")
	}
	if dc.Bus().Pending() != 2 {
		t.Errorf("pending = %d, want 2", dc.Bus().Pending())
	}
}

func TestEditSessionSaveAndCancel(t *testing.T) {
	s, _, wt := setupServices(t)
	dc := begin(t, s, wt, tenancy.Head())
	defer dc.Rollback()

	cs, err := NewChangeSet(dc, "draft", "")
	if err != nil {
		t.Fatalf("NewChangeSet failed: %v", err)
	}
	kept, err := NewEditSession(dc, cs.PK, "kept")
	if err != nil {
		t.Fatalf("NewEditSession failed: %v", err)
	}
	dropped, err := NewEditSession(dc, cs.PK, "dropped")
	if err != nil {
		t.Fatalf("NewEditSession failed: %v", err)
	}

	a := &widget{Standard: NewStandard(dc), Name: "a"}
	if err := widgetTable.Save(dc.WithVisibility(kept.Visibility()), a); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	b := &widget{Standard: NewStandard(dc), Name: "b"}
	if err := widgetTable.Save(dc.WithVisibility(dropped.Visibility()), b); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := kept.Save(dc); err != nil {
		t.Fatalf("Save session failed: %v", err)
	}
	if err := dropped.Cancel(dc); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	csCtx := dc.WithVisibility(cs.Visibility())
	if _, err := widgetTable.Get(csCtx, a.ID); err != nil {
		t.Errorf("saved session record missing from change set: %v", err)
	}
	if _, err := widgetTable.Get(csCtx, b.ID); !engine.IsNotFound(err) {
		t.Errorf("canceled session record visible: %v", err)
	}

	open, err := ListOpenChangeSets(dc)
	if err != nil {
		t.Fatalf("ListOpenChangeSets failed: %v", err)
	}
	if len(open) != 1 || open[0].PK != cs.PK {
		t.Errorf("unexpected open change sets: %+v", open)
	}
}

func TestUniversalWrites(t *testing.T) {
	s, _, wt := setupServices(t)
	dc := begin(t, s, wt, tenancy.Head())
	defer dc.Rollback()

	u := dc.Universal()
	w := &widget{Standard: NewStandard(u), Name: "builtin"}
	if err := widgetTable.Save(u, w); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := widgetTable.Get(dc, w.ID)
	if err != nil {
		t.Fatalf("workspace reader must see universal rows: %v", err)
	}
	if !got.Tenancy.Universal {
		t.Error("expected universal tenancy")
	}
}
