package stores

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/tenancy"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(context.Background(), Config{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func beginTx(t *testing.T, s *Store) *Tx {
	t.Helper()
	tx, err := s.BeginTx(context.Background())
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	t.Cleanup(func() { _ = tx.Rollback() })
	return tx
}

var systemColumns = append(append([]string{}, StandardColumns...), "name", "description")

func saveSystem(t *testing.T, tx *Tx, id, key string, v tenancy.Visibility, name string) {
	t.Helper()
	now := FormatTime(time.Now())
	err := Upsert(context.Background(), tx, "systems", systemColumns, []any{
		id, key, string(v.ChangeSetPK), string(v.EditSessionPK), boolInt(v.Deleted), now, now, name, "",
	})
	if err != nil {
		t.Fatalf("failed to save system: %v", err)
	}
}

func visibleNames(t *testing.T, tx *Tx, scope Scope) map[string]string {
	t.Helper()
	from, args := scope.From("systems")
	rows, err := tx.QueryContext(context.Background(), "SELECT m.id, m.name FROM "+from+" ORDER BY m.id", args...)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		out[id] = name
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows failed: %v", err)
	}
	return out
}

func TestStoreLifecycle(t *testing.T) {
	store, err := New(Config{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewRejectsUnknownDriver(t *testing.T) {
	if _, err := New(Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tables := append([]string{"billing_accounts", "organizations", "workspaces", "change_sets", "edit_sessions"}, ModelTables...)
	for _, table := range tables {
		var count int
		if err := store.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}

	// Running migrations twice is a no-op.
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestRebind(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "SELECT 1", want: "SELECT 1"},
		{in: "a = ? AND b = ?", want: "a = $1 AND b = $2"},
		{in: "a = '?' AND b = ?", want: "a = '?' AND b = $1"},
		{in: "x <> '' AND y = ?", want: "x <> '' AND y = $1"},
	}
	for _, tt := range tests {
		if got := Rebind(tt.in); got != tt.want {
			t.Errorf("Rebind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestScopeCopyOnWrite(t *testing.T) {
	store := setupTestStore(t)
	tx := beginTx(t, store)

	ws := tenancy.NewWorkspace("w1").Key()
	head := tenancy.Head()
	cs := tenancy.NewChangeSet("cs1")
	es := tenancy.NewEditSession("cs1", "es1")

	saveSystem(t, tx, "s1", ws, head, "production")
	saveSystem(t, tx, "s2", ws, head, "staging")
	saveSystem(t, tx, "s1", ws, cs, "production-draft")
	saveSystem(t, tx, "s2", ws, es, "staging-session")
	saveSystem(t, tx, "s3", "workspace:other", head, "foreign")

	keys := []string{tenancy.KeyUniversal, ws}

	tests := []struct {
		name string
		vis  tenancy.Visibility
		want map[string]string
	}{
		{name: "head", vis: head, want: map[string]string{"s1": "production", "s2": "staging"}},
		{name: "change set", vis: cs, want: map[string]string{"s1": "production-draft", "s2": "staging"}},
		{name: "edit session", vis: es, want: map[string]string{"s1": "production-draft", "s2": "staging-session"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := visibleNames(t, tx, Scope{TenancyKeys: keys, Visibility: tt.vis})
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for id, name := range tt.want {
				if got[id] != name {
					t.Errorf("%s = %q, want %q", id, got[id], name)
				}
			}
		})
	}
}

func TestScopeSoftDelete(t *testing.T) {
	store := setupTestStore(t)
	tx := beginTx(t, store)

	ws := tenancy.NewWorkspace("w1").Key()
	cs := tenancy.NewChangeSet("cs1")

	saveSystem(t, tx, "s1", ws, tenancy.Head(), "production")
	saveSystem(t, tx, "s1", ws, cs.ToDeleted(), "production")

	keys := []string{ws}
	if got := visibleNames(t, tx, Scope{TenancyKeys: keys, Visibility: cs}); len(got) != 0 {
		t.Errorf("deleted draft must hide the head row, got %v", got)
	}
	if got := visibleNames(t, tx, Scope{TenancyKeys: keys, Visibility: cs.ToDeleted()}); len(got) != 1 {
		t.Errorf("deleted reader must see the draft, got %v", got)
	}
	if got := visibleNames(t, tx, Scope{TenancyKeys: keys, Visibility: tenancy.Head()}); len(got) != 1 {
		t.Errorf("head must be untouched, got %v", got)
	}
}

func TestScopeEmptyTenancy(t *testing.T) {
	store := setupTestStore(t)
	tx := beginTx(t, store)

	saveSystem(t, tx, "s1", tenancy.KeyUniversal, tenancy.Head(), "production")
	if got := visibleNames(t, tx, Scope{}); len(got) != 0 {
		t.Errorf("empty tenancy must see nothing, got %v", got)
	}
}

func TestPromoteChangeSet(t *testing.T) {
	store := setupTestStore(t)
	tx := beginTx(t, store)
	ctx := context.Background()

	ws := tenancy.NewWorkspace("w1").Key()
	cs := tenancy.NewChangeSet("cs1")
	es := tenancy.NewEditSession("cs1", "es1")

	saveSystem(t, tx, "s1", ws, tenancy.Head(), "production")
	saveSystem(t, tx, "s1", ws, cs, "production-v2")
	saveSystem(t, tx, "s2", ws, es, "new-in-session")

	if _, err := PromoteEditSession(ctx, tx, "cs1", "es1"); err != nil {
		t.Fatalf("PromoteEditSession failed: %v", err)
	}
	got := visibleNames(t, tx, Scope{TenancyKeys: []string{ws}, Visibility: cs})
	if got["s2"] != "new-in-session" {
		t.Fatalf("edit session row not promoted: %v", got)
	}

	n, err := PromoteChangeSet(ctx, tx, "cs1")
	if err != nil {
		t.Fatalf("PromoteChangeSet failed: %v", err)
	}
	if n != 2 {
		t.Errorf("promoted %d rows, want 2", n)
	}

	got = visibleNames(t, tx, Scope{TenancyKeys: []string{ws}, Visibility: tenancy.Head()})
	if got["s1"] != "production-v2" || got["s2"] != "new-in-session" {
		t.Errorf("unexpected head after promotion: %v", got)
	}

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM systems WHERE visibility_change_set_pk <> ''").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no change set rows left, got %d", count)
	}
}

func TestDirectory(t *testing.T) {
	store := setupTestStore(t)
	tx := beginTx(t, store)
	ctx := context.Background()

	dir := NewDirectory(tx)
	if err := dir.CreateBillingAccount(ctx, "b1", "acme"); err != nil {
		t.Fatalf("CreateBillingAccount failed: %v", err)
	}
	if err := dir.CreateOrganization(ctx, "o1", "b1", "acme-org"); err != nil {
		t.Fatalf("CreateOrganization failed: %v", err)
	}
	if err := dir.CreateWorkspace(ctx, "w1", "o1", "default"); err != nil {
		t.Fatalf("CreateWorkspace failed: %v", err)
	}

	rt, err := tenancy.Expand(ctx, dir, tenancy.NewWorkspace("w1"))
	if err != nil {
		t.Fatalf("Expand failed: %v", err)
	}
	if !rt.Admits(tenancy.NewBillingAccount("b1")) {
		t.Errorf("expected billing account in read tenancy, got %v", rt.Keys())
	}

	_, err = dir.OrganizationForWorkspace(ctx, "missing")
	if !engine.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestChangeSetRows(t *testing.T) {
	store := setupTestStore(t)
	tx := beginTx(t, store)
	ctx := context.Background()

	now := time.Now()
	if err := InsertChangeSet(ctx, tx, &ChangeSetRow{
		PK: "cs1", Name: "draft", Status: ChangeSetStatusOpen, TenancyKey: "workspace:w1",
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("InsertChangeSet failed: %v", err)
	}

	open, err := ListOpenChangeSets(ctx, tx, "workspace:w1")
	if err != nil {
		t.Fatalf("ListOpenChangeSets failed: %v", err)
	}
	if len(open) != 1 || open[0].Name != "draft" {
		t.Fatalf("unexpected open change sets: %+v", open)
	}

	if err := UpdateChangeSetStatus(ctx, tx, "cs1", ChangeSetStatusApplied); err != nil {
		t.Fatalf("UpdateChangeSetStatus failed: %v", err)
	}
	cs, err := GetChangeSet(ctx, tx, "cs1")
	if err != nil {
		t.Fatalf("GetChangeSet failed: %v", err)
	}
	if cs.Status != ChangeSetStatusApplied {
		t.Errorf("status = %s, want applied", cs.Status)
	}

	if _, err := GetChangeSet(ctx, tx, "missing"); !engine.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestUniqueViolation(t *testing.T) {
	store := setupTestStore(t)
	tx := beginTx(t, store)
	ctx := context.Background()

	dir := NewDirectory(tx)
	if err := dir.CreateBillingAccount(ctx, "b1", "acme"); err != nil {
		t.Fatalf("CreateBillingAccount failed: %v", err)
	}
	err := dir.CreateBillingAccount(ctx, "b1", "acme")
	if !IsUniqueViolation(err) {
		t.Errorf("expected unique violation, got %v", err)
	}
}

// TestPostgresMigrations runs against a live postgres when SI_TEST_PG_DSN is set.
func TestPostgresMigrations(t *testing.T) {
	dsn := os.Getenv("SI_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SI_TEST_PG_DSN not set")
	}

	store, err := Open(context.Background(), Config{Driver: DialectPostgres, DSN: dsn})
	if err != nil {
		t.Fatalf("failed to open postgres store: %v", err)
	}
	defer store.Close()

	tx := beginTx(t, store)
	saveSystem(t, tx, "pg-s1", "workspace:w1", tenancy.Head(), "production")
	got := visibleNames(t, tx, Scope{TenancyKeys: []string{"workspace:w1"}})
	if got["pg-s1"] != "production" {
		t.Errorf("unexpected rows: %v", got)
	}
}
