package dal

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/stores"
	"github.com/Tensibai/si/pkg/tenancy"
)

// Standard is the envelope every model carries.
type Standard struct {
	ID         string               `json:"id"`
	Tenancy    tenancy.WriteTenancy `json:"tenancy"`
	Visibility tenancy.Visibility   `json:"visibility"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
}

// NewStandard returns a fresh envelope for a record created in dc.
func NewStandard(dc *Context) Standard {
	now := time.Now().UTC()
	return Standard{
		ID:         uuid.New().String(),
		Tenancy:    dc.WriteTenancy(),
		Visibility: dc.Visibility(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// NewID returns a new record id.
func NewID() string {
	return uuid.New().String()
}

func (s *Standard) values() []any {
	return []any{
		s.ID,
		s.Tenancy.Key(),
		string(s.Visibility.ChangeSetPK),
		string(s.Visibility.EditSessionPK),
		boolInt(s.Visibility.Deleted),
		stores.FormatTime(s.CreatedAt),
		stores.FormatTime(s.UpdatedAt),
	}
}

// standardScan holds the raw envelope columns of one row.
type standardScan struct {
	tenancyKey string
	cs, es     string
	deleted    bool
	created    string
	updated    string
}

func (sc *standardScan) dest(s *Standard) []any {
	return []any{&s.ID, &sc.tenancyKey, &sc.cs, &sc.es, &sc.deleted, &sc.created, &sc.updated}
}

func (sc *standardScan) finish(s *Standard) error {
	wt, err := tenancy.ParseKey(sc.tenancyKey)
	if err != nil {
		return err
	}
	s.Tenancy = wt
	s.Visibility = tenancy.Visibility{
		ChangeSetPK:   tenancy.ChangeSetPK(sc.cs),
		EditSessionPK: tenancy.EditSessionPK(sc.es),
		Deleted:       sc.deleted,
	}
	if s.CreatedAt, err = stores.ParseTime(sc.created); err != nil {
		return err
	}
	if s.UpdatedAt, err = stores.ParseTime(sc.updated); err != nil {
		return err
	}
	return nil
}

// Table maps a model type onto a standard model table.
type Table[T any] struct {
	Name string
	Kind string

	// Columns are the model columns after the envelope.
	Columns []string
	// Std returns the envelope of a model.
	Std func(*T) *Standard
	// Values returns the column values of a model, in Columns order.
	Values func(*T) []any
	// Dest returns scan destinations for Columns.
	Dest func(*T) []any
}

func (t Table[T]) allColumns() []string {
	return append(append([]string{}, stores.StandardColumns...), t.Columns...)
}

// List returns every visible record matching where. where is appended to the scope
// predicate and may end with ORDER BY; columns are addressed through alias "m".
func (t Table[T]) List(dc *Context, where string, args ...any) ([]*T, error) {
	from, scopeArgs := dc.Scope().From(t.Name)
	query := "SELECT " + stores.Qualify("m", t.allColumns()) + " FROM " + from
	if where = strings.TrimSpace(where); where != "" {
		if strings.HasPrefix(strings.ToUpper(where), "ORDER BY") {
			query += " " + where
		} else {
			query += " AND " + where
		}
	}

	rows, err := dc.Tx().QueryContext(dc, query, append(scopeArgs, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", t.Name, err)
	}
	defer rows.Close()

	var out []*T
	for rows.Next() {
		obj := new(T)
		var sc standardScan
		dest := append(sc.dest(t.Std(obj)), t.Dest(obj)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", t.Name, err)
		}
		if err := sc.finish(t.Std(obj)); err != nil {
			return nil, fmt.Errorf("failed to decode %s envelope: %w", t.Name, err)
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", t.Name, err)
	}
	return out, nil
}

// Find returns the first visible record matching where, or a NotFound error.
func (t Table[T]) Find(dc *Context, where string, args ...any) (*T, error) {
	objs, err := t.List(dc, where, args...)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, engine.NewNotFoundError(t.Kind, fmt.Sprintf("%v", args))
	}
	return objs[0], nil
}

// Get returns the visible record with id.
func (t Table[T]) Get(dc *Context, id string) (*T, error) {
	objs, err := t.List(dc, "m.id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, engine.NewNotFoundError(t.Kind, id)
	}
	return objs[0], nil
}

// Save writes obj under the context's visibility and queues a notification. A record
// read from a less specific visibility is copied into the current one.
func (t Table[T]) Save(dc *Context, obj *T) error {
	std := t.Std(obj)
	if err := t.checkWritable(dc, std); err != nil {
		return err
	}
	std.Visibility = dc.Visibility()
	std.UpdatedAt = time.Now().UTC()
	if std.CreatedAt.IsZero() {
		std.CreatedAt = std.UpdatedAt
	}
	if err := t.write(dc, obj); err != nil {
		return err
	}
	return dc.Bus().Publish(obj)
}

// Delete soft-deletes obj in the context's visibility and queues a delete notification.
func (t Table[T]) Delete(dc *Context, obj *T) error {
	std := t.Std(obj)
	if err := t.checkWritable(dc, std); err != nil {
		return err
	}
	std.Visibility = dc.Visibility().ToDeleted()
	std.UpdatedAt = time.Now().UTC()
	if err := t.write(dc, obj); err != nil {
		return err
	}
	return dc.Bus().Delete(obj)
}

// checkWritable rejects writing a record that was read under a visibility the context
// cannot see, such as another change set.
func (t Table[T]) checkWritable(dc *Context, std *Standard) error {
	if dc.Visibility().ToDeleted().Admits(std.Visibility) {
		return nil
	}
	return engine.NewConflictError(
		fmt.Sprintf("%s %s belongs to %s, not %s", t.Kind, std.ID, std.Visibility, dc.Visibility()), nil,
	).WithResource(std.ID)
}

func (t Table[T]) write(dc *Context, obj *T) error {
	values := append(t.Std(obj).values(), t.Values(obj)...)
	return stores.Upsert(dc, dc.Tx(), t.Name, t.allColumns(), values)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// JSONText scans a TEXT column holding JSON into a json.RawMessage.
type JSONText json.RawMessage

func (r *JSONText) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*r = nil
	case string:
		*r = JSONText(v)
	case []byte:
		*r = append(JSONText(nil), v...)
	default:
		return fmt.Errorf("cannot scan %T into json", src)
	}
	return nil
}
