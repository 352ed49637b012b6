package stores

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Tensibai/si/pkg/tenancy"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// StandardColumns are the envelope columns shared by every model table.
var StandardColumns = []string{
	"id",
	"tenancy_key",
	"visibility_change_set_pk",
	"visibility_edit_session_pk",
	"visibility_deleted",
	"created_at",
	"updated_at",
}

// ModelTables lists the tables that carry the standard envelope, in dependency order.
// Change set promotion walks them in this order.
var ModelTables = []string{
	"funcs",
	"func_bindings",
	"func_binding_return_values",
	"schemas",
	"schema_variants",
	"props",
	"attribute_prototypes",
	"attribute_values",
	"components",
	"systems",
	"nodes",
	"edges",
	"pass_prototypes",
	"pass_resolvers",
}

// Scope restricts reads to the rows visible under a read tenancy and a visibility.
type Scope struct {
	TenancyKeys []string
	Visibility  tenancy.Visibility
}

// NewScope builds a scope from a read tenancy.
func NewScope(rt tenancy.ReadTenancy, v tenancy.Visibility) Scope {
	return Scope{TenancyKeys: rt.Keys(), Visibility: v}
}

// From returns a FROM clause that exposes, under alias "m", the single most specific
// visible version of every record in table. The clause ends inside an open WHERE so
// callers append further predicates with " AND ...". The returned args bind the
// clause's placeholders and must precede the caller's own args.
func (s Scope) From(table string) (string, []any) {
	args := make([]any, 0, len(s.TenancyKeys)+3)

	tenancyPred := "1 = 0"
	if len(s.TenancyKeys) > 0 {
		tenancyPred = "t.tenancy_key IN (" + placeholders(len(s.TenancyKeys)) + ")"
		for _, k := range s.TenancyKeys {
			args = append(args, k)
		}
	}
	args = append(args,
		string(s.Visibility.ChangeSetPK),
		string(s.Visibility.EditSessionPK),
		boolInt(s.Visibility.Deleted),
	)

	clause := fmt.Sprintf(`(
		SELECT t.*, ROW_NUMBER() OVER (
			PARTITION BY t.id
			ORDER BY CASE
				WHEN t.visibility_edit_session_pk <> '' THEN 2
				WHEN t.visibility_change_set_pk <> '' THEN 1
				ELSE 0
			END DESC
		) AS visibility_rank
		FROM %s t
		WHERE %s
		  AND (t.visibility_change_set_pk = ''
		       OR (t.visibility_change_set_pk = ?
		           AND (t.visibility_edit_session_pk = '' OR t.visibility_edit_session_pk = ?)))
	) m
	WHERE m.visibility_rank = 1 AND (m.visibility_deleted = 0 OR ? = 1)`, table, tenancyPred)

	return clause, args
}

// Upsert writes a full row keyed by (id, change set, edit session). Writing a record
// under a visibility it was not read from creates that visibility's copy. created_at is
// preserved on conflict.
func Upsert(ctx context.Context, tx *Tx, table string, columns []string, values []any) error {
	if len(columns) != len(values) {
		return fmt.Errorf("upsert %s: %d columns but %d values", table, len(columns), len(values))
	}

	updates := make([]string, 0, len(columns))
	for _, c := range columns {
		switch c {
		case "id", "visibility_change_set_pk", "visibility_edit_session_pk", "created_at":
			continue
		}
		updates = append(updates, c+" = excluded."+c)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (id, visibility_change_set_pk, visibility_edit_session_pk) DO UPDATE SET %s",
		table,
		strings.Join(columns, ", "),
		placeholders(len(columns)),
		strings.Join(updates, ", "),
	)

	if _, err := tx.ExecContext(ctx, query, values...); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", table, err)
	}
	return nil
}

// Qualify prefixes every column with alias, e.g. "m.id, m.name".
func Qualify(alias string, columns []string) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// FormatTime renders a timestamp for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
