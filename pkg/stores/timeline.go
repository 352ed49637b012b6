package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/tenancy"
)

// ChangeSetStatus is the lifecycle state of a change set.
type ChangeSetStatus string

const (
	ChangeSetStatusOpen      ChangeSetStatus = "open"
	ChangeSetStatusApplied   ChangeSetStatus = "applied"
	ChangeSetStatusAbandoned ChangeSetStatus = "abandoned"
)

// EditSessionStatus is the lifecycle state of an edit session.
type EditSessionStatus string

const (
	EditSessionStatusOpen     EditSessionStatus = "open"
	EditSessionStatusSaved    EditSessionStatus = "saved"
	EditSessionStatusCanceled EditSessionStatus = "canceled"
)

// ChangeSetRow is a stored change set.
type ChangeSetRow struct {
	PK         tenancy.ChangeSetPK `json:"pk"`
	Name       string              `json:"name"`
	Note       string              `json:"note"`
	Status     ChangeSetStatus     `json:"status"`
	TenancyKey string              `json:"tenancy_key"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// EditSessionRow is a stored edit session.
type EditSessionRow struct {
	PK          tenancy.EditSessionPK `json:"pk"`
	ChangeSetPK tenancy.ChangeSetPK   `json:"change_set_pk"`
	Name        string                `json:"name"`
	Note        string                `json:"note"`
	Status      EditSessionStatus     `json:"status"`
	TenancyKey  string                `json:"tenancy_key"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// InsertChangeSet stores a new change set.
func InsertChangeSet(ctx context.Context, tx *Tx, cs *ChangeSetRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO change_sets (pk, name, note, status, tenancy_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(cs.PK), cs.Name, cs.Note, string(cs.Status), cs.TenancyKey,
		FormatTime(cs.CreatedAt), FormatTime(cs.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create change set: %w", err)
	}
	return nil
}

// GetChangeSet loads a change set by pk.
func GetChangeSet(ctx context.Context, tx *Tx, pk tenancy.ChangeSetPK) (*ChangeSetRow, error) {
	var (
		cs                   ChangeSetRow
		status, pkStr        string
		createdAt, updatedAt string
	)
	err := tx.QueryRowContext(ctx, `
		SELECT pk, name, note, status, tenancy_key, created_at, updated_at
		FROM change_sets WHERE pk = ?`, string(pk)).
		Scan(&pkStr, &cs.Name, &cs.Note, &status, &cs.TenancyKey, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, engine.NewNotFoundError("change set", string(pk))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get change set: %w", err)
	}
	cs.PK = tenancy.ChangeSetPK(pkStr)
	cs.Status = ChangeSetStatus(status)
	if cs.CreatedAt, err = ParseTime(createdAt); err != nil {
		return nil, err
	}
	if cs.UpdatedAt, err = ParseTime(updatedAt); err != nil {
		return nil, err
	}
	return &cs, nil
}

// ListOpenChangeSets returns open change sets for a tenancy, newest first.
func ListOpenChangeSets(ctx context.Context, tx *Tx, tenancyKey string) ([]*ChangeSetRow, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT pk FROM change_sets WHERE status = ? AND tenancy_key = ? ORDER BY created_at DESC`,
		string(ChangeSetStatusOpen), tenancyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list change sets: %w", err)
	}
	var pks []string
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan change set: %w", err)
		}
		pks = append(pks, pk)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating change sets: %w", err)
	}
	rows.Close()

	out := make([]*ChangeSetRow, 0, len(pks))
	for _, pk := range pks {
		cs, err := GetChangeSet(ctx, tx, tenancy.ChangeSetPK(pk))
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, nil
}

// UpdateChangeSetStatus moves a change set to a new status.
func UpdateChangeSetStatus(ctx context.Context, tx *Tx, pk tenancy.ChangeSetPK, status ChangeSetStatus) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE change_sets SET status = ?, updated_at = ? WHERE pk = ?`,
		string(status), FormatTime(time.Now()), string(pk))
	if err != nil {
		return fmt.Errorf("failed to update change set status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return engine.NewNotFoundError("change set", string(pk))
	}
	return nil
}

// InsertEditSession stores a new edit session.
func InsertEditSession(ctx context.Context, tx *Tx, es *EditSessionRow) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO edit_sessions (pk, change_set_pk, name, note, status, tenancy_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(es.PK), string(es.ChangeSetPK), es.Name, es.Note, string(es.Status), es.TenancyKey,
		FormatTime(es.CreatedAt), FormatTime(es.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create edit session: %w", err)
	}
	return nil
}

// UpdateEditSessionStatus moves an edit session to a new status.
func UpdateEditSessionStatus(ctx context.Context, tx *Tx, pk tenancy.EditSessionPK, status EditSessionStatus) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE edit_sessions SET status = ?, updated_at = ? WHERE pk = ?`,
		string(status), FormatTime(time.Now()), string(pk))
	if err != nil {
		return fmt.Errorf("failed to update edit session status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return engine.NewNotFoundError("edit session", string(pk))
	}
	return nil
}

// PromoteChangeSet moves every row written in a change set (outside any edit session)
// to head. Head rows of the same records are replaced.
func PromoteChangeSet(ctx context.Context, tx *Tx, pk tenancy.ChangeSetPK) (int64, error) {
	var total int64
	for _, table := range ModelTables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM %[1]s
			WHERE visibility_change_set_pk = ''
			  AND id IN (
				SELECT id FROM %[1]s
				WHERE visibility_change_set_pk = ? AND visibility_edit_session_pk = ''
			  )`, table), string(pk)); err != nil {
			return 0, fmt.Errorf("failed to clear head rows of %s: %w", table, err)
		}

		result, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET visibility_change_set_pk = ''
			WHERE visibility_change_set_pk = ? AND visibility_edit_session_pk = ''`, table), string(pk))
		if err != nil {
			return 0, fmt.Errorf("failed to promote rows of %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

// PromoteEditSession moves every row written in an edit session into its change set.
func PromoteEditSession(ctx context.Context, tx *Tx, cs tenancy.ChangeSetPK, es tenancy.EditSessionPK) (int64, error) {
	var total int64
	for _, table := range ModelTables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM %[1]s
			WHERE visibility_change_set_pk = ? AND visibility_edit_session_pk = ''
			  AND id IN (
				SELECT id FROM %[1]s
				WHERE visibility_change_set_pk = ? AND visibility_edit_session_pk = ?
			  )`, table), string(cs), string(cs), string(es)); err != nil {
			return 0, fmt.Errorf("failed to clear change set rows of %s: %w", table, err)
		}

		result, err := tx.ExecContext(ctx, fmt.Sprintf(`
			UPDATE %s SET visibility_edit_session_pk = ''
			WHERE visibility_change_set_pk = ? AND visibility_edit_session_pk = ?`, table), string(cs), string(es))
		if err != nil {
			return 0, fmt.Errorf("failed to promote rows of %s: %w", table, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to get rows affected: %w", err)
		}
		total += n
	}
	return total, nil
}

// DiscardEditSession drops every row written in an edit session.
func DiscardEditSession(ctx context.Context, tx *Tx, cs tenancy.ChangeSetPK, es tenancy.EditSessionPK) error {
	for _, table := range ModelTables {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
			DELETE FROM %s WHERE visibility_change_set_pk = ? AND visibility_edit_session_pk = ?`, table),
			string(cs), string(es)); err != nil {
			return fmt.Errorf("failed to discard rows of %s: %w", table, err)
		}
	}
	return nil
}
