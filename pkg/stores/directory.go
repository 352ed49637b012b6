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

// Directory resolves tenancy ancestry from the billing account, organization and
// workspace tables.
type Directory struct {
	tx *Tx
}

// NewDirectory returns a directory bound to a transaction.
func NewDirectory(tx *Tx) *Directory {
	return &Directory{tx: tx}
}

// CreateBillingAccount inserts a billing account.
func (d *Directory) CreateBillingAccount(ctx context.Context, id tenancy.BillingAccountID, name string) error {
	_, err := d.tx.ExecContext(ctx,
		`INSERT INTO billing_accounts (id, name, created_at) VALUES (?, ?, ?)`,
		string(id), name, FormatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to create billing account: %w", err)
	}
	return nil
}

// CreateOrganization inserts an organization under a billing account.
func (d *Directory) CreateOrganization(ctx context.Context, id tenancy.OrganizationID, billingAccountID tenancy.BillingAccountID, name string) error {
	_, err := d.tx.ExecContext(ctx,
		`INSERT INTO organizations (id, billing_account_id, name, created_at) VALUES (?, ?, ?, ?)`,
		string(id), string(billingAccountID), name, FormatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// CreateWorkspace inserts a workspace under an organization.
func (d *Directory) CreateWorkspace(ctx context.Context, id tenancy.WorkspaceID, organizationID tenancy.OrganizationID, name string) error {
	_, err := d.tx.ExecContext(ctx,
		`INSERT INTO workspaces (id, organization_id, name, created_at) VALUES (?, ?, ?, ?)`,
		string(id), string(organizationID), name, FormatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

// OrganizationForWorkspace implements tenancy.Directory.
func (d *Directory) OrganizationForWorkspace(ctx context.Context, id tenancy.WorkspaceID) (tenancy.OrganizationID, error) {
	var orgID string
	err := d.tx.QueryRowContext(ctx, `SELECT organization_id FROM workspaces WHERE id = ?`, string(id)).Scan(&orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", engine.NewNotFoundError("workspace", string(id))
	}
	if err != nil {
		return "", fmt.Errorf("failed to get workspace: %w", err)
	}
	return tenancy.OrganizationID(orgID), nil
}

// BillingAccountForOrganization implements tenancy.Directory.
func (d *Directory) BillingAccountForOrganization(ctx context.Context, id tenancy.OrganizationID) (tenancy.BillingAccountID, error) {
	var baID string
	err := d.tx.QueryRowContext(ctx, `SELECT billing_account_id FROM organizations WHERE id = ?`, string(id)).Scan(&baID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", engine.NewNotFoundError("organization", string(id))
	}
	if err != nil {
		return "", fmt.Errorf("failed to get organization: %w", err)
	}
	return tenancy.BillingAccountID(baID), nil
}
