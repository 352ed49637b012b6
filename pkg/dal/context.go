// Package dal is the data access layer shared by every model package. A Context binds
// one storage transaction and one notification transaction to a write tenancy and a
// visibility; models read and write through it.
package dal

import (
	"context"
	"fmt"

	"github.com/Tensibai/si/pkg/bus"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/stores"
	"github.com/Tensibai/si/pkg/telemetry"
	"github.com/Tensibai/si/pkg/tenancy"
)

// Services are the long-lived dependencies a Context is built from.
type Services struct {
	Store     *stores.Store
	Bus       bus.Publisher
	Executor  engine.FunctionExecutor
	Telemetry *telemetry.Telemetry
}

// Validate checks that every service is present.
func (s *Services) Validate() error {
	switch {
	case s.Store == nil:
		return fmt.Errorf("store is required")
	case s.Bus == nil:
		return fmt.Errorf("bus is required")
	case s.Executor == nil:
		return fmt.Errorf("function executor is required")
	}
	return nil
}

// Begin opens a storage transaction and a notification transaction for one unit of
// work. The read tenancy is expanded from the write tenancy inside the transaction.
func (s *Services) Begin(ctx context.Context, wt tenancy.WriteTenancy, v tenancy.Visibility) (*Context, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	tel := s.Telemetry
	if tel == nil {
		tel = telemetry.NewNop()
	}

	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}

	rt, err := tenancy.Expand(ctx, stores.NewDirectory(tx), wt)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	return &Context{
		Context:      ctx,
		services:     s,
		telemetry:    tel,
		tx:           tx,
		bus:          bus.NewTxn(s.Bus, tel),
		writeTenancy: wt,
		readTenancy:  rt,
		visibility:   v,
	}, nil
}

// Context carries one unit of work. It embeds the request context so it can be passed
// to anything that blocks.
type Context struct {
	context.Context

	services  *Services
	telemetry *telemetry.Telemetry
	tx        *stores.Tx
	bus       *bus.Txn

	writeTenancy tenancy.WriteTenancy
	readTenancy  tenancy.ReadTenancy
	visibility   tenancy.Visibility
}

func (c *Context) Tx() *stores.Tx { return c.tx }
func (c *Context) Bus() *bus.Txn { return c.bus }
func (c *Context) WriteTenancy() tenancy.WriteTenancy { return c.writeTenancy }
func (c *Context) ReadTenancy() tenancy.ReadTenancy { return c.readTenancy }
func (c *Context) Visibility() tenancy.Visibility { return c.visibility }
func (c *Context) Executor() engine.FunctionExecutor { return c.services.Executor }
func (c *Context) Telemetry() *telemetry.Telemetry { return c.telemetry }
func (c *Context) Scope() stores.Scope { return stores.NewScope(c.readTenancy, c.visibility) }

// Log returns a logger carrying the context's tenancy and visibility.
func (c *Context) Log() *telemetry.Logger {
	return c.telemetry.Logger.WithScope(c.writeTenancy.Key(), c.visibility.String())
}

// WithVisibility returns a view of the same transaction at another visibility.
func (c *Context) WithVisibility(v tenancy.Visibility) *Context {
	cp := *c
	cp.visibility = v
	return &cp
}

// WithWriteTenancy returns a view of the same transaction writing under wt. The read
// tenancy is kept, so universal writes still see workspace rows.
func (c *Context) WithWriteTenancy(wt tenancy.WriteTenancy) *Context {
	cp := *c
	cp.writeTenancy = wt
	return &cp
}

// Universal returns a view that writes built-in definitions.
func (c *Context) Universal() *Context {
	return c.WithWriteTenancy(tenancy.NewUniversal())
}

// Commit commits storage, then publishes queued notifications. Notification failures
// are reported but the storage commit stands.
func (c *Context) Commit() error {
	if err := c.tx.Commit(); err != nil {
		c.bus.Rollback()
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	if err := c.bus.Commit(c); err != nil {
		return fmt.Errorf("failed to publish notifications: %w", err)
	}
	return nil
}

// Rollback discards storage writes and queued notifications.
func (c *Context) Rollback() error {
	c.bus.Rollback()
	return c.tx.Rollback()
}

// CreateWorkspace registers a billing account, organization and workspace in their own
// transaction and returns the workspace's write tenancy.
func (s *Services) CreateWorkspace(ctx context.Context, billingAccountID tenancy.BillingAccountID, organizationID tenancy.OrganizationID, workspaceID tenancy.WorkspaceID, name string) (tenancy.WriteTenancy, error) {
	tx, err := s.Store.BeginTx(ctx)
	if err != nil {
		return tenancy.WriteTenancy{}, err
	}
	defer tx.Rollback()

	dir := stores.NewDirectory(tx)
	if err := dir.CreateBillingAccount(ctx, billingAccountID, name); err != nil {
		return tenancy.WriteTenancy{}, err
	}
	if err := dir.CreateOrganization(ctx, organizationID, billingAccountID, name); err != nil {
		return tenancy.WriteTenancy{}, err
	}
	if err := dir.CreateWorkspace(ctx, workspaceID, organizationID, name); err != nil {
		return tenancy.WriteTenancy{}, err
	}
	if err := tx.Commit(); err != nil {
		return tenancy.WriteTenancy{}, fmt.Errorf("failed to commit workspace: %w", err)
	}
	return tenancy.NewWorkspace(workspaceID), nil
}
