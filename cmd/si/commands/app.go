package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/Tensibai/si/pkg/bus"
	"github.com/Tensibai/si/pkg/config"
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/edge"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/funcs"
	"github.com/Tensibai/si/pkg/stores"
	"github.com/Tensibai/si/pkg/telemetry"
	"github.com/Tensibai/si/pkg/tenancy"
)

// app holds the services one command runs against.
type app struct {
	cfg        *config.Config
	services   *dal.Services
	telemetry  *telemetry.Telemetry
	dispatcher *funcs.Dispatcher
	tenancy    tenancy.WriteTenancy
}

// openApp loads the config, opens and migrates the store, connects the bus and makes
// sure the workspace exists.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.DefaultConfig()
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	store, err := stores.Open(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	pub, err := bus.Open(ctx, cfg.Bus.URL, tel.Logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to connect bus: %w", err)
	}

	dispatcher, err := funcs.NewDispatcher(ctx, cfg.Funcs, tel.Logger)
	if err != nil {
		_ = pub.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}

	a := &app{
		cfg:        cfg,
		telemetry:  tel,
		dispatcher: dispatcher,
		services: &dal.Services{
			Store:     store,
			Bus:       pub,
			Executor:  dispatcher,
			Telemetry: tel,
		},
	}
	if a.tenancy, err = a.ensureWorkspace(ctx, tenancy.WorkspaceID(workspaceID)); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// ensureWorkspace creates the workspace with a billing account and organization of the
// same id when it does not exist yet.
func (a *app) ensureWorkspace(ctx context.Context, id tenancy.WorkspaceID) (tenancy.WriteTenancy, error) {
	tx, err := a.services.Store.BeginTx(ctx)
	if err != nil {
		return tenancy.WriteTenancy{}, err
	}
	_, err = stores.NewDirectory(tx).OrganizationForWorkspace(ctx, id)
	_ = tx.Rollback()
	if err == nil {
		return tenancy.NewWorkspace(id), nil
	}
	if !engine.IsNotFound(err) {
		return tenancy.WriteTenancy{}, err
	}

	log.Info().Str("workspace", string(id)).Msg("Creating workspace")
	return a.services.CreateWorkspace(ctx,
		tenancy.BillingAccountID("ba-"+string(id)),
		tenancy.OrganizationID("org-"+string(id)),
		id, string(id))
}

// Close releases every service.
func (a *app) Close(ctx context.Context) {
	if err := a.dispatcher.Close(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to close dispatcher")
	}
	if err := a.services.Bus.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close bus")
	}
	if err := a.services.Store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close store")
	}
	if err := a.telemetry.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}

// visibility is head unless --change-set is given.
func visibility() tenancy.Visibility {
	if changeSetPK == "" {
		return tenancy.Head()
	}
	return tenancy.NewChangeSet(tenancy.ChangeSetPK(changeSetPK))
}

// unit runs fn in one unit of work and commits it when fn succeeds. The unit is traced
// and its engine errors are counted.
func (a *app) unit(ctx context.Context, v tenancy.Visibility, fn func(dc *dal.Context) error) (err error) {
	op := a.telemetry.StartOperation(ctx, "si.unit", telemetry.AttrVisibility.String(v.String()))
	defer func() { op.End(err) }()

	dc, err := a.services.Begin(op.Ctx, a.tenancy, v)
	if err != nil {
		return err
	}
	if err = fn(dc); err != nil {
		_ = dc.Rollback()
		return err
	}
	return dc.Commit()
}

// withApp opens the app, runs fn in a unit of work at the selected visibility and
// closes the app.
func withApp(ctx context.Context, fn func(dc *dal.Context) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return a.unit(ctx, visibility(), fn)
}

// system returns the system named by --system.
func system(dc *dal.Context) (*edge.System, error) {
	s, err := edge.FindSystemByName(dc, systemName)
	if engine.IsNotFound(err) {
		return nil, fmt.Errorf("system %q not found, run \"si migrate\" first: %w", systemName, err)
	}
	return s, err
}

// printJSON writes v as indented JSON on stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseValue reads a command line value as JSON, falling back to a JSON string.
func parseValue(s string) json.RawMessage {
	var probe any
	if err := json.Unmarshal([]byte(s), &probe); err == nil {
		return json.RawMessage(s)
	}
	raw, _ := json.Marshal(s)
	return raw
}

// describe renders an engine error with its details for the terminal.
func describe(err error) error {
	var ee *engine.EngineError
	if errors.As(err, &ee) && len(ee.Details) > 0 {
		return fmt.Errorf("%w %v", err, ee.Details)
	}
	return err
}
