package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tensibai/si/pkg/bus"
	"github.com/Tensibai/si/pkg/config"
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/tenancy"
)

func newWatchCommand() *cobra.Command {
	var (
		schemaDir string
		pattern   string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-import schemas on change and follow change notifications",
		Long: `Watch the schema directory and import its definitions whenever a .cue file
changes. Metrics are served while watching when telemetry.metrics is enabled.
When the configured bus can be subscribed to (redis or mqtt), every
change notification matching --subject is printed as well.`,
		Example: `  si watch --schema-dir ./schemas
  SI_BUS_URL=redis://localhost:6379/0 si watch --subject 'si.*.component.>'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			if schemaDir == "" {
				schemaDir = a.cfg.SchemaDir
			}
			if schemaDir != "" {
				w := config.NewWatcher(schemaDir, nil, a.telemetry.Logger)
				reload := func(ctx context.Context, parsed *config.ParsedDefinitions) error {
					return a.unit(ctx, tenancy.Head(), func(dc *dal.Context) error {
						return importDefinitions(dc, parsed)
					})
				}

				parsed, err := w.Reload()
				if err != nil {
					return err
				}
				if err := parsed.Err(); err != nil {
					return err
				}
				if err := reload(ctx, parsed); err != nil {
					return err
				}
				if err := w.Watch(ctx, reload); err != nil {
					return err
				}
				defer w.Stop()
			}

			if sub, ok := a.services.Bus.(bus.Subscriber); ok {
				err := sub.Subscribe(ctx, pattern, func(subject string, payload []byte) {
					fmt.Printf("%s %s\n", subject, payload)
				})
				if err != nil {
					return err
				}
			} else {
				log.Warn().Str("driver", a.services.Bus.Driver()).Msg("Bus driver cannot be subscribed to")
			}

			errCh := make(chan error, 1)
			if srv := a.telemetry.Metrics.StartMetricsServer(errCh); srv != nil {
				defer srv.Shutdown(context.Background())
				log.Info().Str("address", srv.Addr).Msg("Serving metrics")
			}

			log.Info().Str("schema_dir", schemaDir).Msg("Watching, press Ctrl+C to stop")
			select {
			case <-ctx.Done():
				return nil
			case err := <-errCh:
				return fmt.Errorf("metrics server failed: %w", err)
			}
		},
	}

	cmd.Flags().StringVar(&schemaDir, "schema-dir", "", "schema directory (default from config)")
	cmd.Flags().StringVar(&pattern, "subject", bus.SubjectPrefix+".>", "subject pattern to follow")

	return cmd
}
