package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/edge"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/funcs"
	"github.com/Tensibai/si/pkg/tenancy"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the database and seed the workspace",
		Long: `Apply pending database migrations, then make sure the workspace exists,
the builtin funcs are seeded and the production system is present.

Running it again is safe.`,
		Example: `  # Migrate the sqlite database from the default config
  si migrate

  # Migrate a postgres database
  SI_DATABASE_DSN=postgres://si:si@localhost:5432/si si migrate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			return a.unit(cmd.Context(), tenancy.Head(), func(dc *dal.Context) error {
				if err := funcs.SeedBuiltins(dc); err != nil {
					return err
				}
				_, err := edge.FindSystemByName(dc, edge.ProductionSystem)
				if engine.IsNotFound(err) {
					_, _, err = edge.NewSystem(dc, edge.ProductionSystem, "")
				}
				if err != nil {
					return err
				}
				log.Info().
					Str("driver", a.cfg.Database.Driver).
					Str("workspace", workspaceID).
					Msg("Database migrated")
				return nil
			})
		},
	}
	return cmd
}
