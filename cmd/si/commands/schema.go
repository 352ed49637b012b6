package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tensibai/si/pkg/config"
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/schema"
)

func newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Schema definitions",
		Long: `Import and list schemas.

Schemas are defined in CUE under a top-level "schemas" field and imported as
universal schemas visible to every workspace.`,
	}

	cmd.AddCommand(newSchemaImportCommand())
	cmd.AddCommand(newSchemaListCommand())

	return cmd
}

func newSchemaImportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [path...]",
		Short: "Import schema definitions from CUE files",
		Long: `Load CUE files and directories, check them against the definition schema and
import every definition. Without arguments the config's schema_dir is used.

Importing a schema that already exists leaves it unchanged.`,
		Example: `  # Import the configured schema directory
  si schema import

  # Import specific files
  si schema import schemas/docker.cue schemas/k8s.cue`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			sources := args
			if len(sources) == 0 {
				if a.cfg.SchemaDir == "" {
					return fmt.Errorf("no sources given and schema_dir is not configured")
				}
				if sources, err = config.FindDefinitionFiles(a.cfg.SchemaDir); err != nil {
					return err
				}
			}

			parsed, err := config.NewDefinitionLoader().Load(sources)
			if err != nil {
				return err
			}
			if err := parsed.Err(); err != nil {
				return err
			}
			return a.unit(cmd.Context(), visibility(), func(dc *dal.Context) error {
				return importDefinitions(dc, parsed)
			})
		},
	}
	return cmd
}

// importDefinitions imports every parsed definition in dc.
func importDefinitions(dc *dal.Context, parsed *config.ParsedDefinitions) error {
	for _, def := range parsed.Definitions {
		s, v, err := schema.Import(dc, def)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", def.Name, describe(err))
		}
		log.Info().
			Str("schema", s.Name).
			Str("schema_id", s.ID).
			Str("variant_id", v.ID).
			Msg("Imported schema")
	}
	return nil
}

func newSchemaListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				schemas, err := schema.ListSchemas(dc)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(schemas)
				}
				for _, s := range schemas {
					fmt.Printf("%s\t%s\t%s\n", s.ID, s.Name, s.Kind)
				}
				return nil
			})
		},
	}
	return cmd
}
