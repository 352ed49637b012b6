package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath  string
	workspaceID string
	changeSetPK string
	systemName  string
	verbose     bool
	jsonOutput  bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "si",
		Short: "si - attribute resolution engine",
		Long: `si resolves component attributes from schema prototypes, funcs and edges.

Components are instances of imported schemas. Writing a property executes its
func, cascades the result up the property tree and reruns the validation,
code generation and qualification passes. Work happens at head or inside a
change set that is applied later.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&workspaceID, "workspace", "w", "default", "workspace id")
	rootCmd.PersistentFlags().StringVar(&changeSetPK, "change-set", "", "change set pk to work in (default head)")
	rootCmd.PersistentFlags().StringVar(&systemName, "system", "production", "system to read passes and views in")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newSchemaCommand())
	rootCmd.AddCommand(newComponentCommand())
	rootCmd.AddCommand(newEdgeCommand())
	rootCmd.AddCommand(newChangeSetCommand())
	rootCmd.AddCommand(newDevCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
