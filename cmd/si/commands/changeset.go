package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/tenancy"
)

func newChangeSetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "changeset",
		Aliases: []string{"cs"},
		Short:   "Draft changes before applying them to head",
		Long: `A change set is a draft timeline branched from head. Pass its pk with
--change-set to any command to work inside it, then apply it to promote every
record it wrote to head.`,
	}

	cmd.AddCommand(newChangeSetCreateCommand())
	cmd.AddCommand(newChangeSetListCommand())
	cmd.AddCommand(newChangeSetApplyCommand())
	cmd.AddCommand(newChangeSetAbandonCommand())

	return cmd
}

func newChangeSetCreateCommand() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Open a change set",
		Example: `  pk=$(si changeset create resize)
  si component set web /root/domain/replicas 5 --change-set $pk
  si component diff web --change-set $pk
  si changeset apply $pk`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			return a.unit(cmd.Context(), tenancy.Head(), func(dc *dal.Context) error {
				cs, err := dal.NewChangeSet(dc, args[0], note)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cs)
				}
				fmt.Println(cs.PK)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&note, "note", "", "free form note")

	return cmd
}

func newChangeSetListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open change sets",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			return a.unit(cmd.Context(), tenancy.Head(), func(dc *dal.Context) error {
				sets, err := dal.ListOpenChangeSets(dc)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(sets)
				}
				for _, cs := range sets {
					fmt.Printf("%s\t%s\t%s\n", cs.PK, cs.Name, cs.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				return nil
			})
		},
	}
}

func newChangeSetApplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apply PK",
		Short: "Promote a change set to head",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			return a.unit(cmd.Context(), tenancy.Head(), func(dc *dal.Context) error {
				cs, err := dal.GetChangeSet(dc, tenancy.ChangeSetPK(args[0]))
				if err != nil {
					return describe(err)
				}
				n, err := cs.Apply(dc)
				if err != nil {
					return describe(err)
				}
				log.Info().Str("change_set", cs.Name).Int64("rows", n).Msg("Applied change set")
				return nil
			})
		},
	}
}

func newChangeSetAbandonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "abandon PK",
		Short: "Close a change set without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			return a.unit(cmd.Context(), tenancy.Head(), func(dc *dal.Context) error {
				cs, err := dal.GetChangeSet(dc, tenancy.ChangeSetPK(args[0]))
				if err != nil {
					return describe(err)
				}
				return cs.Abandon(dc)
			})
		},
	}
}
