package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tensibai/si/pkg/component"
	"github.com/Tensibai/si/pkg/dal"
)

func newComponentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "component",
		Aliases: []string{"comp"},
		Short:   "Create, edit and inspect components",
		Long: `Components are instances of a schema. Their properties are addressed by JSON
pointer from the root prop, e.g. /root/domain/image or /root/si/name.

Every write resolves the value, cascades it to the parent props and reruns the
validation, code generation and qualification passes.`,
	}

	cmd.AddCommand(newComponentCreateCommand())
	cmd.AddCommand(newComponentListCommand())
	cmd.AddCommand(newComponentSetCommand())
	cmd.AddCommand(newComponentUnsetCommand())
	cmd.AddCommand(newComponentGetCommand())
	cmd.AddCommand(newComponentQualificationsCommand())
	cmd.AddCommand(newComponentCodeCommand())
	cmd.AddCommand(newComponentDiffCommand())
	cmd.AddCommand(newComponentRequalifyCommand())
	cmd.AddCommand(newComponentDeleteCommand())

	return cmd
}

func newComponentCreateCommand() *cobra.Command {
	var schemaName string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a component of a schema",
		Example: `  # Create a component at head
  si component create web --schema docker_image

  # Create it inside a change set
  si component create web --schema docker_image --change-set 01J...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				c, node, err := component.NewForSchema(dc, args[0], schemaName)
				if err != nil {
					return describe(err)
				}
				log.Info().
					Str("component", c.Name).
					Str("component_id", c.ID).
					Str("node_id", node.ID).
					Msg("Created component")
				if jsonOutput {
					return printJSON(c)
				}
				fmt.Println(c.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&schemaName, "schema", "s", "", "schema to instantiate")
	_ = cmd.MarkFlagRequired("schema")

	return cmd
}

func newComponentListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List visible components",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				components, err := component.List(dc)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(components)
				}
				for _, c := range components {
					fmt.Printf("%s\t%s\t%s\n", c.ID, c.Name, c.SchemaID)
				}
				return nil
			})
		},
	}
}

// write sets or unsets a prop, or a map or array entry when key is given.
func write(dc *dal.Context, name, pointer, key string, value []byte) error {
	c, err := component.FindByName(dc, name)
	if err != nil {
		return describe(err)
	}
	var result *component.EditResult
	if key != "" {
		result, err = component.SetEntry(dc, c.ID, pointer, key, value)
	} else {
		result, err = component.SetPropValueByJSONPointer(dc, c.ID, pointer, value)
	}
	if err != nil {
		return describe(err)
	}
	log.Debug().
		Str("component", c.Name).
		Str("pointer", pointer).
		Str("value_id", result.ValueID).
		Bool("created", result.Created).
		Msg("Wrote property")
	if jsonOutput {
		return printJSON(result)
	}
	fmt.Println(string(result.Value))
	return nil
}

func newComponentSetCommand() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "set NAME POINTER VALUE",
		Short: "Set a property",
		Long: `Set the property at POINTER. VALUE is parsed as JSON; anything that is not
valid JSON is taken as a string.

With --key the entry of the map or array prop at POINTER is written under KEY.`,
		Example: `  si component set web /root/domain/image nginx
  si component set web /root/domain/replicas 3
  si component set web /root/domain/env --key PORT 8080`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				return write(dc, args[0], args[1], key, parseValue(args[2]))
			})
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "entry key of a map or array prop")

	return cmd
}

func newComponentUnsetCommand() *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "unset NAME POINTER",
		Short: "Unset a property",
		Long: `Unset the property at POINTER. A prop with a schema default falls back to it.
When the last set child of a container is unset the container is unset too.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				return write(dc, args[0], args[1], key, nil)
			})
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "entry key of a map or array prop")

	return cmd
}

func newComponentGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get NAME [POINTER]",
		Short: "Show a component's properties",
		Long: `Without POINTER print the component view: the nested properties under the
root prop. With POINTER print the resolved value of that property.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				c, err := component.FindByName(dc, args[0])
				if err != nil {
					return describe(err)
				}
				if len(args) == 2 {
					raw, err := component.FindPropValueByJSONPointer(dc, c.ID, args[1])
					if err != nil {
						return describe(err)
					}
					if raw == nil {
						raw = []byte("null")
					}
					fmt.Println(string(raw))
					return nil
				}

				s, err := system(dc)
				if err != nil {
					return err
				}
				view, err := c.View(dc, s.ID)
				if err != nil {
					return describe(err)
				}
				if jsonOutput {
					return printJSON(view)
				}
				out, err := view.JSON()
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			})
		},
	}
	return cmd
}

func newComponentQualificationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qualifications NAME",
		Short: "Show qualification results",
		Long: `Show the validation summary and every qualification of the component.
Qualifications that have not run yet are listed without a result.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				c, err := component.FindByName(dc, args[0])
				if err != nil {
					return describe(err)
				}
				s, err := system(dc)
				if err != nil {
					return err
				}
				views, err := c.ListQualifications(dc, s.ID)
				if err != nil {
					return describe(err)
				}
				if jsonOutput {
					return printJSON(views)
				}
				for _, q := range views {
					status, msg := "pending", ""
					if q.Result != nil {
						status = "failed"
						if q.Result.Qualified {
							status = "ok"
						}
						msg = q.Result.Message
					}
					fmt.Printf("%-8s %s", status, q.Title)
					if msg != "" {
						fmt.Printf(": %s", msg)
					}
					fmt.Println()
				}
				return nil
			})
		},
	}
	return cmd
}

func newComponentCodeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "code NAME",
		Short: "Show generated code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				c, err := component.FindByName(dc, args[0])
				if err != nil {
					return describe(err)
				}
				s, err := system(dc)
				if err != nil {
					return err
				}
				codes, err := c.ListCodeGenerated(dc, s.ID)
				if err != nil {
					return describe(err)
				}
				if jsonOutput {
					return printJSON(codes)
				}
				for _, code := range codes {
					fmt.Printf("# %s\n%s\n", code.Format, strings.TrimRight(code.Code, "\n"))
				}
				return nil
			})
		},
	}
	return cmd
}

func newComponentDiffCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff NAME",
		Short: "Diff a component against head",
		Long: `Compare the component view in the selected change set with the view at head.
At head the diff is always empty.`,
		Example: `  si component diff web --change-set 01J...`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				c, err := component.FindByName(dc, args[0])
				if err != nil {
					return describe(err)
				}
				s, err := system(dc)
				if err != nil {
					return err
				}
				diff, err := c.Diff(dc, s.ID)
				if err != nil {
					return describe(err)
				}
				if jsonOutput {
					return printJSON(diff)
				}
				for _, line := range diff.Diffs {
					fmt.Println(line)
				}
				return nil
			})
		},
	}
	return cmd
}

func newComponentDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a component and its edges",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				c, err := component.FindByName(dc, args[0])
				if err != nil {
					return describe(err)
				}
				if err := c.Delete(dc); err != nil {
					return describe(err)
				}
				log.Info().Str("component", c.Name).Msg("Deleted component")
				return nil
			})
		},
	}
}

func newComponentRequalifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "requalify",
		Short: "Rerun the passes of every component",
		Long: `Rerun validations, code generation and qualifications for every visible
component. Configuration parents run before the components they configure.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				s, err := system(dc)
				if err != nil {
					return err
				}
				order, err := component.RequalifyAll(dc, s.ID)
				if err != nil {
					return describe(err)
				}
				log.Info().Int("components", len(order)).Msg("Requalified components")
				return nil
			})
		},
	}
}
