package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Tensibai/si/pkg/component"
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/edge"
)

func newEdgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edge",
		Short: "Connect components",
		Long: `Edges connect a tail component to a head component. A "configures" edge makes
the tail a configuration parent of the head: the head's qualifications see the
tail's properties.`,
	}

	cmd.AddCommand(newEdgeConnectCommand())
	cmd.AddCommand(newEdgeDisconnectCommand())
	cmd.AddCommand(newEdgeTraverseCommand("successors", "List edges leaving a component", false))
	cmd.AddCommand(newEdgeTraverseCommand("predecessors", "List edges entering a component", true))
	cmd.AddCommand(newEdgeGraphCommand())

	return cmd
}

// componentIDs resolves component names to ids.
func componentIDs(dc *dal.Context, names ...string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		c, err := component.FindByName(dc, name)
		if err != nil {
			return nil, describe(err)
		}
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func newEdgeConnectCommand() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:     "connect TAIL HEAD",
		Short:   "Connect two components",
		Example: `  si edge connect db web --kind configures`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				ids, err := componentIDs(dc, args[0], args[1])
				if err != nil {
					return err
				}
				e, err := edge.Connect(dc, ids[0], ids[1], edge.Kind(kind))
				if err != nil {
					return describe(err)
				}
				log.Info().
					Str("edge_id", e.ID).
					Str("kind", string(e.Kind)).
					Str("tail", args[0]).
					Str("head", args[1]).
					Msg("Connected components")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(edge.KindConfigures), "edge kind")

	return cmd
}

func newEdgeDisconnectCommand() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "disconnect TAIL HEAD",
		Short: "Remove the edges between two components",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				ids, err := componentIDs(dc, args[0], args[1])
				if err != nil {
					return err
				}
				n, err := edge.Disconnect(dc, ids[0], ids[1], edge.Kind(kind))
				if err != nil {
					return describe(err)
				}
				log.Info().Int("edges", n).Msg("Disconnected components")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(edge.KindConfigures), "edge kind")

	return cmd
}

func newEdgeTraverseCommand(use, short string, predecessors bool) *cobra.Command {
	var (
		kind string
		all  bool
	)

	cmd := &cobra.Command{
		Use:   use + " NAME",
		Short: short,
		Long: short + `. With --all the edges are followed transitively; every edge is
reported once even when the graph has cycles.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				ids, err := componentIDs(dc, args[0])
				if err != nil {
					return err
				}

				traverse := edge.DirectSuccessorEdgesByObjectID
				switch {
				case predecessors && all:
					traverse = edge.AllPredecessorEdgesByObjectID
				case predecessors:
					traverse = edge.DirectPredecessorEdgesByObjectID
				case all:
					traverse = edge.AllSuccessorEdgesByObjectID
				}
				edges, err := traverse(dc, edge.Kind(kind), ids[0])
				if err != nil {
					return describe(err)
				}
				if jsonOutput {
					return printJSON(edges)
				}
				for _, e := range edges {
					fmt.Printf("%s\t%s -> %s\n", e.Kind, objectName(dc, e.TailVertex), objectName(dc, e.HeadVertex))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(edge.KindConfigures), "edge kind")
	cmd.Flags().BoolVar(&all, "all", false, "follow edges transitively")

	return cmd
}

// objectName names a vertex's object, falling back to its id.
func objectName(dc *dal.Context, v edge.Vertex) string {
	switch v.ObjectType {
	case edge.ObjectComponent:
		if c, err := component.Get(dc, v.ObjectID); err == nil {
			return c.Name
		}
	case edge.ObjectSystem:
		if s, err := edge.GetSystem(dc, v.ObjectID); err == nil {
			return "system:" + s.Name
		}
	}
	return v.ObjectID
}

func newEdgeGraphCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "graph",
		Short:   "Print the configuration graph in DOT format",
		Example: `  si edge graph | dot -Tsvg > graph.svg`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(dc *dal.Context) error {
				graph, builder, err := component.ConfigurationGraph(dc)
				if err != nil {
					return describe(err)
				}
				if jsonOutput {
					return printJSON(graph)
				}
				fmt.Print(builder.ToDOT())
				return nil
			})
		},
	}
}
