package edge_test

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/Tensibai/si/pkg/bus"
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/edge"
	"github.com/Tensibai/si/pkg/funcs"
	"github.com/Tensibai/si/pkg/stores"
	"github.com/Tensibai/si/pkg/tenancy"
)

// exampleContext opens a unit of work on a fresh in-memory engine.
func exampleContext() (*dal.Context, func()) {
	ctx := context.Background()
	store, err := stores.Open(ctx, stores.Config{DSN: ":memory:"})
	if err != nil {
		log.Fatal(err)
	}
	dispatcher, err := funcs.NewDispatcher(ctx, funcs.Config{}, nil)
	if err != nil {
		log.Fatal(err)
	}
	services := &dal.Services{Store: store, Bus: bus.NewMemory(), Executor: dispatcher}

	wt, err := services.CreateWorkspace(ctx, "ba-example", "org-example", "ws-example", "example")
	if err != nil {
		log.Fatal(err)
	}
	dc, err := services.Begin(ctx, wt, tenancy.Head())
	if err != nil {
		log.Fatal(err)
	}
	return dc, func() {
		_ = dc.Rollback()
		_ = dispatcher.Close(ctx)
		_ = store.Close()
	}
}

func pairs(edges []*edge.Edge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.TailVertex.ObjectID+"->"+e.HeadVertex.ObjectID)
	}
	sort.Strings(out)
	return out
}

// ExampleAllSuccessorEdgesByObjectID walks configures edges from a component to
// everything it configures, directly or not.
func ExampleAllSuccessorEdgesByObjectID() {
	dc, done := exampleContext()
	defer done()

	for _, id := range []string{"db", "api", "web"} {
		node, err := edge.NewNode(dc, edge.NodeKindComponent)
		if err != nil {
			log.Fatal(err)
		}
		if err := node.SetComponent(dc, id); err != nil {
			log.Fatal(err)
		}
	}
	if _, err := edge.Connect(dc, "db", "api", edge.KindConfigures); err != nil {
		log.Fatal(err)
	}
	if _, err := edge.Connect(dc, "api", "web", edge.KindConfigures); err != nil {
		log.Fatal(err)
	}

	direct, _ := edge.DirectSuccessorEdgesByObjectID(dc, edge.KindConfigures, "db")
	all, _ := edge.AllSuccessorEdgesByObjectID(dc, edge.KindConfigures, "db")
	parents, _ := edge.AllPredecessorEdgesByObjectID(dc, edge.KindConfigures, "web")

	fmt.Println("direct:", pairs(direct))
	fmt.Println("all:", pairs(all))
	fmt.Println("predecessors of web:", pairs(parents))
	// Output:
	// direct: [db->api]
	// all: [api->web db->api]
	// predecessors of web: [api->web db->api]
}
