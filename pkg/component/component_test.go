package component_test

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/Tensibai/si/pkg/attribute"
	"github.com/Tensibai/si/pkg/checks"
	"github.com/Tensibai/si/pkg/component"
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/dal/daltest"
	"github.com/Tensibai/si/pkg/edge"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/funcs"
	"github.com/Tensibai/si/pkg/schema"
)

const (
	imagePointer = "/root/domain/image"
	envPointer   = "/root/domain/env"
	portsPointer = "/root/domain/ports"
)

// dockerImage imports a small schema with a string, a map and an array prop.
func dockerImage(t *testing.T, dc *dal.Context) *schema.Variant {
	t.Helper()
	_, v, err := schema.Import(dc, schema.Definition{
		Name: "docker_image",
		Props: []schema.PropDefinition{
			{Name: "image", Kind: schema.PropKindString, Default: "nginx"},
			{Name: "env", Kind: schema.PropKindMap, Entry: &schema.PropDefinition{Kind: schema.PropKindString}},
			{Name: "ports", Kind: schema.PropKindArray, Entry: &schema.PropDefinition{Kind: schema.PropKindInteger}},
		},
		Validations:    []schema.ValidationDefinition{{Prop: imagePointer, Expected: "nginx"}},
		Qualifications: []schema.PassDefinition{{Title: "Name is set", Func: funcs.QualificationNameSet}},
		CodeGeneration: []schema.PassDefinition{{Title: "YAML", Func: funcs.GenerateYAML}},
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	return v
}

func newComponent(t *testing.T, dc *dal.Context, name string) *component.Component {
	t.Helper()
	c, _, err := component.New(dc, name, dockerImage(t, dc).ID)
	if err != nil {
		t.Fatalf("New(%s) failed: %v", name, err)
	}
	return c
}

func valueAt(t *testing.T, dc *dal.Context, c *component.Component, pointer string) string {
	t.Helper()
	raw, err := component.FindPropValueByJSONPointer(dc, c.ID, pointer)
	if err != nil {
		t.Fatalf("FindPropValueByJSONPointer(%s) failed: %v", pointer, err)
	}
	return string(raw)
}

func set(t *testing.T, dc *dal.Context, c *component.Component, pointer, raw string) *component.EditResult {
	t.Helper()
	res, err := component.SetPropValueByJSONPointer(dc, c.ID, pointer, json.RawMessage(raw))
	if err != nil {
		t.Fatalf("set %s = %s failed: %v", pointer, raw, err)
	}
	return res
}

func setEntry(t *testing.T, dc *dal.Context, c *component.Component, pointer, key string, raw json.RawMessage) {
	t.Helper()
	if _, err := component.SetEntry(dc, c.ID, pointer, key, raw); err != nil {
		t.Fatalf("set %s[%s] failed: %v", pointer, key, err)
	}
}

func viewOf(t *testing.T, dc *dal.Context, c *component.Component) map[string]any {
	t.Helper()
	v, err := c.View(dc, "")
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	raw, _ := json.Marshal(v.Properties)
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("bad view %s: %v", raw, err)
	}
	return out
}

func TestNewSetsNameAndReadsDefaults(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	c := newComponent(t, dc, "web")

	if got := valueAt(t, dc, c, component.NamePointer); got != `"web"` {
		t.Errorf("name = %s, want \"web\"", got)
	}
	if got := valueAt(t, dc, c, imagePointer); got != `"nginx"` {
		t.Errorf("image = %s, want the default \"nginx\"", got)
	}
	if got := valueAt(t, dc, c, envPointer); got != "" {
		t.Errorf("env = %s, want unset", got)
	}

	found, err := component.FindByName(dc, "web")
	if err != nil || found.ID != c.ID {
		t.Fatalf("FindByName = %v, %v", found, err)
	}
	node, err := c.Node(dc)
	if err != nil || node.ComponentID != c.ID {
		t.Fatalf("Node = %+v, %v", node, err)
	}
	included, err := edge.DirectSuccessorEdgesByObjectID(dc, edge.KindIncludes, f.System.ID)
	if err != nil || len(included) != 1 || included[0].HeadVertex.ObjectID != c.ID {
		t.Fatalf("production system includes %v, %v", included, err)
	}
}

func TestSetIsMemoized(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	c := newComponent(t, dc, "web")

	first := set(t, dc, c, imagePointer, `"redis"`)
	if !first.Created || first.Stage != component.StageDone {
		t.Fatalf("first write = %+v, want a new binding and stage done", first)
	}
	second := set(t, dc, c, imagePointer, `"redis"`)
	if second.Created {
		t.Errorf("second write created a binding")
	}
	if second.ValueID != first.ValueID {
		t.Errorf("value id changed from %s to %s", first.ValueID, second.ValueID)
	}
	if got := valueAt(t, dc, c, imagePointer); got != `"redis"` {
		t.Errorf("image = %s", got)
	}
}

func TestSetEntryCascadesUp(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	c := newComponent(t, dc, "web")
	setEntry(t, dc, c, envPointer, "PORT", json.RawMessage(`"80"`))
	setEntry(t, dc, c, portsPointer, "0", json.RawMessage(`8080`))

	if got := valueAt(t, dc, c, envPointer); got != `{}` {
		t.Errorf("env = %s, want {}", got)
	}
	if got := valueAt(t, dc, c, portsPointer); got != `[]` {
		t.Errorf("ports = %s, want []", got)
	}

	domain, _ := viewOf(t, dc, c)["domain"].(map[string]any)
	env, _ := domain["env"].(map[string]any)
	if env["PORT"] != "80" {
		t.Errorf("view env = %v", domain["env"])
	}
	ports, _ := domain["ports"].([]any)
	if len(ports) != 1 || ports[0] != float64(8080) {
		t.Errorf("view ports = %v", domain["ports"])
	}
}

func TestUnsetLastEntryUnsetsParent(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	c := newComponent(t, dc, "web")
	setEntry(t, dc, c, envPointer, "PORT", json.RawMessage(`"80"`))
	setEntry(t, dc, c, envPointer, "PORT", nil)

	if got := valueAt(t, dc, c, envPointer); got != "" {
		t.Errorf("env = %s, want unset", got)
	}
	if got := valueAt(t, dc, c, "/root/domain"); got != `{}` {
		t.Errorf("domain = %s, want {} while image still has a value", got)
	}
	domain, _ := viewOf(t, dc, c)["domain"].(map[string]any)
	if _, ok := domain["env"]; ok {
		t.Errorf("view still has env: %v", domain)
	}
}

func TestUnsetOneEntryKeepsParent(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	c := newComponent(t, dc, "web")
	setEntry(t, dc, c, envPointer, "PORT", json.RawMessage(`"80"`))
	setEntry(t, dc, c, envPointer, "HOST", json.RawMessage(`"example.com"`))
	setEntry(t, dc, c, envPointer, "PORT", nil)

	if got := valueAt(t, dc, c, envPointer); got != `{}` {
		t.Errorf("env = %s, want {}", got)
	}
	domain, _ := viewOf(t, dc, c)["domain"].(map[string]any)
	env, _ := domain["env"].(map[string]any)
	if len(env) != 1 || env["HOST"] != "example.com" {
		t.Errorf("view env = %v, want only HOST", env)
	}
}

func TestSetEntryReplacesWholeValue(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	c := newComponent(t, dc, "web")
	set(t, dc, c, portsPointer, `[1, 2]`)
	setEntry(t, dc, c, portsPointer, "0", json.RawMessage(`8080`))

	if got := valueAt(t, dc, c, portsPointer); got != `[]` {
		t.Errorf("ports = %s, want [] once an entry is set", got)
	}
	domain, _ := viewOf(t, dc, c)["domain"].(map[string]any)
	ports, _ := domain["ports"].([]any)
	if len(ports) != 1 || ports[0] != float64(8080) {
		t.Errorf("view ports = %v, want [8080]", domain["ports"])
	}
}

func TestArrayViewKeepsIndexOrder(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	c := newComponent(t, dc, "web")
	for i := 0; i < 12; i++ {
		setEntry(t, dc, c, portsPointer, strconv.Itoa(i), json.RawMessage(strconv.Itoa(8000+i)))
	}

	domain, _ := viewOf(t, dc, c)["domain"].(map[string]any)
	ports, _ := domain["ports"].([]any)
	if len(ports) != 12 {
		t.Fatalf("view ports = %v, want 12 entries", ports)
	}
	for i, port := range ports {
		if port != float64(8000+i) {
			t.Errorf("ports[%d] = %v, want %d", i, port, 8000+i)
		}
	}
}

// service imports a schema whose domain holds an object prop.
func service(t *testing.T, dc *dal.Context) *schema.Variant {
	t.Helper()
	_, v, err := schema.Import(dc, schema.Definition{
		Name: "service",
		Props: []schema.PropDefinition{
			{Name: "resources", Kind: schema.PropKindObject, Children: []schema.PropDefinition{
				{Name: "cpu", Kind: schema.PropKindString},
				{Name: "memory", Kind: schema.PropKindString},
			}},
		},
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	return v
}

func TestUnsetLastObjectChildUnsetsParent(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	c, _, err := component.New(dc, "api", service(t, dc).ID)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	set(t, dc, c, "/root/domain/resources/cpu", `"500m"`)
	if got := valueAt(t, dc, c, "/root/domain/resources"); got != `{}` {
		t.Fatalf("resources = %s, want {} while cpu is set", got)
	}

	if _, err := component.SetPropValueByJSONPointer(dc, c.ID, "/root/domain/resources/cpu", nil); err != nil {
		t.Fatalf("unset cpu failed: %v", err)
	}
	if got := valueAt(t, dc, c, "/root/domain/resources/cpu"); got != "" {
		t.Errorf("cpu = %s, want unset", got)
	}
	if got := valueAt(t, dc, c, "/root/domain/resources"); got != "" {
		t.Errorf("resources = %s, want unset once its last child is unset", got)
	}
	domain, _ := viewOf(t, dc, c)["domain"].(map[string]any)
	if _, ok := domain["resources"]; ok {
		t.Errorf("view still has resources: %v", domain)
	}
}

func TestInvalidValueReportsStage(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	c := newComponent(t, dc, "web")
	_, err := component.SetPropValueByJSONPointer(dc, c.ID, imagePointer, json.RawMessage(`42`))
	if !engine.IsInvalidValue(err) {
		t.Fatalf("expected an invalid value error, got %v", err)
	}
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Details["stage"] != string(component.StageRequested) {
		t.Errorf("stage detail = %v", err)
	}
	if got := valueAt(t, dc, c, imagePointer); got != `"nginx"` {
		t.Errorf("image = %s after a rejected write", got)
	}

	if _, err := component.FindPropByJSONPointer(dc, c.ID, "/root/domain/missing"); !engine.IsNotFound(err) {
		t.Errorf("expected not found for a missing prop, got %v", err)
	}
	if got := valueAt(t, dc, c, "/root/domain/missing"); got != "" {
		t.Errorf("missing prop reads %s, want no value", got)
	}
}

func TestPassesFollowWrites(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	c := newComponent(t, dc, "web")
	set(t, dc, c, imagePointer, `"nginx"`)

	quals, err := c.ListQualifications(dc, f.System.ID)
	if err != nil {
		t.Fatalf("ListQualifications failed: %v", err)
	}
	if len(quals) != 2 {
		t.Fatalf("got %d qualifications, want 2", len(quals))
	}
	if quals[0].Title != component.AllFieldsValidTitle || !quals[0].Result.Qualified {
		t.Errorf("summary = %+v", quals[0].Result)
	}
	if quals[1].Result == nil || !quals[1].Result.Qualified {
		t.Errorf("name qualification = %+v", quals[1].Result)
	}

	codes, err := c.ListCodeGenerated(dc, f.System.ID)
	if err != nil {
		t.Fatalf("ListCodeGenerated failed: %v", err)
	}
	if len(codes) != 1 || codes[0].Format != "yaml" || !strings.Contains(codes[0].Code, "image: nginx") {
		t.Errorf("codes = %+v", codes)
	}

	set(t, dc, c, imagePointer, `"redis"`)
	quals, err = c.ListQualifications(dc, f.System.ID)
	if err != nil {
		t.Fatalf("ListQualifications failed: %v", err)
	}
	if quals[0].Result.Qualified || len(quals[0].Output) != 1 {
		t.Errorf("summary after a failing validation = %+v", quals[0].Result)
	}
	codes, _ = c.ListCodeGenerated(dc, f.System.ID)
	if len(codes) != 1 || !strings.Contains(codes[0].Code, "image: redis") {
		t.Errorf("codes after write = %+v", codes)
	}
}

func TestQualificationsBeforeAnyWrite(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	c := newComponent(t, dc, "web")
	quals, err := c.ListQualifications(dc, f.System.ID)
	if err != nil {
		t.Fatalf("ListQualifications failed: %v", err)
	}
	if len(quals) != 2 || quals[1].Title != "Name is set" || quals[1].Result != nil {
		t.Errorf("want the summary and one pending qualification, got %+v", quals)
	}
}

func TestQualificationSeesConfigurationParents(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	db := newComponent(t, dc, "db")
	web := newComponent(t, dc, "web")
	if _, err := edge.Connect(dc, db.ID, web.ID, edge.KindConfigures); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	set(t, dc, web, imagePointer, `"nginx"`)

	quals, err := web.ListQualifications(dc, f.System.ID)
	if err != nil || len(quals) != 2 || quals[1].Result == nil {
		t.Fatalf("qualifications = %+v, %v", quals, err)
	}
}

func TestDiffAgainstHead(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	c := newComponent(t, dc, "web")

	d, err := c.Diff(dc, "")
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	if len(d.Diffs) != 0 || !strings.Contains(d.Current, `"nginx"`) {
		t.Errorf("head diff = %+v", d)
	}
	f.Commit(t, dc)

	cs := f.ChangeSet(t, "upgrade")
	dc = f.Begin(t, cs.Visibility())
	defer dc.Rollback()
	set(t, dc, c, imagePointer, `"redis"`)

	d, err = c.Diff(dc, "")
	if err != nil {
		t.Fatalf("Diff failed: %v", err)
	}
	var removed, added bool
	for _, line := range d.Diffs {
		removed = removed || (strings.HasPrefix(line, "-") && strings.Contains(line, `"nginx"`))
		added = added || (strings.HasPrefix(line, "+") && strings.Contains(line, `"redis"`))
	}
	if !removed || !added {
		t.Errorf("diff = %q", d.Diffs)
	}
}

func TestDeleteRemovesComponentAndEdges(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	c := newComponent(t, dc, "web")
	res := set(t, dc, c, imagePointer, `"redis"`)
	if resolvers, err := checks.ListResolvers(dc, checks.KindValidation, c.ID, f.System.ID); err != nil || len(resolvers) == 0 {
		t.Fatalf("validation resolvers before delete = %v, %v", resolvers, err)
	}

	if err := c.Delete(dc); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := component.Get(dc, c.ID); !engine.IsNotFound(err) {
		t.Errorf("expected not found after delete, got %v", err)
	}
	edges, err := edge.ListForComponent(dc, c.ID)
	if err != nil || len(edges) != 0 {
		t.Errorf("edges after delete = %v, %v", edges, err)
	}
	if _, err := attribute.GetValue(dc, res.ValueID); !engine.IsNotFound(err) {
		t.Errorf("expected the component's value to be deleted, got %v", err)
	}
	prop, err := component.FindPropByJSONPointer(dc, c.ID, imagePointer)
	if !engine.IsNotFound(err) {
		t.Errorf("expected the deleted component's props to be unreachable, got %v, %v", prop, err)
	}
	for _, kind := range []checks.Kind{checks.KindValidation, checks.KindQualification, checks.KindCodeGeneration} {
		resolvers, err := checks.ListResolvers(dc, kind, c.ID, f.System.ID)
		if err != nil || len(resolvers) != 0 {
			t.Errorf("%s resolvers after delete = %v, %v", kind, resolvers, err)
		}
	}
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return -1
}

func TestRequalifyAllRunsParentsFirst(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	web := newComponent(t, dc, "web")
	db := newComponent(t, dc, "db")
	cache := newComponent(t, dc, "cache")
	for _, parent := range []*component.Component{db, cache} {
		if _, err := edge.Connect(dc, parent.ID, web.ID, edge.KindConfigures); err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
	}

	graph, builder, err := component.ConfigurationGraph(dc)
	if err != nil {
		t.Fatalf("ConfigurationGraph failed: %v", err)
	}
	if len(graph.Levels) != 2 || graph.Nodes[web.ID].Level != 1 {
		t.Errorf("levels = %v, want web on the second level", graph.Levels)
	}
	if dot := builder.ToDOT(); !strings.Contains(dot, `[label="web"]`) {
		t.Errorf("DOT output lacks the web label:\n%s", dot)
	}

	order, err := component.RequalifyAll(dc, f.System.ID)
	if err != nil {
		t.Fatalf("RequalifyAll failed: %v", err)
	}
	if len(order) != 3 {
		t.Fatalf("order = %v, want three components", order)
	}
	if indexOf(order, web.ID) < indexOf(order, db.ID) || indexOf(order, web.ID) < indexOf(order, cache.ID) {
		t.Errorf("web ran before its configuration parents: %v", order)
	}

	quals, err := web.ListQualifications(dc, f.System.ID)
	if err != nil || len(quals) != 2 || quals[1].Result == nil {
		t.Errorf("qualifications after requalify = %+v, %v", quals, err)
	}
}

func TestRequalifyAllToleratesCycles(t *testing.T) {
	f := daltest.New(t)
	dc := f.Head(t)
	defer dc.Rollback()

	a := newComponent(t, dc, "a")
	b := newComponent(t, dc, "b")
	if _, err := edge.Connect(dc, a.ID, b.ID, edge.KindConfigures); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if _, err := edge.Connect(dc, b.ID, a.ID, edge.KindConfigures); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if _, _, err := component.ConfigurationGraph(dc); !engine.HasCode(err, engine.ErrCodeValidation) {
		t.Errorf("expected a cycle error, got %v", err)
	}
	order, err := component.RequalifyAll(dc, f.System.ID)
	if err != nil {
		t.Fatalf("RequalifyAll failed: %v", err)
	}
	if len(order) != 2 || order[0] != a.ID {
		t.Errorf("order = %v, want name order", order)
	}
}
